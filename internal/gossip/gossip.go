// Package gossip broadcasts consensus messages over libp2p GossipSub.
package gossip

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/Klingon-tech/klingnet-bft/internal/engine"
	klog "github.com/Klingon-tech/klingnet-bft/internal/log"
)

const (
	// peerConnectTimeout bounds a single dial to a configured peer.
	peerConnectTimeout = 5 * time.Second

	// peerRetryInterval is how often the retry loop re-dials configured
	// peers while the node has no connections.
	peerRetryInterval = 10 * time.Second

	// maxMessageSize caps GossipSub messages. Proposals carry a block
	// header and a QC, never payload bodies, so this is generous.
	maxMessageSize = 1 << 20
)

// Config holds gossip node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Peers      []string // static peer multiaddrs
	MaxPeers   int
	ChainID    string
	DataDir    string // for persisting node identity ("" = ephemeral)
}

// Node connects the consensus engine to the network. It implements
// engine.Network: outbound messages are published to GossipSub topics,
// inbound messages are decoded and delivered on channels.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	topicProposal *pubsub.Topic
	topicVote     *pubsub.Topic
	subProposal   *pubsub.Subscription
	subVote       *pubsub.Subscription

	proposals chan *engine.Proposal
	votes     chan *engine.VoteMsg

	mu    sync.RWMutex
	peers map[peer.ID]time.Time
}

// New creates a gossip node. Peers in cfg.Peers must be full multiaddrs
// including the /p2p/ peer ID component; malformed entries fail here
// rather than silently at dial time.
func New(cfg Config) (*Node, error) {
	for _, addr := range cfg.Peers {
		if _, err := multiaddr.NewMultiaddr(addr); err != nil {
			return nil, fmt.Errorf("peer address %q: %w", addr, err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		proposals: make(chan *engine.Proposal, inboundBuffer),
		votes:     make(chan *engine.VoteMsg, inboundBuffer),
		peers:     make(map[peer.ID]time.Time),
	}, nil
}

// Start initializes the libp2p host, joins the consensus topics, and
// dials the configured peers.
func (n *Node) Start() error {
	addr := fmt.Sprintf("/ip4/%s/tcp/%d", n.config.ListenAddr, n.config.Port)

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(addr),
	}

	// Load or generate persistent identity so peer ID survives restarts.
	if n.config.DataDir != "" {
		privKey, err := loadOrCreateIdentity(n.config.DataDir)
		if err != nil {
			return fmt.Errorf("load gossip identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(privKey))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	n.host = h

	ps, err := pubsub.NewGossipSub(n.ctx, h,
		pubsub.WithMaxMessageSize(maxMessageSize),
	)
	if err != nil {
		h.Close()
		return fmt.Errorf("create pubsub: %w", err)
	}
	n.pubsub = ps

	if err := n.joinTopics(); err != nil {
		h.Close()
		return err
	}

	go n.readLoop(n.subProposal, n.handleProposal)
	go n.readLoop(n.subVote, n.handleVote)

	if len(n.config.Peers) > 0 {
		l := klog.Gossip
		l.Info().Int("peers", len(n.config.Peers)).Msg("Connecting to peers...")
	}
	n.connectPeersOnce()
	go n.connectPeersLoop()

	return nil
}

// Stop shuts down the gossip node.
func (n *Node) Stop() error {
	n.cancel()
	if n.subProposal != nil {
		n.subProposal.Cancel()
	}
	if n.subVote != nil {
		n.subVote.Cancel()
	}
	if n.topicProposal != nil {
		n.topicProposal.Close()
	}
	if n.topicVote != nil {
		n.topicVote.Close()
	}
	if n.host != nil {
		return n.host.Close()
	}
	return nil
}

// BroadcastProposal publishes a signed proposal to the proposal topic.
func (n *Node) BroadcastProposal(ctx context.Context, p *engine.Proposal) error {
	if n.topicProposal == nil {
		return fmt.Errorf("gossip node not started")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	return n.topicProposal.Publish(ctx, data)
}

// BroadcastVote publishes a signed vote to the vote topic.
func (n *Node) BroadcastVote(ctx context.Context, v *engine.VoteMsg) error {
	if n.topicVote == nil {
		return fmt.Errorf("gossip node not started")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal vote: %w", err)
	}
	return n.topicVote.Publish(ctx, data)
}

// Proposals returns the inbound proposal channel.
func (n *Node) Proposals() <-chan *engine.Proposal {
	return n.proposals
}

// Votes returns the inbound vote channel.
func (n *Node) Votes() <-chan *engine.VoteMsg {
	return n.votes
}

// ID returns the peer ID of this node.
func (n *Node) ID() peer.ID {
	if n.host == nil {
		return ""
	}
	return n.host.ID()
}

// Addrs returns the full multiaddrs of this node.
func (n *Node) Addrs() []string {
	if n.host == nil {
		return nil
	}
	var addrs []string
	for _, a := range n.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return addrs
}

// PeerCount returns the number of peers seen on the consensus topics.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// TopicProposal returns the proposal topic name for this chain.
func (n *Node) TopicProposal() string {
	return fmt.Sprintf(topicProposalFmt, n.config.ChainID)
}

// TopicVote returns the vote topic name for this chain.
func (n *Node) TopicVote() string {
	return fmt.Sprintf(topicVoteFmt, n.config.ChainID)
}

func (n *Node) joinTopics() error {
	var err error
	n.topicProposal, err = n.pubsub.Join(n.TopicProposal())
	if err != nil {
		return fmt.Errorf("join proposal topic: %w", err)
	}
	n.topicVote, err = n.pubsub.Join(n.TopicVote())
	if err != nil {
		return fmt.Errorf("join vote topic: %w", err)
	}
	n.subProposal, err = n.topicProposal.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe proposal: %w", err)
	}
	n.subVote, err = n.topicVote.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe vote: %w", err)
	}
	return nil
}

func (n *Node) readLoop(sub *pubsub.Subscription, handler func(*pubsub.Message)) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return // Context cancelled.
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue // Skip own messages.
		}
		handler(msg)
	}
}

func (n *Node) handleProposal(msg *pubsub.Message) {
	n.markPeer(msg.ReceivedFrom)
	var p engine.Proposal
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		klog.Gossip.Debug().Err(err).Msg("Dropping malformed proposal")
		return
	}
	select {
	case n.proposals <- &p:
	default:
		klog.Gossip.Warn().Msg("Proposal channel full, dropping")
	}
}

func (n *Node) handleVote(msg *pubsub.Message) {
	n.markPeer(msg.ReceivedFrom)
	var v engine.VoteMsg
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		klog.Gossip.Debug().Err(err).Msg("Dropping malformed vote")
		return
	}
	select {
	case n.votes <- &v:
	default:
		klog.Gossip.Warn().Msg("Vote channel full, dropping")
	}
}

func (n *Node) markPeer(id peer.ID) {
	n.mu.Lock()
	n.peers[id] = time.Now()
	n.mu.Unlock()
}

// connectPeersOnce tries to connect to each configured peer once (blocking).
// Returns true if at least one peer connected.
func (n *Node) connectPeersOnce() bool {
	logger := klog.Gossip
	connected := false
	for _, addr := range n.config.Peers {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			logger.Warn().Str("addr", addr).Err(err).Msg("Bad peer address")
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, peerConnectTimeout)
		err = n.host.Connect(ctx, *info)
		cancel()
		if err != nil {
			logger.Warn().Str("peer", info.ID.String()[:16]).Err(err).Msg("Peer connect failed")
		} else {
			n.markPeer(info.ID)
			logger.Info().Str("peer", info.ID.String()[:16]).Msg("Peer connected")
			connected = true
		}
	}
	return connected
}

// connectPeersLoop re-dials configured peers until at least one sticks.
func (n *Node) connectPeersLoop() {
	if len(n.config.Peers) == 0 {
		return
	}
	logger := klog.Gossip

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(peerRetryInterval):
			if len(n.host.Network().Peers()) == 0 {
				logger.Info().Int("peers", len(n.config.Peers)).Msg("No peers, retrying...")
				n.connectPeersOnce()
			}
		}
	}
}

// loadOrCreateIdentity loads a persisted libp2p identity key from dataDir,
// or generates a new one and saves it. This ensures the peer ID is stable.
func loadOrCreateIdentity(dataDir string) (libp2pcrypto.PrivKey, error) {
	keyPath := filepath.Join(dataDir, "node.key")

	data, err := os.ReadFile(keyPath)
	if err == nil {
		keyBytes, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode node key: %w", err)
		}
		return libp2pcrypto.UnmarshalEd25519PrivateKey(keyBytes)
	}

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	raw, err := priv.Raw()
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(raw)), 0600); err != nil {
		return nil, fmt.Errorf("save node key: %w", err)
	}

	return priv, nil
}

// Package node assembles a runnable consensus validator from its parts:
// config, genesis, keystore, storage, gossip, and the round engine. It
// is embedded by the daemon and by test harnesses.
package node

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-bft/config"
	"github.com/Klingon-tech/klingnet-bft/internal/engine"
	"github.com/Klingon-tech/klingnet-bft/internal/gossip"
	"github.com/Klingon-tech/klingnet-bft/internal/keystore"
	klog "github.com/Klingon-tech/klingnet-bft/internal/log"
	"github.com/Klingon-tech/klingnet-bft/internal/mempool"
	"github.com/Klingon-tech/klingnet-bft/internal/rpc"
	"github.com/Klingon-tech/klingnet-bft/internal/stake"
	"github.com/Klingon-tech/klingnet-bft/internal/store"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// Node is a fully-initialized consensus validator.
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis
	logger  zerolog.Logger

	// Core
	db       store.DB
	cstore   *store.ConsensusStore
	registry *stake.Registry
	identity *keystore.Identity
	pool     *mempool.Pool
	exec     *poolExecutor
	engine   *engine.Engine

	// Networking
	gossipNode *gossip.Node
	rpcServer  *rpc.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastFinal types.Hash
}

// New creates and initializes a Node. It performs all setup steps
// (logger, genesis, keystore, storage, networking, engine) but does NOT
// start the round loop. Call Start for that.
func New(cfg *config.Config, genesisPath string, password []byte) (*Node, error) {
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// ── Genesis ─────────────────────────────────────────────────────
	if genesisPath == "" {
		return nil, fmt.Errorf("genesis file required")
	}
	genesis, err := config.LoadGenesis(expandHome(genesisPath))
	if err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}
	seed, err := genesis.SeedHash()
	if err != nil {
		return nil, fmt.Errorf("genesis seed: %w", err)
	}

	logger.Info().
		Str("chain_id", genesis.ChainID).
		Str("network", string(cfg.Network)).
		Int("validators", len(genesis.Validators)).
		Uint64("epoch_length", genesis.Protocol.EpochLength).
		Msg("Starting consensus node")

	// ── Stake snapshot ──────────────────────────────────────────────
	snapshot, err := stake.SnapshotFromGenesis(genesis)
	if err != nil {
		return nil, fmt.Errorf("genesis validators: %w", err)
	}
	registry := stake.NewRegistry(stake.NewStaticSource(snapshot.Validators()), snapshot)

	// ── Validator identity ──────────────────────────────────────────
	if cfg.Keystore.File == "" {
		return nil, fmt.Errorf("validator key file required")
	}
	ksDir, keyName, err := splitKeyFile(cfg.Keystore.File)
	if err != nil {
		return nil, err
	}
	ks, err := keystore.NewKeystore(ksDir)
	if err != nil {
		return nil, err
	}
	identity, err := ks.Load(keyName, password)
	if err != nil {
		return nil, fmt.Errorf("load validator key %s: %w", cfg.Keystore.File, err)
	}
	if !snapshot.Contains(identity.ID) {
		logger.Warn().
			Str("validator", identity.ID.Short()).
			Msg("Validator not in genesis set, running unstaked")
	} else {
		logger.Info().
			Str("validator", identity.ID.Short()).
			Uint64("weight", snapshot.Weight(identity.ID)).
			Msg("Validator key loaded")
	}

	// ── Storage ─────────────────────────────────────────────────────
	dataDir := expandHome(cfg.DataDir)
	db, err := store.NewBadger(filepath.Join(dataDir, "consensus"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	cstore, err := store.NewConsensusStore(db, genesis.ChainID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("consensus store: %w", err)
	}

	finalHash, finalRound, err := cstore.Finalized()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load finality pointer: %w", err)
	}
	if !finalHash.IsZero() {
		logger.Info().
			Uint64("round", finalRound).
			Str("hash", finalHash.Short()).
			Msg("Resuming from finalized block")
	}

	// ── Networking ──────────────────────────────────────────────────
	var net engine.Network
	var gossipNode *gossip.Node
	if cfg.P2P.Enabled {
		gossipNode, err = gossip.New(gossip.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Port:       cfg.P2P.Port,
			Peers:      cfg.P2P.Peers,
			MaxPeers:   cfg.P2P.MaxPeers,
			ChainID:    genesis.ChainID,
			DataDir:    dataDir,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create gossip node: %w", err)
		}
		net = gossipNode
	} else {
		logger.Warn().Msg("P2P disabled, running standalone")
		net = newNullNetwork()
	}

	// ── Payload pool + engine ───────────────────────────────────────
	pool := mempool.New(0)
	exec := newPoolExecutor(pool)

	eng, err := engine.New(engine.Options{
		Config:         cfg.Consensus,
		Rules:          genesis.Protocol,
		Self:           identity.ID,
		Signer:         identity.Signer,
		VRFKey:         identity.VRF,
		Registry:       registry,
		Store:          cstore,
		Network:        net,
		Executor:       exec,
		GenesisSeed:    seed,
		FinalizedHash:  finalHash,
		FinalizedRound: finalRound,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create engine: %w", err)
	}

	// ── RPC ─────────────────────────────────────────────────────────
	var rpcServer *rpc.Server
	if cfg.RPC.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.RPC.ListenAddr, cfg.RPC.Port)
		rpcServer = rpc.New(addr, eng, cstore, pool, registry, gossipNode, genesis, identity.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:        cfg,
		genesis:    genesis,
		logger:     logger,
		db:         db,
		cstore:     cstore,
		registry:   registry,
		identity:   identity,
		pool:       pool,
		exec:       exec,
		engine:     eng,
		gossipNode: gossipNode,
		rpcServer:  rpcServer,
		ctx:        ctx,
		cancel:     cancel,
		lastFinal:  finalHash,
	}, nil
}

// Start launches networking and the consensus round loop.
func (n *Node) Start() error {
	if n.gossipNode != nil {
		if err := n.gossipNode.Start(); err != nil {
			return fmt.Errorf("start gossip: %w", err)
		}
		for _, a := range n.gossipNode.Addrs() {
			n.logger.Info().Str("addr", a).Msg("Listening")
		}
	}

	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return fmt.Errorf("start rpc: %w", err)
		}
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.engine.Run(n.ctx); err != nil && n.ctx.Err() == nil {
			n.logger.Error().Err(err).Msg("Engine stopped")
		}
	}()

	n.wg.Add(1)
	go n.finalityLoop()

	return nil
}

// Stop shuts the node down and releases storage.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()
	if n.rpcServer != nil {
		if err := n.rpcServer.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("RPC shutdown")
		}
	}
	if n.gossipNode != nil {
		if err := n.gossipNode.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("Gossip shutdown")
		}
	}
	if err := n.db.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("Database close")
	}
	n.logger.Info().Msg("Node stopped")
}

// Status reports the engine's current round and finality pointer.
func (n *Node) Status(ctx context.Context) (engine.Status, error) {
	return n.engine.Status(ctx)
}

// Pool returns the pending payload item pool.
func (n *Node) Pool() *mempool.Pool { return n.pool }

// Engine returns the consensus engine.
func (n *Node) Engine() *engine.Engine { return n.engine }

// ValidatorID returns this node's validator identifier.
func (n *Node) ValidatorID() types.ValidatorID { return n.identity.ID }

// RPCAddr returns the bound RPC listener address, or "" when RPC is
// disabled or the node has not started.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// finalityLoop watches the finality pointer and releases included
// payload items from the pool.
func (n *Node) finalityLoop() {
	defer n.wg.Done()

	interval := n.cfg.Consensus.RoundTimeout
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			st, err := n.engine.Status(n.ctx)
			if err != nil {
				return
			}
			if st.FinalizedHash == n.lastFinal || st.FinalizedHash.IsZero() {
				continue
			}
			n.lastFinal = st.FinalizedHash
			bn, ok, err := n.cstore.GetBlock(st.FinalizedHash)
			if err != nil || !ok {
				continue
			}
			n.exec.Finalized(bn.Payload)
		}
	}
}

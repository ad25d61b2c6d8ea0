// Command bftsim boots a local multi-validator consensus network from
// scratch.
//
// Usage: go run ./cmd/bftsim/
//
// It generates three validator identities, builds a shared genesis stake
// snapshot, boots three in-process validators with in-memory stores,
// gossips proposals and votes via libp2p, runs consensus until a target
// round is finalized, and verifies all nodes converged on the same chain.
// Ctrl+C for early shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Klingon-tech/klingnet-bft/config"
	"github.com/Klingon-tech/klingnet-bft/internal/engine"
	"github.com/Klingon-tech/klingnet-bft/internal/gossip"
	klog "github.com/Klingon-tech/klingnet-bft/internal/log"
	"github.com/Klingon-tech/klingnet-bft/internal/stake"
	"github.com/Klingon-tech/klingnet-bft/internal/store"
	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
	"github.com/Klingon-tech/klingnet-bft/pkg/vrf"
)

const (
	numValidators = 3
	targetRound   = 5
	runTimeout    = 2 * time.Minute
	chainID       = "klingbft-sim"
)

// simExecutor derives payloads from the parent and round so every
// validator builds identical blocks without a shared pool.
type simExecutor struct{}

func (simExecutor) BuildPayload(_ context.Context, parent types.Hash, round uint64) (types.Hash, error) {
	return crypto.HashWithRound(parent, round), nil
}

func (simExecutor) ValidatePayload(context.Context, types.Hash, types.Hash) error {
	return nil
}

// validatorBundle groups all components for one simulated validator.
type validatorBundle struct {
	name   string
	id     types.ValidatorID
	engine *engine.Engine
	gossip *gossip.Node
	cstore *store.ConsensusStore
}

func main() {
	klog.Init("info", false, "")
	logger := klog.WithComponent("bftsim")

	logger.Info().Msg("=== Klingbft Local Consensus Simulation ===")

	// ── Phase 1: Identities + stake snapshot ─────────────────────────

	signers := make([]*crypto.PrivateKey, numValidators)
	vrfKeys := make([]*vrf.Keypair, numValidators)
	ids := make([]types.ValidatorID, numValidators)
	validators := make([]stake.Validator, numValidators)

	for i := 0; i < numValidators; i++ {
		seed := make([]byte, 32)
		for j := range seed {
			seed[j] = byte(i + 1)
		}
		signer, err := crypto.PrivateKeyFromBytes(seed)
		if err != nil {
			logger.Fatal().Err(err).Msg("signing key")
		}
		vrfKey, err := vrf.KeypairFromSeed(seed)
		if err != nil {
			logger.Fatal().Err(err).Msg("vrf key")
		}
		signers[i] = signer
		vrfKeys[i] = vrfKey
		ids[i] = crypto.ValidatorIDFromPubKey(signer.PublicKey())
		validators[i] = stake.Validator{
			ID:     ids[i],
			Weight: 100,
			VRFPub: vrfKey.PublicKey(),
			SigPub: signer.PublicKey(),
		}
	}

	rules := config.ProtocolConfig{
		EpochLength:     1 << 20,
		ExpectedLeaders: numValidators,
		CommitteeTarget: numValidators,
	}
	genesisSeed := crypto.Hash([]byte(chainID))

	logger.Info().Int("validators", numValidators).Msg("Genesis stake snapshot created")

	// ── Phase 2: Gossip mesh ─────────────────────────────────────────

	// Start gossip nodes sequentially; each dials everyone before it.
	gossipNodes := make([]*gossip.Node, numValidators)
	var peerAddrs []string
	for i := 0; i < numValidators; i++ {
		g, err := gossip.New(gossip.Config{
			ListenAddr: "127.0.0.1",
			Port:       0,
			Peers:      append([]string(nil), peerAddrs...),
			ChainID:    chainID,
		})
		if err != nil {
			logger.Fatal().Err(err).Int("node", i).Msg("create gossip node")
		}
		if err := g.Start(); err != nil {
			logger.Fatal().Err(err).Int("node", i).Msg("start gossip node")
		}
		gossipNodes[i] = g
		if addrs := g.Addrs(); len(addrs) > 0 {
			peerAddrs = append(peerAddrs, addrs[0])
		}
	}
	defer func() {
		for _, g := range gossipNodes {
			g.Stop()
		}
	}()
	time.Sleep(500 * time.Millisecond) // GossipSub mesh stabilization.

	logger.Info().Int("nodes", numValidators).Msg("Gossip mesh connected")

	// ── Phase 3: Engines ─────────────────────────────────────────────

	bundles := make([]*validatorBundle, numValidators)
	for i := 0; i < numValidators; i++ {
		snap, err := stake.NewSnapshot(0, validators)
		if err != nil {
			logger.Fatal().Err(err).Msg("snapshot")
		}
		registry := stake.NewRegistry(stake.NewStaticSource(validators), snap)

		cstore, err := store.NewConsensusStore(store.NewMemory(), chainID)
		if err != nil {
			logger.Fatal().Err(err).Msg("consensus store")
		}

		eng, err := engine.New(engine.Options{
			Config: config.ConsensusConfig{
				RoundTimeout:     3 * time.Second,
				ProposeTimeout:   500 * time.Millisecond,
				MaxAncestorFetch: 16,
			},
			Rules:       rules,
			Self:        ids[i],
			Signer:      signers[i],
			VRFKey:      vrfKeys[i],
			Registry:    registry,
			Store:       cstore,
			Network:     gossipNodes[i],
			Executor:    simExecutor{},
			GenesisSeed: genesisSeed,
		})
		if err != nil {
			logger.Fatal().Err(err).Int("node", i).Msg("create engine")
		}

		bundles[i] = &validatorBundle{
			name:   fmt.Sprintf("node-%d", i),
			id:     ids[i],
			engine: eng,
			gossip: gossipNodes[i],
			cstore: cstore,
		}
	}

	// ── Phase 4: Run ─────────────────────────────────────────────────

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("Shutdown signal received")
		cancel()
	}()

	for _, b := range bundles {
		go func(b *validatorBundle) {
			if err := b.engine.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Str("node", b.name).Msg("engine stopped")
			}
		}(b)
	}

	logger.Info().Uint64("target_round", targetRound).Msg("Consensus running")

	// ── Phase 5: Wait for finality ───────────────────────────────────

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			logger.Error().Msg("Timed out before reaching target round")
			break wait
		case <-ticker.C:
			done := true
			for _, b := range bundles {
				st, err := b.engine.Status(ctx)
				if err != nil || st.FinalizedRound < targetRound {
					done = false
					break
				}
			}
			if done {
				break wait
			}
		}
	}
	cancel()

	// ── Phase 6: Verification ────────────────────────────────────────

	// The slowest node's finalized block must exist on every node.
	var minHash types.Hash
	minRound := uint64(1<<63 - 1)
	for _, b := range bundles {
		hash, round, err := b.cstore.Finalized()
		if err != nil {
			logger.Fatal().Err(err).Str("node", b.name).Msg("read finality pointer")
		}
		logger.Info().
			Str("node", b.name).
			Uint64("finalized_round", round).
			Str("finalized", hash.Short()).
			Msg("Final state")
		if round < minRound {
			minRound = round
			minHash = hash
		}
	}

	if minRound < targetRound || minHash.IsZero() {
		logger.Error().Msg("FAILURE: target round not finalized on all nodes")
		os.Exit(1)
	}
	for _, b := range bundles {
		_, found, err := b.cstore.GetBlock(minHash)
		if err != nil || !found {
			logger.Error().Str("node", b.name).Msg("FAILURE: finalized block missing")
			os.Exit(1)
		}
	}

	logger.Info().Msg("SUCCESS: all nodes converged on the finalized chain")
	fmt.Println()
	fmt.Printf("  Validators:       %d\n", numValidators)
	fmt.Printf("  Finalized round:  %d\n", minRound)
	fmt.Printf("  Finalized block:  %s\n", minHash)
	fmt.Println()
}

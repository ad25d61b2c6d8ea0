package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-bft/config"
	"github.com/Klingon-tech/klingnet-bft/internal/engine"
	klog "github.com/Klingon-tech/klingnet-bft/internal/log"
	"github.com/Klingon-tech/klingnet-bft/internal/mempool"
	"github.com/Klingon-tech/klingnet-bft/internal/stake"
	"github.com/Klingon-tech/klingnet-bft/internal/store"
	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
	"github.com/Klingon-tech/klingnet-bft/pkg/vrf"
)

// silentNet drops outbound broadcasts and never delivers inbound ones.
// A single staked validator still finalizes because the engine counts
// its own vote directly.
type silentNet struct {
	proposals chan *engine.Proposal
	votes     chan *engine.VoteMsg
}

func newSilentNet() *silentNet {
	return &silentNet{
		proposals: make(chan *engine.Proposal),
		votes:     make(chan *engine.VoteMsg),
	}
}

func (n *silentNet) BroadcastProposal(context.Context, *engine.Proposal) error { return nil }
func (n *silentNet) BroadcastVote(context.Context, *engine.VoteMsg) error      { return nil }
func (n *silentNet) Proposals() <-chan *engine.Proposal                        { return n.proposals }
func (n *silentNet) Votes() <-chan *engine.VoteMsg                             { return n.votes }

type nopExecutor struct{}

func (nopExecutor) BuildPayload(_ context.Context, parent types.Hash, round uint64) (types.Hash, error) {
	return crypto.HashWithRound(parent, round), nil
}

func (nopExecutor) ValidatePayload(context.Context, types.Hash, types.Hash) error {
	return nil
}

// testEnv holds all components for an RPC test.
type testEnv struct {
	server *Server
	pool   *mempool.Pool
	cstore *store.ConsensusStore
	self   types.ValidatorID
	url    string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = 7
	}
	signer, err := crypto.PrivateKeyFromBytes(seed)
	if err != nil {
		t.Fatalf("signing key: %v", err)
	}
	vrfKey, err := vrf.KeypairFromSeed(seed)
	if err != nil {
		t.Fatalf("vrf key: %v", err)
	}
	self := crypto.ValidatorIDFromPubKey(signer.PublicKey())

	validators := []stake.Validator{{
		ID:     self,
		Weight: 100,
		VRFPub: vrfKey.PublicKey(),
		SigPub: signer.PublicKey(),
	}}
	snap, err := stake.NewSnapshot(0, validators)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	registry := stake.NewRegistry(stake.NewStaticSource(validators), snap)

	genesis := &config.Genesis{
		ChainID:   "klingbft-test-rpc",
		ChainName: "RPC Test",
		Protocol: config.ProtocolConfig{
			EpochLength:     1 << 20,
			ExpectedLeaders: 1,
			CommitteeTarget: 1,
		},
	}

	cstore, err := store.NewConsensusStore(store.NewMemory(), genesis.ChainID)
	if err != nil {
		t.Fatalf("consensus store: %v", err)
	}

	pool := mempool.New(100)

	eng, err := engine.New(engine.Options{
		Config: config.ConsensusConfig{
			RoundTimeout:     2 * time.Second,
			ProposeTimeout:   20 * time.Millisecond,
			MaxAncestorFetch: 8,
		},
		Rules:       genesis.Protocol,
		Self:        self,
		Signer:      signer,
		VRFKey:      vrfKey,
		Registry:    registry,
		Store:       cstore,
		Network:     newSilentNet(),
		Executor:    nopExecutor{},
		GenesisSeed: crypto.Hash([]byte("rpc-test-genesis")),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Run(ctx) }()
	t.Cleanup(cancel)

	srv := New("127.0.0.1:0", eng, cstore, pool, registry, nil, genesis, self)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		server: srv,
		pool:   pool,
		cstore: cstore,
		self:   self,
		url:    fmt.Sprintf("http://%s/", srv.Addr()),
	}
}

func rpcCall(t *testing.T, url, method string, params interface{}) Response {
	t.Helper()
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", method, err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rpcResp
}

func decodeResult(t *testing.T, resp Response, target interface{}) {
	t.Helper()
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestRPC_NodeGetStatus(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "node_getStatus", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result StatusResult
	decodeResult(t, resp, &result)

	if result.ChainID != "klingbft-test-rpc" {
		t.Errorf("chain_id = %q, want %q", result.ChainID, "klingbft-test-rpc")
	}
	if result.Validator != env.self.String() {
		t.Errorf("validator = %q, want %q", result.Validator, env.self)
	}
	if result.Phase == "" {
		t.Error("phase is empty")
	}
}

func TestRPC_PoolSubmitAndInfo(t *testing.T) {
	env := setupTestEnv(t)

	data := []byte("transfer 10 from a to b")
	resp := rpcCall(t, env.url, "pool_submit", SubmitParam{Data: hex.EncodeToString(data)})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var submit SubmitResult
	decodeResult(t, resp, &submit)
	want := crypto.Hash(data)
	if submit.Hash != want.String() {
		t.Errorf("hash = %s, want %s", submit.Hash, want)
	}

	resp = rpcCall(t, env.url, "pool_getInfo", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}
	var info PoolInfoResult
	decodeResult(t, resp, &info)
	if info.Count < 1 {
		t.Errorf("pool count = %d, want at least 1", info.Count)
	}
}

func TestRPC_PoolSubmitBadHex(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "pool_submit", SubmitParam{Data: "not-hex"})
	if resp.Error == nil {
		t.Fatal("expected error for bad hex")
	}
	if resp.Error.Code != CodeInvalidParams {
		t.Errorf("code = %d, want %d", resp.Error.Code, CodeInvalidParams)
	}
}

func TestRPC_ChainGetFinalized(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "chain_getFinalized", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}
	var result FinalizedResult
	decodeResult(t, resp, &result)
	if result.Hash == "" {
		t.Error("finalized hash is empty")
	}
}

func TestRPC_ChainGetBlockNotFound(t *testing.T) {
	env := setupTestEnv(t)

	missing := crypto.Hash([]byte("no such block"))
	resp := rpcCall(t, env.url, "chain_getBlock", HashParam{Hash: missing.String()})
	if resp.Error == nil {
		t.Fatal("expected not-found error")
	}
	if resp.Error.Code != CodeNotFound {
		t.Errorf("code = %d, want %d", resp.Error.Code, CodeNotFound)
	}
}

func TestRPC_StakeGetValidators(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "stake_getValidators", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}
	var result ValidatorSetResult
	decodeResult(t, resp, &result)

	if len(result.Validators) != 1 {
		t.Fatalf("validators = %d, want 1", len(result.Validators))
	}
	if result.Validators[0].ID != env.self.String() {
		t.Errorf("validator id = %q, want %q", result.Validators[0].ID, env.self)
	}
	if result.TotalWeight != 100 {
		t.Errorf("total weight = %d, want 100", result.TotalWeight)
	}
}

func TestRPC_StakeGetValidatorUnknown(t *testing.T) {
	env := setupTestEnv(t)

	unknown := types.ValidatorID{1, 2, 3}
	resp := rpcCall(t, env.url, "stake_getValidator", ValidatorParam{ID: unknown.String()})
	if resp.Error == nil {
		t.Fatal("expected not-found error")
	}
	if resp.Error.Code != CodeNotFound {
		t.Errorf("code = %d, want %d", resp.Error.Code, CodeNotFound)
	}
}

func TestRPC_EvidenceListEmpty(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "evidence_list", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}
	var result EvidenceListResult
	decodeResult(t, resp, &result)
	if result.Count != 0 {
		t.Errorf("evidence count = %d, want 0", result.Count)
	}
}

func TestRPC_NetGetPeerInfoNoGossip(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "net_getPeerInfo", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}
	var result PeerInfoResult
	decodeResult(t, resp, &result)
	if result.PeerCount != 0 {
		t.Errorf("peer count = %d, want 0", result.PeerCount)
	}
}

func TestRPC_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "bogus_method", nil)
	if resp.Error == nil {
		t.Fatal("expected method-not-found error")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestRPC_RejectsGET(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Get(env.url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rpcResp.Error == nil || rpcResp.Error.Code != CodeInvalidRequest {
		t.Fatal("expected invalid-request error for GET")
	}
}

func TestRPC_RejectsWrongVersion(t *testing.T) {
	env := setupTestEnv(t)

	body := []byte(`{"jsonrpc":"1.0","method":"node_getStatus","id":1}`)
	resp, err := http.Post(env.url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rpcResp.Error == nil || rpcResp.Error.Code != CodeInvalidRequest {
		t.Fatal("expected invalid-request error for jsonrpc 1.0")
	}
}

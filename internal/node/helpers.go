package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/klingnet-bft/internal/engine"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// splitKeyFile splits a key file path into keystore directory and key name.
func splitKeyFile(path string) (dir, name string, err error) {
	path = expandHome(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext != ".key" {
		return "", "", fmt.Errorf("key file must have .key extension: %s", path)
	}
	return filepath.Dir(path), base[:len(base)-len(ext)], nil
}

// nullNetwork is the network used when P2P is disabled. Broadcasts are
// dropped and nothing arrives. A single-validator chain still finalizes
// because the engine processes its own votes directly.
type nullNetwork struct {
	proposals chan *engine.Proposal
	votes     chan *engine.VoteMsg
}

func newNullNetwork() *nullNetwork {
	return &nullNetwork{
		proposals: make(chan *engine.Proposal),
		votes:     make(chan *engine.VoteMsg),
	}
}

func (n *nullNetwork) BroadcastProposal(context.Context, *engine.Proposal) error { return nil }
func (n *nullNetwork) BroadcastVote(context.Context, *engine.VoteMsg) error      { return nil }
func (n *nullNetwork) Proposals() <-chan *engine.Proposal                        { return n.proposals }
func (n *nullNetwork) Votes() <-chan *engine.VoteMsg                             { return n.votes }

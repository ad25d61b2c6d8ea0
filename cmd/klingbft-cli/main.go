// klingbft-cli is a command-line client for interacting with a klingbftd node.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-bft/config"
	"github.com/Klingon-tech/klingnet-bft/internal/keystore"
	"github.com/Klingon-tech/klingnet-bft/internal/rpc"
	"github.com/Klingon-tech/klingnet-bft/internal/rpcclient"
)

// keystoreDir returns the keystore path matching klingbftd's layout:
// <datadir>/keystore
func keystoreDir(dataDir string) string {
	return filepath.Join(dataDir, "keystore")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Parse global flags that appear before the subcommand.
	rpcURL := "http://127.0.0.1:8645"
	dataDir := config.DefaultDataDir()

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	ksDir := keystoreDir(dataDir)
	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client)
	case "block":
		cmdBlock(client, cmdArgs)
	case "qc":
		cmdQC(client, cmdArgs)
	case "finalized":
		cmdFinalized(client)
	case "validators":
		cmdValidators(client)
	case "validator":
		cmdValidator(client, cmdArgs)
	case "pool":
		cmdPool(client, cmdArgs)
	case "evidence":
		cmdEvidence(client)
	case "peers":
		cmdPeers(client)
	case "key":
		cmdKey(cmdArgs, ksDir)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: klingbft-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         RPC endpoint (default: http://127.0.0.1:8645)
  --datadir <path>    Data directory (default: ~/.klingbft)

Commands:
  status                          Show round, phase, and finality status
  block <hash>                    Show block details
  qc <round>                      Show the quorum certificate for a round
  finalized                       Show the finality pointer
  validators                      Show the active validator set
  validator <id>                  Show one validator's stake and liveness
  pool submit <hex>               Submit a payload item
  pool info                       Show pending pool stats
  evidence                        List recorded equivocation evidence
  peers                           Show gossip connectivity

  key create --name <n>           Create a new encrypted validator key
  key import --name <n> --mnemonic "word1 word2 ..."
                                  Import a key from a BIP-39 mnemonic
  key list                        List stored keys
  key info --name <n>             Show a key's validator ID
  key genesis-entry --name <n> --weight <w>
                                  Print a genesis validator entry (JSON)
`)
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(client *rpcclient.Client) {
	var st rpc.StatusResult
	if err := client.Call("node_getStatus", nil, &st); err != nil {
		fatal("node_getStatus: %v", err)
	}

	fmt.Printf("Chain:      %s\n", st.ChainID)
	fmt.Printf("Validator:  %s\n", st.Validator)
	fmt.Printf("Round:      %d (%s)\n", st.Round, st.Phase)
	fmt.Printf("Epoch:      %d\n", st.Epoch)
	fmt.Printf("Head:       %s\n", st.Head)
	fmt.Printf("Finalized:  %s (round %d)\n", st.FinalizedHash, st.FinalizedRound)
	fmt.Printf("Pool:       %d items\n", st.PoolCount)
	fmt.Printf("Peers:      %d\n", st.PeerCount)
}

// ── block ───────────────────────────────────────────────────────────────

func cmdBlock(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingbft-cli block <hash>")
	}

	var result rpc.BlockResult
	if err := client.Call("chain_getBlock", rpc.HashParam{Hash: args[0]}, &result); err != nil {
		fatal("chain_getBlock: %v", err)
	}

	fmt.Printf("Hash:     %s\n", result.Block.Hash)
	fmt.Printf("Parent:   %s\n", result.Block.Parent)
	fmt.Printf("Round:    %d\n", result.Block.Round)
	fmt.Printf("Payload:  %s\n", result.Block.Payload)
	if result.QC != nil {
		fmt.Printf("QC:       %d votes\n", len(result.QC.Votes))
	} else {
		fmt.Printf("QC:       none stored\n")
	}
}

// ── qc ──────────────────────────────────────────────────────────────────

func cmdQC(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingbft-cli qc <round>")
	}
	round, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fatal("invalid round %q", args[0])
	}

	var raw json.RawMessage
	if err := client.Call("chain_getQC", rpc.RoundParam{Round: round}, &raw); err != nil {
		fatal("chain_getQC: %v", err)
	}

	var qc struct {
		Round     uint64 `json:"round"`
		BlockHash string `json:"block_hash"`
		Votes     []struct {
			Validator string `json:"validator"`
		} `json:"votes"`
	}
	if err := json.Unmarshal(raw, &qc); err != nil {
		fatal("decode qc: %v", err)
	}

	fmt.Printf("Round:  %d\n", qc.Round)
	fmt.Printf("Block:  %s\n", qc.BlockHash)
	fmt.Printf("Votes:  %d\n", len(qc.Votes))
	for i, v := range qc.Votes {
		fmt.Printf("  [%d] %s\n", i, v.Validator)
	}
}

// ── finalized ───────────────────────────────────────────────────────────

func cmdFinalized(client *rpcclient.Client) {
	var result rpc.FinalizedResult
	if err := client.Call("chain_getFinalized", nil, &result); err != nil {
		fatal("chain_getFinalized: %v", err)
	}
	fmt.Printf("Hash:   %s\n", result.Hash)
	fmt.Printf("Round:  %d\n", result.Round)
}

// ── validators ──────────────────────────────────────────────────────────

func cmdValidators(client *rpcclient.Client) {
	var result rpc.ValidatorSetResult
	if err := client.Call("stake_getValidators", nil, &result); err != nil {
		fatal("stake_getValidators: %v", err)
	}

	fmt.Printf("Epoch:        %d\n", result.Epoch)
	fmt.Printf("Total Weight: %d\n", result.TotalWeight)
	fmt.Printf("Validators:   %d\n\n", len(result.Validators))
	for i, v := range result.Validators {
		fmt.Printf("  [%d] %s  weight=%d\n", i, v.ID, v.Weight)
	}
}

func cmdValidator(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingbft-cli validator <id>")
	}

	var result rpc.ValidatorResult
	if err := client.Call("stake_getValidator", rpc.ValidatorParam{ID: args[0]}, &result); err != nil {
		fatal("stake_getValidator: %v", err)
	}

	fmt.Printf("ID:        %s\n", result.ID)
	fmt.Printf("Weight:    %d\n", result.Weight)
	fmt.Printf("Last Seen: round %d\n", result.LastSeenRound)
	fmt.Printf("Proposed:  %d\n", result.Proposed)
	fmt.Printf("Voted:     %d\n", result.Voted)
	fmt.Printf("Missed:    %d\n", result.Missed)
}

// ── pool ────────────────────────────────────────────────────────────────

func cmdPool(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingbft-cli pool <submit|info> [args]")
	}

	switch args[0] {
	case "submit":
		if len(args) < 2 {
			fatal("Usage: klingbft-cli pool submit <hex>")
		}
		data := args[1]
		if _, err := hex.DecodeString(data); err != nil {
			fatal("payload must be hex: %v", err)
		}
		var result rpc.SubmitResult
		if err := client.Call("pool_submit", rpc.SubmitParam{Data: data}, &result); err != nil {
			fatal("pool_submit: %v", err)
		}
		fmt.Printf("Accepted: %s\n", result.Hash)
	case "info":
		var result rpc.PoolInfoResult
		if err := client.Call("pool_getInfo", nil, &result); err != nil {
			fatal("pool_getInfo: %v", err)
		}
		fmt.Printf("Pending: %d items\n", result.Count)
	default:
		fatal("Unknown pool command: %s", args[0])
	}
}

// ── evidence ────────────────────────────────────────────────────────────

func cmdEvidence(client *rpcclient.Client) {
	var result rpc.EvidenceListResult
	if err := client.Call("evidence_list", nil, &result); err != nil {
		fatal("evidence_list: %v", err)
	}

	fmt.Printf("Equivocations: %d\n", result.Count)
	for i, e := range result.Evidence {
		fmt.Printf("  [%d] validator %s, round %d\n", i, e.Offender, e.Round)
	}
}

// ── peers ───────────────────────────────────────────────────────────────

func cmdPeers(client *rpcclient.Client) {
	var result rpc.PeerInfoResult
	if err := client.Call("net_getPeerInfo", nil, &result); err != nil {
		fatal("net_getPeerInfo: %v", err)
	}

	fmt.Printf("Peers: %d\n", result.PeerCount)
	for _, a := range result.Addrs {
		fmt.Printf("  %s\n", a)
	}
}

// ── key ─────────────────────────────────────────────────────────────────

func cmdKey(args []string, ksDir string) {
	if len(args) < 1 {
		fatal("Usage: klingbft-cli key <create|import|list|info|genesis-entry> [flags]")
	}

	switch args[0] {
	case "create":
		cmdKeyCreate(args[1:], ksDir)
	case "import":
		cmdKeyImport(args[1:], ksDir)
	case "list":
		cmdKeyList(ksDir)
	case "info":
		cmdKeyInfo(args[1:], ksDir)
	case "genesis-entry":
		cmdKeyGenesisEntry(args[1:], ksDir)
	default:
		fatal("Unknown key command: %s", args[0])
	}
}

func cmdKeyCreate(args []string, ksDir string) {
	fs := flag.NewFlagSet("key create", flag.ExitOnError)
	name := fs.String("name", "", "Key name")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: klingbft-cli key create --name <name>")
	}

	mnemonic, err := keystore.GenerateMnemonic()
	if err != nil {
		fatal("generate mnemonic: %v", err)
	}

	fmt.Println("Mnemonic (write this down!):")
	fmt.Printf("  %s\n\n", mnemonic)

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	ks, err := keystore.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	identity, err := ks.Create(*name, mnemonic, "", password, keystore.DefaultParams())
	if err != nil {
		fatal("create key: %v", err)
	}

	fmt.Printf("\nKey created: %s\n", *name)
	fmt.Printf("Validator ID: %s\n", identity.ID)
}

func cmdKeyImport(args []string, ksDir string) {
	fs := flag.NewFlagSet("key import", flag.ExitOnError)
	name := fs.String("name", "", "Key name")
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic (24 words)")
	fs.Parse(args)

	if *name == "" || *mnemonic == "" {
		fatal("Usage: klingbft-cli key import --name <name> --mnemonic \"word1 word2 ...\"")
	}
	if !keystore.ValidateMnemonic(*mnemonic) {
		fatal("invalid mnemonic")
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}

	ks, err := keystore.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	identity, err := ks.Create(*name, *mnemonic, "", password, keystore.DefaultParams())
	if err != nil {
		fatal("import key: %v", err)
	}

	fmt.Printf("Key imported: %s\n", *name)
	fmt.Printf("Validator ID: %s\n", identity.ID)
}

func cmdKeyList(ksDir string) {
	ks, err := keystore.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	names, err := ks.List()
	if err != nil {
		fatal("list keys: %v", err)
	}

	if len(names) == 0 {
		fmt.Println("No keys")
		return
	}
	for _, n := range names {
		id, err := ks.ValidatorID(n)
		if err != nil {
			fmt.Printf("  %s (unreadable: %v)\n", n, err)
			continue
		}
		fmt.Printf("  %s  %s\n", n, id)
	}
}

func cmdKeyInfo(args []string, ksDir string) {
	fs := flag.NewFlagSet("key info", flag.ExitOnError)
	name := fs.String("name", "", "Key name")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: klingbft-cli key info --name <name>")
	}

	ks, err := keystore.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	id, err := ks.ValidatorID(*name)
	if err != nil {
		fatal("read key: %v", err)
	}
	fmt.Printf("Validator ID: %s\n", id)
}

func cmdKeyGenesisEntry(args []string, ksDir string) {
	fs := flag.NewFlagSet("key genesis-entry", flag.ExitOnError)
	name := fs.String("name", "", "Key name")
	weight := fs.Uint64("weight", 1, "Stake weight")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: klingbft-cli key genesis-entry --name <name> --weight <w>")
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}

	ks, err := keystore.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	identity, err := ks.Load(*name, password)
	if err != nil {
		fatal("load key: %v", err)
	}

	entry := config.GenesisValidator{
		ID:     identity.ID.String(),
		Weight: *weight,
		VRFPub: hex.EncodeToString(identity.VRF.PublicKey()),
		SigPub: hex.EncodeToString(identity.Signer.PublicKey()),
	}
	out, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		fatal("encode entry: %v", err)
	}
	fmt.Println(string(out))
}

// ── helpers ─────────────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// derive_identity.go prints the validator ID and public keys for a BIP-39
// mnemonic, for authoring genesis validator entries without a keystore.
// Usage: go run scripts/derive_identity.go <mnemonic-file>
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/klingnet-bft/internal/keystore"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: derive_identity <mnemonic-file>")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	mnemonic := strings.TrimSpace(string(data))
	if !keystore.ValidateMnemonic(mnemonic) {
		fmt.Fprintln(os.Stderr, "invalid mnemonic")
		os.Exit(1)
	}

	identity, err := keystore.IdentityFromMnemonic(mnemonic, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, "derive:", err)
		os.Exit(1)
	}

	fmt.Println("validator_id:", identity.ID)
	fmt.Println("vrf_pub:     ", hex.EncodeToString(identity.VRF.PublicKey()))
	fmt.Println("sig_pub:     ", hex.EncodeToString(identity.Signer.PublicKey()))
}

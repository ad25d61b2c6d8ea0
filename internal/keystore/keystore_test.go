package keystore

import (
	"bytes"
	"strings"
	"testing"
)

// testParams keeps Argon2id cheap so the suite stays fast.
var testParams = EncryptionParams{Memory: 1024, Iterations: 1, Parallelism: 1}

const testMnemonic = "legal winner thank year wave sausage worth useful legal winner thank year " +
	"wave sausage worth useful legal winner thank year wave sausage worth title"

// --- Mnemonic ---

func TestGenerateMnemonic(t *testing.T) {
	m, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic: %v", err)
	}
	if words := len(strings.Fields(m)); words != 24 {
		t.Errorf("expected 24 words, got %d", words)
	}
	if !ValidateMnemonic(m) {
		t.Error("generated mnemonic should validate")
	}

	m2, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("second GenerateMnemonic: %v", err)
	}
	if m == m2 {
		t.Error("two generated mnemonics should differ")
	}
}

func TestValidateMnemonic_Invalid(t *testing.T) {
	bad := []string{
		"",
		"abandon abandon abandon",
		"notaword winner thank year wave sausage worth useful legal winner thank year wave sausage worth useful legal winner thank year wave sausage worth title",
	}
	for _, m := range bad {
		if ValidateMnemonic(m) {
			t.Errorf("mnemonic %q should not validate", m)
		}
	}
}

func TestSeedFromMnemonic_Deterministic(t *testing.T) {
	s1, err := SeedFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic: %v", err)
	}
	if len(s1) != SeedSize {
		t.Fatalf("seed length = %d, want %d", len(s1), SeedSize)
	}

	s2, _ := SeedFromMnemonic(testMnemonic, "")
	if !bytes.Equal(s1, s2) {
		t.Error("same mnemonic should derive same seed")
	}

	s3, _ := SeedFromMnemonic(testMnemonic, "passphrase")
	if bytes.Equal(s1, s3) {
		t.Error("passphrase should change the seed")
	}
}

// --- Identity Derivation ---

func TestIdentityFromMnemonic_Deterministic(t *testing.T) {
	id1, err := IdentityFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("IdentityFromMnemonic: %v", err)
	}
	id2, err := IdentityFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("second IdentityFromMnemonic: %v", err)
	}

	if id1.ID != id2.ID {
		t.Error("same mnemonic should derive same validator ID")
	}
	if !bytes.Equal(id1.Signer.PublicKey(), id2.Signer.PublicKey()) {
		t.Error("signing keys should match")
	}
	if !bytes.Equal(id1.VRF.PublicKey(), id2.VRF.PublicKey()) {
		t.Error("vrf keys should match")
	}
	if id1.ID.IsZero() {
		t.Error("validator ID should not be zero")
	}
}

func TestIdentityFromMnemonic_PassphraseChangesKeys(t *testing.T) {
	id1, err := IdentityFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := IdentityFromMnemonic(testMnemonic, "other")
	if err != nil {
		t.Fatal(err)
	}
	if id1.ID == id2.ID {
		t.Error("different passphrases should derive different validators")
	}
}

func TestIdentityFromSeed_BadLength(t *testing.T) {
	if _, err := IdentityFromSeed(make([]byte, 32)); err == nil {
		t.Error("expected error for short seed")
	}
}

// --- Encryption ---

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	data := []byte("secret seed material")
	password := []byte("hunter2")

	encrypted, err := Encrypt(data, password, testParams)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(encrypted, data) {
		t.Error("ciphertext should not contain plaintext")
	}

	decrypted, err := Decrypt(encrypted, password)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, data) {
		t.Error("round trip mismatch")
	}
}

func TestDecrypt_WrongPassword(t *testing.T) {
	encrypted, err := Encrypt([]byte("data"), []byte("right"), testParams)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(encrypted, []byte("wrong")); err == nil {
		t.Error("wrong password should fail")
	}
}

func TestDecrypt_Truncated(t *testing.T) {
	if _, err := Decrypt([]byte("too short"), []byte("pw")); err == nil {
		t.Error("truncated input should fail")
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	encrypted, err := Encrypt([]byte("data"), []byte("pw"), testParams)
	if err != nil {
		t.Fatal(err)
	}
	encrypted[len(encrypted)-1] ^= 0xff
	if _, err := Decrypt(encrypted, []byte("pw")); err == nil {
		t.Error("tampered ciphertext should fail")
	}
}

// --- Keystore ---

func TestKeystore_CreateLoad(t *testing.T) {
	ks, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeystore: %v", err)
	}
	password := []byte("pw")

	created, err := ks.Create("validator1", testMnemonic, "", password, testParams)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	loaded, err := ks.Load("validator1", password)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != created.ID {
		t.Errorf("loaded ID %s != created ID %s", loaded.ID, created.ID)
	}
	if !bytes.Equal(loaded.VRF.PublicKey(), created.VRF.PublicKey()) {
		t.Error("vrf keys should match after reload")
	}

	stored, err := ks.ValidatorID("validator1")
	if err != nil {
		t.Fatalf("ValidatorID: %v", err)
	}
	if stored != created.ID.String() {
		t.Errorf("stored ID %s != created ID %s", stored, created.ID)
	}
}

func TestKeystore_CreateDuplicate(t *testing.T) {
	ks, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ks.Create("v", testMnemonic, "", []byte("pw"), testParams); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := ks.Create("v", testMnemonic, "", []byte("pw"), testParams); err == nil {
		t.Error("duplicate Create should fail")
	}
}

func TestKeystore_LoadWrongPassword(t *testing.T) {
	ks, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ks.Create("v", testMnemonic, "", []byte("right"), testParams); err != nil {
		t.Fatal(err)
	}
	if _, err := ks.Load("v", []byte("wrong")); err == nil {
		t.Error("wrong password should fail")
	}
}

func TestKeystore_ListDelete(t *testing.T) {
	ks, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	names, err := ks.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("empty keystore should list 0 keys, got %d", len(names))
	}

	if _, err := ks.Create("a", testMnemonic, "", []byte("pw"), testParams); err != nil {
		t.Fatal(err)
	}
	if _, err := ks.Create("b", testMnemonic, "x", []byte("pw"), testParams); err != nil {
		t.Fatal(err)
	}

	names, err = ks.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 keys, got %d", len(names))
	}

	if err := ks.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := ks.Delete("a"); err == nil {
		t.Error("deleting missing key should fail")
	}

	names, _ = ks.List()
	if len(names) != 1 || names[0] != "b" {
		t.Errorf("expected [b], got %v", names)
	}
}

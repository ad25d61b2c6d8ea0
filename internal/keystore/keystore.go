package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// keyFile is the on-disk JSON format for an encrypted validator key.
type keyFile struct {
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	ValidatorID   string    `json:"validator_id"` // hex, for inspection without the password
	EncryptedSeed []byte    `json:"encrypted_seed"`
}

// Keystore manages encrypted validator key files in a directory.
type Keystore struct {
	path string
}

// NewKeystore creates a keystore that reads/writes to the given directory.
// The directory is created if it doesn't exist.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

func (ks *Keystore) keyPath(name string) string {
	return filepath.Join(ks.path, name+".key")
}

// Create derives the validator identity from a mnemonic and writes an
// encrypted key file. Returns the identity so callers can print the
// validator ID for genesis registration.
func (ks *Keystore) Create(name, mnemonic, passphrase string, password []byte, params EncryptionParams) (*Identity, error) {
	path := ks.keyPath(name)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("key %q already exists", name)
	}

	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	id, err := IdentityFromSeed(seed)
	if err != nil {
		return nil, err
	}

	encrypted, err := Encrypt(seed, password, params)
	if err != nil {
		return nil, fmt.Errorf("encrypt seed: %w", err)
	}

	kf := keyFile{
		Version:       1,
		CreatedAt:     time.Now().UTC(),
		ValidatorID:   id.ID.String(),
		EncryptedSeed: encrypted,
	}
	if err := ks.writeFile(path, &kf); err != nil {
		return nil, err
	}
	return id, nil
}

// Load decrypts a key file and re-derives the validator identity.
func (ks *Keystore) Load(name string, password []byte) (*Identity, error) {
	kf, err := ks.readFile(ks.keyPath(name))
	if err != nil {
		return nil, err
	}
	seed, err := Decrypt(kf.EncryptedSeed, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt key: %w", err)
	}
	return IdentityFromSeed(seed)
}

// ValidatorID returns the stored validator ID without decrypting.
func (ks *Keystore) ValidatorID(name string) (string, error) {
	kf, err := ks.readFile(ks.keyPath(name))
	if err != nil {
		return "", err
	}
	return kf.ValidatorID, nil
}

// List returns the names of all key files in the keystore.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".key" {
			names = append(names, name[:len(name)-len(ext)])
		}
	}
	return names, nil
}

// Delete removes a key file.
func (ks *Keystore) Delete(name string) error {
	path := ks.keyPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("key %q not found", name)
	}
	return os.Remove(path)
}

func (ks *Keystore) writeFile(path string, kf *keyFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

func (ks *Keystore) readFile(path string) (*keyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	if kf.Version != 1 {
		return nil, fmt.Errorf("unsupported key file version: %d", kf.Version)
	}
	return &kf, nil
}

package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ValidatorIDSize is the length of a validator identifier in bytes.
const ValidatorIDSize = 20

// ValidatorID is a stable validator identifier derived from the validator's
// signing public key. It is immutable once the validator is registered.
type ValidatorID [ValidatorIDSize]byte

// IsZero returns true if the identifier is all zeros.
func (v ValidatorID) IsZero() bool {
	return v == ValidatorID{}
}

// String returns the hex-encoded identifier.
func (v ValidatorID) String() string {
	return hex.EncodeToString(v[:])
}

// Short returns the first 8 hex characters, for log output.
func (v ValidatorID) Short() string {
	return hex.EncodeToString(v[:4])
}

// Bytes returns a copy of the identifier as a byte slice.
func (v ValidatorID) Bytes() []byte {
	b := make([]byte, ValidatorIDSize)
	copy(b, v[:])
	return b
}

// MarshalJSON encodes the identifier as a hex string.
func (v ValidatorID) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON decodes a hex string into a validator identifier.
func (v *ValidatorID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*v = ValidatorID{}
		return nil
	}
	parsed, err := ParseValidatorID(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValidatorID parses a hex-encoded validator identifier.
func ParseValidatorID(s string) (ValidatorID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ValidatorID{}, fmt.Errorf("invalid validator id hex: %w", err)
	}
	if len(b) != ValidatorIDSize {
		return ValidatorID{}, fmt.Errorf("validator id must be %d bytes, got %d", ValidatorIDSize, len(b))
	}
	var v ValidatorID
	copy(v[:], b)
	return v, nil
}

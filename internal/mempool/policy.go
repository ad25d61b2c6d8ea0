package mempool

import (
	"fmt"
)

// MaxItemSize is the default cap on a single payload item.
const MaxItemSize = 64 * 1024

// Policy holds admission rules for payload items.
type Policy struct {
	MaxItemSize int
}

// DefaultPolicy returns the standard admission rules.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxItemSize: MaxItemSize,
	}
}

// Check validates an item against the policy.
func (p *Policy) Check(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty item", ErrValidation)
	}
	if p.MaxItemSize > 0 && len(data) > p.MaxItemSize {
		return fmt.Errorf("%w: item size %d exceeds limit %d", ErrValidation, len(data), p.MaxItemSize)
	}
	return nil
}

package ledger

import (
	"fmt"

	"stageci/internal/security"
)

// Verify recomputes every hash, checks links, indices and signatures.
// It returns the first inconsistency found.
func (l *Ledger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return verifyEntries(l.entries)
}

func verifyEntries(entries []*Entry) error {
	for i, e := range entries {
		if e.Index != i {
			return fmt.Errorf("index mismatch: expected %d, got %d", i, e.Index)
		}

		h, err := e.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", i, err)
		}
		if h != e.Hash {
			return fmt.Errorf("hash mismatch at index %d", i)
		}

		if i > 0 && e.PrevHash != entries[i-1].Hash {
			return fmt.Errorf("prev hash mismatch at index %d", i)
		}
		if i == 0 && e.PrevHash != "" {
			return fmt.Errorf("first entry has prev hash %q", e.PrevHash)
		}

		ok, err := security.VerifySignatureFromHex(e.PubKey, []byte(e.Hash), e.Signature)
		if err != nil {
			return fmt.Errorf("signature at index %d: %w", i, err)
		}
		if !ok {
			return fmt.Errorf("invalid signature at index %d", i)
		}
	}
	return nil
}

package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"stageci/internal/security"
)

// Ledger is an append-only JSON lines file of signed entries.
type Ledger struct {
	mu      sync.Mutex
	entries []*Entry
	path    string
	keys    *security.KeyPair
}

// Open loads the ledger at path, creating an empty file when missing.
// keys may be nil for read-only use; Append then fails.
func Open(path string, keys *security.KeyPair) (*Ledger, error) {
	l := &Ledger{path: path, keys: keys}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		return l, f.Close()
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decoding ledger entry %d: %w", len(l.entries), err)
		}
		l.entries = append(l.entries, &e)
	}
	return l, nil
}

// Append assigns the next index, links e to the last entry, hashes and
// signs it, and persists it. The caller fills the descriptive fields.
func (l *Ledger) Append(e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.keys == nil {
		return fmt.Errorf("ledger %s opened without signing keys", l.path)
	}

	e.Index = len(l.entries)
	e.PrevHash = ""
	if n := len(l.entries); n > 0 {
		e.PrevHash = l.entries[n-1].Hash
	}
	if e.Timestamp == "" {
		e.Timestamp = timestamp()
	}

	h, err := e.ComputeHash()
	if err != nil {
		return fmt.Errorf("computing entry hash: %w", err)
	}
	e.Hash = h

	sig, err := l.keys.Sign([]byte(e.Hash))
	if err != nil {
		return err
	}
	e.Signature = sig
	e.PubKey = l.keys.PublicHex()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening ledger file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(e); err != nil {
		return fmt.Errorf("writing ledger file: %w", err)
	}
	l.entries = append(l.entries, e)
	return nil
}

// Entries returns a copy of the entries in order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// LastHash returns the hash of the last entry, or "" when empty.
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return ""
	}
	return l.entries[len(l.entries)-1].Hash
}

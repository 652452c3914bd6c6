// Package ledger keeps a tamper-evident record of run outcomes. Entries
// are JSON lines, each carrying the SHA-256 of its canonical fields, the
// hash of the previous entry, and an ed25519 signature over its hash.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Kind of an entry: one per invoked step, then one for the run outcome.
const (
	KindStep    = "step"
	KindOutcome = "outcome"
)

// Entry is one ledger record.
type Entry struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	RunID     string `json:"runId"`
	Pipeline  string `json:"pipeline"`
	Branch    string `json:"branch,omitempty"`
	StepIndex int    `json:"stepIndex"`
	Step      string `json:"step"`
	Status    string `json:"status"`
	LogPath   string `json:"logPath,omitempty"`
	LogHash   string `json:"logHash"`
	PrevHash  string `json:"prevHash"`
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
	PubKey    string `json:"pubKey"`
}

// canonicalData is the JSON the hash covers. Hash, Signature and PubKey
// are excluded.
func (e *Entry) canonicalData() ([]byte, error) {
	view := struct {
		Index     int    `json:"index"`
		Timestamp string `json:"timestamp"`
		Kind      string `json:"kind"`
		RunID     string `json:"runId"`
		Pipeline  string `json:"pipeline"`
		Branch    string `json:"branch"`
		StepIndex int    `json:"stepIndex"`
		Step      string `json:"step"`
		Status    string `json:"status"`
		LogPath   string `json:"logPath"`
		LogHash   string `json:"logHash"`
		PrevHash  string `json:"prevHash"`
	}{
		Index:     e.Index,
		Timestamp: e.Timestamp,
		Kind:      e.Kind,
		RunID:     e.RunID,
		Pipeline:  e.Pipeline,
		Branch:    e.Branch,
		StepIndex: e.StepIndex,
		Step:      e.Step,
		Status:    e.Status,
		LogPath:   e.LogPath,
		LogHash:   e.LogHash,
		PrevHash:  e.PrevHash,
	}
	return json.Marshal(view)
}

// ComputeHash calculates SHA-256 over canonicalData.
func (e *Entry) ComputeHash() (string, error) {
	data, err := e.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

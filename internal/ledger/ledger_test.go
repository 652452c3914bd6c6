package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"stageci/internal/security"
	"stageci/pkg/utils"
)

// helper to create a step log file for hashing
func createTempLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newKeys(t *testing.T) *security.KeyPair {
	t.Helper()
	kp, err := security.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func stepEntry(t *testing.T, step int, label, output string) *Entry {
	t.Helper()
	logPath := createTempLog(t, output)
	h, err := utils.HashFile(logPath)
	require.NoError(t, err)
	return &Entry{
		Kind:      KindStep,
		RunID:     "run-1",
		Pipeline:  "ci/build",
		Branch:    "main",
		StepIndex: step,
		Step:      label,
		Status:    "ok",
		LogPath:   logPath,
		LogHash:   h,
	}
}

func TestEntryHashIsStable(t *testing.T) {
	e := stepEntry(t, 1, "Build", "hello ledger")
	h1, err := e.ComputeHash()
	require.NoError(t, err)
	h2, err := e.ComputeHash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	// Hash, Signature and PubKey are outside the hashed data.
	e.Hash, e.Signature, e.PubKey = "x", "y", "z"
	h3, err := e.ComputeHash()
	require.NoError(t, err)
	require.Equal(t, h1, h3)

	e.Status = "failed"
	h4, err := e.ComputeHash()
	require.NoError(t, err)
	require.NotEqual(t, h1, h4)
}

func TestLedgerAppendAndVerify(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.jsonl"), newKeys(t))
	require.NoError(t, err)

	first := stepEntry(t, 1, "Format check", "ok")
	require.NoError(t, l.Append(first))
	second := stepEntry(t, 2, "Static analysis", "warning: unused variable")
	require.NoError(t, l.Append(second))

	require.Equal(t, 2, l.Len())
	require.Equal(t, 0, first.Index)
	require.Equal(t, 1, second.Index)
	require.Empty(t, first.PrevHash)
	require.Equal(t, first.Hash, second.PrevHash)
	require.Equal(t, second.Hash, l.LastHash())
	require.NoError(t, l.Verify())
}

func TestTamperingDetection(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.jsonl"), newKeys(t))
	require.NoError(t, err)
	require.NoError(t, l.Append(stepEntry(t, 1, "Deploy", "secure log")))
	require.NoError(t, l.Append(stepEntry(t, 2, "Smoke test", "fine")))

	l.entries[0].LogHash = "fakehash"
	err = l.Verify()
	require.Error(t, err)
	require.Contains(t, err.Error(), "hash mismatch at index 0")
}

func TestBrokenLinkDetection(t *testing.T) {
	keys := newKeys(t)
	l, err := Open(filepath.Join(t.TempDir(), "ledger.jsonl"), keys)
	require.NoError(t, err)
	require.NoError(t, l.Append(stepEntry(t, 1, "Build", "a")))
	require.NoError(t, l.Append(stepEntry(t, 2, "Test", "b")))

	// Re-hash and re-sign the second entry against a forged predecessor.
	e := l.entries[1]
	e.PrevHash = strings.Repeat("0", 64)
	e.Hash, err = e.ComputeHash()
	require.NoError(t, err)
	e.Signature, err = keys.Sign([]byte(e.Hash))
	require.NoError(t, err)

	err = l.Verify()
	require.Error(t, err)
	require.Contains(t, err.Error(), "prev hash mismatch at index 1")
}

func TestForeignSignatureDetection(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.jsonl"), newKeys(t))
	require.NoError(t, err)
	require.NoError(t, l.Append(stepEntry(t, 1, "Build", "a")))

	l.entries[0].PubKey = newKeys(t).PublicHex()
	err = l.Verify()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid signature at index 0")
}

func TestLedgerPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.jsonl")
	keys := newKeys(t)
	l, err := Open(path, keys)
	require.NoError(t, err)
	require.NoError(t, l.Append(stepEntry(t, 1, "Build", "persisted log")))
	require.NoError(t, l.Append(&Entry{Kind: KindOutcome, RunID: "run-1", Pipeline: "ci/build", Status: "succeeded"}))

	// reopen read-only
	reopened, err := Open(path, nil)
	require.NoError(t, err)
	require.Equal(t, 2, reopened.Len())
	require.NoError(t, reopened.Verify())
	require.Equal(t, l.LastHash(), reopened.LastHash())

	err = reopened.Append(stepEntry(t, 2, "Test", "x"))
	require.Error(t, err)

	// reopen with keys and keep extending the chain
	again, err := Open(path, keys)
	require.NoError(t, err)
	require.NoError(t, again.Append(stepEntry(t, 2, "Test", "x")))
	require.NoError(t, again.Verify())
	require.Equal(t, 2, again.Entries()[2].Index)
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n"), 0o644))
	_, err := Open(path, nil)
	require.Error(t, err)
}

package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	sig, err := kp.Sign([]byte("entry-hash"))
	require.NoError(t, err)

	ok, err := VerifySignatureFromHex(kp.PublicHex(), []byte("entry-hash"), sig)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifySignatureFromHex(kp.PublicHex(), []byte("other-hash"), sig)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = VerifySignatureFromHex("zz", []byte("entry-hash"), sig)
	require.Error(t, err)
	_, err = VerifySignatureFromHex("abcd", []byte("entry-hash"), sig)
	require.Error(t, err)
}

func TestSignWithoutPrivateKey(t *testing.T) {
	kp := &KeyPair{}
	_, err := kp.Sign([]byte("x"))
	require.Error(t, err)
}

func TestEnsureKeyPair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	first, created, err := EnsureKeyPair(dir)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := EnsureKeyPair(dir)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.PublicHex(), second.PublicHex())

	info, err := os.Stat(filepath.Join(dir, "ledger.key"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadKeyPairRejectsMismatchedKeys(t *testing.T) {
	dir := t.TempDir()
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, a.Save(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.pub"), []byte(b.PublicHex()), 0o600))

	_, err = LoadKeyPair(dir)
	require.Error(t, err)
}

package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashHelpersAgree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello build step"), 0o644))

	fromFile, err := HashFile(path)
	require.NoError(t, err)
	fromReader, err := HashReader(strings.NewReader("hello build step"))
	require.NoError(t, err)

	require.Equal(t, fromFile, fromReader)
	require.Equal(t, fromFile, HashString("hello build step"))
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashString(""))
}

func TestHashFileMissing(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

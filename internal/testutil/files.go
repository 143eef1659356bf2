// Package testutil contains helpers shared by the package tests.
package testutil

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitrise-io/go-scanupload/internal"
)

// WriteRandomFile creates a file of the given size filled with deterministic pseudo random bytes.
func WriteRandomFile(t *testing.T, dir, name string, size int64) (string, []byte) {
	t.Helper()

	content := make([]byte, size)
	rnd := rand.New(rand.NewSource(size)) //nolint:gosec
	_, err := rnd.Read(content)
	require.NoError(t, err)

	pth := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(pth, content, 0o600))

	return pth, content
}

// FaultyOS fails the configured calls and delegates the rest to the real os package.
type FaultyOS struct {
	internal.RealOS
	StatErr error
	OpenErr error
}

// Stat ...
func (f FaultyOS) Stat(name string) (os.FileInfo, error) {
	if f.StatErr != nil {
		return nil, f.StatErr
	}
	return f.RealOS.Stat(name)
}

// Open ...
func (f FaultyOS) Open(name string) (internal.File, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	return f.RealOS.Open(name)
}

package registry

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirr-labs/lonet/internal/xerr"
)

func TestAnnounceQueryRoundTrip(t *testing.T) {
	dbpath := filepath.Join(t.TempDir(), "registry.db")
	r, err := Open(dbpath, "ccc", 4, nil)
	require.NoError(t, err)
	defer r.Close()

	_, ok, err := r.Query("alpha")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Announce("alpha", "127.0.0.1:1234"))

	addr, ok, err := r.Query("alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:1234", addr)
}

func TestAnnounceDuplicateFails(t *testing.T) {
	dbpath := filepath.Join(t.TempDir(), "registry.db")
	r, err := Open(dbpath, "net", 0, nil)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Announce("beta", "beta:a"))

	err = r.Announce("beta", "beta:b")
	require.Error(t, err)
	assert.True(t, errors.Is(xerr.Cause(err), xerr.ErrHostAlreadyUsed))

	addr, ok, err := r.Query("beta")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "beta:a", addr)
}

func TestSchemaNetworkMismatch(t *testing.T) {
	dbpath := filepath.Join(t.TempDir(), "registry.db")
	r, err := Open(dbpath, "ccc", 0, nil)
	require.NoError(t, err)
	r.Close()

	_, err = Open(dbpath, "ddd", 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `network name mismatch: want "ddd"; have "ccc"`)
}

func TestReopenSameNetworkSucceeds(t *testing.T) {
	dbpath := filepath.Join(t.TempDir(), "registry.db")
	r1, err := Open(dbpath, "ccc", 0, nil)
	require.NoError(t, err)
	require.NoError(t, r1.Announce("alpha", "alpha:1234"))
	require.NoError(t, r1.Close())

	r2, err := Open(dbpath, "ccc", 0, nil)
	require.NoError(t, err)
	defer r2.Close()

	addr, ok, err := r2.Query("alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alpha:1234", addr)
}

func TestCloseIdempotent(t *testing.T) {
	dbpath := filepath.Join(t.TempDir(), "registry.db")
	r, err := Open(dbpath, "net", 0, nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

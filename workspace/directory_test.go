package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryExpiryRemovesWorkspace(t *testing.T) {
	s := NewStore(t.TempDir())
	d := NewDirectory(s, 50*time.Millisecond)
	d.Start()
	defer d.Stop()

	f, err := s.Create("OLDIE", "a.txt")
	require.NoError(t, err)
	f.Close()
	d.Register("OLDIE")
	assert.True(t, d.Known("OLDIE"))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(s.Root, "OLDIE"))
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, d.Known("OLDIE"))
}

func TestDirectoryWithoutRetentionKeepsWorkspace(t *testing.T) {
	s := NewStore(t.TempDir())
	d := NewDirectory(s, 0)
	d.Start()
	defer d.Stop()

	f, err := s.Create("KEEPS", "a.txt")
	require.NoError(t, err)
	f.Close()
	d.Register("KEEPS")

	time.Sleep(100 * time.Millisecond)
	assert.True(t, d.Known("KEEPS"))
	assert.Equal(t, 1, d.Len())
	_, err = os.Stat(filepath.Join(s.Root, "KEEPS", "a.txt"))
	assert.NoError(t, err)
}

func TestDirectoryForgetLeavesDisk(t *testing.T) {
	s := NewStore(t.TempDir())
	d := NewDirectory(s, time.Hour)
	d.Start()
	defer d.Stop()

	_, err := s.Ensure("FORGT")
	require.NoError(t, err)
	d.Register("FORGT")
	d.Forget("FORGT")
	assert.False(t, d.Known("FORGT"))
	time.Sleep(50 * time.Millisecond)
	_, err = os.Stat(filepath.Join(s.Root, "FORGT"))
	assert.NoError(t, err)
}

func TestDirectoryKeepsLeasedWorkspace(t *testing.T) {
	s := NewStore(t.TempDir())
	d := NewDirectory(s, 30*time.Millisecond)
	d.Start()
	defer d.Stop()

	d.Acquire("LEASE")
	f, err := s.Create("LEASE", "a.txt")
	require.NoError(t, err)
	f.Close()
	d.Register("LEASE")

	// several retention periods pass while the lease is held
	time.Sleep(200 * time.Millisecond)
	_, err = os.Stat(filepath.Join(s.Root, "LEASE", "a.txt"))
	require.NoError(t, err)
	assert.True(t, d.Known("LEASE"))

	// retention restarts from the release
	d.Release("LEASE")
	assert.True(t, d.Known("LEASE"))
	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(s.Root, "LEASE"))
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDirectoryReleaseWithoutWorkspace(t *testing.T) {
	s := NewStore(t.TempDir())
	d := NewDirectory(s, time.Hour)
	d.Start()
	defer d.Stop()

	d.Acquire("NOFIL")
	d.Acquire("NOFIL")
	d.Release("NOFIL")
	d.Release("NOFIL")
	assert.False(t, d.Known("NOFIL"))
	assert.Equal(t, 0, d.Len())
}

package object

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogerz/uffs/config"
	"github.com/rogerz/uffs/ffserr"
	"github.com/rogerz/uffs/mount"
	"github.com/rogerz/uffs/testutil/simflash"
)

func newTestFS(t *testing.T, totalBlocks, pageSize, pagesPerBlock int) *FS {
	t.Helper()
	attrs := config.StorageAttrs{TotalBlocks: totalBlocks, PageDataSize: pageSize, PagesPerBlock: pagesPerBlock}
	cfg := config.Default()
	m, err := mount.Format(simflash.New(attrs), attrs, cfg)
	require.NoError(t, err)
	return New(m)
}

func TestCreateThenStat(t *testing.T) {
	fs := newTestFS(t, 32, 64, 4)
	f, err := fs.Create("/a.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info, err := fs.Stat("/a.txt")
	require.NoError(t, err)
	assert.False(t, info.IsDir)
	assert.Equal(t, "a.txt", info.Name)
}

func TestMkdirAndReadDir(t *testing.T) {
	fs := newTestFS(t, 32, 64, 4)
	require.NoError(t, fs.Mkdir("/dir"))

	f, err := fs.Create("/dir/x.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := fs.ReadDir("/dir")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x.txt", entries[0].Name)
}

func TestCreateRejectsNameCollision(t *testing.T) {
	fs := newTestFS(t, 32, 64, 4)
	f, err := fs.Create("/a.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = fs.Create("/a.txt")
	require.Error(t, err)
	assert.True(t, ffserr.Is(err, ffserr.Exists))
}

func TestRenameRejectsDestinationCollision(t *testing.T) {
	fs := newTestFS(t, 32, 64, 4)
	f1, err := fs.Create("/a.txt")
	require.NoError(t, err)
	require.NoError(t, f1.Close())
	f2, err := fs.Create("/b.txt")
	require.NoError(t, err)
	require.NoError(t, f2.Close())

	err = fs.Rename("/a.txt", "/b.txt")
	require.Error(t, err)
	assert.True(t, ffserr.Is(err, ffserr.Exists))
}

func TestRenameMovesNode(t *testing.T) {
	fs := newTestFS(t, 32, 64, 4)
	f, err := fs.Create("/a.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fs.Rename("/a.txt", "/c.txt"))

	_, err = fs.Stat("/a.txt")
	assert.True(t, ffserr.Is(err, ffserr.NoEntry))

	info, err := fs.Stat("/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "c.txt", info.Name)
}

func TestRmdirRejectsNonEmptyDirectory(t *testing.T) {
	fs := newTestFS(t, 32, 64, 4)
	require.NoError(t, fs.Mkdir("/d"))
	f, err := fs.Create("/d/child.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = fs.Rmdir("/d")
	require.Error(t, err)
	assert.True(t, ffserr.Is(err, ffserr.NotEmpty))
}

func TestRemoveDeletesFile(t *testing.T) {
	fs := newTestFS(t, 32, 64, 4)
	f, err := fs.Create("/a.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fs.Remove("/a.txt"))

	_, err = fs.Stat("/a.txt")
	assert.True(t, ffserr.Is(err, ffserr.NoEntry))
}

func TestOpenDirectoryRejected(t *testing.T) {
	fs := newTestFS(t, 32, 64, 4)
	require.NoError(t, fs.Mkdir("/d"))

	_, err := fs.Open("/d")
	require.Error(t, err)
	assert.True(t, ffserr.Is(err, ffserr.InvalidArg))
}

func TestDescriptorTableExhaustion(t *testing.T) {
	fs := newTestFS(t, 64, 64, 4)
	var open []*File
	for i := 0; i < maxOpenFiles; i++ {
		f, err := fs.Create(fmt.Sprintf("/f%02d.txt", i))
		require.NoError(t, err)
		open = append(open, f)
	}

	_, err := fs.Create("/overflow.txt")
	require.Error(t, err)
	assert.True(t, ffserr.Is(err, ffserr.TooManyOpen))

	for _, f := range open {
		require.NoError(t, f.Close())
	}
}

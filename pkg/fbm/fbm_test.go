package fbm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4s1ght/ibfs/internal/iblock"
	"github.com/4s1ght/ibfs/internal/icipher"
	"github.com/4s1ght/ibfs/internal/iconfig"
	"github.com/4s1ght/ibfs/pkg/addrspace"
	"github.com/4s1ght/ibfs/pkg/volume"
)

// newTestVolume builds a 1 KiB-block volume (HEAD_SPACE=120, LINK_SPACE=124)
// matching the example scenarios in spec §8, and returns it opened with a
// fresh address space and the address of an empty HEAD block ready for use.
func newTestVolume(t *testing.T) (*volume.Volume, *addrspace.AddressSpace, uint64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ibfs")

	require.NoError(t, volume.CreateEmpty(volume.CreateOptions{
		Path:           path,
		BlockSizeLevel: 1, // 1 KiB blocks
		BlockCount:     600,
		Cipher:         icipher.CipherAES256XTS,
		UserKey:        []byte("test passphrase"),
		Config:         iconfig.Defaults(),
	}))

	vol, err := volume.Open(path, []byte("test passphrase"), true, iconfig.Defaults(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { vol.Close() })

	addrs := addrspace.New(vol.Offset(), vol.Root().BlockCount, 64, nil)

	headAddr, err := addrs.Alloc()
	require.NoError(t, err)
	require.NoError(t, vol.WriteHead(context.Background(), headAddr, iblock.HeadFields{
		ResourceType: iblock.ResourceFile,
	}))

	return vol, addrs, headAddr
}

func TestAppendGrowsChainAcrossHeadAndLink(t *testing.T) {
	vol, addrs, headAddr := newTestVolume(t)
	ctx := context.Background()

	f, err := Open(ctx, vol, addrs, headAddr, nil)
	require.NoError(t, err)

	values := make([]uint64, 130)
	for i := range values {
		values[i] = uint64(1000 + i)
	}
	require.NoError(t, f.Append(ctx, values))

	assert.Equal(t, 130, f.Length())
	assert.Equal(t, 1, f.LinkCount())

	v, ok := f.Get(0)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), v)

	v, ok = f.Get(129)
	require.True(t, ok)
	assert.Equal(t, uint64(1129), v)

	_, ok = f.Get(130)
	assert.False(t, ok)
}

func TestAppendPersistsAcrossReopen(t *testing.T) {
	vol, addrs, headAddr := newTestVolume(t)
	ctx := context.Background()

	f, err := Open(ctx, vol, addrs, headAddr, nil)
	require.NoError(t, err)
	require.NoError(t, f.Append(ctx, []uint64{7, 8, 9}))

	reopened, err := Open(ctx, vol, addrs, headAddr, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.Length())
	v, ok := reopened.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(8), v)
}

func TestTruncShrinksChainWhenTailEmpties(t *testing.T) {
	vol, addrs, headAddr := newTestVolume(t)
	ctx := context.Background()

	f, err := Open(ctx, vol, addrs, headAddr, nil)
	require.NoError(t, err)

	values := make([]uint64, 130)
	for i := range values {
		values[i] = uint64(2000 + i)
	}
	require.NoError(t, f.Append(ctx, values))
	require.Equal(t, 2, len(values)/124+1) // sanity: this really does span two blocks

	require.NoError(t, f.Trunc(ctx, 10))
	assert.Equal(t, 120, f.Length())
	assert.Equal(t, 0, f.LinkCount(), "the now-empty link block must be shrunk away")

	require.NoError(t, f.Trunc(ctx, 120))
	assert.Equal(t, 0, f.Length())
	assert.Equal(t, 0, f.LinkCount())
}

func TestTruncOutOfRange(t *testing.T) {
	vol, addrs, headAddr := newTestVolume(t)
	ctx := context.Background()

	f, err := Open(ctx, vol, addrs, headAddr, nil)
	require.NoError(t, err)
	require.NoError(t, f.Append(ctx, []uint64{1, 2, 3}))

	assert.Error(t, f.Trunc(ctx, 4))
	assert.Error(t, f.Trunc(ctx, -1))
}

func TestOpenDetectsCircularReference(t *testing.T) {
	vol, addrs, headAddr := newTestVolume(t)
	ctx := context.Background()

	linkAddr, err := addrs.Alloc()
	require.NoError(t, err)

	// A link that points back at itself.
	require.NoError(t, vol.WriteLink(ctx, linkAddr, iblock.LinkFields{Next: linkAddr}))
	require.NoError(t, vol.WriteHead(ctx, headAddr, iblock.HeadFields{
		Next:         linkAddr,
		ResourceType: iblock.ResourceFile,
	}))

	_, err = Open(ctx, vol, addrs, headAddr, nil)
	assert.Error(t, err)
}

func TestSetMetadataUpdatesHeadOnly(t *testing.T) {
	vol, addrs, headAddr := newTestVolume(t)
	ctx := context.Background()

	f, err := Open(ctx, vol, addrs, headAddr, nil)
	require.NoError(t, err)

	dirType := iblock.ResourceDir
	require.NoError(t, f.SetMetadata(ctx, nil, nil, &dirType))

	head, err := vol.ReadHead(ctx, headAddr)
	require.NoError(t, err)
	assert.Equal(t, iblock.ResourceDir, head.ResourceType)
}

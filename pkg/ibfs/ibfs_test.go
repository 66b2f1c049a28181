package ibfs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4s1ght/ibfs/internal/iblock"
	"github.com/4s1ght/ibfs/internal/icipher"
	"github.com/4s1ght/ibfs/internal/iconfig"
)

func TestCreateEmptyBuildsRootDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fs.ibfs")

	fs, err := CreateEmpty(ctx, CreateOptions{
		Path:           path,
		BlockSizeLevel: 1,
		BlockCount:     600,
		Cipher:         icipher.CipherAES256XTS,
		UserKey:        []byte("root passphrase"),
		Config:         iconfig.Defaults(),
	})
	require.NoError(t, err)
	defer fs.Close()

	root := fs.Volume().Root()
	assert.NotZero(t, root.FSRootAddress)

	f, err := fs.OpenFBM(ctx, root.FSRootAddress)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Length())

	dataAddr, ok := f.Get(0)
	require.True(t, ok)
	data, err := fs.Volume().ReadData(ctx, dataAddr)
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), data.Body)
}

func TestOpenReconstructsAddressSpaceFromRoot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fs.ibfs")

	created, err := CreateEmpty(ctx, CreateOptions{
		Path:           path,
		BlockSizeLevel: 1,
		BlockCount:     600,
		Cipher:         icipher.CipherAES256XTS,
		UserKey:        []byte("root passphrase"),
		Config:         iconfig.Defaults(),
	})
	require.NoError(t, err)
	rootAddr := created.Volume().Root().FSRootAddress
	require.NoError(t, created.Close())

	fs, err := Open(ctx, OpenOptions{
		Path:      path,
		UserKey:   []byte("root passphrase"),
		Integrity: true,
		Config:    iconfig.Defaults(),
	})
	require.NoError(t, err)
	defer fs.Close()

	assert.True(t, fs.AddressSpace().IsAllocated(rootAddr))

	f, err := fs.OpenFBM(ctx, rootAddr)
	require.NoError(t, err)
	dataAddr, ok := f.Get(0)
	require.True(t, ok)
	assert.True(t, fs.AddressSpace().IsAllocated(dataAddr))
}

func TestFsckCleanVolumeReportsNoIssues(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fs.ibfs")

	fs, err := CreateEmpty(ctx, CreateOptions{
		Path:           path,
		BlockSizeLevel: 1,
		BlockCount:     600,
		Cipher:         icipher.CipherAES256XTS,
		UserKey:        []byte("root passphrase"),
		Config:         iconfig.Defaults(),
	})
	require.NoError(t, err)
	defer fs.Close()

	report, err := fs.Fsck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.HeadsVisited)
	assert.Equal(t, 0, report.LinksVisited)
	assert.Equal(t, 1, report.DataVisited)
	assert.Empty(t, report.Mismatches)
	assert.Empty(t, report.LeakedAddrs)
}

func TestFsckReportsLeakedAddressNotInRootFBM(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fs.ibfs")

	fs, err := CreateEmpty(ctx, CreateOptions{
		Path:           path,
		BlockSizeLevel: 1,
		BlockCount:     600,
		Cipher:         icipher.CipherAES256XTS,
		UserKey:        []byte("root passphrase"),
		Config:         iconfig.Defaults(),
	})
	require.NoError(t, err)
	defer fs.Close()

	orphan, err := fs.AddressSpace().Alloc()
	require.NoError(t, err)
	require.NoError(t, fs.Volume().WriteData(ctx, orphan, iblock.DataFields{Body: []byte("orphaned")}))

	report, err := fs.Fsck(ctx)
	require.NoError(t, err)
	assert.Contains(t, report.LeakedAddrs, orphan)
}

// TestFileStreamShapeMatchesE6 approximates E6's shape at the FBM level: a
// 2000-byte user stream at offset 5 into a fresh 1 KiB-block file
// (DATA_BODY=992) spans 3 data blocks. Translating bytes into a write
// stream is a VFS-layer concern (SPEC_FULL.md §A's ambient-stack note); this
// engine's contribution is the block chain the stream would be built on.
func TestFileStreamShapeMatchesE6(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fs.ibfs")

	fs, err := CreateEmpty(ctx, CreateOptions{
		Path:           path,
		BlockSizeLevel: 1,
		BlockCount:     600,
		Cipher:         icipher.CipherAES256XTS,
		UserKey:        []byte("root passphrase"),
		Config:         iconfig.Defaults(),
	})
	require.NoError(t, err)
	defer fs.Close()

	const dataBody = 992
	const streamLen = 2000
	const streamOffset = 5
	totalBytes := streamOffset + streamLen
	wantBlocks := (totalBytes + dataBody - 1) / dataBody
	assert.Equal(t, 3, wantBlocks)

	headAddr, err := fs.AddressSpace().Alloc()
	require.NoError(t, err)
	require.NoError(t, fs.Volume().WriteHead(ctx, headAddr, iblock.HeadFields{ResourceType: iblock.ResourceFile}))
	f, err := fs.OpenFBM(ctx, headAddr)
	require.NoError(t, err)

	remaining := totalBytes
	var dataAddrs []uint64
	for remaining > 0 {
		addr, err := fs.AddressSpace().Alloc()
		require.NoError(t, err)
		n := dataBody
		if remaining < n {
			n = remaining
		}
		require.NoError(t, fs.Volume().WriteData(ctx, addr, iblock.DataFields{Body: make([]byte, n)}))
		dataAddrs = append(dataAddrs, addr)
		remaining -= n
	}
	require.NoError(t, f.Append(ctx, dataAddrs))

	assert.Equal(t, wantBlocks, f.Length())
}

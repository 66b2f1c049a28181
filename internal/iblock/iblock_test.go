package iblock

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4s1ght/ibfs/internal/icipher"
	"github.com/4s1ght/ibfs/internal/ierrors"
)

func TestBlockSizeForLevel(t *testing.T) {
	sz, err := BlockSizeForLevel(1)
	require.NoError(t, err)
	assert.Equal(t, 1024, sz)

	sz, err = BlockSizeForLevel(15)
	require.NoError(t, err)
	assert.Equal(t, 16*1024*1024, sz)

	_, err = BlockSizeForLevel(0)
	assert.Error(t, err)
	_, err = BlockSizeForLevel(16)
	assert.Error(t, err)
}

func TestOffsetAccountsForMetaCluster(t *testing.T) {
	// 1 KiB blocks need 64 whole blocks to cover a 64 KiB meta cluster.
	assert.Equal(t, uint64(65), Offset(1024))
	// A block size already >= 64 KiB needs only one.
	assert.Equal(t, uint64(2), Offset(64*1024))
}

func TestRootRoundTrip(t *testing.T) {
	r := Root{
		SpecMajor:      1,
		SpecMinor:      2,
		FSRootAddress:  65,
		Cipher:         icipher.CipherAES256XTS,
		AESIVSeed:      [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		AESKeyCheck:    [16]byte{9, 8, 7, 6, 5, 4, 3, 2, 1},
		Compatibility:  true,
		BlockSizeLevel: 3,
		BlockCount:     4096,
		VolumeUUID:     uuid.New(),
	}

	buf, err := SerializeRoot(r, 1024)
	require.NoError(t, err)
	assert.Len(t, buf, 1024)

	got, err := DeserializeRoot(buf)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestMetaRoundTrip(t *testing.T) {
	meta := map[string]interface{}{"driver": "ibfsctl", "count": float64(3)}
	buf, err := SerializeMeta(meta, 4096)
	require.NoError(t, err)
	assert.Len(t, buf, 4096)

	got, err := DeserializeMeta(buf)
	require.NoError(t, err)
	assert.Equal(t, meta, got)
}

func TestMetaTooLarge(t *testing.T) {
	big := map[string]interface{}{"x": make([]int, 1000)}
	_, err := SerializeMeta(big, 8)
	assert.Error(t, err)
}

const testBlockSize = 1024

func testCipherAndKey(t *testing.T) (*icipher.Context, []byte) {
	t.Helper()
	key, err := icipher.DeriveKey(icipher.CipherAES256XTS, []byte("test key material"))
	require.NoError(t, err)
	cx := icipher.NewContext(icipher.CipherAES256XTS, [icipher.IVSeedSize]byte{5, 5, 5})
	return cx, key
}

func TestHeadRoundTrip(t *testing.T) {
	cx, key := testCipherAndKey(t)
	f := HeadFields{
		Next:         99,
		Created:      111,
		Modified:     222,
		ResourceType: ResourceDir,
		Body:         []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}

	buf, err := SerializeHead(f, testBlockSize, cx, key, 65)
	require.NoError(t, err)
	assert.Len(t, buf, testBlockSize)

	res, err := DeserializeHead(buf, testBlockSize, cx, key, 65)
	require.NoError(t, err)
	assert.False(t, res.CRCMismatch)
	assert.Equal(t, f.Next, res.Fields.Next)
	assert.Equal(t, f.Created, res.Fields.Created)
	assert.Equal(t, f.Modified, res.Fields.Modified)
	assert.Equal(t, f.ResourceType, res.Fields.ResourceType)
	assert.Equal(t, f.Body, res.Fields.Body)
}

func TestHeadCRCMismatchOnCorruption(t *testing.T) {
	cx, key := testCipherAndKey(t)
	f := HeadFields{Body: []byte{9, 9, 9, 9}}

	buf, err := SerializeHead(f, testBlockSize, cx, key, 10)
	require.NoError(t, err)

	// Flip a byte inside the encrypted body region.
	buf[HeadHeaderSize] ^= 0xFF

	res, err := DeserializeHead(buf, testBlockSize, cx, key, 10)
	require.NoError(t, err)
	assert.True(t, res.CRCMismatch)
}

func TestHeadBadTagIsIntegrityMismatch(t *testing.T) {
	cx, key := testCipherAndKey(t)
	buf, err := SerializeHead(HeadFields{}, testBlockSize, cx, key, 1)
	require.NoError(t, err)
	buf[0] = TagLink

	_, err = DeserializeHead(buf, testBlockSize, cx, key, 1)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.IntegrityMismatch))
}

func TestLinkRoundTrip(t *testing.T) {
	cx, key := testCipherAndKey(t)
	f := LinkFields{Next: 42, Body: []byte{10, 20, 30}}

	buf, err := SerializeLink(f, testBlockSize, cx, key, 66)
	require.NoError(t, err)

	res, err := DeserializeLink(buf, testBlockSize, cx, key, 66)
	require.NoError(t, err)
	assert.False(t, res.CRCMismatch)
	assert.Equal(t, f.Next, res.Fields.Next)
	assert.Equal(t, f.Body, res.Fields.Body)
}

func TestDataRoundTrip(t *testing.T) {
	cx, key := testCipherAndKey(t)
	f := DataFields{Body: []byte("some user payload bytes")}

	buf, err := SerializeData(f, testBlockSize, cx, key, 200)
	require.NoError(t, err)

	res, err := DeserializeData(buf, testBlockSize, cx, key, 200)
	require.NoError(t, err)
	assert.False(t, res.CRCMismatch)
	assert.Equal(t, f.Body, res.Fields.Body)
}

func TestAddressArrayAppendGetPop(t *testing.T) {
	buf := make([]byte, 4*8)
	arr := NewAddressArray(buf, 0)

	assert.Equal(t, 4, arr.Capacity())
	for i, addr := range []uint64{10, 20, 30, 40} {
		ok := arr.Append(addr)
		require.True(t, ok, "append %d", i)
	}
	assert.False(t, arr.Append(50), "array at capacity must refuse further appends")
	assert.Equal(t, 4, arr.Length())

	v, ok := arr.Get(2)
	require.True(t, ok)
	assert.Equal(t, uint64(30), v)

	popped, ok := arr.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(40), popped)
	assert.Equal(t, 3, arr.Length())
}

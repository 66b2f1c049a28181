package iblock

import (
	"github.com/google/uuid"

	"github.com/4s1ght/ibfs/internal/icipher"
	"github.com/4s1ght/ibfs/internal/icursor"
	"github.com/4s1ght/ibfs/internal/ierrors"
)

// Root mirrors the root block fields (§6.1). Unlike the other block kinds
// it is never encrypted and carries no CRC (§3): it is the one piece of
// configuration a driver must be able to read before it knows the cipher
// or key at all.
type Root struct {
	SpecMajor      uint16
	SpecMinor      uint16
	FSRootAddress  uint64
	Cipher         icipher.Cipher
	AESIVSeed      [icipher.IVSeedSize]byte
	AESKeyCheck    [16]byte
	Compatibility  bool
	BlockSizeLevel uint8
	BlockCount     uint64
	VolumeUUID     uuid.UUID
}

// SerializeRoot writes r into a buffer exactly blockSize bytes long, per
// the normative layout in §6.1. Bytes past offset 71 are left zero.
func SerializeRoot(r Root, blockSize int) ([]byte, error) {
	if blockSize < HeadHeaderSize {
		return nil, ierrors.New(ierrors.RootSerializeFailed, "block size %d too small for root block", blockSize)
	}
	buf := make([]byte, blockSize)
	c := icursor.New(buf)

	writes := []error{
		c.WriteU16(r.SpecMajor),
		c.WriteU16(r.SpecMinor),
		c.WriteU64(r.FSRootAddress),
		c.WriteU8(selectorForCipher(r.Cipher)),
		c.WriteBytes(r.AESIVSeed[:]),
		c.WriteBytes(r.AESKeyCheck[:]),
		c.WriteBool(r.Compatibility),
		c.WriteU8(r.BlockSizeLevel),
		c.WriteU64(r.BlockCount),
		c.WriteBytes(mustUUIDBytes(r.VolumeUUID)),
	}
	for _, err := range writes {
		if err != nil {
			return nil, ierrors.Wrap(err, ierrors.RootSerializeFailed, "")
		}
	}
	return buf, nil
}

// DeserializeRoot reads a root block back out of buf.
func DeserializeRoot(buf []byte) (Root, error) {
	var r Root
	if len(buf) < 71 {
		return r, ierrors.New(ierrors.RootDeserializeFailed, "buffer too small: %d bytes", len(buf))
	}
	c := icursor.New(buf)

	var err error
	var majorV, minorV uint16
	var fsRoot uint64
	var cipherB uint8
	var ivSeed, keyCheck, uuidBytes []byte
	var compat bool
	var level uint8
	var blockCount uint64

	if majorV, err = c.ReadU16(); err != nil {
		return r, ierrors.Wrap(err, ierrors.RootDeserializeFailed, "spec_major")
	}
	if minorV, err = c.ReadU16(); err != nil {
		return r, ierrors.Wrap(err, ierrors.RootDeserializeFailed, "spec_minor")
	}
	if fsRoot, err = c.ReadU64(); err != nil {
		return r, ierrors.Wrap(err, ierrors.RootDeserializeFailed, "fs_root_address")
	}
	if cipherB, err = c.ReadU8(); err != nil {
		return r, ierrors.Wrap(err, ierrors.RootDeserializeFailed, "cipher")
	}
	if ivSeed, err = c.ReadBytes(icipher.IVSeedSize); err != nil {
		return r, ierrors.Wrap(err, ierrors.RootDeserializeFailed, "aes_iv_seed")
	}
	if keyCheck, err = c.ReadBytes(16); err != nil {
		return r, ierrors.Wrap(err, ierrors.RootDeserializeFailed, "aes_key_check")
	}
	if compat, err = c.ReadBool(); err != nil {
		return r, ierrors.Wrap(err, ierrors.RootDeserializeFailed, "compatibility")
	}
	if level, err = c.ReadU8(); err != nil {
		return r, ierrors.Wrap(err, ierrors.RootDeserializeFailed, "block_size_level")
	}
	if blockCount, err = c.ReadU64(); err != nil {
		return r, ierrors.Wrap(err, ierrors.RootDeserializeFailed, "block_count")
	}
	if uuidBytes, err = c.ReadBytes(16); err != nil {
		return r, ierrors.Wrap(err, ierrors.RootDeserializeFailed, "volume_uuid")
	}

	cph, err := cipherForSelector(cipherB)
	if err != nil {
		return r, ierrors.Wrap(err, ierrors.RootDeserializeFailed, "cipher selector")
	}

	r.SpecMajor = majorV
	r.SpecMinor = minorV
	r.FSRootAddress = fsRoot
	r.Cipher = cph
	copy(r.AESIVSeed[:], ivSeed)
	copy(r.AESKeyCheck[:], keyCheck)
	r.Compatibility = compat
	r.BlockSizeLevel = level
	r.BlockCount = blockCount
	id, err := uuid.FromBytes(uuidBytes)
	if err != nil {
		return r, ierrors.Wrap(err, ierrors.RootDeserializeFailed, "volume_uuid malformed")
	}
	r.VolumeUUID = id

	return r, nil
}

func mustUUIDBytes(id uuid.UUID) []byte {
	b, _ := id.MarshalBinary()
	if len(b) != 16 {
		b = make([]byte, 16)
	}
	return b
}

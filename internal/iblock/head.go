package iblock

import (
	"github.com/4s1ght/ibfs/internal/icipher"
	"github.com/4s1ght/ibfs/internal/icursor"
	"github.com/4s1ght/ibfs/internal/ierrors"
)

// HeadFields holds a head block's decoded metadata and plaintext body.
type HeadFields struct {
	Next         uint64
	Created      uint64
	Modified     uint64
	ResourceType ResourceType
	Body         []byte // plaintext, length == BodyLength, capacity may be less than HeadBodySize
}

// SerializeHead implements §4.3's serialization order: write the header
// with the CRC field zeroed, copy and zero-pad the body, compute the CRC
// over the plaintext body, encrypt the body in place, then stamp the
// computed CRC into the header. f.Body is copied into the returned buffer
// and left unchanged; the returned buffer's body region has been encrypted
// in place and holds ciphertext, not plaintext.
func SerializeHead(f HeadFields, blockSize int, cx *icipher.Context, key []byte, address uint64) ([]byte, error) {
	bodyCap := HeadBodySize(blockSize)
	if len(f.Body) > bodyCap {
		return nil, ierrors.New(ierrors.HeadSerializeFailed, "body %d exceeds capacity %d", len(f.Body), bodyCap)
	}

	buf := make([]byte, blockSize)
	c := icursor.New(buf)

	if err := c.WriteU8(TagHead); err != nil {
		return nil, ierrors.Wrap(err, ierrors.HeadSerializeFailed, "tag")
	}
	if err := c.WriteU32At(1, 0, false); err != nil { // crc placeholder
		return nil, ierrors.Wrap(err, ierrors.HeadSerializeFailed, "crc placeholder")
	}
	c.SeekWrite(5)
	if err := c.WriteU64(f.Next); err != nil {
		return nil, ierrors.Wrap(err, ierrors.HeadSerializeFailed, "next")
	}
	if err := c.WriteU64(f.Created); err != nil {
		return nil, ierrors.Wrap(err, ierrors.HeadSerializeFailed, "created")
	}
	if err := c.WriteU64(f.Modified); err != nil {
		return nil, ierrors.Wrap(err, ierrors.HeadSerializeFailed, "modified")
	}
	if err := c.WriteU32(uint32(len(f.Body))); err != nil {
		return nil, ierrors.Wrap(err, ierrors.HeadSerializeFailed, "body_length")
	}
	if err := c.WriteU8(uint8(f.ResourceType)); err != nil {
		return nil, ierrors.Wrap(err, ierrors.HeadSerializeFailed, "resource_type")
	}

	body := buf[HeadHeaderSize:]
	copy(body, f.Body) // remainder already zero from make()

	crc := crcOf(body)

	if err := cx.Encrypt(body, key, address); err != nil {
		return nil, ierrors.Wrap(err, ierrors.HeadSerializeFailed, "encrypt")
	}

	if err := c.WriteU32At(1, crc, false); err != nil {
		return nil, ierrors.Wrap(err, ierrors.HeadSerializeFailed, "stamp crc")
	}

	return buf, nil
}

// DeserializeHeadResult is DeserializeHead's return value, carrying the
// integrity verdict alongside the decoded fields per §4.3/§7: callers
// decide whether a mismatch is fatal.
type DeserializeHeadResult struct {
	Fields      HeadFields
	CRCStored   uint32
	CRCComputed uint32
	CRCMismatch bool
}

// DeserializeHead reads a head block, decrypting its body in place and
// recomputing the CRC for the caller to check.
func DeserializeHead(buf []byte, blockSize int, cx *icipher.Context, key []byte, address uint64) (DeserializeHeadResult, error) {
	var res DeserializeHeadResult
	if len(buf) != blockSize {
		return res, ierrors.New(ierrors.HeadDeserializeFailed, "buffer length %d != block size %d", len(buf), blockSize)
	}
	c := icursor.New(buf)

	tag, err := c.ReadU8()
	if err != nil {
		return res, ierrors.Wrap(err, ierrors.HeadDeserializeFailed, "tag")
	}
	if tag != TagHead {
		return res, ierrors.Wrap(errBadTag(TagHead, tag), ierrors.IntegrityMismatch, "head block at %d", address)
	}
	crcStored, err := c.ReadU32()
	if err != nil {
		return res, ierrors.Wrap(err, ierrors.HeadDeserializeFailed, "crc")
	}
	c.SeekRead(5)
	next, err := c.ReadU64()
	if err != nil {
		return res, ierrors.Wrap(err, ierrors.HeadDeserializeFailed, "next")
	}
	created, err := c.ReadU64()
	if err != nil {
		return res, ierrors.Wrap(err, ierrors.HeadDeserializeFailed, "created")
	}
	modified, err := c.ReadU64()
	if err != nil {
		return res, ierrors.Wrap(err, ierrors.HeadDeserializeFailed, "modified")
	}
	bodyLen, err := c.ReadU32()
	if err != nil {
		return res, ierrors.Wrap(err, ierrors.HeadDeserializeFailed, "body_length")
	}
	resourceType, err := c.ReadU8()
	if err != nil {
		return res, ierrors.Wrap(err, ierrors.HeadDeserializeFailed, "resource_type")
	}
	if int(bodyLen) > HeadBodySize(blockSize) {
		return res, ierrors.New(ierrors.HeadDeserializeFailed, "body_length %d exceeds capacity", bodyLen)
	}

	body := buf[HeadHeaderSize:]
	if err := cx.Decrypt(body, key, address); err != nil {
		return res, ierrors.Wrap(err, ierrors.HeadDeserializeFailed, "decrypt")
	}

	crcComputed := crcOf(body)

	res.Fields = HeadFields{
		Next:         next,
		Created:      created,
		Modified:     modified,
		ResourceType: ResourceType(resourceType),
		Body:         body[:bodyLen],
	}
	res.CRCStored = crcStored
	res.CRCComputed = crcComputed
	res.CRCMismatch = crcStored != crcComputed
	return res, nil
}

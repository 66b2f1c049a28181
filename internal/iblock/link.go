package iblock

import (
	"github.com/4s1ght/ibfs/internal/icipher"
	"github.com/4s1ght/ibfs/internal/icursor"
	"github.com/4s1ght/ibfs/internal/ierrors"
)

// LinkFields holds a link block's decoded fields.
type LinkFields struct {
	Next uint64
	Body []byte
}

// SerializeLink mirrors SerializeHead's order for the smaller link header.
func SerializeLink(f LinkFields, blockSize int, cx *icipher.Context, key []byte, address uint64) ([]byte, error) {
	bodyCap := LinkBodySize(blockSize)
	if len(f.Body) > bodyCap {
		return nil, ierrors.New(ierrors.LinkSerializeFailed, "body %d exceeds capacity %d", len(f.Body), bodyCap)
	}

	buf := make([]byte, blockSize)
	c := icursor.New(buf)

	if err := c.WriteU8(TagLink); err != nil {
		return nil, ierrors.Wrap(err, ierrors.LinkSerializeFailed, "tag")
	}
	c.SeekWrite(5)
	if err := c.WriteU64(f.Next); err != nil {
		return nil, ierrors.Wrap(err, ierrors.LinkSerializeFailed, "next")
	}
	if err := c.WriteU32(uint32(len(f.Body))); err != nil {
		return nil, ierrors.Wrap(err, ierrors.LinkSerializeFailed, "body_length")
	}

	body := buf[LinkHeaderSize:]
	copy(body, f.Body)

	crc := crcOf(body)

	if err := cx.Encrypt(body, key, address); err != nil {
		return nil, ierrors.Wrap(err, ierrors.LinkSerializeFailed, "encrypt")
	}

	if err := c.WriteU32At(1, crc, false); err != nil {
		return nil, ierrors.Wrap(err, ierrors.LinkSerializeFailed, "stamp crc")
	}

	return buf, nil
}

// DeserializeLinkResult carries the decoded link fields and integrity
// verdict.
type DeserializeLinkResult struct {
	Fields      LinkFields
	CRCStored   uint32
	CRCComputed uint32
	CRCMismatch bool
}

// DeserializeLink reads a link block, decrypting its body in place.
func DeserializeLink(buf []byte, blockSize int, cx *icipher.Context, key []byte, address uint64) (DeserializeLinkResult, error) {
	var res DeserializeLinkResult
	if len(buf) != blockSize {
		return res, ierrors.New(ierrors.LinkDeserializeFailed, "buffer length %d != block size %d", len(buf), blockSize)
	}
	c := icursor.New(buf)

	tag, err := c.ReadU8()
	if err != nil {
		return res, ierrors.Wrap(err, ierrors.LinkDeserializeFailed, "tag")
	}
	if tag != TagLink {
		return res, ierrors.Wrap(errBadTag(TagLink, tag), ierrors.IntegrityMismatch, "link block at %d", address)
	}
	crcStored, err := c.ReadU32()
	if err != nil {
		return res, ierrors.Wrap(err, ierrors.LinkDeserializeFailed, "crc")
	}
	c.SeekRead(5)
	next, err := c.ReadU64()
	if err != nil {
		return res, ierrors.Wrap(err, ierrors.LinkDeserializeFailed, "next")
	}
	bodyLen, err := c.ReadU32()
	if err != nil {
		return res, ierrors.Wrap(err, ierrors.LinkDeserializeFailed, "body_length")
	}
	if int(bodyLen) > LinkBodySize(blockSize) {
		return res, ierrors.New(ierrors.LinkDeserializeFailed, "body_length %d exceeds capacity", bodyLen)
	}

	body := buf[LinkHeaderSize:]
	if err := cx.Decrypt(body, key, address); err != nil {
		return res, ierrors.Wrap(err, ierrors.LinkDeserializeFailed, "decrypt")
	}

	crcComputed := crcOf(body)

	res.Fields = LinkFields{Next: next, Body: body[:bodyLen]}
	res.CRCStored = crcStored
	res.CRCComputed = crcComputed
	res.CRCMismatch = crcStored != crcComputed
	return res, nil
}

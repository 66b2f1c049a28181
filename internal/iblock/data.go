package iblock

import (
	"github.com/4s1ght/ibfs/internal/icipher"
	"github.com/4s1ght/ibfs/internal/icursor"
	"github.com/4s1ght/ibfs/internal/ierrors"
)

// DataFields holds a data block's decoded fields.
type DataFields struct {
	Body []byte // opaque plaintext user bytes
}

// SerializeData mirrors SerializeHead/SerializeLink for the opaque data
// block kind.
func SerializeData(f DataFields, blockSize int, cx *icipher.Context, key []byte, address uint64) ([]byte, error) {
	bodyCap := DataBodySize(blockSize)
	if len(f.Body) > bodyCap {
		return nil, ierrors.New(ierrors.DataSerializeFailed, "body %d exceeds capacity %d", len(f.Body), bodyCap)
	}

	buf := make([]byte, blockSize)
	c := icursor.New(buf)

	if err := c.WriteU8(TagData); err != nil {
		return nil, ierrors.Wrap(err, ierrors.DataSerializeFailed, "tag")
	}
	c.SeekWrite(5)
	if err := c.WriteU32(uint32(len(f.Body))); err != nil {
		return nil, ierrors.Wrap(err, ierrors.DataSerializeFailed, "body_length")
	}

	body := buf[DataHeaderSize:]
	copy(body, f.Body)

	crc := crcOf(body)

	if err := cx.Encrypt(body, key, address); err != nil {
		return nil, ierrors.Wrap(err, ierrors.DataSerializeFailed, "encrypt")
	}

	if err := c.WriteU32At(1, crc, false); err != nil {
		return nil, ierrors.Wrap(err, ierrors.DataSerializeFailed, "stamp crc")
	}

	return buf, nil
}

// DeserializeDataResult carries the decoded data fields and integrity
// verdict.
type DeserializeDataResult struct {
	Fields      DataFields
	CRCStored   uint32
	CRCComputed uint32
	CRCMismatch bool
}

// DeserializeData reads a data block, decrypting its body in place.
func DeserializeData(buf []byte, blockSize int, cx *icipher.Context, key []byte, address uint64) (DeserializeDataResult, error) {
	var res DeserializeDataResult
	if len(buf) != blockSize {
		return res, ierrors.New(ierrors.DataDeserializeFailed, "buffer length %d != block size %d", len(buf), blockSize)
	}
	c := icursor.New(buf)

	tag, err := c.ReadU8()
	if err != nil {
		return res, ierrors.Wrap(err, ierrors.DataDeserializeFailed, "tag")
	}
	if tag != TagData {
		return res, ierrors.Wrap(errBadTag(TagData, tag), ierrors.IntegrityMismatch, "data block at %d", address)
	}
	crcStored, err := c.ReadU32()
	if err != nil {
		return res, ierrors.Wrap(err, ierrors.DataDeserializeFailed, "crc")
	}
	c.SeekRead(5)
	bodyLen, err := c.ReadU32()
	if err != nil {
		return res, ierrors.Wrap(err, ierrors.DataDeserializeFailed, "body_length")
	}
	if int(bodyLen) > DataBodySize(blockSize) {
		return res, ierrors.New(ierrors.DataDeserializeFailed, "body_length %d exceeds capacity", bodyLen)
	}

	body := buf[DataHeaderSize:]
	if err := cx.Decrypt(body, key, address); err != nil {
		return res, ierrors.Wrap(err, ierrors.DataDeserializeFailed, "decrypt")
	}

	crcComputed := crcOf(body)

	res.Fields = DataFields{Body: body[:bodyLen]}
	res.CRCStored = crcStored
	res.CRCComputed = crcComputed
	res.CRCMismatch = crcStored != crcComputed
	return res, nil
}

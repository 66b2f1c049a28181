package iblock

import (
	"bytes"
	"encoding/json"

	"github.com/4s1ght/ibfs/internal/ierrors"
)

// SerializeMeta encodes meta as JSON (the normative choice this
// implementation makes for the driver-defined plaintext document described
// in §6.1/§9 Open Questions) into a buffer exactly size bytes, NUL
// terminated and zero-padded.
func SerializeMeta(meta map[string]interface{}, size int) ([]byte, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.MetaSerializeFailed, "encoding json")
	}
	if len(body)+1 > size {
		return nil, ierrors.New(ierrors.MetaSerializeFailed, "meta document (%d bytes) exceeds cluster size %d", len(body), size)
	}
	buf := make([]byte, size)
	copy(buf, body)
	// buf[len(body)] is already the zero-value NUL terminator.
	return buf, nil
}

// DeserializeMeta reads the JSON object up to the first NUL byte.
func DeserializeMeta(buf []byte) (map[string]interface{}, error) {
	end := bytes.IndexByte(buf, 0)
	if end < 0 {
		end = len(buf)
	}
	meta := map[string]interface{}{}
	if end == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(buf[:end], &meta); err != nil {
		return nil, ierrors.Wrap(err, ierrors.MetaDeserializeFailed, "decoding json")
	}
	return meta, nil
}

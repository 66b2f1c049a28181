package iblock

import "encoding/binary"

// AddressArray is a head or link block's body interpreted as an array of
// up to capacity little-endian u64 block addresses (§3). It is a thin view
// over the plaintext body buffer; callers own that buffer's lifetime and
// must re-serialize it through SerializeHead/SerializeLink to persist
// changes.
type AddressArray struct {
	buf      []byte // full body-sized buffer, 8 bytes per slot
	length   int    // number of populated slots
	capacity int
}

// NewAddressArray wraps a body-sized buffer with a known populated length
// (body_length / 8 per §3). buf is retained, not copied.
func NewAddressArray(buf []byte, length int) *AddressArray {
	return &AddressArray{buf: buf, length: length, capacity: len(buf) / 8}
}

// Capacity returns the maximum number of addresses this array can hold.
func (a *AddressArray) Capacity() int { return a.capacity }

// Length returns the number of populated slots.
func (a *AddressArray) Length() int { return a.length }

// BodyLength returns the on-disk body_length in bytes (length * 8).
func (a *AddressArray) BodyLength() int { return a.length * 8 }

// Buf returns the backing byte buffer, sized body_length bytes, suitable
// for passing to SerializeHead/SerializeLink.
func (a *AddressArray) Buf() []byte { return a.buf[:a.length*8] }

// Get returns the address at slot i.
func (a *AddressArray) Get(i int) (uint64, bool) {
	if i < 0 || i >= a.length {
		return 0, false
	}
	return binary.LittleEndian.Uint64(a.buf[i*8 : i*8+8]), true
}

// Append adds an address to the next free slot. It returns false without
// modifying the array if the array is already at capacity.
func (a *AddressArray) Append(addr uint64) bool {
	if a.length >= a.capacity {
		return false
	}
	binary.LittleEndian.PutUint64(a.buf[a.length*8:a.length*8+8], addr)
	a.length++
	return true
}

// Pop removes and returns the last populated address.
func (a *AddressArray) Pop() (uint64, bool) {
	if a.length == 0 {
		return 0, false
	}
	a.length--
	addr := binary.LittleEndian.Uint64(a.buf[a.length*8 : a.length*8+8])
	// zero the vacated slot so stale bytes beyond body_length never leak
	// into a later serialization.
	for i := range a.buf[a.length*8 : a.length*8+8] {
		a.buf[a.length*8+i] = 0
	}
	return addr, true
}

package iblock

import "hash/crc32"

// crcOf computes the CRC-32 (IEEE polynomial) over plaintext body bytes,
// per spec §4.3: the CRC is always computed before encryption and checked
// after decryption.
func crcOf(body []byte) uint32 {
	return crc32.ChecksumIEEE(body)
}

package iblock

import "fmt"

func errBadLevel(level uint8) error {
	return fmt.Errorf("iblock: block_size_level %d out of range [%d,%d]", level, MinBlockSizeLevel, MaxBlockSizeLevel)
}

func errBadCipher(b uint8) error {
	return fmt.Errorf("iblock: unrecognized cipher selector %d", b)
}

func errBadTag(want, got uint8) error {
	return fmt.Errorf("iblock: expected tag %d, got %d", want, got)
}

package octree

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned, wrapped, when the bit depth or the palette
// size is out of range. Nothing is allocated when it is returned.
var ErrInvalidArgument = errors.New("invalid argument")

const (
	MinBits = 3
	MaxBits = 8

	MinColors = 16
	MaxColors = 256
)

func checkArgs(maxColors, bits int) error {
	if bits < MinBits || bits > MaxBits {
		return fmt.Errorf("%w: bits must be in the range %d-%d, got %d", ErrInvalidArgument, MinBits, MaxBits, bits)
	}
	if maxColors < MinColors || maxColors > MaxColors {
		return fmt.Errorf("%w: colors must be in the range %d-%d, got %d", ErrInvalidArgument, MinColors, MaxColors, maxColors)
	}
	return nil
}

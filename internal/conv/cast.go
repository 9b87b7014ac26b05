package conv

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow is returned when a value does not fit the target type.
var ErrOverflow = errors.New("conv: integer overflow")

// IntToUint32 converts v to uint32, failing for negative or too large values.
func IntToUint32(v int) (uint32, error) {
	if v < 0 || uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d does not fit uint32", ErrOverflow, v)
	}
	return uint32(v), nil
}

// Uint64ToInt converts v to int, failing when it exceeds math.MaxInt.
func Uint64ToInt(v uint64) (int, error) {
	if v > uint64(math.MaxInt) {
		return 0, fmt.Errorf("%w: %d does not fit int", ErrOverflow, v)
	}
	return int(v), nil
}

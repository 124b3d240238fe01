// Package sizing provides safe size arithmetic and conversions to prevent overflow.
package sizing

import "math"

// ToInt converts a uint64 to int, returning overflowErr if it doesn't fit.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// ToInt64 converts a uint64 to int64, returning overflowErr if it doesn't fit.
func ToInt64(size uint64, overflowErr error) (int64, error) {
	if size > uint64(math.MaxInt64) {
		return 0, overflowErr
	}
	return int64(size), nil
}

// AddUint64 adds two uint64 values, returning (result, false) on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// RangeEnd returns off+length as an int64 end offset.
// ok is false when the sum overflows or does not fit in an int64.
func RangeEnd(off, length uint64) (int64, bool) {
	end, ok := AddUint64(off, length)
	if !ok || end > uint64(math.MaxInt64) {
		return 0, false
	}
	return int64(end), true
}

// Within reports whether [off, off+length) lies inside [0, size).
func Within(off, length uint64, size int64) bool {
	if size < 0 {
		return false
	}
	end, ok := RangeEnd(off, length)
	return ok && end <= size
}

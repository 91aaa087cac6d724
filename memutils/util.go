package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// CopyBytes copies min(len(dst), len(src)) bytes from src into dst and
// returns the number of bytes copied. It exists for consumers that populate
// or relocate heap payloads; nothing in this module calls it internally.
func CopyBytes(dst, src []byte) int {
	return copy(dst, src)
}

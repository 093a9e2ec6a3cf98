// Package mathx has the integer helpers the drivers share. Firmware math
// stays in integers; there is no FPU on the smaller targets.
package mathx

import "golang.org/x/exp/constraints"

// Min returns the smaller of a and b.
func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// RoundDiv divides rounding half up. A zero divisor yields zero.
func RoundDiv[T constraints.Unsigned](a, b T) T {
	if b == 0 {
		return 0
	}
	return (a + b/2) / b
}

package graycode

import "math/bits"

// BinaryToGray converts a binary integer to its reflected Gray code
func BinaryToGray(v uint) uint {
	return v ^ (v >> 1)
}

// GrayToBinary inverts BinaryToGray: b[msb] = g[msb], b[i] = b[i+1] xor g[i]
func GrayToBinary(g uint) uint {
	b := g
	for shift := uint(1); shift < bits.UintSize; shift <<= 1 {
		b ^= b >> shift
	}
	return b
}

// NumBits returns ceil(log2(n)), the number of bit-planes needed to
// distinguish n cells. It is 0 for n <= 1.
func NumBits(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

package quant

import "fmt"

// ValidateBits rejects widths the bit-serial PE cannot process.
func ValidateBits(bits int) error {
	if bits < 1 || bits > MaxBits {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrUnsupportedBitWidth, bits, MaxBits)
	}
	return nil
}

// BitSerialMAC returns the contribution of one (activation, weight) pair as a
// bit-serial processing element would accumulate it: one shifted partial
// product per set weight bit in [0, bits), followed by a single -wzp*x
// zero-point correction.
//
//	(W - Zp) * X = sum_i W_i * X * 2^i - Zp * X
//
// bits must already have been checked with ValidateBits.
func BitSerialMAC(activation, weight uint8, bits int, wzp int32) int32 {
	x := int32(activation)
	var acc int32
	for i := 0; i < bits; i++ {
		if (weight>>i)&1 != 0 {
			acc += x << i
		}
	}
	acc -= wzp * x
	return acc
}

// EffectiveWeight returns the part of w a bits-wide PE actually sees.
func EffectiveWeight(w uint8, bits int) uint8 {
	if bits >= MaxBits {
		return w
	}
	return w & uint8(1<<bits-1)
}

// BitSerialCycles is the number of PE cycles spent on one weight.
func BitSerialCycles(bits int) int {
	return bits
}

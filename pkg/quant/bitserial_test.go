package quant

import (
	"errors"
	"testing"
)

func TestBitSerialMACFullPrecisionMatchesAffineProduct(t *testing.T) {
	t.Parallel()

	for zp := int32(0); zp <= 255; zp += 5 {
		for a := 0; a <= 255; a++ {
			for w := 0; w <= 255; w++ {
				want := int32(a) * (int32(w) - zp)
				if got := BitSerialMAC(uint8(a), uint8(w), 8, zp); got != want {
					t.Fatalf("BitSerialMAC(%d, %d, 8, %d) = %d, want %d", a, w, zp, got, want)
				}
			}
		}
	}
}

func TestBitSerialMACIgnoresHighBits(t *testing.T) {
	t.Parallel()

	for bits := 1; bits <= 8; bits++ {
		for _, zp := range []int32{0, 7, 128} {
			for a := 0; a <= 255; a += 3 {
				for w := 0; w <= 255; w++ {
					eff := int32(EffectiveWeight(uint8(w), bits))
					want := int32(a) * (eff - zp)
					if got := BitSerialMAC(uint8(a), uint8(w), bits, zp); got != want {
						t.Fatalf("bits=%d a=%d w=%d zp=%d: got %d want %d", bits, a, w, zp, got, want)
					}
				}
			}
		}
	}
}

func TestBitSerialMACZeroActivation(t *testing.T) {
	t.Parallel()

	if got := BitSerialMAC(0, 255, 8, 128); got != 0 {
		t.Fatalf("zero activation should contribute nothing, got %d", got)
	}
}

func TestEffectiveWeight(t *testing.T) {
	t.Parallel()

	tests := []struct {
		w    uint8
		bits int
		want uint8
	}{
		{0xff, 4, 0x0f},
		{0xff, 6, 0x3f},
		{0xff, 8, 0xff},
		{0xa5, 1, 0x01},
		{0x80, 7, 0x00},
	}
	for _, tc := range tests {
		if got := EffectiveWeight(tc.w, tc.bits); got != tc.want {
			t.Errorf("EffectiveWeight(%#x, %d) = %#x, want %#x", tc.w, tc.bits, got, tc.want)
		}
	}
}

func TestValidateBits(t *testing.T) {
	t.Parallel()

	for bits := 1; bits <= 8; bits++ {
		if err := ValidateBits(bits); err != nil {
			t.Fatalf("ValidateBits(%d): %v", bits, err)
		}
	}
	for _, bits := range []int{-1, 0, 9, 16, 32} {
		if err := ValidateBits(bits); !errors.Is(err, ErrUnsupportedBitWidth) {
			t.Fatalf("ValidateBits(%d): expected ErrUnsupportedBitWidth, got %v", bits, err)
		}
	}
}

func TestBitSerialCycles(t *testing.T) {
	t.Parallel()

	if BitSerialCycles(4)*2 != BitSerialCycles(8) {
		t.Fatal("a 4-bit weight should take half the cycles of an 8-bit weight")
	}
}

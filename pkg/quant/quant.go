// Package quant implements the affine (scale, zero-point) quantization
// primitives and the bit-serial multiply-accumulate emulation shared by every
// kernel in the inference pipeline.
//
// A quantized byte q represents the real value Scale * (q - ZeroPoint).
package quant

import (
	"errors"
	"fmt"
	"math"
)

// MaxBits is the widest weight the bit-serial PE accepts.
const MaxBits = 8

var (
	ErrUnsupportedBitWidth = errors.New("unsupported bit width")
	ErrInvalidParams       = errors.New("invalid quantization parameters")
)

// Params is a (scale, zero-point) pair. It is used both for activation
// tensors and for the per-layer weight quantization.
type Params struct {
	Scale     float32 `yaml:"scale" json:"scale"`
	ZeroPoint int32   `yaml:"zero_point" json:"zero_point"`
}

// Validate reports whether the pair can describe an 8-bit code space.
func (p Params) Validate() error {
	if !(p.Scale > 0) || math.IsInf(float64(p.Scale), 0) {
		return fmt.Errorf("%w: scale %v must be positive and finite", ErrInvalidParams, p.Scale)
	}
	if p.ZeroPoint < 0 || p.ZeroPoint > 255 {
		return fmt.Errorf("%w: zero point %d outside [0,255]", ErrInvalidParams, p.ZeroPoint)
	}
	return nil
}

func (p Params) Dequantize(q uint8) float32 {
	return Dequantize(q, p.Scale, p.ZeroPoint)
}

func (p Params) Quantize(r float32) uint8 {
	return Requantize(r, p.Scale, p.ZeroPoint)
}

// Dequantize returns scale * (q - zeroPoint).
func Dequantize(q uint8, scale float32, zeroPoint int32) float32 {
	return scale * float32(int32(q)-zeroPoint)
}

// Requantize maps a real value back into the 8-bit code space as
// zeroPoint + round(r/scale), rounding half away from zero and saturating to
// [0,255]. Saturation is the defined behaviour for out-of-range values.
func Requantize(r float32, scale float32, zeroPoint int32) uint8 {
	step := math.Round(float64(r / scale))
	if math.IsNaN(step) {
		return clampU8(float64(zeroPoint))
	}
	return clampU8(float64(zeroPoint) + step)
}

func clampU8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

// DequantizeSlice writes the real value of every code in src into dst.
// dst must be at least as long as src.
func DequantizeSlice(dst []float32, src []uint8, p Params) {
	if len(dst) < len(src) {
		panic("quant: DequantizeSlice dst too small")
	}
	for i, q := range src {
		dst[i] = Dequantize(q, p.Scale, p.ZeroPoint)
	}
}

// QuantizeSlice requantizes every value in src into dst.
func QuantizeSlice(dst []uint8, src []float32, p Params) {
	if len(dst) < len(src) {
		panic("quant: QuantizeSlice dst too small")
	}
	for i, r := range src {
		dst[i] = Requantize(r, p.Scale, p.ZeroPoint)
	}
}

// ReLU6Ceiling returns the code that represents the real value 6.0 under p.
// It may exceed 255 for small scales, in which case the clamp never binds;
// very small scales saturate at math.MaxInt32.
func ReLU6Ceiling(p Params) int32 {
	v := float64(p.ZeroPoint) + math.Round(6.0/float64(p.Scale))
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}

package tensor

import (
	"fmt"

	"github.com/haengmina/JNU-Research-Accel/pkg/quant"
)

// DepthwiseTaps is the number of weights per channel of a 3x3 depthwise
// kernel.
const DepthwiseTaps = 9

// pointwiseTileCout is the number of output channels accumulated together
// while streaming a pixel's input channels once.
const pointwiseTileCout = 16

// Weights is a non-owning view of one layer's packed weights.
//
// Only the low Bits bits of every byte are significant. Bias, when non-nil,
// holds one value per output channel already expressed in the
// input-scale x weight-scale domain.
type Weights struct {
	Data   []uint8
	Bias   []int32
	Params quant.Params
	Bits   int
}

// ConvOptions tunes a convolution call without changing its result.
type ConvOptions struct {
	// ReLU6 clamps the requantized output to [zp, zp+round(6/scale)].
	ReLU6 bool
	// Workers splits output rows across the shared row pool. 0 or 1 runs
	// inline; a negative value uses GOMAXPROCS.
	Workers int
}

func (w Weights) validate(need, outC int) error {
	if err := quant.ValidateBits(w.Bits); err != nil {
		return err
	}
	if err := w.Params.Validate(); err != nil {
		return fmt.Errorf("%w: weights: %v", ErrInvalidDimensions, err)
	}
	if len(w.Data) < need {
		return fmt.Errorf("%w: weight buffer has %d bytes, need %d", ErrInvalidDimensions, len(w.Data), need)
	}
	if w.Bias != nil && len(w.Bias) < outC {
		return fmt.Errorf("%w: bias has %d entries, need %d", ErrInvalidDimensions, len(w.Bias), outC)
	}
	return nil
}

// requantizer folds the per-call constants of the mixed-domain accumulation:
//
//	total = bias*inScale*wScale + float32(accInt)*inScale*wScale
type requantizer struct {
	inScale, wScale float32
	out             quant.Params
	relu6           bool
	lo, hi          int32
}

func newRequantizer(in, out *QTensor, w Weights, relu6 bool) requantizer {
	op := out.Params()
	return requantizer{
		inScale: in.Scale,
		wScale:  w.Params.Scale,
		out:     op,
		relu6:   relu6,
		lo:      op.ZeroPoint,
		hi:      quant.ReLU6Ceiling(op),
	}
}

func (r *requantizer) apply(bias []int32, ch int, accInt int32) uint8 {
	var accF float32
	if bias != nil {
		accF = float32(bias[ch]) * r.inScale * r.wScale
	}
	// The explicit conversion rounds the product before the add, so no
	// platform fuses it into an FMA.
	total := accF + float32(float32(accInt)*r.inScale*r.wScale)
	q := int32(quant.Requantize(total, r.out.Scale, r.out.ZeroPoint))
	if r.relu6 {
		if q > r.hi {
			q = r.hi
		}
		if q < r.lo {
			q = r.lo
		}
	}
	return uint8(q)
}

// DepthwiseConv3x3 convolves every channel of src with its own 3x3 kernel
// (stride 1, "same" output size) into dst.
//
// Weights are laid out [C][ky][kx]. Taps falling outside the image are
// skipped entirely, i.e. they behave as activation code 0 rather than as the
// zero point; border outputs depend on this.
func DepthwiseConv3x3(dst, src *QTensor, w Weights, opts ConvOptions) error {
	if err := src.Validate(); err != nil {
		return fmt.Errorf("depthwise input: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return fmt.Errorf("depthwise output: %w", err)
	}
	if !dst.SameShape(src) {
		return fmt.Errorf("%w: depthwise output %dx%dx%d, input %dx%dx%d",
			ErrInvalidDimensions, dst.H, dst.W, dst.C, src.H, src.W, src.C)
	}
	if err := w.validate(src.C*DepthwiseTaps, src.C); err != nil {
		return fmt.Errorf("depthwise: %w", err)
	}

	rq := newRequantizer(src, dst, w, opts.ReLU6)
	H, W, C := src.H, src.W, src.C
	in, out, k := src.Data, dst.Data, w.Data
	bits, wzp := w.Bits, w.Params.ZeroPoint

	parallelRows(H, opts.Workers, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < W; x++ {
				for c := 0; c < C; c++ {
					var acc int32
					for ky := -1; ky <= 1; ky++ {
						iy := y + ky
						if iy < 0 || iy >= H {
							continue
						}
						for kx := -1; kx <= 1; kx++ {
							ix := x + kx
							if ix < 0 || ix >= W {
								continue
							}
							qIn := in[(iy*W+ix)*C+c]
							qK := k[c*DepthwiseTaps+(ky+1)*3+(kx+1)]
							acc += quant.BitSerialMAC(qIn, qK, bits, wzp)
						}
					}
					out[(y*W+x)*C+c] = rq.apply(w.Bias, c, acc)
				}
			}
		}
	})
	return nil
}

// PointwiseConv1x1 mixes channels at every pixel: a quantized GEMM of shape
// (H*W) x Cin x Cout with weights laid out [Cout][Cin]. dst must be
// H x W x Cout.
func PointwiseConv1x1(dst, src *QTensor, w Weights, opts ConvOptions) error {
	if err := src.Validate(); err != nil {
		return fmt.Errorf("pointwise input: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return fmt.Errorf("pointwise output: %w", err)
	}
	if dst.H != src.H || dst.W != src.W {
		return fmt.Errorf("%w: pointwise output %dx%d, input %dx%d",
			ErrInvalidDimensions, dst.H, dst.W, src.H, src.W)
	}
	cin, cout := src.C, dst.C
	if err := w.validate(cin*cout, cout); err != nil {
		return fmt.Errorf("pointwise: %w", err)
	}

	rq := newRequantizer(src, dst, w, opts.ReLU6)
	W := src.W
	in, out, k := src.Data, dst.Data, w.Data
	bits, wzp := w.Bits, w.Params.ZeroPoint

	parallelRows(src.H, opts.Workers, func(y0, y1 int) {
		var acc [pointwiseTileCout]int32
		for y := y0; y < y1; y++ {
			for x := 0; x < W; x++ {
				pix := in[(y*W+x)*cin : (y*W+x+1)*cin]
				dstPix := out[(y*W+x)*cout : (y*W+x+1)*cout]
				for co0 := 0; co0 < cout; co0 += pointwiseTileCout {
					n := min(pointwiseTileCout, cout-co0)
					tile := acc[:n]
					clear(tile)
					for ci, qIn := range pix {
						for j := range tile {
							tile[j] += quant.BitSerialMAC(qIn, k[(co0+j)*cin+ci], bits, wzp)
						}
					}
					for j, a := range tile {
						dstPix[co0+j] = rq.apply(w.Bias, co0+j, a)
					}
				}
			}
		}
	})
	return nil
}

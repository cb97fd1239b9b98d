package tensor

import (
	"fmt"
	"math"

	"github.com/haengmina/JNU-Research-Accel/pkg/quant"
)

// MaxSoftmaxChannels bounds the softmax scratch buffer.
const MaxSoftmaxChannels = 2048

// GlobalAvgPool reduces src (H,W,C) to dst (1,1,C). Each channel is averaged
// in the real domain and requantized once with dst's parameters.
func GlobalAvgPool(dst, src *QTensor) error {
	if err := src.Validate(); err != nil {
		return fmt.Errorf("avgpool input: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return fmt.Errorf("avgpool output: %w", err)
	}
	if dst.H != 1 || dst.W != 1 || dst.C != src.C {
		return fmt.Errorf("%w: avgpool output %dx%dx%d, want 1x1x%d", ErrInvalidDimensions, dst.H, dst.W, dst.C, src.C)
	}

	H, W, C := src.H, src.W, src.C
	inScale, inZP := src.Scale, src.ZeroPoint
	count := float32(H * W)
	for c := 0; c < C; c++ {
		var sum float32
		for y := 0; y < H; y++ {
			for x := 0; x < W; x++ {
				sum += quant.Dequantize(src.Data[(y*W+x)*C+c], inScale, inZP)
			}
		}
		dst.Data[c] = quant.Requantize(sum/count, dst.Scale, dst.ZeroPoint)
	}
	return nil
}

// Softmax computes a numerically stable softmax over the C channels of a
// (1,1,C) tensor. dst and src may be the same tensor. dst's scale should be
// about 1/255 so that [0,1] covers the code space.
func Softmax(dst, src *QTensor) error {
	if err := src.Validate(); err != nil {
		return fmt.Errorf("softmax input: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return fmt.Errorf("softmax output: %w", err)
	}
	if src.H != 1 || src.W != 1 || dst.H != 1 || dst.W != 1 || dst.C != src.C {
		return fmt.Errorf("%w: softmax %dx%dx%d -> %dx%dx%d, want 1x1xC on both sides",
			ErrInvalidDimensions, src.H, src.W, src.C, dst.H, dst.W, dst.C)
	}
	C := src.C
	if C > MaxSoftmaxChannels {
		return fmt.Errorf("%w: softmax over %d channels, limit %d", ErrChannelLimitExceeded, C, MaxSoftmaxChannels)
	}

	var buf [MaxSoftmaxChannels]float32
	tmp := buf[:C]
	maxv := float32(math.Inf(-1))
	for c := range tmp {
		r := quant.Dequantize(src.Data[c], src.Scale, src.ZeroPoint)
		tmp[c] = r
		if r > maxv {
			maxv = r
		}
	}
	var sum float32
	for c := range tmp {
		e := float32(math.Exp(float64(tmp[c] - maxv)))
		tmp[c] = e
		sum += e
	}
	for c := range tmp {
		dst.Data[c] = quant.Requantize(tmp[c]/sum, dst.Scale, dst.ZeroPoint)
	}
	return nil
}

// Package toy generates deterministic synthetic weight blobs for tests,
// benchmarks and the gen-weights command.
package toy

import (
	"fmt"
	"math/rand"

	"github.com/haengmina/JNU-Research-Accel/pkg/layermeta"
	"github.com/haengmina/JNU-Research-Accel/pkg/quant"
)

type Kind int

const (
	Depthwise Kind = iota
	Pointwise
)

func (k Kind) String() string {
	switch k {
	case Depthwise:
		return "depthwise"
	case Pointwise:
		return "pointwise"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Layer describes the weight shape of one convolution.
type Layer struct {
	Kind Kind
	// In is the input channel count. For depthwise layers it is also the
	// output channel count.
	In   int
	Out  int
	Bits int
}

// Size is the number of weight bytes the layer needs.
func (l Layer) Size() int {
	if l.Kind == Depthwise {
		return l.In * 9
	}
	return l.Out * l.In
}

// Weights fills every layer with seeded codes in [0, 2^bits) and returns a
// builder holding the blob and its metadata. Layer ids are assigned in order
// from zero.
func Weights(layers []Layer, seed int64) (*layermeta.Builder, error) {
	b := layermeta.NewBuilder()
	rng := rand.New(rand.NewSource(seed))
	for i, l := range layers {
		if l.In <= 0 || (l.Kind == Pointwise && l.Out <= 0) {
			return nil, fmt.Errorf("toy layer %d (%s): invalid channels in=%d out=%d", i, l.Kind, l.In, l.Out)
		}
		if err := quant.ValidateBits(l.Bits); err != nil {
			return nil, fmt.Errorf("toy layer %d: %w", i, err)
		}
		data := make([]byte, l.Size())
		levels := 1 << l.Bits
		for j := range data {
			data[j] = byte(rng.Intn(levels))
		}
		if _, err := b.Add(l.Bits, data); err != nil {
			return nil, fmt.Errorf("toy layer %d: %w", i, err)
		}
	}
	return b, nil
}

// Pixels returns h*w*c seeded random bytes.
func Pixels(h, w, c int, seed int64) []byte {
	out := make([]byte, h*w*c)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = byte(rng.Intn(256))
	}
	return out
}

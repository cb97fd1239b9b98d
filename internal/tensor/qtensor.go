package tensor

import (
	"fmt"

	"github.com/haengmina/JNU-Research-Accel/pkg/quant"
)

// QTensor is an affinely-quantized NHWC activation tensor (batch of one).
//
// H, W and C are fixed at construction. Data holds exactly H*W*C codes with
// channel innermost; each code q represents Scale * (q - ZeroPoint). A QTensor
// exclusively owns Data (or the arena region it was carved from) and is never
// resized.
type QTensor struct {
	H, W, C   int
	Data      []uint8
	Scale     float32
	ZeroPoint int32
}

// NewQTensor allocates a zeroed tensor.
func NewQTensor(h, w, c int, p quant.Params) (*QTensor, error) {
	n, err := shapeLen(h, w, c)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDimensions, err)
	}
	return &QTensor{H: h, W: w, C: c, Data: make([]uint8, n), Scale: p.Scale, ZeroPoint: p.ZeroPoint}, nil
}

// FromData wraps an existing buffer. The buffer length must equal h*w*c and
// the tensor takes ownership of it.
func FromData(h, w, c int, data []uint8, p quant.Params) (*QTensor, error) {
	n, err := shapeLen(h, w, c)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: data length %d, want %dx%dx%d=%d", ErrInvalidDimensions, len(data), h, w, c, n)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDimensions, err)
	}
	return &QTensor{H: h, W: w, C: c, Data: data, Scale: p.Scale, ZeroPoint: p.ZeroPoint}, nil
}

func shapeLen(h, w, c int) (int, error) {
	if h <= 0 || w <= 0 || c <= 0 {
		return 0, fmt.Errorf("%w: shape %dx%dx%d must be positive", ErrInvalidDimensions, h, w, c)
	}
	n := h * w
	if n/h != w {
		return 0, fmt.Errorf("%w: shape %dx%dx%d overflows", ErrInvalidDimensions, h, w, c)
	}
	total := n * c
	if total/c != n {
		return 0, fmt.Errorf("%w: shape %dx%dx%d overflows", ErrInvalidDimensions, h, w, c)
	}
	return total, nil
}

// Validate checks the descriptor invariants. Kernels call it on every operand
// before touching data.
func (t *QTensor) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil tensor", ErrInvalidDimensions)
	}
	n, err := shapeLen(t.H, t.W, t.C)
	if err != nil {
		return err
	}
	if len(t.Data) != n {
		return fmt.Errorf("%w: data length %d, want %dx%dx%d=%d", ErrInvalidDimensions, len(t.Data), t.H, t.W, t.C, n)
	}
	if err := t.Params().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDimensions, err)
	}
	return nil
}

func (t *QTensor) Params() quant.Params {
	return quant.Params{Scale: t.Scale, ZeroPoint: t.ZeroPoint}
}

func (t *QTensor) Len() int {
	return t.H * t.W * t.C
}

// Index returns the flat offset of (y, x, c).
func (t *QTensor) Index(y, x, c int) int {
	return (y*t.W+x)*t.C + c
}

func (t *QTensor) At(y, x, c int) uint8 {
	return t.Data[t.Index(y, x, c)]
}

func (t *QTensor) Set(y, x, c int, q uint8) {
	t.Data[t.Index(y, x, c)] = q
}

// Fill sets every code to q.
func (t *QTensor) Fill(q uint8) {
	for i := range t.Data {
		t.Data[i] = q
	}
}

// Dequantized writes the real value of every element into dst.
func (t *QTensor) Dequantized(dst []float32) {
	quant.DequantizeSlice(dst, t.Data, t.Params())
}

func (t *QTensor) SameShape(o *QTensor) bool {
	return t.H == o.H && t.W == o.W && t.C == o.C
}

func (t *QTensor) String() string {
	return fmt.Sprintf("QTensor(%dx%dx%d scale=%g zp=%d)", t.H, t.W, t.C, t.Scale, t.ZeroPoint)
}

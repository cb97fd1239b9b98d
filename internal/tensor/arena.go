package tensor

import (
	"fmt"

	"github.com/haengmina/JNU-Research-Accel/pkg/quant"
)

// arenaAlign keeps every carved tensor on its own cache line.
const arenaAlign = 64

// Shape is an NHWC extent used to size an Arena up front.
type Shape struct {
	H, W, C int
}

func (s Shape) Len() int { return s.H * s.W * s.C }

// Arena is a single preallocated slab from which a pipeline carves its stage
// tensors once. Tensors carved from an Arena stay valid until Reset; the
// slab itself is never grown, so a pipeline that sized its arena with
// ArenaSize performs no further allocation.
type Arena struct {
	slab []uint8
	off  int
}

// ArenaSize returns the slab size needed to carve every shape in order.
func ArenaSize(shapes ...Shape) int {
	total := 0
	for _, s := range shapes {
		total = alignUp(total, arenaAlign) + s.Len()
	}
	return total
}

// NewArena allocates a slab of size bytes.
func NewArena(size int) *Arena {
	if size < 0 {
		size = 0
	}
	return &Arena{slab: make([]uint8, size)}
}

// Alloc carves a zeroed h*w*c tensor out of the slab.
func (a *Arena) Alloc(h, w, c int, p quant.Params) (*QTensor, error) {
	n, err := shapeLen(h, w, c)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDimensions, err)
	}
	start := alignUp(a.off, arenaAlign)
	end := start + n
	if end > len(a.slab) || end < start {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrArenaExhausted, n, start, len(a.slab))
	}
	a.off = end
	data := a.slab[start:end:end]
	clear(data)
	return &QTensor{H: h, W: w, C: c, Data: data, Scale: p.Scale, ZeroPoint: p.ZeroPoint}, nil
}

// Reset releases every carved tensor. Tensors handed out earlier must not be
// used afterwards.
func (a *Arena) Reset() {
	a.off = 0
}

func (a *Arena) Cap() int  { return len(a.slab) }
func (a *Arena) Used() int { return a.off }

func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}

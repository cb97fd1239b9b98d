// Package model builds the depthwise-separable inference pipeline from a
// Config and a layer registry and runs it end to end.
package model

import (
	"context"
	"fmt"
	"time"

	"github.com/haengmina/JNU-Research-Accel/internal/logger"
	"github.com/haengmina/JNU-Research-Accel/internal/logits"
	"github.com/haengmina/JNU-Research-Accel/internal/registry"
	"github.com/haengmina/JNU-Research-Accel/internal/tensor"
	"github.com/haengmina/JNU-Research-Accel/pkg/layermeta"
	"github.com/haengmina/JNU-Research-Accel/pkg/quant"
)

const (
	StageInput     = "input"
	StageDepthwise = "depthwise"
	StagePointwise = "pointwise"
	StageAvgPool   = "avgpool"
	StageSoftmax   = "softmax"
)

// StageTiming is the wall time of one executed stage.
type StageTiming struct {
	Name     string        `json:"name"`
	Block    int           `json:"block"`
	Duration time.Duration `json:"duration"`
}

// Label is "block<N>/<stage>" for block stages and the bare stage otherwise.
func (s StageTiming) Label() string {
	if s.Block < 0 {
		return s.Name
	}
	return fmt.Sprintf("block%d/%s", s.Block, s.Name)
}

// Result is the output of one inference pass.
type Result struct {
	// Probs is the dequantized softmax output.
	Probs []float32
	// Codes is the raw softmax output in the softmax code space.
	Codes   []uint8
	Ranking []logits.Score
	Timings []StageTiming
	Total   time.Duration
}

// TopK returns the first k entries of the ranking.
func (r *Result) TopK(k int) []logits.Score {
	return r.Ranking[:min(max(k, 0), len(r.Ranking))]
}

type stage struct {
	name   string
	block  int
	w      tensor.Weights
	opts   tensor.ConvOptions
	src    *tensor.QTensor
	dst    *tensor.QTensor
	depthw bool
}

// Network is one ready-to-run instance of the pipeline. Every intermediate
// tensor is carved from a single arena at construction. A Network is not
// safe for concurrent use; run one per goroutine.
type Network struct {
	cfg    Config
	stages []stage
	arena  *tensor.Arena
	shapes []namedShape

	input  *tensor.QTensor
	pooled *tensor.QTensor
	probs  *tensor.QTensor
	used   []layermeta.Record
}

type namedShape struct {
	name  string
	shape tensor.Shape
}

// New validates cfg against the registry and preallocates every stage. Block
// i reads registry records 2i (depthwise) and 2i+1 (pointwise). reg must
// outlive the Network because weights are not copied.
func New(ctx context.Context, cfg Config, reg *registry.Registry) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reg.Len() < cfg.LayerCount() {
		return nil, fmt.Errorf("%w: %d records for %d layers", layermeta.ErrMetadataMalformed, reg.Len(), cfg.LayerCount())
	}
	log := logger.FromContext(ctx).With("component", "model")
	if extra := reg.Len() - cfg.LayerCount(); extra > 0 {
		log.Warn("ignoring extra metadata records", "records", reg.Len(), "layers", cfg.LayerCount(), "extra", extra)
	}

	in := cfg.Input
	H, W := in.Height, in.Width
	shapes := []namedShape{{StageInput, tensor.Shape{H: H, W: W, C: in.Channels}}}
	ch := in.Channels
	for i, b := range cfg.Blocks {
		shapes = append(shapes,
			namedShape{fmt.Sprintf("block%d/%s", i, StageDepthwise), tensor.Shape{H: H, W: W, C: ch}},
			namedShape{fmt.Sprintf("block%d/%s", i, StagePointwise), tensor.Shape{H: H, W: W, C: b.OutChannels}},
		)
		ch = b.OutChannels
	}
	shapes = append(shapes,
		namedShape{StageAvgPool, tensor.Shape{H: 1, W: 1, C: ch}},
		namedShape{StageSoftmax, tensor.Shape{H: 1, W: 1, C: ch}},
	)
	all := make([]tensor.Shape, len(shapes))
	for i, s := range shapes {
		all[i] = s.shape
	}

	n := &Network{
		cfg:    cfg,
		arena:  tensor.NewArena(tensor.ArenaSize(all...)),
		shapes: shapes,
	}
	var err error
	if n.input, err = n.arena.Alloc(H, W, in.Channels, in.Quant); err != nil {
		return nil, &StageError{Block: -1, Stage: StageInput, Err: err}
	}

	src := n.input
	for i, b := range cfg.Blocks {
		out := cfg.Activations
		if b.Output != nil {
			out = *b.Output
		}
		dw, err := n.buildStage(reg, 2*i, i, StageDepthwise, src, src.C, out, weightParams(cfg, b.DepthwiseWeights), b.DepthwiseBias, b.depthwiseReLU6())
		if err != nil {
			return nil, err
		}
		pw, err := n.buildStage(reg, 2*i+1, i, StagePointwise, dw.dst, b.OutChannels, out, weightParams(cfg, b.PointwiseWeights), b.PointwiseBias, b.pointwiseReLU6())
		if err != nil {
			return nil, err
		}
		n.stages = append(n.stages, dw, pw)
		src = pw.dst
	}

	if n.pooled, err = n.arena.Alloc(1, 1, src.C, cfg.Activations); err != nil {
		return nil, &StageError{Block: -1, Stage: StageAvgPool, Err: err}
	}
	if n.probs, err = n.arena.Alloc(1, 1, src.C, cfg.Softmax); err != nil {
		return nil, &StageError{Block: -1, Stage: StageSoftmax, Err: err}
	}

	n.used = reg.Records()[:cfg.LayerCount()]
	log.Debug("network ready", "blocks", len(cfg.Blocks), "classes", src.C, "arena_bytes", n.arena.Cap())
	return n, nil
}

func weightParams(cfg Config, override *quant.Params) quant.Params {
	if override != nil {
		return *override
	}
	return cfg.Weights
}

func (n *Network) buildStage(reg *registry.Registry, pos, block int, kind string, src *tensor.QTensor, outC int, out, wp quant.Params, bias []int32, relu6 bool) (stage, error) {
	fail := func(err error) (stage, error) {
		return stage{}, &StageError{Block: block, Stage: kind, Err: err}
	}
	v, err := reg.Layer(pos)
	if err != nil {
		return fail(err)
	}
	if err := quant.ValidateBits(v.Bits); err != nil {
		return fail(fmt.Errorf("layer %d: %w", v.LayerID, err))
	}
	depthw := kind == StageDepthwise
	need := outC * src.C
	if depthw {
		need = src.C * tensor.DepthwiseTaps
	}
	if len(v.Data) < need {
		return fail(fmt.Errorf("%w: layer %d has %d weight bytes, need %d", tensor.ErrInvalidDimensions, v.LayerID, len(v.Data), need))
	}
	dst, err := n.arena.Alloc(src.H, src.W, outC, out)
	if err != nil {
		return fail(err)
	}
	return stage{
		name:   kind,
		block:  block,
		w:      tensor.Weights{Data: v.Data[:need], Bias: bias, Params: wp, Bits: v.Bits},
		opts:   tensor.ConvOptions{ReLU6: relu6, Workers: n.cfg.Workers},
		src:    src,
		dst:    dst,
		depthw: depthw,
	}, nil
}

func (n *Network) Config() Config {
	return n.cfg
}

// InputLen is the number of pixel bytes Infer expects.
func (n *Network) InputLen() int {
	return n.input.Len()
}

// Infer runs the full pipeline on HxWxC pixel bytes. The context is checked
// between stages. On failure no partial result is returned.
func (n *Network) Infer(ctx context.Context, pixels []byte) (*Result, error) {
	if len(pixels) != n.input.Len() {
		return nil, &StageError{Block: -1, Stage: StageInput, Err: fmt.Errorf("%w: got %d pixel bytes, want %dx%dx%d=%d",
			tensor.ErrInvalidDimensions, len(pixels), n.input.H, n.input.W, n.input.C, n.input.Len())}
	}
	log := logger.FromContext(ctx)
	timings := make([]StageTiming, 0, len(n.stages)+3)
	start := time.Now()

	t0 := time.Now()
	copy(n.input.Data, pixels)
	timings = append(timings, StageTiming{Name: StageInput, Block: -1, Duration: time.Since(t0)})

	for i := range n.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := &n.stages[i]
		t0 = time.Now()
		var err error
		if s.depthw {
			err = tensor.DepthwiseConv3x3(s.dst, s.src, s.w, s.opts)
		} else {
			err = tensor.PointwiseConv1x1(s.dst, s.src, s.w, s.opts)
		}
		if err != nil {
			return nil, &StageError{Block: s.block, Stage: s.name, Err: err}
		}
		timings = append(timings, StageTiming{Name: s.name, Block: s.block, Duration: time.Since(t0)})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	last := n.input
	if len(n.stages) > 0 {
		last = n.stages[len(n.stages)-1].dst
	}
	t0 = time.Now()
	if err := tensor.GlobalAvgPool(n.pooled, last); err != nil {
		return nil, &StageError{Block: -1, Stage: StageAvgPool, Err: err}
	}
	timings = append(timings, StageTiming{Name: StageAvgPool, Block: -1, Duration: time.Since(t0)})

	t0 = time.Now()
	if err := tensor.Softmax(n.probs, n.pooled); err != nil {
		return nil, &StageError{Block: -1, Stage: StageSoftmax, Err: err}
	}
	timings = append(timings, StageTiming{Name: StageSoftmax, Block: -1, Duration: time.Since(t0)})

	res := &Result{
		Probs:   make([]float32, n.probs.Len()),
		Codes:   append([]uint8(nil), n.probs.Data...),
		Timings: timings,
	}
	n.probs.Dequantized(res.Probs)
	res.Ranking = logits.Rank(res.Probs)
	res.Total = time.Since(start)

	log.Debug("inference done", "total", res.Total, "top", res.Ranking[0].Index)
	return res, nil
}

// StageMemory is the arena footprint of one stage's output tensor.
type StageMemory struct {
	Name  string `json:"name"`
	Bytes int    `json:"bytes"`
}

// Memory summarises the bytes held by a Network.
type Memory struct {
	ArenaBytes  int           `json:"arena_bytes"`
	WeightBytes int           `json:"weight_bytes"`
	Stages      []StageMemory `json:"stages"`
}

func (n *Network) Memory() Memory {
	m := Memory{ArenaBytes: n.arena.Cap()}
	for _, s := range n.shapes {
		m.Stages = append(m.Stages, StageMemory{Name: s.name, Bytes: s.shape.Len()})
	}
	for _, s := range n.stages {
		m.WeightBytes += len(s.w.Data)
	}
	return m
}

// Layers returns the metadata records the network consumes, in order.
func (n *Network) Layers() []layermeta.Record {
	return append([]layermeta.Record(nil), n.used...)
}

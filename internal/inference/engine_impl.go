package inference

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/haengmina/JNU-Research-Accel/internal/assets"
	"github.com/haengmina/JNU-Research-Accel/internal/logits"
	"github.com/haengmina/JNU-Research-Accel/internal/model"
	"github.com/haengmina/JNU-Research-Accel/internal/registry"
)

type network interface {
	Infer(ctx context.Context, pixels []byte) (*model.Result, error)
}

// EngineImpl serves classifications from a fixed pool of network replicas.
// Each replica owns its own arena, so up to Replicas requests run at once.
type EngineImpl struct {
	reg    *registry.Registry
	labels []string
	info   ModelInfo

	pool     chan network
	replicas int

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

var _ Engine = (*EngineImpl)(nil)

func newEngine(reg *registry.Registry, labels []string, info ModelInfo, nets []network) *EngineImpl {
	pool := make(chan network, len(nets))
	for _, n := range nets {
		pool <- n
	}
	info.Replicas = len(nets)
	info.Labels = len(labels)
	return &EngineImpl{
		reg:      reg,
		labels:   labels,
		info:     info,
		pool:     pool,
		replicas: len(nets),
	}
}

func (e *EngineImpl) Describe() ModelInfo {
	return e.info
}

func (e *EngineImpl) Labels() []string {
	return e.labels
}

// Close waits for in-flight requests and releases the weight registry.
func (e *EngineImpl) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.inflight.Wait()
	if e.reg != nil {
		return e.reg.Close()
	}
	return nil
}

func (e *EngineImpl) begin() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	e.inflight.Add(1)
	return nil
}

func (e *EngineImpl) Classify(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, fmt.Errorf("inference: nil request")
	}
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.inflight.Done()

	var net network
	select {
	case net = <-e.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { e.pool <- net }()

	res, err := safeInfer(ctx, net, req.Pixels)
	if err != nil {
		return nil, err
	}

	k := req.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	return e.result(res, k), nil
}

func (e *EngineImpl) result(res *model.Result, k int) *Result {
	top := logits.TopK(make([]logits.Score, 0, k), res.Probs, k)
	out := &Result{
		ID:      uuid.NewString(),
		Top:     make([]Prediction, len(top)),
		Probs:   res.Probs,
		Timings: res.Timings,
		Total:   res.Total,
	}
	for i, s := range top {
		out.Top[i] = Prediction{
			Index:       s.Index,
			Label:       assets.Label(e.labels, s.Index),
			Probability: s.Prob,
			Score:       res.Codes[s.Index],
		}
	}
	return out
}

func safeInfer(ctx context.Context, n network, pixels []byte) (res *model.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Infer: %v", rec)
		}
	}()
	return n.Infer(ctx, pixels)
}

package inference

import (
	"context"
	"errors"
	"time"

	"github.com/haengmina/JNU-Research-Accel/internal/model"
	"github.com/haengmina/JNU-Research-Accel/pkg/layermeta"
)

var ErrClosed = errors.New("inference: engine closed")

// DefaultTopK is used when a request does not ask for a specific count.
const DefaultTopK = 5

type Engine interface {
	Classify(ctx context.Context, req *Request) (*Result, error)
	Describe() ModelInfo
	Close() error
}

// Request carries one image as packed RGB bytes sized for the model input.
type Request struct {
	Pixels []byte
	// TopK <= 0 uses DefaultTopK.
	TopK int
}

// Prediction is one ranked class.
type Prediction struct {
	Index       int     `json:"index"`
	Label       string  `json:"label"`
	Probability float32 `json:"probability"`
	// Score is the raw softmax code.
	Score uint8 `json:"score"`
}

type Result struct {
	ID      string              `json:"id"`
	Top     []Prediction        `json:"top"`
	Probs   []float32           `json:"probs"`
	Timings []model.StageTiming `json:"timings"`
	Total   time.Duration       `json:"total"`
}

// ModelInfo describes the loaded network.
type ModelInfo struct {
	Name     string             `json:"name"`
	Input    model.InputConfig  `json:"input"`
	Classes  int                `json:"classes"`
	Blocks   int                `json:"blocks"`
	Layers   []layermeta.Record `json:"layers"`
	Cost     model.Cost         `json:"cost"`
	Memory   model.Memory       `json:"memory"`
	Replicas int                `json:"replicas"`
	Labels   int                `json:"labels"`
}

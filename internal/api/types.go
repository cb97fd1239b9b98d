package api

import (
	"github.com/haengmina/JNU-Research-Accel/internal/inference"
	"github.com/haengmina/JNU-Research-Accel/internal/model"
	"github.com/haengmina/JNU-Research-Accel/pkg/layermeta"
)

// ClassifyRequest is the JSON form of a classification. Pixels is packed RGB
// sized for the model input, base64 encoded on the wire.
type ClassifyRequest struct {
	Pixels []byte `json:"pixels"`
	TopK   int    `json:"top_k,omitempty"`
}

type ClassifyResponse struct {
	ID        string                 `json:"id"`
	Object    string                 `json:"object"`
	Model     string                 `json:"model"`
	Top       []inference.Prediction `json:"top"`
	TimingsUS map[string]int64       `json:"timings_us"`
	TotalUS   int64                  `json:"total_us"`
}

type LayerInfo struct {
	LayerID  int32 `json:"layer_id"`
	BitWidth int32 `json:"bit_width"`
	Bytes    int32 `json:"bytes"`
}

type ModelResponse struct {
	Object   string            `json:"object"`
	Name     string            `json:"name"`
	Input    model.InputConfig `json:"input"`
	Classes  int               `json:"classes"`
	Blocks   int               `json:"blocks"`
	Layers   []LayerInfo       `json:"layers"`
	Cost     model.Cost        `json:"cost"`
	Memory   model.Memory      `json:"memory"`
	Replicas int               `json:"replicas"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func layerInfos(recs []layermeta.Record) []LayerInfo {
	out := make([]LayerInfo, len(recs))
	for i, r := range recs {
		out[i] = LayerInfo{LayerID: r.LayerID, BitWidth: r.BitWidth, Bytes: r.Length}
	}
	return out
}

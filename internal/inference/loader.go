package inference

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/haengmina/JNU-Research-Accel/internal/assets"
	"github.com/haengmina/JNU-Research-Accel/internal/logger"
	"github.com/haengmina/JNU-Research-Accel/internal/model"
	"github.com/haengmina/JNU-Research-Accel/internal/registry"
)

type Loader struct {
	WeightsPath  string
	MetadataPath string
	// LabelsPath is optional; missing labels print as "unknown".
	LabelsPath string
	Config     model.Config
	// Replicas <= 0 uses GOMAXPROCS.
	Replicas int
}

func (l Loader) Load(ctx context.Context) (*EngineImpl, error) {
	if strings.TrimSpace(l.WeightsPath) == "" || strings.TrimSpace(l.MetadataPath) == "" {
		return nil, fmt.Errorf("weights and metadata paths are required")
	}
	reg, err := registry.Open(l.WeightsPath, l.MetadataPath)
	if err != nil {
		return nil, err
	}
	cleanup := func(err error) (*EngineImpl, error) {
		_ = reg.Close()
		return nil, err
	}

	var labels []string
	if l.LabelsPath != "" {
		labels, err = assets.LoadLabels(l.LabelsPath)
		if err != nil {
			return cleanup(fmt.Errorf("load labels: %w", err))
		}
	}

	e, err := NewEngine(ctx, l.Config, reg, labels, l.Replicas)
	if err != nil {
		return cleanup(err)
	}
	logger.FromContext(ctx).Info("model loaded",
		"weights", l.WeightsPath,
		"layers", reg.Len(),
		"weight_bytes", reg.BlobSize(),
		"labels", len(labels),
		"replicas", e.replicas,
	)
	return e, nil
}

// NewEngine builds replicas over an already opened registry. The engine
// takes ownership of reg and closes it on Close.
func NewEngine(ctx context.Context, cfg model.Config, reg *registry.Registry, labels []string, replicas int) (*EngineImpl, error) {
	if replicas <= 0 {
		replicas = runtime.GOMAXPROCS(0)
	}
	nets := make([]network, 0, replicas)
	var first *model.Network
	for i := 0; i < replicas; i++ {
		n, err := model.New(ctx, cfg, reg)
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = n
		}
		nets = append(nets, n)
	}

	layers := first.Layers()
	cost, err := model.EstimateCost(cfg, layers)
	if err != nil {
		return nil, err
	}
	if len(labels) > 0 && len(labels) < cfg.Classes() {
		logger.FromContext(ctx).Warn("fewer labels than classes", "labels", len(labels), "classes", cfg.Classes())
	}
	info := ModelInfo{
		Name:    cfg.Name,
		Input:   cfg.Input,
		Classes: cfg.Classes(),
		Blocks:  len(cfg.Blocks),
		Layers:  layers,
		Cost:    cost,
		Memory:  first.Memory(),
	}
	return newEngine(reg, labels, info, nets), nil
}

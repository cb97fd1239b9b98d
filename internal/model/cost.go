package model

import (
	"fmt"

	"github.com/haengmina/JNU-Research-Accel/pkg/layermeta"
	"github.com/haengmina/JNU-Research-Accel/pkg/quant"
)

// PEParallel is the number of bit-serial processing elements assumed to run
// side by side.
const PEParallel = 8

// LayerCost is the estimated bit-serial work of one convolution.
type LayerCost struct {
	LayerID        int32  `json:"layer_id"`
	Kind           string `json:"kind"`
	Bits           int    `json:"bits"`
	MACs           int64  `json:"macs"`
	Cycles         int64  `json:"cycles"`
	BaselineCycles int64  `json:"baseline_cycles"`
}

// Cost totals the estimate across layers. BaselineCycles assumes every
// weight is 8 bits wide.
type Cost struct {
	Layers         []LayerCost `json:"layers"`
	MACs           int64       `json:"macs"`
	Cycles         int64       `json:"cycles"`
	BaselineCycles int64       `json:"baseline_cycles"`
	Speedup        float64     `json:"speedup"`
}

// EstimateCost counts multiply-accumulates per layer (border taps included)
// and converts them to PE cycles at one cycle per weight bit.
func EstimateCost(cfg Config, recs []layermeta.Record) (Cost, error) {
	if len(recs) < cfg.LayerCount() {
		return Cost{}, fmt.Errorf("%w: %d records for %d layers", layermeta.ErrMetadataMalformed, len(recs), cfg.LayerCount())
	}
	pixels := int64(cfg.Input.Height) * int64(cfg.Input.Width)
	ch := int64(cfg.Input.Channels)

	var c Cost
	add := func(rec layermeta.Record, kind string, macs int64) error {
		bits := int(rec.BitWidth)
		if err := quant.ValidateBits(bits); err != nil {
			return fmt.Errorf("layer %d: %w", rec.LayerID, err)
		}
		lc := LayerCost{
			LayerID:        rec.LayerID,
			Kind:           kind,
			Bits:           bits,
			MACs:           macs,
			Cycles:         ceilDiv(macs*int64(quant.BitSerialCycles(bits)), PEParallel),
			BaselineCycles: ceilDiv(macs*int64(quant.BitSerialCycles(quant.MaxBits)), PEParallel),
		}
		c.Layers = append(c.Layers, lc)
		c.MACs += lc.MACs
		c.Cycles += lc.Cycles
		c.BaselineCycles += lc.BaselineCycles
		return nil
	}
	for i, b := range cfg.Blocks {
		out := int64(b.OutChannels)
		if err := add(recs[2*i], StageDepthwise, pixels*ch*9); err != nil {
			return Cost{}, err
		}
		if err := add(recs[2*i+1], StagePointwise, pixels*ch*out); err != nil {
			return Cost{}, err
		}
		ch = out
	}
	if c.Cycles > 0 {
		c.Speedup = float64(c.BaselineCycles) / float64(c.Cycles)
	}
	return c, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

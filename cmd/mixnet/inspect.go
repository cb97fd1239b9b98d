package main

import (
	"context"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/haengmina/JNU-Research-Accel/internal/model"
	"github.com/haengmina/JNU-Research-Accel/internal/registry"
	"github.com/haengmina/JNU-Research-Accel/pkg/layermeta"
	"github.com/urfave/cli/v3"
)

func inspectCmd() *cli.Command {
	var (
		jsonOut bool
		layerID int64
	)

	flags := engineFlags()
	flags = append(flags,
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print the report as JSON",
			Destination: &jsonOut,
		},
		&cli.Int64Flag{
			Name:        "layer",
			Usage:       "print the code histogram of one layer id",
			Value:       -1,
			Destination: &layerID,
		},
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Show the layer metadata table, shape checks and the bit-serial cost estimate",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyAssetConfig(cmd, appConfig)
			mc, err := resolveModelConfig(appConfig, modelConfigPath, int(workers))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			reg, err := registry.Open(weightsPath, metadataPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open weights: %v", err), 1)
			}
			defer func() { _ = reg.Close() }()

			if layerID >= 0 {
				v, err := reg.Find(int32(layerID))
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				printHistogram(os.Stdout, v)
				return nil
			}

			rep := buildInspectReport(mc, reg.Records(), reg.BlobSize())
			for i, v := range reg.All() {
				rep.Layers[i].Codes = summarizeCodes(v)
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return err
				}
			} else {
				printInspect(os.Stdout, rep)
			}
			if len(rep.Problems) > 0 {
				return cli.Exit(fmt.Sprintf("error: %d problem(s) found", len(rep.Problems)), 1)
			}
			return nil
		},
	}
}

type inspectLayer struct {
	layermeta.Record
	Kind     string    `json:"kind"`
	Expected int       `json:"expected_bytes"`
	Used     bool      `json:"used"`
	Codes    codeStats `json:"codes"`
}

// codeStats summarises the weight codes of one layer. Overflow counts bytes
// with bits set above the layer's bit width, which the bit-serial PE ignores.
type codeStats struct {
	Min      uint8 `json:"min"`
	Max      uint8 `json:"max"`
	Overflow int   `json:"overflow"`
}

func summarizeCodes(v registry.View) codeStats {
	if len(v.Data) == 0 {
		return codeStats{}
	}
	limit := byte(1<<v.Bits - 1)
	cs := codeStats{Min: 255}
	for _, b := range v.Data {
		cs.Min = min(cs.Min, b)
		cs.Max = max(cs.Max, b)
		if b > limit {
			cs.Overflow++
		}
	}
	return cs
}

// printHistogram prints how often each code in [0, 2^bits) occurs, plus the
// count of codes outside that range.
func printHistogram(w io.Writer, v registry.View) {
	_, _ = fmt.Fprintf(w, "layer %d: %d bits, %d bytes\n", v.LayerID, v.Bits, len(v.Data))
	levels := 1 << v.Bits
	counts := make([]int, levels)
	overflow := 0
	for _, b := range v.Data {
		if int(b) < levels {
			counts[b]++
		} else {
			overflow++
		}
	}
	for code, n := range counts {
		if n > 0 {
			_, _ = fmt.Fprintf(w, "  %3d: %d\n", code, n)
		}
	}
	if overflow > 0 {
		_, _ = fmt.Fprintf(w, "  overflow: %d\n", overflow)
	}
}

type inspectReport struct {
	Model    string         `json:"model"`
	BlobSize int            `json:"blob_bytes"`
	Layers   []inspectLayer `json:"layers"`
	Cost     *model.Cost    `json:"cost,omitempty"`
	Problems []string       `json:"problems,omitempty"`
}

// buildInspectReport compares the metadata table against the shapes the
// model config expects and estimates the cost when they agree.
func buildInspectReport(mc model.Config, recs []layermeta.Record, blobSize int) inspectReport {
	rep := inspectReport{Model: mc.Name, BlobSize: blobSize}
	need := mc.LayerCount()

	bits := make([]int, need)
	for i := range bits {
		bits[i] = 8
		if i < len(recs) {
			bits[i] = int(recs[i].BitWidth)
		}
	}
	shapes, err := mc.Layers(bits)
	if err != nil {
		rep.Problems = append(rep.Problems, err.Error())
	}

	for i, r := range recs {
		l := inspectLayer{Record: r, Kind: "-", Used: i < need}
		if i < len(shapes) {
			l.Kind = shapes[i].Kind.String()
			l.Expected = shapes[i].Size()
			if int(r.Length) != l.Expected {
				rep.Problems = append(rep.Problems, fmt.Sprintf("layer %d (%s): %d bytes, config expects %d", r.LayerID, l.Kind, r.Length, l.Expected))
			}
		}
		rep.Layers = append(rep.Layers, l)
	}
	if len(recs) < need {
		rep.Problems = append(rep.Problems, fmt.Sprintf("%d records, config needs %d", len(recs), need))
	}
	if len(rep.Problems) > 0 {
		return rep
	}

	cost, err := model.EstimateCost(mc, recs)
	if err != nil {
		rep.Problems = append(rep.Problems, err.Error())
		return rep
	}
	rep.Cost = &cost
	return rep
}

func printInspect(w io.Writer, rep inspectReport) {
	_, _ = fmt.Fprintf(w, "model: %s\n", rep.Model)
	_, _ = fmt.Fprintf(w, "blob:  %d bytes, %d layers\n\n", rep.BlobSize, len(rep.Layers))
	_, _ = fmt.Fprintf(w, "%-6s %-10s %5s %10s %10s %10s %9s %9s\n", "id", "kind", "bits", "offset", "bytes", "expected", "codes", "overflow")
	for _, l := range rep.Layers {
		expected := "-"
		if l.Used {
			expected = fmt.Sprint(l.Expected)
		}
		codes := fmt.Sprintf("%d-%d", l.Codes.Min, l.Codes.Max)
		_, _ = fmt.Fprintf(w, "%-6d %-10s %5d %10d %10d %10s %9s %9d\n", l.LayerID, l.Kind, l.BitWidth, l.Offset, l.Length, expected, codes, l.Codes.Overflow)
	}

	if rep.Cost != nil {
		c := rep.Cost
		_, _ = fmt.Fprintf(w, "\n%-6s %-10s %5s %12s %12s %12s\n", "id", "kind", "bits", "MACs", "cycles", "8-bit")
		for _, l := range c.Layers {
			_, _ = fmt.Fprintf(w, "%-6d %-10s %5d %12d %12d %12d\n", l.LayerID, l.Kind, l.Bits, l.MACs, l.Cycles, l.BaselineCycles)
		}
		_, _ = fmt.Fprintf(w, "total: %d MACs, %d cycles vs %d at 8 bits (%.2fx speedup, %d PEs)\n",
			c.MACs, c.Cycles, c.BaselineCycles, c.Speedup, model.PEParallel)
	}
	for _, p := range rep.Problems {
		_, _ = fmt.Fprintf(w, "problem: %s\n", p)
	}
}

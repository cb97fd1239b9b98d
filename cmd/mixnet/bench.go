package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/haengmina/JNU-Research-Accel/internal/assets"
	"github.com/haengmina/JNU-Research-Accel/internal/inference"
	"github.com/haengmina/JNU-Research-Accel/internal/logger"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func benchCmd() *cli.Command {
	var (
		warmupRuns  int64
		benchRuns   int64
		concurrency int64
		seed        int64
	)

	flags := engineFlags()
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       2,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Aliases:     []string{"n"},
			Usage:       "number of benchmark runs",
			Value:       20,
			Destination: &benchRuns,
		},
		&cli.Int64Flag{
			Name:        "concurrency",
			Aliases:     []string{"j"},
			Usage:       "requests in flight at once (bounded by --replicas)",
			Value:       1,
			Destination: &concurrency,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "seed for the synthetic benchmark image",
			Value:       1,
			Destination: &seed,
		},
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Measure per-stage latency over repeated classifications",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if benchRuns <= 0 {
				return cli.Exit("error: --runs must be positive", 1)
			}

			loadStart := time.Now()
			engine, err := loadEngine(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer func() { _ = engine.Close() }()
			info := engine.Describe()
			loadDuration := time.Since(loadStart)

			img := assets.Synthetic(info.Input.Width, info.Input.Height, seed)
			req := &inference.Request{Pixels: img.Pix, TopK: 1}

			fmt.Println("=== Mixnet Benchmark ===")
			fmt.Printf("Model:       %s (%d blocks, %d classes)\n", info.Name, info.Blocks, info.Classes)
			fmt.Printf("Input:       %dx%dx%d\n", info.Input.Width, info.Input.Height, info.Input.Channels)
			fmt.Printf("GOMAXPROCS:  %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Replicas:    %d\n", info.Replicas)
			fmt.Printf("Load:        %s\n", loadDuration.Round(time.Microsecond))
			fmt.Printf("Warmup:      %d runs\n", warmupRuns)
			fmt.Printf("Runs:        %d (concurrency %d)\n", benchRuns, concurrency)
			fmt.Println()

			for i := range int(warmupRuns) {
				log.Debug("warmup run", "run", i+1)
				if _, err := engine.Classify(ctx, req); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			results, wall, err := runBench(ctx, engine, req, int(benchRuns), int(concurrency))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: benchmark: %v", err), 1)
			}
			printBench(os.Stdout, summarize(results), wall, len(results))
			return nil
		},
	}
}

// runBench issues runs classifications with at most concurrency in flight.
func runBench(ctx context.Context, engine inference.Engine, req *inference.Request, runs, concurrency int) ([]*inference.Result, time.Duration, error) {
	results := make([]*inference.Result, runs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	start := time.Now()
	for i := range runs {
		g.Go(func() error {
			res, err := engine.Classify(gctx, req)
			if err != nil {
				return fmt.Errorf("run %d: %w", i+1, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return results, time.Since(start), nil
}

type stageStats struct {
	Label          string
	Mean, Min, Max time.Duration
}

// summarize aggregates stage timings in first-seen order, followed by a
// "total" row.
func summarize(results []*inference.Result) []stageStats {
	var order []string
	acc := map[string]*struct {
		sum, min, max time.Duration
		n             int
	}{}
	add := func(label string, d time.Duration) {
		a, ok := acc[label]
		if !ok {
			a = &struct {
				sum, min, max time.Duration
				n             int
			}{min: d, max: d}
			acc[label] = a
			order = append(order, label)
		}
		a.sum += d
		a.n++
		a.min = min(a.min, d)
		a.max = max(a.max, d)
	}
	for _, r := range results {
		for _, st := range r.Timings {
			add(st.Label(), st.Duration)
		}
	}
	for _, r := range results {
		add("total", r.Total)
	}

	out := make([]stageStats, 0, len(order))
	for _, label := range order {
		a := acc[label]
		out = append(out, stageStats{
			Label: label,
			Mean:  a.sum / time.Duration(a.n),
			Min:   a.min,
			Max:   a.max,
		})
	}
	return out
}

func printBench(w io.Writer, stats []stageStats, wall time.Duration, runs int) {
	_, _ = fmt.Fprintln(w, "=== Results ===")
	_, _ = fmt.Fprintf(w, "%-22s %12s %12s %12s\n", "Stage", "Mean", "Min", "Max")
	for _, s := range stats {
		_, _ = fmt.Fprintf(w, "%-22s %12s %12s %12s\n", s.Label,
			s.Mean.Round(time.Microsecond), s.Min.Round(time.Microsecond), s.Max.Round(time.Microsecond))
	}
	if wall > 0 {
		_, _ = fmt.Fprintf(w, "\nThroughput: %.1f images/s over %s\n", float64(runs)/wall.Seconds(), wall.Round(time.Millisecond))
	}
}

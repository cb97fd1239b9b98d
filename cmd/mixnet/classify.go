package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/haengmina/JNU-Research-Accel/internal/assets"
	"github.com/haengmina/JNU-Research-Accel/internal/inference"
	"github.com/haengmina/JNU-Research-Accel/internal/logger"
	"github.com/haengmina/JNU-Research-Accel/internal/model"
	"github.com/urfave/cli/v3"
)

func classifyCmd() *cli.Command {
	var (
		imagePath  string
		imageSizes []string
		synthetic  bool
		seed       int64
		topK       int64
		jsonOut    bool
	)

	flags := engineFlags()
	flags = append(flags,
		&cli.StringFlag{
			Name:        "image",
			Aliases:     []string{"i"},
			Usage:       "24-bit BMP to classify",
			Destination: &imagePath,
		},
		&cli.StringSliceFlag{
			Name:        "image-size",
			Usage:       "accepted image sizes as WxH, tried in order (defaults to the model input)",
			Destination: &imageSizes,
		},
		&cli.BoolFlag{
			Name:        "synthetic",
			Usage:       "classify a seeded random image instead of --image",
			Destination: &synthetic,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "seed for --synthetic",
			Value:       1,
			Destination: &seed,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"k"},
			Usage:       "number of ranked classes to print",
			Value:       inference.DefaultTopK,
			Destination: &topK,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print the result as JSON",
			Destination: &jsonOut,
		},
	)

	return &cli.Command{
		Name:  "classify",
		Usage: "Classify one image and print timings and the top classes",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if appConfig.Image != "" && !cmd.IsSet("image") {
				imagePath = appConfig.Image
			}
			if imagePath == "" && !synthetic {
				return cli.Exit("error: --image or --synthetic is required", 1)
			}

			loadStart := time.Now()
			engine, err := loadEngine(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer func() { _ = engine.Close() }()
			info := engine.Describe()
			log.Debug("engine ready", "elapsed", time.Since(loadStart))

			var img *assets.Image
			if synthetic {
				img = assets.Synthetic(info.Input.Width, info.Input.Height, seed)
				imagePath = fmt.Sprintf("synthetic(seed=%d)", seed)
			} else {
				sizes, err := parseSizes(imageSizes)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				if len(sizes) == 0 {
					sizes = []assets.Size{{Width: info.Input.Width, Height: info.Input.Height}}
				}
				img, err = assets.LoadBMP(imagePath, sizes...)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: load image: %v", err), 1)
				}
			}
			log.Info("classifying", "image", imagePath, "size", assets.Size{Width: img.Width, Height: img.Height})

			res, err := engine.Classify(ctx, &inference.Request{Pixels: img.Pix, TopK: int(topK)})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: classify: %v", err), 1)
			}
			if jsonOut {
				return writeJSONReport(os.Stdout, imagePath, info, res)
			}
			printReport(os.Stdout, info, res)
			return nil
		},
	}
}

// parseSizes parses WxH values such as "224x224".
func parseSizes(values []string) ([]assets.Size, error) {
	out := make([]assets.Size, 0, len(values))
	for _, v := range values {
		ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(v)), "x")
		if !ok {
			return nil, fmt.Errorf("invalid image size %q (want WxH)", v)
		}
		w, errW := strconv.Atoi(ws)
		h, errH := strconv.Atoi(hs)
		if errW != nil || errH != nil || w <= 0 || h <= 0 {
			return nil, fmt.Errorf("invalid image size %q (want WxH)", v)
		}
		out = append(out, assets.Size{Width: w, Height: h})
	}
	return out, nil
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%d ms (%d us)", d.Milliseconds(), d.Microseconds())
}

func printReport(w io.Writer, info inference.ModelInfo, res *inference.Result) {
	_, _ = fmt.Fprintln(w, "timings:")
	for _, st := range res.Timings {
		_, _ = fmt.Fprintf(w, "  %s: %s\n", st.Label(), formatDuration(st.Duration))
	}
	_, _ = fmt.Fprintf(w, "  total: %s\n", formatDuration(res.Total))

	_, _ = fmt.Fprintf(w, "top-%d:\n", len(res.Top))
	for i, p := range res.Top {
		_, _ = fmt.Fprintf(w, "  #%d: %s (%.2f%%)  score %d/255\n", i+1, p.Label, p.Probability*100, p.Score)
	}

	printMemory(w, info.Memory)
}

func printMemory(w io.Writer, m model.Memory) {
	_, _ = fmt.Fprintf(w, "memory: arena %d bytes, weights %d bytes\n", m.ArenaBytes, m.WeightBytes)
	for _, s := range m.Stages {
		_, _ = fmt.Fprintf(w, "  %s: %d bytes\n", s.Name, s.Bytes)
	}
}

type classifyReport struct {
	ID        string                 `json:"id"`
	Image     string                 `json:"image"`
	Model     string                 `json:"model"`
	Top       []inference.Prediction `json:"top"`
	TimingsUS map[string]int64       `json:"timings_us"`
	TotalUS   int64                  `json:"total_us"`
	Memory    model.Memory           `json:"memory"`
}

func writeJSONReport(w io.Writer, image string, info inference.ModelInfo, res *inference.Result) error {
	report := classifyReport{
		ID:        res.ID,
		Image:     image,
		Model:     info.Name,
		Top:       res.Top,
		TimingsUS: make(map[string]int64, len(res.Timings)),
		TotalUS:   res.Total.Microseconds(),
		Memory:    info.Memory,
	}
	for _, st := range res.Timings {
		report.TimingsUS[st.Label()] = st.Duration.Microseconds()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

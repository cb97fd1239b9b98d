package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/haengmina/JNU-Research-Accel/internal/assets"
	"github.com/haengmina/JNU-Research-Accel/internal/logger"
	"github.com/haengmina/JNU-Research-Accel/internal/toy"
	"github.com/urfave/cli/v3"
)

func genWeightsCmd() *cli.Command {
	var (
		bitsSpec string
		seed     int64
	)

	flags := append(modelFlags(),
		&cli.StringFlag{
			Name:        "out-weights",
			Usage:       "output weight blob path",
			Value:       "weights.bin",
			Destination: &weightsPath,
		},
		&cli.StringFlag{
			Name:        "out-metadata",
			Usage:       "output metadata path",
			Value:       "metadata.bin",
			Destination: &metadataPath,
		},
		&cli.StringFlag{
			Name:        "bits",
			Usage:       "bit width for every layer, or a comma separated width per layer",
			Value:       "8",
			Destination: &bitsSpec,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Value:       1,
			Destination: &seed,
		},
	)

	return &cli.Command{
		Name:  "gen-weights",
		Usage: "Write a seeded synthetic weight blob and metadata for the model config",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			mc, err := resolveModelConfig(appConfig, modelConfigPath, int(workers))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			bits, err := parseBits(bitsSpec)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			layers, err := mc.Layers(bits)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			b, err := toy.Weights(layers, seed)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := b.WriteFiles(weightsPath, metadataPath); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			logger.FromContext(ctx).Info("wrote synthetic weights",
				"model", mc.Name,
				"layers", len(layers),
				"bytes", len(b.Blob()),
				"weights", weightsPath,
				"metadata", metadataPath,
			)
			return nil
		},
	}
}

// parseBits parses "4" or "8,4,6,2".
func parseBits(list string) ([]int, error) {
	parts := strings.Split(list, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid bit width %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

func genImagesCmd() *cli.Command {
	var (
		outDir string
		count  int64
		width  int64
		height int64
		seed   int64
	)

	return &cli.Command{
		Name:  "gen-images",
		Usage: "Write seeded random 24-bit BMP test images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output directory",
				Value:       "images",
				Destination: &outDir,
			},
			&cli.Int64Flag{Name: "count", Aliases: []string{"n"}, Value: 4, Destination: &count},
			&cli.Int64Flag{Name: "width", Value: 32, Destination: &width},
			&cli.Int64Flag{Name: "height", Value: 32, Destination: &height},
			&cli.Int64Flag{Name: "seed", Value: 1, Destination: &seed},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			paths, err := writeImages(outDir, int(count), int(width), int(height), seed)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			logger.FromContext(ctx).Info("wrote images", "count", len(paths), "dir", outDir)
			return nil
		},
	}
}

func writeImages(dir string, count, width, height int, seed int64) ([]string, error) {
	if count <= 0 || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("count, width and height must be positive")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, count)
	for i := range count {
		path := filepath.Join(dir, fmt.Sprintf("image_%03d.bmp", i))
		if err := assets.WriteBMP(path, assets.Synthetic(width, height, seed+int64(i))); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

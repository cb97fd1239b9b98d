package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haengmina/JNU-Research-Accel/internal/logger"
	"github.com/haengmina/JNU-Research-Accel/pkg/layermeta"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Manifest lists per-layer weight files to pack into one blob. Relative
// paths resolve against the manifest's directory.
type Manifest struct {
	MaskBits bool            `yaml:"mask_bits"`
	Layers   []ManifestLayer `yaml:"layers"`
}

type ManifestLayer struct {
	File string `yaml:"file"`
	Bits int    `yaml:"bits"`
	// ID defaults to one above the previous layer.
	ID *int32 `yaml:"id"`
}

func packCmd() *cli.Command {
	var (
		manifestPath string
		outWeights   string
		outMetadata  string
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Pack per-layer weight files into a blob and metadata table",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "manifest",
				Usage:       "YAML manifest listing layer files and bit widths",
				Required:    true,
				Destination: &manifestPath,
			},
			&cli.StringFlag{
				Name:        "out-weights",
				Usage:       "output weight blob path",
				Value:       "weights.bin",
				Destination: &outWeights,
			},
			&cli.StringFlag{
				Name:        "out-metadata",
				Usage:       "output metadata path",
				Value:       "metadata.bin",
				Destination: &outMetadata,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			b, err := packManifest(manifestPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: pack: %v", err), 1)
			}
			if err := b.WriteFiles(outWeights, outMetadata); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			for _, r := range b.Records() {
				log.Debug("packed layer", "id", r.LayerID, "bits", r.BitWidth, "offset", r.Offset, "bytes", r.Length)
			}
			log.Info("packed", "layers", len(b.Records()), "bytes", len(b.Blob()), "weights", outWeights, "metadata", outMetadata)
			return nil
		},
	}
}

func packManifest(path string) (*layermeta.Builder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Layers) == 0 {
		return nil, fmt.Errorf("manifest %s lists no layers", path)
	}

	dir := filepath.Dir(path)
	b := layermeta.NewBuilder()
	b.MaskBits = m.MaskBits
	for i, l := range m.Layers {
		file := l.File
		if !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}
		weights, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if l.ID != nil {
			_, err = b.AddWithID(*l.ID, l.Bits, weights)
		} else {
			_, err = b.Add(l.Bits, weights)
		}
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, l.File, err)
		}
	}
	return b, nil
}

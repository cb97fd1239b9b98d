package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/haengmina/JNU-Research-Accel/internal/inference"
	"github.com/haengmina/JNU-Research-Accel/internal/logger"
	"github.com/urfave/cli/v3"
)

// appConfig is the config file loaded by the root Before hook.
var appConfig Config

func main() {
	app := &cli.Command{
		Name:  "mixnet",
		Usage: "Mixed-precision bit-serial MobileNet inference",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := LoadConfig(configFile)
			if err != nil {
				return ctx, cli.Exit(fmt.Sprintf("error: load config: %v", err), 1)
			}
			appConfig = cfg
			applyLoggingConfig(cmd, cfg)

			level := logger.ParseLevel(logLevel)
			if debug {
				level = slog.LevelDebug
			}
			log, err := logger.Setup(os.Stderr, logFormat, level)
			if err != nil {
				return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return logger.WithContext(ctx, log), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			classifyCmd(),
			benchCmd(),
			inspectCmd(),
			packCmd(),
			genWeightsCmd(),
			genImagesCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEngine opens the weight files named by the asset flags and builds an
// engine for the resolved model config.
func loadEngine(ctx context.Context, cmd *cli.Command) (*inference.EngineImpl, error) {
	applyAssetConfig(cmd, appConfig)
	mc, err := resolveModelConfig(appConfig, modelConfigPath, int(workers))
	if err != nil {
		return nil, err
	}
	loader := inference.Loader{
		WeightsPath:  weightsPath,
		MetadataPath: metadataPath,
		LabelsPath:   labelsPath,
		Config:       mc,
		Replicas:     int(replicas),
	}
	return loader.Load(ctx)
}

func engineFlags() []cli.Flag {
	return append(assetFlags(), modelFlags()...)
}

package main

import "github.com/urfave/cli/v3"

var (
	weightsPath     string
	metadataPath    string
	labelsPath      string
	modelConfigPath string
	replicas        int64
	workers         int64
	configFile      string
	logLevel        string
	logFormat       string
	debug           bool
)

func assetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "weights",
			Aliases:     []string{"w"},
			Usage:       "path to the packed weight blob",
			Value:       "weights.bin",
			Destination: &weightsPath,
		},
		&cli.StringFlag{
			Name:        "metadata",
			Aliases:     []string{"meta"},
			Usage:       "path to the layer metadata table",
			Value:       "metadata.bin",
			Destination: &metadataPath,
		},
		&cli.StringFlag{
			Name:        "labels",
			Aliases:     []string{"l"},
			Usage:       "path to a newline separated class label list",
			Destination: &labelsPath,
		},
	}
}

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model-config",
			Usage:       "path to a YAML model config (defaults to the built-in 32x32 network)",
			Destination: &modelConfigPath,
		},
		&cli.Int64Flag{
			Name:        "replicas",
			Usage:       "network replicas serving requests concurrently (0 = GOMAXPROCS)",
			Value:       1,
			Destination: &replicas,
		},
		&cli.Int64Flag{
			Name:        "workers",
			Usage:       "row workers per convolution (<0 = GOMAXPROCS, 0 or 1 = inline)",
			Value:       1,
			Destination: &workers,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (defaults to the user config dir)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

package model

import (
	"errors"
	"fmt"
	"os"

	"github.com/haengmina/JNU-Research-Accel/internal/tensor"
	"github.com/haengmina/JNU-Research-Accel/internal/toy"
	"github.com/haengmina/JNU-Research-Accel/pkg/quant"
	"gopkg.in/yaml.v3"
)

// InputConfig is the shape and quantization of the image tensor. Pixel bytes
// are used directly as codes.
type InputConfig struct {
	Height   int          `yaml:"height" json:"height"`
	Width    int          `yaml:"width" json:"width"`
	Channels int          `yaml:"channels" json:"channels"`
	Quant    quant.Params `yaml:"quant" json:"quant"`
}

func (in InputConfig) Len() int {
	return in.Height * in.Width * in.Channels
}

// BlockConfig is one depthwise-separable block: a 3x3 depthwise convolution
// followed by a 1x1 pointwise convolution to OutChannels.
type BlockConfig struct {
	OutChannels int `yaml:"out_channels" json:"out_channels"`

	// DepthwiseReLU6 defaults to true; PointwiseReLU6 defaults to false.
	DepthwiseReLU6 *bool `yaml:"depthwise_relu6,omitempty" json:"depthwise_relu6,omitempty"`
	PointwiseReLU6 *bool `yaml:"pointwise_relu6,omitempty" json:"pointwise_relu6,omitempty"`

	// Per-layer weight quantization; nil uses Config.Weights.
	DepthwiseWeights *quant.Params `yaml:"depthwise_weights,omitempty" json:"depthwise_weights,omitempty"`
	PointwiseWeights *quant.Params `yaml:"pointwise_weights,omitempty" json:"pointwise_weights,omitempty"`

	// Output activation quantization for both stages; nil uses
	// Config.Activations.
	Output *quant.Params `yaml:"output,omitempty" json:"output,omitempty"`

	DepthwiseBias []int32 `yaml:"depthwise_bias,omitempty" json:"depthwise_bias,omitempty"`
	PointwiseBias []int32 `yaml:"pointwise_bias,omitempty" json:"pointwise_bias,omitempty"`
}

func (b BlockConfig) depthwiseReLU6() bool {
	return b.DepthwiseReLU6 == nil || *b.DepthwiseReLU6
}

func (b BlockConfig) pointwiseReLU6() bool {
	return b.PointwiseReLU6 != nil && *b.PointwiseReLU6
}

// Config describes the network topology and every quantization parameter
// the pipeline needs besides the weight blob.
type Config struct {
	Name        string        `yaml:"name" json:"name"`
	Input       InputConfig   `yaml:"input" json:"input"`
	Weights     quant.Params  `yaml:"weights" json:"weights"`
	Activations quant.Params  `yaml:"activations" json:"activations"`
	Softmax     quant.Params  `yaml:"softmax" json:"softmax"`
	Blocks      []BlockConfig `yaml:"blocks" json:"blocks"`
	// Workers is passed to every convolution; see tensor.ConvOptions.
	Workers int `yaml:"workers,omitempty" json:"workers,omitempty"`
}

// DefaultConfig is the single-block 32x32 RGB, 10-class reference network.
func DefaultConfig() Config {
	return Config{
		Name: "mobilenet-bitserial",
		Input: InputConfig{
			Height:   32,
			Width:    32,
			Channels: 3,
			Quant:    quant.Params{Scale: 0.02, ZeroPoint: 128},
		},
		Weights:     quant.Params{Scale: 0.0019579321, ZeroPoint: 128},
		Activations: quant.Params{Scale: 0.02, ZeroPoint: 128},
		Softmax:     quant.Params{Scale: 1.0 / 255, ZeroPoint: 0},
		Blocks:      []BlockConfig{{OutChannels: 10}},
	}
}

// LoadConfig reads a YAML model config. Fields missing from the file keep
// their DefaultConfig values; a blocks list in the file replaces the default
// one.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse model config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("model config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks shapes and quantization parameters. It does not look at
// weights.
func (c Config) Validate() error {
	var errs []error
	in := c.Input
	if in.Height <= 0 || in.Width <= 0 || in.Channels <= 0 {
		errs = append(errs, fmt.Errorf("%w: input %dx%dx%d", tensor.ErrInvalidDimensions, in.Height, in.Width, in.Channels))
	}
	check := func(name string, p quant.Params) {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	check("input.quant", in.Quant)
	check("weights", c.Weights)
	check("activations", c.Activations)
	check("softmax", c.Softmax)
	if len(c.Blocks) == 0 {
		errs = append(errs, fmt.Errorf("%w: no blocks", tensor.ErrInvalidDimensions))
	}
	ch := in.Channels
	for i, b := range c.Blocks {
		if b.OutChannels <= 0 {
			errs = append(errs, fmt.Errorf("%w: block %d out_channels %d", tensor.ErrInvalidDimensions, i, b.OutChannels))
		}
		if b.DepthwiseWeights != nil {
			check(fmt.Sprintf("blocks[%d].depthwise_weights", i), *b.DepthwiseWeights)
		}
		if b.PointwiseWeights != nil {
			check(fmt.Sprintf("blocks[%d].pointwise_weights", i), *b.PointwiseWeights)
		}
		if b.Output != nil {
			check(fmt.Sprintf("blocks[%d].output", i), *b.Output)
		}
		if b.DepthwiseBias != nil && len(b.DepthwiseBias) != ch {
			errs = append(errs, fmt.Errorf("%w: block %d depthwise bias has %d entries, want %d", tensor.ErrInvalidDimensions, i, len(b.DepthwiseBias), ch))
		}
		if b.PointwiseBias != nil && len(b.PointwiseBias) != b.OutChannels {
			errs = append(errs, fmt.Errorf("%w: block %d pointwise bias has %d entries, want %d", tensor.ErrInvalidDimensions, i, len(b.PointwiseBias), b.OutChannels))
		}
		ch = b.OutChannels
	}
	if ch > tensor.MaxSoftmaxChannels {
		errs = append(errs, fmt.Errorf("%w: %d classes, limit %d", tensor.ErrChannelLimitExceeded, ch, tensor.MaxSoftmaxChannels))
	}
	return errors.Join(errs...)
}

// Classes is the number of output classes.
func (c Config) Classes() int {
	if len(c.Blocks) == 0 {
		return 0
	}
	return c.Blocks[len(c.Blocks)-1].OutChannels
}

// LayerCount is the number of metadata records the network consumes.
func (c Config) LayerCount() int {
	return 2 * len(c.Blocks)
}

// Layers lists the weight shapes in metadata order with the given per-layer
// bit widths. A single width applies to every layer.
func (c Config) Layers(bits []int) ([]toy.Layer, error) {
	n := c.LayerCount()
	if len(bits) != 1 && len(bits) != n {
		return nil, fmt.Errorf("%d bit widths for %d layers", len(bits), n)
	}
	width := func(i int) int {
		if len(bits) == 1 {
			return bits[0]
		}
		return bits[i]
	}
	out := make([]toy.Layer, 0, n)
	ch := c.Input.Channels
	for i, b := range c.Blocks {
		out = append(out,
			toy.Layer{Kind: toy.Depthwise, In: ch, Out: ch, Bits: width(2 * i)},
			toy.Layer{Kind: toy.Pointwise, In: ch, Out: b.OutChannels, Bits: width(2*i + 1)},
		)
		ch = b.OutChannels
	}
	return out, nil
}

package unet

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// UNet-2D for phase-field forecasting, composed entirely from gomlx building
// blocks: an encoder of double-convolution levels joined by max-pooling, a
// bottleneck, and a decoder that upsamples and concatenates the matching
// encoder output before convolving back down. Inputs and outputs are
// channels-first, [batch, channels, height, width].

// Levels is the number of encoder/decoder levels. Spatial dimensions of the
// input must be divisible by 2^Levels.
const Levels = 4

// Config selects the model's channel layout.
type Config struct {
	// InChannels is the number of input channels; 1 for a scalar field.
	InChannels int

	// OutChannels is the number of predicted channels.
	OutChannels int

	// Features is the feature width of the first encoder level; deeper
	// levels double it. Defaults to 16.
	Features int
}

func (c Config) withDefaults() Config {
	if c.InChannels == 0 {
		c.InChannels = 1
	}
	if c.OutChannels == 0 {
		c.OutChannels = 1
	}
	if c.Features == 0 {
		c.Features = 16
	}
	return c
}

// Model builds UNet graphs. The model itself is stateless; its variables
// live in the context the graphs are built with.
type Model struct {
	cfg Config
}

// New validates the configuration and returns a model.
func New(cfg Config) (*Model, error) {
	cfg = cfg.withDefaults()
	if cfg.InChannels < 1 {
		return nil, fmt.Errorf("input channels must be positive, got %d", cfg.InChannels)
	}
	if cfg.OutChannels < 1 {
		return nil, fmt.Errorf("output channels must be positive, got %d", cfg.OutChannels)
	}
	if cfg.Features < 1 {
		return nil, fmt.Errorf("feature width must be positive, got %d", cfg.Features)
	}
	return &Model{cfg: cfg}, nil
}

// Config returns the model configuration with defaults applied.
func (m *Model) Config() Config {
	return m.cfg
}

// CheckSpatial reports whether a field of the given dimensions can pass
// through the pooling pyramid.
func CheckSpatial(height, width int) error {
	div := 1 << Levels
	if height <= 0 || width <= 0 {
		return fmt.Errorf("field dimensions %dx%d must be positive", height, width)
	}
	if height%div != 0 || width%div != 0 {
		return fmt.Errorf("field dimensions %dx%d must be multiples of %d", height, width, div)
	}
	return nil
}

// Forward builds the UNet graph for a [B, InChannels, H, W] input and
// returns the [B, OutChannels, H, W] prediction. Variables are created under
// the current context scope.
func (m *Model) Forward(ctx *context.Context, x *graph.Node) *graph.Node {
	skips := make([]*graph.Node, Levels)
	features := m.cfg.Features
	for level := range Levels {
		x = convBlock(ctx.In(fmt.Sprintf("enc%d", level+1)), x, features)
		skips[level] = x
		x = maxPool(x)
		features *= 2
	}

	x = convBlock(ctx.In("bottleneck"), x, features)

	for level := Levels - 1; level >= 0; level-- {
		features /= 2
		x = upsample(x)
		x = graph.Concatenate([]*graph.Node{skips[level], x}, 1)
		x = convBlock(ctx.In(fmt.Sprintf("dec%d", level+1)), x, features)
	}

	// 1x1 projection to the output channels.
	return layers.Convolution(ctx.In("head"), x).
		Filters(m.cfg.OutChannels).KernelSize(1).PadSame().
		ChannelsAxis(images.ChannelsFirst).Done()
}

// Graph adapts Forward to the gomlx trainer's model function signature.
func (m *Model) Graph(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
	_ = spec
	return []*graph.Node{m.Forward(ctx, inputs[0])}
}

// convBlock is two same-padded 3x3 convolutions, each followed by a ReLU.
func convBlock(ctx *context.Context, x *graph.Node, filters int) *graph.Node {
	for i := range 2 {
		x = layers.Convolution(ctx.In(fmt.Sprintf("conv%d", i)), x).
			Filters(filters).KernelSize(3).PadSame().
			ChannelsAxis(images.ChannelsFirst).Done()
		x = activations.Relu(x)
	}
	return x
}

func maxPool(x *graph.Node) *graph.Node {
	return graph.MaxPool(x).ChannelsAxis(images.ChannelsFirst).Window(2).Done()
}

// upsample doubles both spatial dimensions with nearest-neighbor
// interpolation.
func upsample(x *graph.Node) *graph.Node {
	dims := x.Shape().Dimensions
	return graph.Interpolate(x, dims[0], dims[1], 2*dims[2], 2*dims[3]).Nearest().Done()
}

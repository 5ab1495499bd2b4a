package encoder

import (
	"errors"
	"fmt"

	"github.com/autohe/tensorflow-end2end-speech-recognition/nn"
	"github.com/autohe/tensorflow-end2end-speech-recognition/rnn"
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// The five recognized LSTM implementation selectors.
const (
	BasicLSTMCell      = "BasicLSTMCell"
	LSTMCell           = "LSTMCell"
	LSTMBlockCell      = "LSTMBlockCell"
	LSTMBlockFusedCell = "LSTMBlockFusedCell"
	CudnnLSTM          = "CudnnLSTM"
)

// bridgeUnits is the width of the linear layer between the flattened
// VGG output and the recurrent stack.
const bridgeUnits = 256

// ErrInvalidConfig marks configuration errors at construction.
var ErrInvalidConfig = errors.New("encoder: invalid configuration")

// ErrUnknownLSTMImpl marks an unrecognized LSTM implementation
// selector at forward time.
var ErrUnknownLSTMImpl = errors.New("encoder: unknown lstm implementation")

// Config holds the encoder hyperparameters. It is fixed at
// construction and never mutated.
type Config struct {
	// InputSize is the per-frame feature width before splicing,
	// num_channels * 3 (static + delta + delta-delta). Must be a
	// multiple of 3.
	InputSize int
	// Splice is the number of neighboring frames concatenated as
	// context around each frame.
	Splice int
	// NumUnits is the per-direction LSTM unit count.
	NumUnits int
	// NumProj is the recurrent projection width. Must be nonzero; it
	// is silently discarded unless LSTMImpl is LSTMCell, the only
	// implementation that projects.
	NumProj int
	// NumLayers is the bidirectional LSTM layer count.
	NumLayers int
	// LSTMImpl selects the recurrent implementation (one of the five
	// selector constants).
	LSTMImpl string
	// UsePeephole lets gates see the cell state directly, where the
	// implementation supports it.
	UsePeephole bool
	// ParameterInit scales weight initialization: truncated-normal
	// stddev for the front-end and bridge, uniform range for the
	// recurrent kernels.
	ParameterInit float32
	// ClipActivation bounds the cell state at +-ClipActivation, where
	// the implementation supports it.
	ClipActivation float32
	// TimeMajor returns outputs as [time, batch, features] instead of
	// [batch, time, features].
	TimeMajor bool
	// Name of the encoder. Defaults to "vgg_blstm_encoder".
	Name string
}

// VGGBLSTMEncoder is the assembled encoder. Construct with New.
type VGGBLSTMEncoder[B tensor.Backend] struct {
	cfg         Config
	numChannels int

	conv1a, conv1b *nn.Conv2D[B]
	conv2a, conv2b *nn.Conv2D[B]
	bn1, bn2       *nn.BatchNorm2D[B]
	pool           *nn.MaxPool2D[B]
	bridge         *nn.Linear[B]
	dropout        *nn.Dropout[B]

	// Built on first Forward: the selector is a call-time dispatch,
	// so an unknown value surfaces at invocation, not construction.
	stack *rnn.Stack[B]

	backend B
}

// New validates the configuration and assembles the convolutional
// front-end and bridge. The recurrent stack is materialized on the
// first Forward call, when the LSTMImpl selector is dispatched.
func New[B tensor.Backend](cfg Config, backend B) (*VGGBLSTMEncoder[B], error) {
	if cfg.InputSize <= 0 || cfg.InputSize%3 != 0 {
		return nil, fmt.Errorf("%w: input size %d is not a positive multiple of 3 (static+delta+delta-delta)",
			ErrInvalidConfig, cfg.InputSize)
	}
	if cfg.NumProj == 0 {
		return nil, fmt.Errorf("%w: projection width must be nonzero", ErrInvalidConfig)
	}
	if cfg.Splice <= 0 {
		return nil, fmt.Errorf("%w: splice width %d", ErrInvalidConfig, cfg.Splice)
	}
	if cfg.NumUnits <= 0 {
		return nil, fmt.Errorf("%w: unit count %d", ErrInvalidConfig, cfg.NumUnits)
	}
	if cfg.NumLayers <= 0 {
		return nil, fmt.Errorf("%w: layer count %d", ErrInvalidConfig, cfg.NumLayers)
	}
	if cfg.Name == "" {
		cfg.Name = "vgg_blstm_encoder"
	}
	// Only LSTMCell supports projection; every other selector ignores
	// the configured width.
	if cfg.LSTMImpl != LSTMCell {
		cfg.NumProj = 0
	}

	convInit := nn.TruncatedNormal[B](cfg.ParameterInit)
	enc := &VGGBLSTMEncoder[B]{
		cfg:         cfg,
		numChannels: cfg.InputSize / 3,
		conv1a:      nn.NewConv2D(3, 64, 3, 3, 1, 1, true, convInit, backend),
		conv1b:      nn.NewConv2D(64, 64, 3, 3, 1, 1, true, convInit, backend),
		conv2a:      nn.NewConv2D(64, 128, 3, 3, 1, 1, true, convInit, backend),
		conv2b:      nn.NewConv2D(128, 128, 3, 3, 1, 1, true, convInit, backend),
		bn1:         nn.NewBatchNorm2D(64, 1e-3, backend),
		bn2:         nn.NewBatchNorm2D(128, 1e-3, backend),
		pool:        nn.NewMaxPool2D(2, 2, true, backend),
		dropout:     nn.NewDropout(backend),
		backend:     backend,
	}
	enc.bridge = nn.NewLinear(enc.flatWidth(), bridgeUnits, convInit, backend)
	return enc, nil
}

// Config returns the encoder configuration.
func (e *VGGBLSTMEncoder[B]) Config() Config { return e.cfg }

// NumChannels returns the filterbank channel count, InputSize/3.
func (e *VGGBLSTMEncoder[B]) NumChannels() int { return e.numChannels }

// Name returns the encoder name.
func (e *VGGBLSTMEncoder[B]) Name() string { return e.cfg.Name }

// OutputSize returns the trailing dimension of the encoder output:
// both directions concatenated.
func (e *VGGBLSTMEncoder[B]) OutputSize() int {
	if e.cfg.NumProj > 0 {
		return 2 * e.cfg.NumProj
	}
	return 2 * e.cfg.NumUnits
}

// flatWidth is the flattened feature width after the two VGG stages:
// ceil(C/4) * ceil(S/4) * 128. Each stage halves both spatial axes
// with ceil-mode pooling.
func (e *VGGBLSTMEncoder[B]) flatWidth() int {
	newH := ceilDiv(e.numChannels, 4)
	newW := ceilDiv(e.cfg.Splice, 4)
	return newH * newW * 128
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// Forward encodes a feature batch.
//
//	inputs:  [batch, time, numChannels*splice*3]
//	seqLen:  [batch] valid frame counts, int32
//	keepProb: dropout keep probability (1 at inference)
//
// Returns the encoded sequence — [batch, time, D] or [time, batch, D]
// when time-major, D = OutputSize() — and the final recurrent state.
func (e *VGGBLSTMEncoder[B]) Forward(
	inputs *tensor.Tensor[float32, B],
	seqLen *tensor.Tensor[int32, B],
	keepProb float32,
) (*tensor.Tensor[float32, B], *rnn.State[B], error) {
	shape := inputs.Shape()
	if len(shape) != 3 {
		return nil, nil, fmt.Errorf("encoder: expected 3D input [batch, time, features], got %v", shape)
	}
	frameWidth := e.numChannels * e.cfg.Splice * 3
	if shape[2] != frameWidth {
		return nil, nil, fmt.Errorf("encoder: frame width %d != num_channels*splice*3 = %d", shape[2], frameWidth)
	}
	batch, maxTime := shape[0], shape[1]

	lenShape := seqLen.Shape()
	if len(lenShape) != 1 || lenShape[0] != batch {
		return nil, nil, fmt.Errorf("encoder: sequence lengths shaped %v for batch of %d", lenShape, batch)
	}

	if e.stack == nil {
		stack, err := e.buildStack()
		if err != nil {
			return nil, nil, err
		}
		e.stack = stack
	}

	// Every frame becomes an image: [B*T, C, S, 3] in the feature
	// layout, moved to NCHW for the convolution kernels.
	x := inputs.Reshape(batch*maxTime, e.numChannels, e.cfg.Splice, 3)
	x = x.Transpose(0, 3, 1, 2) // [B*T, 3, C, S]

	// VGG1: 3 -> 64 -> 64, normalize, halve.
	x = e.conv1a.Forward(x).Relu()
	x = e.conv1b.Forward(x).Relu()
	x = e.bn1.Forward(x)
	x = e.pool.Forward(x)

	// VGG2: 64 -> 128 -> 128, normalize, halve again.
	x = e.conv2a.Forward(x).Relu()
	x = e.conv2b.Forward(x).Relu()
	x = e.bn2.Forward(x)
	x = e.pool.Forward(x)

	// Bridge the flattened feature map down to a fixed width before
	// the recurrence, then restore the time series.
	x = x.Reshape(batch*maxTime, e.flatWidth())
	x = e.bridge.Forward(x).Relu()
	x = e.dropout.Forward(x, keepProb)
	x = x.Reshape(batch, maxTime, bridgeUnits)

	lens := make([]int, batch)
	for b, l := range seqLen.Data() {
		lens[b] = int(l)
	}

	outputs, finalState := e.stack.Forward(x, lens, keepProb)
	return outputs, finalState, nil
}

// buildStack dispatches the LSTMImpl selector.
func (e *VGGBLSTMEncoder[B]) buildStack() (*rnn.Stack[B], error) {
	cfg := e.cfg
	uniform := nn.Uniform[B](-cfg.ParameterInit, cfg.ParameterInit)

	switch cfg.LSTMImpl {
	case BasicLSTMCell:
		return rnn.NewBasicStack(bridgeUnits, cfg.NumUnits, cfg.NumLayers,
			uniform, cfg.TimeMajor, e.backend), nil
	case LSTMCell:
		return rnn.NewPeepholeStack(bridgeUnits, cfg.NumUnits, cfg.NumProj, cfg.NumLayers,
			cfg.UsePeephole, cfg.ClipActivation, uniform, cfg.TimeMajor, e.backend), nil
	case LSTMBlockCell:
		return rnn.NewBlockStack(bridgeUnits, cfg.NumUnits, cfg.NumLayers,
			cfg.UsePeephole, cfg.ClipActivation, uniform, cfg.TimeMajor, e.backend), nil
	case LSTMBlockFusedCell:
		return rnn.NewFusedStack(bridgeUnits, cfg.NumUnits, cfg.NumLayers,
			cfg.UsePeephole, cfg.ClipActivation, uniform, cfg.TimeMajor, e.backend), nil
	case CudnnLSTM:
		return rnn.NewPackedStack(bridgeUnits, cfg.NumUnits, cfg.NumLayers,
			cfg.ParameterInit, cfg.TimeMajor, e.backend), nil
	default:
		return nil, fmt.Errorf("%w: %q (valid: %q, %q, %q, %q, %q)",
			ErrUnknownLSTMImpl, cfg.LSTMImpl,
			BasicLSTMCell, LSTMCell, LSTMBlockCell, LSTMBlockFusedCell, CudnnLSTM)
	}
}

// Parameters returns every trainable parameter of the front-end and
// bridge. Recurrent parameters are available once the stack has been
// built by a Forward call.
func (e *VGGBLSTMEncoder[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, m := range []nn.Module[B]{e.conv1a, e.conv1b, e.bn1, e.conv2a, e.conv2b, e.bn2, e.bridge} {
		params = append(params, m.Parameters()...)
	}
	return params
}

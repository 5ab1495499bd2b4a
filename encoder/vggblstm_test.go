package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autohe/tensorflow-end2end-speech-recognition/backend/cpu"
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

func testConfig() Config {
	return Config{
		InputSize:     6, // 2 filterbank channels
		Splice:        3,
		NumUnits:      8,
		NumProj:       5,
		NumLayers:     1,
		LSTMImpl:      BasicLSTMCell,
		ParameterInit: 0.1,
	}
}

func testInput(t *testing.T, cfg Config, batch, maxTime int, lens []int32, backend *cpu.Backend) (*tensor.Tensor[float32, *cpu.Backend], *tensor.Tensor[int32, *cpu.Backend]) {
	t.Helper()
	width := (cfg.InputSize / 3) * cfg.Splice * 3
	data := make([]float32, batch*maxTime*width)
	for i := range data {
		data[i] = float32(i%13)*0.1 - 0.6
	}
	inputs, err := tensor.FromSlice(data, tensor.Shape{batch, maxTime, width}, backend)
	require.NoError(t, err)
	seqLen, err := tensor.FromSlice(lens, tensor.Shape{batch}, backend)
	require.NoError(t, err)
	return inputs, seqLen
}

func TestNewValidation(t *testing.T) {
	backend := cpu.New()

	bad := []func(*Config){
		func(c *Config) { c.InputSize = 5 },  // not a multiple of 3
		func(c *Config) { c.InputSize = -3 }, // not positive
		func(c *Config) { c.NumProj = 0 },
		func(c *Config) { c.Splice = 0 },
		func(c *Config) { c.NumUnits = 0 },
		func(c *Config) { c.NumLayers = 0 },
	}
	for i, mutate := range bad {
		cfg := testConfig()
		mutate(&cfg)
		_, err := New(cfg, backend)
		require.Error(t, err, "case %d", i)
		assert.ErrorIs(t, err, ErrInvalidConfig, "case %d", i)
	}

	enc, err := New(testConfig(), backend)
	require.NoError(t, err)
	assert.Equal(t, 2, enc.NumChannels())
	assert.Equal(t, "vgg_blstm_encoder", enc.Name())
}

// TestProjectionOnlyForLSTMCell checks that the configured projection
// width is kept only by the one variant that supports it.
func TestProjectionOnlyForLSTMCell(t *testing.T) {
	backend := cpu.New()

	cfg := testConfig()
	cfg.LSTMImpl = BasicLSTMCell
	enc, err := New(cfg, backend)
	require.NoError(t, err)
	assert.Zero(t, enc.Config().NumProj)
	assert.Equal(t, 2*cfg.NumUnits, enc.OutputSize())

	cfg = testConfig()
	cfg.LSTMImpl = LSTMCell
	enc, err = New(cfg, backend)
	require.NoError(t, err)
	assert.Equal(t, 5, enc.Config().NumProj)
	assert.Equal(t, 2*cfg.NumProj, enc.OutputSize())
}

func TestUnknownLSTMImpl(t *testing.T) {
	backend := cpu.New()

	cfg := testConfig()
	cfg.LSTMImpl = "GRUCell"
	enc, err := New(cfg, backend)
	require.NoError(t, err, "the selector is dispatched at forward time")

	inputs, seqLen := testInput(t, cfg, 1, 2, []int32{2}, backend)
	_, _, err = enc.Forward(inputs, seqLen, 1.0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownLSTMImpl)
	for _, name := range []string{BasicLSTMCell, LSTMCell, LSTMBlockCell, LSTMBlockFusedCell, CudnnLSTM} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestForwardAllVariants(t *testing.T) {
	backend := cpu.New()

	variants := []struct {
		impl string
		dim  int
	}{
		{BasicLSTMCell, 16},
		{LSTMCell, 10}, // 2 * NumProj
		{LSTMBlockCell, 16},
		{LSTMBlockFusedCell, 16},
		{CudnnLSTM, 16},
	}
	for _, v := range variants {
		t.Run(v.impl, func(t *testing.T) {
			cfg := testConfig()
			cfg.LSTMImpl = v.impl

			enc, err := New(cfg, backend)
			require.NoError(t, err)

			inputs, seqLen := testInput(t, cfg, 2, 4, []int32{4, 3}, backend)
			outputs, state, err := enc.Forward(inputs, seqLen, 1.0)
			require.NoError(t, err)

			require.True(t, outputs.Shape().Equal(tensor.Shape{2, 4, v.dim}),
				"output shape %v", outputs.Shape())
			require.NotNil(t, state)
			require.Len(t, state.Forward, cfg.NumLayers)
			require.Len(t, state.Backward, cfg.NumLayers)
		})
	}
}

func TestForwardTimeMajor(t *testing.T) {
	backend := cpu.New()

	cfg := testConfig()
	cfg.TimeMajor = true
	enc, err := New(cfg, backend)
	require.NoError(t, err)

	inputs, seqLen := testInput(t, cfg, 2, 4, []int32{4, 2}, backend)
	outputs, _, err := enc.Forward(inputs, seqLen, 1.0)
	require.NoError(t, err)
	assert.True(t, outputs.Shape().Equal(tensor.Shape{4, 2, 16}), "got %v", outputs.Shape())
}

func TestForwardMasksPadding(t *testing.T) {
	backend := cpu.New()

	enc, err := New(testConfig(), backend)
	require.NoError(t, err)

	inputs, seqLen := testInput(t, testConfig(), 2, 4, []int32{4, 2}, backend)
	outputs, _, err := enc.Forward(inputs, seqLen, 1.0)
	require.NoError(t, err)

	// Frames past the second example's length are zero.
	for tstep := 2; tstep < 4; tstep++ {
		for f := 0; f < 16; f++ {
			assert.Zero(t, outputs.At(1, tstep, f), "t=%d f=%d", tstep, f)
		}
	}
}

func TestForwardShapeErrors(t *testing.T) {
	backend := cpu.New()

	enc, err := New(testConfig(), backend)
	require.NoError(t, err)

	flat, err := tensor.FromSlice(make([]float32, 36), tensor.Shape{2, 18}, backend)
	require.NoError(t, err)
	lens, err := tensor.FromSlice([]int32{2, 2}, tensor.Shape{2}, backend)
	require.NoError(t, err)
	_, _, err = enc.Forward(flat, lens, 1.0)
	assert.Error(t, err, "2D input")

	wrongWidth, err := tensor.FromSlice(make([]float32, 2*2*12), tensor.Shape{2, 2, 12}, backend)
	require.NoError(t, err)
	_, _, err = enc.Forward(wrongWidth, lens, 1.0)
	assert.Error(t, err, "frame width mismatch")

	inputs, _ := testInput(t, testConfig(), 2, 2, []int32{2, 2}, backend)
	shortLens, err := tensor.FromSlice([]int32{2}, tensor.Shape{1}, backend)
	require.NoError(t, err)
	_, _, err = enc.Forward(inputs, shortLens, 1.0)
	assert.Error(t, err, "sequence length batch mismatch")
}

func TestFlatWidth(t *testing.T) {
	backend := cpu.New()

	// 40 filterbank channels, splice 5: ceil(40/4)*ceil(5/4)*128.
	cfg := testConfig()
	cfg.InputSize = 120
	cfg.Splice = 5
	enc, err := New(cfg, backend)
	require.NoError(t, err)
	assert.Equal(t, 10*2*128, enc.flatWidth())

	cfg = testConfig() // 2 channels, splice 3
	enc, err = New(cfg, backend)
	require.NoError(t, err)
	assert.Equal(t, 128, enc.flatWidth())
}

func TestParameters(t *testing.T) {
	backend := cpu.New()

	enc, err := New(testConfig(), backend)
	require.NoError(t, err)

	params := enc.Parameters()
	assert.NotEmpty(t, params)
	for _, p := range params {
		assert.NotNil(t, p.Tensor())
	}
}

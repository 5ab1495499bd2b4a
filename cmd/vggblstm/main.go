// Command vggblstm runs the VGG-BLSTM acoustic encoder over feature
// input and reports the resulting shapes. It is mainly a smoke-test
// and benchmarking harness for the encoder package.
package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/autohe/tensorflow-end2end-speech-recognition/backend/cpu"
	"github.com/autohe/tensorflow-end2end-speech-recognition/encoder"
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

const version = "0.1.0"

type encodeOptions struct {
	configPath  string
	featurePath string
	batchSize   int
	timeSteps   int
	keepProb    float64
	seed        int64
}

func newEncodeCmd() *cobra.Command {
	var opts encodeOptions

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Run the encoder over feature input and report output shapes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "YAML recipe file (required)")
	cmd.Flags().StringVarP(&opts.featurePath, "features", "f", "", "binary little-endian float32 feature file, one utterance")
	cmd.Flags().IntVarP(&opts.batchSize, "batch", "b", 4, "batch size for synthetic input")
	cmd.Flags().IntVarP(&opts.timeSteps, "time", "t", 200, "frames per utterance for synthetic input")
	cmd.Flags().Float64Var(&opts.keepProb, "keep-prob", 1.0, "dropout keep probability")
	cmd.Flags().Int64Var(&opts.seed, "seed", 1, "seed for synthetic input")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}

func runEncode(opts encodeOptions) error {
	cfg, err := encoder.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	backend := cpu.New()
	enc, err := encoder.New(cfg, backend)
	if err != nil {
		return err
	}

	inputs, seqLen, err := loadFeatures(opts, cfg, backend)
	if err != nil {
		return err
	}

	start := time.Now()
	outputs, _, err := enc.Forward(inputs, seqLen, float32(opts.keepProb))
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	inShape := inputs.Shape()
	outShape := outputs.Shape()
	frames := inShape[0] * inShape[1]

	fmt.Printf("encoder:  %s (%s, %d layers x %d units)\n", cfg.Name, cfg.LSTMImpl, cfg.NumLayers, cfg.NumUnits)
	fmt.Printf("inputs:   %v\n", inShape)
	fmt.Printf("outputs:  %v\n", outShape)
	fmt.Printf("elapsed:  %v (%.1f frames/s)\n", elapsed, float64(frames)/elapsed.Seconds())
	return nil
}

// loadFeatures builds the [batch, time, width] input tensor, either
// from a raw float32 dump (a single utterance) or synthetically.
// InputSize already counts static+delta+delta-delta, so the frame
// width is InputSize*Splice.
func loadFeatures(opts encodeOptions, cfg encoder.Config, backend *cpu.Backend) (*tensor.Tensor[float32, *cpu.Backend], *tensor.Tensor[int32, *cpu.Backend], error) {
	width := cfg.InputSize * cfg.Splice

	if opts.featurePath != "" {
		data, err := os.ReadFile(opts.featurePath)
		if err != nil {
			return nil, nil, err
		}
		if len(data)%4 != 0 {
			return nil, nil, fmt.Errorf("feature file size %d is not a multiple of 4", len(data))
		}
		n := len(data) / 4
		if n%width != 0 {
			return nil, nil, fmt.Errorf("feature file holds %d values, not a multiple of frame width %d", n, width)
		}
		values := make([]float32, n)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		steps := n / width
		inputs, err := tensor.FromSlice(values, tensor.Shape{1, steps, width}, backend)
		if err != nil {
			return nil, nil, err
		}
		seqLen, err := tensor.FromSlice([]int32{int32(steps)}, tensor.Shape{1}, backend)
		if err != nil {
			return nil, nil, err
		}
		return inputs, seqLen, nil
	}

	rng := rand.New(rand.NewSource(opts.seed))
	values := make([]float32, opts.batchSize*opts.timeSteps*width)
	for i := range values {
		values[i] = float32(rng.NormFloat64())
	}
	lengths := make([]int32, opts.batchSize)
	for i := range lengths {
		lengths[i] = int32(opts.timeSteps)
	}
	inputs, err := tensor.FromSlice(values, tensor.Shape{opts.batchSize, opts.timeSteps, width}, backend)
	if err != nil {
		return nil, nil, err
	}
	seqLen, err := tensor.FromSlice(lengths, tensor.Shape{opts.batchSize}, backend)
	if err != nil {
		return nil, nil, err
	}
	return inputs, seqLen, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("vggblstm version", version)
		},
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "vggblstm",
		Short:         "VGG-BLSTM acoustic encoder",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.AddCommand(newEncodeCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

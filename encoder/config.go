package encoder

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// recipe mirrors the hyperparameter names of the original YAML training
// recipes, so existing recipe files keep working.
type recipe struct {
	InputSize      int     `yaml:"input_size"`
	Splice         int     `yaml:"splice"`
	NumUnits       int     `yaml:"num_units"`
	NumProj        int     `yaml:"num_proj"`
	NumLayers      int     `yaml:"num_layers"`
	LSTMImpl       string  `yaml:"lstm_impl"`
	UsePeephole    bool    `yaml:"use_peephole"`
	ParameterInit  float32 `yaml:"parameter_init"`
	ClipActivation float32 `yaml:"clip_activation"`
	TimeMajor      bool    `yaml:"time_major"`
	Name           string  `yaml:"name"`
}

// LoadConfig reads an encoder configuration from a YAML recipe file.
// The file uses the original recipe keys (input_size, splice,
// num_units, num_proj, num_layers, lstm_impl, use_peephole,
// parameter_init, clip_activation, time_major, name).
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("encoder: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML recipe from memory.
func ParseConfig(data []byte) (Config, error) {
	var r recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Config{}, fmt.Errorf("encoder: parse config: %w", err)
	}
	return Config{
		InputSize:      r.InputSize,
		Splice:         r.Splice,
		NumUnits:       r.NumUnits,
		NumProj:        r.NumProj,
		NumLayers:      r.NumLayers,
		LSTMImpl:       r.LSTMImpl,
		UsePeephole:    r.UsePeephole,
		ParameterInit:  r.ParameterInit,
		ClipActivation: r.ClipActivation,
		TimeMajor:      r.TimeMajor,
		Name:           r.Name,
	}, nil
}

package nn

import (
	"fmt"
	"math/rand"

	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// Dropout applies inverted dropout: each element is kept with
// probability keepProb and scaled by 1/keepProb so the expected
// activation is unchanged. keepProb is supplied per call, not at
// construction, mirroring the encoder interface where the caller feeds
// the keep probability alongside the batch (1.0 at inference).
type Dropout[B tensor.Backend] struct {
	backend B
}

// NewDropout creates a dropout layer.
func NewDropout[B tensor.Backend](backend B) *Dropout[B] {
	return &Dropout[B]{backend: backend}
}

// Forward drops elements with probability 1-keepProb. keepProb must be
// in (0, 1]; keepProb == 1 is the identity.
func (d *Dropout[B]) Forward(input *tensor.Tensor[float32, B], keepProb float32) *tensor.Tensor[float32, B] {
	if keepProb <= 0 || keepProb > 1 {
		panic(fmt.Sprintf("dropout: keep probability %g outside (0, 1]", keepProb))
	}
	if keepProb == 1 {
		return input
	}

	out := input.Clone()
	data := out.Data()
	scale := 1 / keepProb
	for i := range data {
		if rand.Float32() < keepProb { //nolint:gosec // math/rand is fine for dropout
			data[i] *= scale
		} else {
			data[i] = 0
		}
	}
	return out
}

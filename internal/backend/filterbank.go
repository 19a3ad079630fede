package backend

import (
	"context"
	"math"

	"meeting-scribe/internal/models"
)

// FilterbankEmbedder is the in-process embedding backend. It summarizes a
// segment's voice characteristics as log band energies measured by a
// Goertzel filter bank over frequencies spaced log-linearly between
// loBand and hiBand, L2-normalized to the configured dimensionality.
// It is model-free and deterministic, which makes clustering behavior
// reproducible; a model-backed embedder plugs in behind the same
// capability when higher discrimination is needed.
type FilterbankEmbedder struct {
	dim    int
	loBand float64
	hiBand float64
}

// NewFilterbankEmbedder creates an embedder producing dim-length vectors.
func NewFilterbankEmbedder(dim int) *FilterbankEmbedder {
	return &FilterbankEmbedder{dim: dim, loBand: 100, hiBand: 4000}
}

// Name implements Embedder.
func (e *FilterbankEmbedder) Name() string { return "filterbank" }

// Embed implements Embedder.
func (e *FilterbankEmbedder) Embed(ctx context.Context, seg models.Segment) (models.EmbeddingVector, error) {
	if err := ctx.Err(); err != nil {
		return models.EmbeddingVector{}, err
	}

	vec := make([]float32, e.dim)
	ratio := math.Pow(e.hiBand/e.loBand, 1/float64(e.dim-1))
	freq := e.loBand
	for i := 0; i < e.dim; i++ {
		vec[i] = float32(math.Log1p(goertzel(seg.Samples, freq, float64(seg.SampleRate))))
		freq *= ratio
	}

	normalize(vec)
	return models.EmbeddingVector{SegmentID: seg.ID, DeviceID: seg.DeviceID, Vector: vec}, nil
}

// goertzel returns the power of the signal at the target frequency.
func goertzel(samples []int16, freq, sampleRate float64) float64 {
	if len(samples) == 0 || sampleRate <= 0 {
		return 0
	}
	omega := 2 * math.Pi * freq / sampleRate
	coeff := 2 * math.Cos(omega)

	var s0, s1, s2 float64
	for _, sample := range samples {
		s0 = float64(sample)/32768.0 + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	return power / float64(len(samples))
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}

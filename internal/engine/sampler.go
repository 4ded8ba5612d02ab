package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/radiogate/pkg/provider/classifier"
)

// DefaultClassIndex is the score slot read from each classifier result.
const DefaultClassIndex = 1

// Sampler extracts the confidence of one class from classifier results and
// remembers the last accepted value.
type Sampler struct {
	index int
	last  ConfidenceSample
	have  bool
}

// NewSampler returns a Sampler reading score slot classIndex.
func NewSampler(classIndex int) *Sampler {
	return &Sampler{index: classIndex}
}

// ClassIndex returns the score slot the sampler reads.
func (s *Sampler) ClassIndex() int { return s.index }

// Sample converts r into a [ConfidenceSample]. A zero r.At is replaced by
// now. Results without a finite score in [0, 1] at the class index fail with
// [ErrInvalidSample] and leave Last unchanged.
func (s *Sampler) Sample(r classifier.Result, now time.Time) (ConfidenceSample, error) {
	if s.index < 0 || s.index >= len(r.Scores) {
		return ConfidenceSample{}, fmt.Errorf("%w: class index %d missing from %d scores",
			ErrInvalidSample, s.index, len(r.Scores))
	}
	v := r.Scores[s.index]
	if math.IsNaN(v) || v < 0 || v > 1 {
		return ConfidenceSample{}, fmt.Errorf("%w: score %v out of range [0, 1]", ErrInvalidSample, v)
	}
	at := r.At
	if at.IsZero() {
		at = now
	}
	s.last = ConfidenceSample{Value: v, At: at}
	s.have = true
	return s.last, nil
}

// Last returns the most recent accepted sample.
func (s *Sampler) Last() (ConfidenceSample, bool) {
	return s.last, s.have
}

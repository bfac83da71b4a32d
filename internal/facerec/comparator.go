package facerec

import (
	"math"

	"github.com/kozaktomas/face-guard/internal/constants"
)

// ReferenceSource exposes the current reference, nil when none is loaded.
type ReferenceSource interface {
	Current() *Reference
}

// Comparison is the outcome of comparing a live descriptor with the reference.
type Comparison struct {
	Distance float64
	Match    bool
}

// Comparator classifies live descriptors against the reference.
type Comparator struct {
	refs      ReferenceSource
	threshold float64
}

// NewComparator creates a comparator. A non-positive threshold selects the default of 0.6.
func NewComparator(refs ReferenceSource, threshold float64) *Comparator {
	if threshold <= 0 {
		threshold = constants.MatchThreshold
	}
	return &Comparator{refs: refs, threshold: threshold}
}

// Threshold returns the match threshold in use.
func (c *Comparator) Threshold() float64 {
	return c.threshold
}

// Compare returns nil when no reference is loaded (undecidable). A live descriptor
// matches when its Euclidean distance to the reference is at most the threshold.
// Descriptors of a different length than the reference are undecidable too.
func (c *Comparator) Compare(d Descriptor) *Comparison {
	ref := c.refs.Current()
	if ref == nil || len(ref.Descriptor) == 0 || len(d) != len(ref.Descriptor) {
		return nil
	}
	dist := EuclideanDistance(d, ref.Descriptor)
	return &Comparison{Distance: dist, Match: dist <= c.threshold}
}

// EuclideanDistance computes the L2 distance between two descriptors of equal length.
func EuclideanDistance(a, b Descriptor) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

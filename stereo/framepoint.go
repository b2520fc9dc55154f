package stereo

import "sync/atomic"

// FramePoint is an accepted stereo correspondence: the paired left/right
// keypoints and descriptors plus the derived disparity. Construction of the
// 3D point is a downstream concern.
type FramePoint struct {
	ID uint64

	KeypointLeft  Keypoint
	KeypointRight Keypoint

	DescriptorLeft  Descriptor
	DescriptorRight Descriptor

	// DisparityPixels is left.x - right.x, positive by construction.
	DisparityPixels float64
}

// IDGenerator issues unique frame point identifiers. Implementations must
// be safe under concurrent increment: multiple stereo pipelines may share a
// generator within one process.
type IDGenerator interface {
	Next() uint64
}

// CounterID is an atomic, monotonically increasing IDGenerator. The zero
// value is ready to use; Reset makes identifier sequences reproducible in
// tests.
type CounterID struct {
	n atomic.Uint64
}

// NewCounterID creates a fresh counter starting at 1.
func NewCounterID() *CounterID {
	return &CounterID{}
}

// Next returns the next identifier. The first call returns 1, so an ID of 0
// never escapes and can serve as "unset".
func (c *CounterID) Next() uint64 {
	return c.n.Add(1)
}

// Reset rewinds the counter to its initial state.
func (c *CounterID) Reset() {
	c.n.Store(0)
}

package stereo

import (
	"image"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// FrameStatus is the lifecycle state of a frame. It modulates how strict
// the correspondence acceptance threshold is: lenient while localizing,
// stricter once tracking.
type FrameStatus int

const (
	// Localizing marks a bootstrapping frame without a prior pose estimate.
	Localizing FrameStatus = iota
	// Tracking marks a steady-state frame.
	Tracking
)

func (s FrameStatus) String() string {
	switch s {
	case Localizing:
		return "Localizing"
	case Tracking:
		return "Tracking"
	default:
		return "Unknown"
	}
}

// Frame is the per-timestep value object: both rectified grayscale images
// plus the keypoints and descriptors detection fills in. A frame is mutated
// in place by Generator.Initialize and consumed by the correspondence
// search.
type Frame struct {
	ID uuid.UUID

	IntensityImageLeft  *image.Gray
	IntensityImageRight *image.Gray

	KeypointsLeft  []Keypoint
	KeypointsRight []Keypoint

	DescriptorsLeft  []Descriptor
	DescriptorsRight []Descriptor

	NumberOfDetectedKeypoints int

	Status FrameStatus
}

// NewFrame creates a frame around a rectified stereo pair. Both images must
// share the same dimensions; their pairing makes no sense otherwise.
func NewFrame(left, right *image.Gray) (*Frame, error) {
	if left == nil || right == nil {
		return nil, errors.New("frame requires both intensity images")
	}
	if left.Bounds().Dx() != right.Bounds().Dx() || left.Bounds().Dy() != right.Bounds().Dy() {
		return nil, errors.Errorf("stereo images must have the same dimensions, got %v and %v",
			left.Bounds().Size(), right.Bounds().Size())
	}
	return &Frame{
		ID:                  uuid.New(),
		IntensityImageLeft:  left,
		IntensityImageRight: right,
		Status:              Localizing,
	}, nil
}

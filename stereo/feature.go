package stereo

import (
	"fmt"
	"image"
	"math/bits"
)

// Keypoint is a detected 2D image location with sub-pixel coordinates.
// Scale/response metadata is carried through untouched for downstream
// consumers.
type Keypoint struct {
	X        float64
	Y        float64
	Size     float64
	Angle    float64
	Response float64
	Octave   int
}

// NewKeypoint creates a keypoint at the given pixel position.
func NewKeypoint(x, y float64) Keypoint {
	return Keypoint{X: x, Y: y, Angle: -1.0}
}

// Translate returns a copy of the keypoint shifted by (dx, dy).
// Used to map region-local detections back into image coordinates.
func (kp Keypoint) Translate(dx, dy float64) Keypoint {
	kp.X += dx
	kp.Y += dy
	return kp
}

// Descriptor is a fixed-length binary appearance signature attached to a
// keypoint. Descriptors are compared with the Hamming distance.
type Descriptor []byte

// Bits returns the descriptor length in bits.
func (d Descriptor) Bits() int {
	return len(d) * 8
}

// HammingDistance returns the number of differing bits between two
// descriptors. Descriptors of unequal length are compared over the shorter
// one (callers are expected to pair descriptors of the same type).
func HammingDistance(a, b Descriptor) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	dist := 0
	for i := 0; i < n; i++ {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}
	return dist
}

// Detector is the keypoint-detection capability. Given a grayscale image, a
// rectangular region of it and a sensitivity threshold it returns keypoints
// in region-local coordinates. Implementations must be safe for concurrent
// calls on distinct regions.
type Detector interface {
	Detect(img *image.Gray, region image.Rectangle, threshold float64) ([]Keypoint, error)
}

// Extractor is the descriptor-extraction capability. It computes one
// descriptor per keypoint, order-preserving. Keypoints too close to the
// image border for the descriptor pattern may be dropped, so the surviving
// keypoints are returned alongside their descriptors.
type Extractor interface {
	Compute(img *image.Gray, kps []Keypoint) ([]Keypoint, []Descriptor, error)

	// DescriptorBits is the descriptor length in bits, which is also the
	// maximum possible Hamming distance between two descriptors.
	DescriptorBits() int
}

// DescriptorType enumerates the supported descriptor algorithms. The set is
// closed: configuration resolves the type once and rejects anything else.
type DescriptorType int

const (
	// DescriptorBRIEF256 is the pure-Go 256-bit BRIEF extractor from the
	// keypoints package.
	DescriptorBRIEF256 DescriptorType = iota
	// DescriptorORB256 is the OpenCV-backed 256-bit ORB extractor from the
	// opencv package.
	DescriptorORB256
)

// String returns the configuration spelling of the descriptor type.
func (t DescriptorType) String() string {
	switch t {
	case DescriptorBRIEF256:
		return "BRIEF-256"
	case DescriptorORB256:
		return "ORB-256"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Bits returns the descriptor length in bits for the type.
func (t DescriptorType) Bits() int {
	return 256
}

// ParseDescriptorType resolves a configuration string to a DescriptorType.
// Unrecognized values are a configuration error, never a silent fallback.
func ParseDescriptorType(s string) (DescriptorType, error) {
	switch s {
	case "BRIEF-256":
		return DescriptorBRIEF256, nil
	case "ORB-256":
		return DescriptorORB256, nil
	default:
		return 0, errUnknownDescriptorType(s)
	}
}

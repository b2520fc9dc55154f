package stereo

import (
	"github.com/pkg/errors"
)

// Configuration errors are fatal and never retried. Input-contract errors
// are surfaced per frame; the caller decides whether to skip the frame.
var (
	// ErrAlreadyConfigured is returned when Configure is called on a lattice
	// that already holds a configuration.
	ErrAlreadyConfigured = errors.New("lattice is already configured")

	// ErrCountMismatch is returned when the number of keypoints and the
	// number of descriptors handed to SetFeatures differ.
	ErrCountMismatch = errors.New("number of keypoints and descriptors do not match")

	// ErrOutOfBounds is returned when a keypoint falls outside the declared
	// image bounds of a lattice.
	ErrOutOfBounds = errors.New("keypoint outside lattice bounds")

	// ErrUnknownDescriptorType is returned for a descriptor_type selection
	// that is not part of the closed DescriptorType set.
	ErrUnknownDescriptorType = errors.New("unknown descriptor type")

	// ErrBadConfig is returned for invalid configuration values such as
	// non-positive grid dimensions.
	ErrBadConfig = errors.New("invalid configuration")
)

func errUnknownDescriptorType(s string) error {
	return errors.Wrapf(ErrUnknownDescriptorType, "%q", s)
}

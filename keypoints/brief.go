package keypoints

import (
	"image"
	"math/rand"

	"github.com/XxChang/rslam/stereo"
)

const (
	briefBits = 256
	// briefPatchRadius bounds the sampling pattern around the keypoint.
	briefPatchRadius = 15
	// briefSmoothRadius is the box-filter half-size applied to each sample.
	briefSmoothRadius = 2
	// briefPatternSeed fixes the sampling pattern, so every extractor
	// instance produces comparable descriptors.
	briefPatternSeed = 0x5121984
)

// briefSample is one intensity comparison of the descriptor pattern.
type briefSample struct {
	a image.Point
	b image.Point
}

// BRIEFExtractor computes 256-bit BRIEF descriptors and implements
// stereo.Extractor. Each bit compares the smoothed intensities of a fixed
// random point pair inside a patch around the keypoint. Keypoints too close
// to the image border for the patch are dropped.
type BRIEFExtractor struct {
	pattern [briefBits]briefSample
}

// NewBRIEFExtractor creates an extractor with the canonical sampling
// pattern.
func NewBRIEFExtractor() *BRIEFExtractor {
	e := &BRIEFExtractor{}
	rng := rand.New(rand.NewSource(briefPatternSeed))
	span := briefPatchRadius - briefSmoothRadius
	for i := range e.pattern {
		e.pattern[i] = briefSample{
			a: image.Point{X: rng.Intn(2*span+1) - span, Y: rng.Intn(2*span+1) - span},
			b: image.Point{X: rng.Intn(2*span+1) - span, Y: rng.Intn(2*span+1) - span},
		}
	}
	return e
}

// DescriptorBits returns the descriptor length in bits.
func (e *BRIEFExtractor) DescriptorBits() int {
	return briefBits
}

// Compute derives one descriptor per keypoint, order-preserving. Keypoints
// whose patch would leave the image are dropped from the returned slice.
func (e *BRIEFExtractor) Compute(img *image.Gray, kps []stereo.Keypoint) ([]stereo.Keypoint, []stereo.Descriptor, error) {
	bounds := img.Bounds()
	kept := make([]stereo.Keypoint, 0, len(kps))
	descriptors := make([]stereo.Descriptor, 0, len(kps))

	for _, kp := range kps {
		x, y := int(kp.X), int(kp.Y)
		if x-briefPatchRadius < bounds.Min.X || x+briefPatchRadius >= bounds.Max.X ||
			y-briefPatchRadius < bounds.Min.Y || y+briefPatchRadius >= bounds.Max.Y {
			continue
		}
		d := make(stereo.Descriptor, briefBits/8)
		for bit, sample := range e.pattern {
			ia := boxIntensity(img, x+sample.a.X, y+sample.a.Y)
			ib := boxIntensity(img, x+sample.b.X, y+sample.b.Y)
			if ia < ib {
				d[bit/8] |= 1 << (bit % 8)
			}
		}
		kept = append(kept, kp)
		descriptors = append(descriptors, d)
	}
	return kept, descriptors, nil
}

// boxIntensity is the summed intensity of the box around (x, y). The caller
// guarantees the box stays inside the image.
func boxIntensity(img *image.Gray, x, y int) int {
	sum := 0
	for dy := -briefSmoothRadius; dy <= briefSmoothRadius; dy++ {
		for dx := -briefSmoothRadius; dx <= briefSmoothRadius; dx++ {
			sum += int(img.GrayAt(x+dx, y+dy).Y)
		}
	}
	return sum
}

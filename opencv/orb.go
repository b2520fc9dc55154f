package opencv

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/XxChang/rslam/stereo"
)

const orbDescriptorBytes = 32

// ORBExtractor computes 256-bit ORB descriptors via OpenCV and implements
// stereo.Extractor. The underlying handle is long-lived; callers must Close
// it when done.
type ORBExtractor struct {
	orb gocv.ORB
}

// NewORBExtractor creates an extractor with OpenCV's default ORB settings.
func NewORBExtractor() *ORBExtractor {
	return &ORBExtractor{orb: gocv.NewORB()}
}

// Close releases the OpenCV handle.
func (e *ORBExtractor) Close() error {
	return e.orb.Close()
}

// DescriptorBits returns the descriptor length in bits.
func (e *ORBExtractor) DescriptorBits() int {
	return orbDescriptorBytes * 8
}

// Compute derives one descriptor per keypoint. OpenCV drops keypoints whose
// patch leaves the image, so the surviving keypoints come back alongside
// their descriptors, order preserved.
func (e *ORBExtractor) Compute(img *image.Gray, kps []stereo.Keypoint) ([]stereo.Keypoint, []stereo.Descriptor, error) {
	if len(kps) == 0 {
		return nil, nil, nil
	}

	mat, err := grayRegionToMat(img, img.Bounds())
	if err != nil {
		return nil, nil, errors.Wrap(err, "can't prepare image for description")
	}
	defer mat.Close()

	cvKps := make([]gocv.KeyPoint, len(kps))
	for i, kp := range kps {
		cvKps[i] = toCVKeypoint(kp)
	}

	mask := gocv.NewMat()
	defer mask.Close()

	outKps, desc := e.orb.Compute(mat, mask, cvKps)
	defer desc.Close()

	if desc.Rows() != len(outKps) || (desc.Rows() > 0 && desc.Cols() != orbDescriptorBytes) {
		return nil, nil, errors.Errorf("unexpected descriptor matrix %dx%d for %d keypoints",
			desc.Rows(), desc.Cols(), len(outKps))
	}

	raw := desc.ToBytes()
	kept := make([]stereo.Keypoint, len(outKps))
	descriptors := make([]stereo.Descriptor, len(outKps))
	for i, kp := range outKps {
		kept[i] = fromCVKeypoint(kp)
		d := make(stereo.Descriptor, orbDescriptorBytes)
		copy(d, raw[i*orbDescriptorBytes:(i+1)*orbDescriptorBytes])
		descriptors[i] = d
	}
	return kept, descriptors, nil
}

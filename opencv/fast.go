package opencv

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/XxChang/rslam/stereo"
)

// FASTDetector runs OpenCV's FAST-9/16 corner detector and implements
// stereo.Detector. The threshold varies per call, so each Detect builds a
// short-lived detector handle around it. Safe for concurrent use.
type FASTDetector struct {
	nonmaxSuppression bool
}

// NewFASTDetector creates a detector with non-maximum suppression enabled.
func NewFASTDetector() *FASTDetector {
	return &FASTDetector{nonmaxSuppression: true}
}

// Detect finds corners inside the region and returns them in region-local
// coordinates.
func (d *FASTDetector) Detect(img *image.Gray, region image.Rectangle, threshold float64) ([]stereo.Keypoint, error) {
	mat, err := grayRegionToMat(img, region)
	if err != nil {
		return nil, errors.Wrap(err, "can't prepare detection region")
	}
	defer mat.Close()

	fast := gocv.NewFastFeatureDetectorWithParams(
		int(math.Round(threshold)),
		d.nonmaxSuppression,
		gocv.FastFeatureDetectorType916,
	)
	defer fast.Close()

	cvKps := fast.Detect(mat)
	kps := make([]stereo.Keypoint, len(cvKps))
	for i, kp := range cvKps {
		kps[i] = fromCVKeypoint(kp)
	}
	return kps, nil
}

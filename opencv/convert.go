package opencv

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/XxChang/rslam/stereo"
)

// grayRegionToMat copies the region of a grayscale image into a fresh
// single-channel Mat. The caller owns the returned Mat and must close it.
func grayRegionToMat(img *image.Gray, region image.Rectangle) (gocv.Mat, error) {
	bounds := img.Bounds()
	r := region.Intersect(bounds)
	if r.Empty() {
		return gocv.Mat{}, errors.Errorf("region %v does not intersect image %v", region, bounds)
	}

	rows, cols := r.Dy(), r.Dx()
	data := make([]byte, rows*cols)
	for y := 0; y < rows; y++ {
		src := (r.Min.Y-bounds.Min.Y+y)*img.Stride + (r.Min.X - bounds.Min.X)
		copy(data[y*cols:(y+1)*cols], img.Pix[src:src+cols])
	}

	mat, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8U, data)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "can't build mat from image region")
	}
	return mat, nil
}

func fromCVKeypoint(kp gocv.KeyPoint) stereo.Keypoint {
	return stereo.Keypoint{
		X:        kp.X,
		Y:        kp.Y,
		Size:     kp.Size,
		Angle:    kp.Angle,
		Response: kp.Response,
		Octave:   kp.Octave,
	}
}

func toCVKeypoint(kp stereo.Keypoint) gocv.KeyPoint {
	return gocv.KeyPoint{
		X:        kp.X,
		Y:        kp.Y,
		Size:     kp.Size,
		Angle:    kp.Angle,
		Response: kp.Response,
		Octave:   kp.Octave,
	}
}

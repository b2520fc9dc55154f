package keypoints

import (
	"image"

	"github.com/XxChang/rslam/stereo"
)

// circleOffsets are the 16 neighbor offsets on the Bresenham circle of
// radius 3 used by the segment test, in clockwise order.
var circleOffsets = [16]image.Point{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// circleRadius keeps segment-test pixels inside the image.
const circleRadius = 3

// FASTDetector is a FAST segment-test corner detector implementing
// stereo.Detector. A pixel is a corner when a contiguous arc of circle
// pixels is uniformly brighter or darker than the center by more than the
// threshold. Safe for concurrent Detect calls.
type FASTDetector struct {
	arcLength int
	nmsWindow int
}

// NewFASTDetector creates a FAST-9/16 detector with non-maximum
// suppression over a 7x7 window.
func NewFASTDetector() *FASTDetector {
	return NewFASTDetectorWithParams(9, 3)
}

// NewFASTDetectorWithParams creates a detector requiring a contiguous arc
// of arcLength circle pixels and suppressing non-maxima within a window of
// half-size nmsWindow (0 disables suppression).
func NewFASTDetectorWithParams(arcLength, nmsWindow int) *FASTDetector {
	if arcLength < 1 || arcLength > 16 {
		arcLength = 9
	}
	return &FASTDetector{
		arcLength: arcLength,
		nmsWindow: nmsWindow,
	}
}

// corner is a detected pixel with its suppression score.
type corner struct {
	pt    image.Point
	score float64
}

// Detect runs the segment test over the region and returns the surviving
// corners in region-local coordinates. The circle may sample pixels
// outside the region as long as they are inside the image, so region
// borders do not starve detection.
func (d *FASTDetector) Detect(img *image.Gray, region image.Rectangle, threshold float64) ([]stereo.Keypoint, error) {
	bounds := img.Bounds()
	scan := region.Intersect(bounds)

	minX := maxInt(scan.Min.X, bounds.Min.X+circleRadius)
	minY := maxInt(scan.Min.Y, bounds.Min.Y+circleRadius)
	maxX := minInt(scan.Max.X, bounds.Max.X-circleRadius)
	maxY := minInt(scan.Max.Y, bounds.Max.Y-circleRadius)

	var corners []corner
	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			if c, ok := d.segmentTest(img, x, y, threshold); ok {
				corners = append(corners, c)
			}
		}
	}
	if d.nmsWindow > 0 {
		corners = suppressNonMaxima(corners, d.nmsWindow)
	}

	kps := make([]stereo.Keypoint, 0, len(corners))
	for _, c := range corners {
		kp := stereo.NewKeypoint(float64(c.pt.X-region.Min.X), float64(c.pt.Y-region.Min.Y))
		kp.Size = 2 * circleRadius
		kp.Response = c.score
		kps = append(kps, kp)
	}
	return kps, nil
}

// segmentTest checks pixel (x, y) for a contiguous brighter or darker arc.
// The arc may wrap around the circle. The score is the sum of absolute
// differences of the qualifying circle pixels.
func (d *FASTDetector) segmentTest(img *image.Gray, x, y int, threshold float64) (corner, bool) {
	center := float64(img.GrayAt(x, y).Y)

	var brighter, darker [16]bool
	for i, off := range circleOffsets {
		v := float64(img.GrayAt(x+off.X, y+off.Y).Y)
		brighter[i] = v > center+threshold
		darker[i] = v < center-threshold
	}
	if !hasContiguousArc(brighter, d.arcLength) && !hasContiguousArc(darker, d.arcLength) {
		return corner{}, false
	}

	score := 0.0
	for i, off := range circleOffsets {
		if !brighter[i] && !darker[i] {
			continue
		}
		v := float64(img.GrayAt(x+off.X, y+off.Y).Y)
		if v > center {
			score += v - center
		} else {
			score += center - v
		}
	}
	return corner{pt: image.Point{X: x, Y: y}, score: score}, true
}

// hasContiguousArc reports whether at least n consecutive entries are set,
// treating the array as circular.
func hasContiguousArc(flags [16]bool, n int) bool {
	run := 0
	for i := 0; i < 2*len(flags); i++ {
		if flags[i%len(flags)] {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// suppressNonMaxima keeps only corners whose score is maximal within a
// window of half-size winSize. Ties keep both corners, so a flat plateau
// does not erase itself.
func suppressNonMaxima(corners []corner, winSize int) []corner {
	scores := make(map[image.Point]float64, len(corners))
	for _, c := range corners {
		scores[c.pt] = c.score
	}
	kept := corners[:0]
	for _, c := range corners {
		if !dominatedNearby(c, scores, winSize) {
			kept = append(kept, c)
		}
	}
	return kept
}

func dominatedNearby(c corner, scores map[image.Point]float64, winSize int) bool {
	for dy := -winSize; dy <= winSize; dy++ {
		for dx := -winSize; dx <= winSize; dx++ {
			neighbor := image.Point{X: c.pt.X + dx, Y: c.pt.Y + dy}
			if score, ok := scores[neighbor]; ok && score > c.score {
				return true
			}
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

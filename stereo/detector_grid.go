package stereo

import (
	"image"
	"log/slog"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DetectorRegion is one rectangular cell of the detection grid together
// with its independently adapting sensitivity threshold. The applied
// threshold drives detection; the controller writes the adjusted value into
// the pending slot, which takes effect only once ApplyThresholds pushes it.
type DetectorRegion struct {
	Rect image.Rectangle

	appliedThreshold  float64
	pendingThreshold  float64
	lastKeypointCount int
}

// Threshold returns the sensitivity threshold the region currently applies.
func (dr *DetectorRegion) Threshold() float64 {
	return dr.appliedThreshold
}

// LastKeypointCount returns the number of keypoints the region produced on
// the most recent detection.
func (dr *DetectorRegion) LastKeypointCount() int {
	return dr.lastKeypointCount
}

// DetectorGrid partitions an image into equal rectangular regions and
// drives the keypoint-detection capability per region, adapting each
// region's threshold towards a target keypoint density.
type DetectorGrid struct {
	detector Detector
	regions  [][]*DetectorRegion

	targetKeypoints float64
	targetPerRegion float64
	tolerance       float64
	maxChange       float64
	thresholdMin    float64
	thresholdMax    float64

	logger *slog.Logger
}

// NewDetectorGrid partitions a width×height image into the configured
// number of regions. Fractional region sizes are absorbed by rounding the
// region edges, so the regions tile the image exactly.
func NewDetectorGrid(width, height int, cfg Config, detector Detector, logger *slog.Logger) (*DetectorGrid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrBadConfig, "image dimensions must be positive, got %dx%d", width, height)
	}
	if detector == nil {
		return nil, errors.Wrap(ErrBadConfig, "detector capability is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	rows := cfg.NumberOfDetectorsVertical
	cols := cfg.NumberOfDetectorsHorizontal
	pixelRowsPerDetector := float64(height) / float64(rows)
	pixelColsPerDetector := float64(width) / float64(cols)

	regions := make([][]*DetectorRegion, rows)
	for r := 0; r < rows; r++ {
		regions[r] = make([]*DetectorRegion, cols)
		y0 := int(math.Round(float64(r) * pixelRowsPerDetector))
		y1 := int(math.Round(float64(r+1) * pixelRowsPerDetector))
		for c := 0; c < cols; c++ {
			x0 := int(math.Round(float64(c) * pixelColsPerDetector))
			x1 := int(math.Round(float64(c+1) * pixelColsPerDetector))
			regions[r][c] = &DetectorRegion{
				Rect:             image.Rect(x0, y0, x1, y1),
				appliedThreshold: cfg.DetectorThresholdInitial,
				pendingThreshold: cfg.DetectorThresholdInitial,
			}
		}
	}

	// The target count derives from an independent spatial bin size, then
	// is split evenly across regions.
	numberOfColsBin := math.Floor(float64(width)/float64(cfg.BinSizePixels)) + 1
	numberOfRowsBin := math.Floor(float64(height)/float64(cfg.BinSizePixels)) + 1
	targetKeypoints := numberOfColsBin * numberOfRowsBin
	targetPerRegion := targetKeypoints / float64(rows*cols)

	logger.Info("configured keypoint detection grid",
		"regions_vertical", rows,
		"regions_horizontal", cols,
		"target_number_of_keypoints", targetKeypoints,
		"target_number_of_keypoints_per_region", targetPerRegion,
	)

	return &DetectorGrid{
		detector:        detector,
		regions:         regions,
		targetKeypoints: targetKeypoints,
		targetPerRegion: targetPerRegion,
		tolerance:       cfg.TargetNumberOfKeypointsTolerance,
		maxChange:       cfg.DetectorThresholdMaximumChange,
		thresholdMin:    cfg.DetectorThresholdMinimum,
		thresholdMax:    cfg.DetectorThresholdMaximum,
		logger:          logger,
	}, nil
}

// TargetKeypoints returns the per-image target keypoint count.
func (g *DetectorGrid) TargetKeypoints() float64 {
	return g.targetKeypoints
}

// Regions returns the detector regions in row-major order.
func (g *DetectorGrid) Regions() []*DetectorRegion {
	out := make([]*DetectorRegion, 0, len(g.regions)*len(g.regions[0]))
	for _, row := range g.regions {
		out = append(out, row...)
	}
	return out
}

// Detect runs the detection capability over every region concurrently,
// translates the region-local keypoints into image coordinates and
// concatenates the results in row-major region order. After detection the
// feedback controller computes each region's next threshold from its
// keypoint count; the new thresholds stay pending until ApplyThresholds.
func (g *DetectorGrid) Detect(img *image.Gray) ([]Keypoint, error) {
	rows := len(g.regions)
	cols := len(g.regions[0])
	results := make([][][]Keypoint, rows)
	for r := range results {
		results[r] = make([][]Keypoint, cols)
	}

	var eg errgroup.Group
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			r, c := r, c
			region := g.regions[r][c]
			eg.Go(func() error {
				kps, err := g.detector.Detect(img, region.Rect, region.appliedThreshold)
				if err != nil {
					return errors.Wrapf(err, "can't detect keypoints in region (%d,%d)", r, c)
				}
				offsetX := float64(region.Rect.Min.X)
				offsetY := float64(region.Rect.Min.Y)
				for i := range kps {
					kps[i] = kps[i].Translate(offsetX, offsetY)
				}
				results[r][c] = kps
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var keypoints []Keypoint
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			region := g.regions[r][c]
			region.lastKeypointCount = len(results[r][c])
			g.adjustThreshold(region)
			keypoints = append(keypoints, results[r][c]...)
		}
	}
	return keypoints, nil
}

// adjustThreshold is the proportional feedback controller: it nudges the
// region threshold towards the per-region target keypoint count. The
// adjusted value lands in the pending slot.
func (g *DetectorGrid) adjustThreshold(region *DetectorRegion) {
	threshold := region.appliedThreshold
	delta := (float64(region.lastKeypointCount) - g.targetPerRegion) / g.targetPerRegion

	switch {
	case delta < -g.tolerance:
		// Too few keypoints: lower the threshold, at least by 1.
		change := math.Min(delta, g.maxChange)
		threshold += math.Min(change*threshold, -1.0)
		if threshold < g.thresholdMin {
			threshold = g.thresholdMin
		}
	case delta > g.tolerance:
		// Too many keypoints: raise the threshold, at least by 1.
		change := math.Max(delta, g.maxChange)
		threshold += math.Max(change*threshold, 1.0)
		if threshold > g.thresholdMax {
			threshold = g.thresholdMax
		}
	}

	region.pendingThreshold = threshold
}

// ApplyThresholds pushes the pending thresholds into effect for the next
// Detect call. Kept distinct from Detect so both images of a stereo pair
// are detected with identical thresholds.
func (g *DetectorGrid) ApplyThresholds() {
	for _, row := range g.regions {
		for _, region := range row {
			region.appliedThreshold = region.pendingThreshold
		}
	}
}

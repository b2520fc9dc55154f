package stereo

import (
	"log/slog"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"
)

// bootstrapDistanceFraction of the maximum possible descriptor distance is
// the acceptance threshold while localizing, and the floor the adaptive
// threshold never tightens below.
const bootstrapDistanceFraction = 0.1

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithIDGenerator sets the frame point identifier source. Defaults to a
// fresh atomic counter per generator; inject a shared or resettable one to
// coordinate multiple pipelines or to make tests deterministic.
func WithIDGenerator(ids IDGenerator) Option {
	return func(g *Generator) {
		if ids != nil {
			g.ids = ids
		}
	}
}

// Generator is the stereo frame point generation and matching engine. Per
// frame it detects keypoints on both images through the detector grid,
// computes descriptors, loads each side into its own feature lattice and
// pairs left/right features along (near-)epipolar lines.
//
// A Generator is bound to one stereo pair with fixed image dimensions and
// is not safe for concurrent use; run one per pipeline.
type Generator struct {
	cfg  Config
	grid *DetectorGrid

	extractor Extractor

	latticeLeft  *FeatureLattice
	latticeRight *FeatureLattice

	// Current maximum acceptable descriptor distance. Adapted per frame
	// from the frame status and the detected/target keypoint ratio.
	maxDistance       float64
	bootstrapDistance float64

	numberOfDetectedKeypoints int

	epipolarOffsets []int

	ids    IDGenerator
	logger *slog.Logger

	diag Diagnostics
}

// NewGenerator builds the engine for width×height images with the given
// detection and description capabilities.
func NewGenerator(width, height int, cfg Config, detector Detector, extractor Extractor, opts ...Option) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil {
		return nil, errors.Wrap(ErrBadConfig, "extractor capability is required")
	}

	g := &Generator{
		cfg:       cfg,
		extractor: extractor,
		ids:       NewCounterID(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	grid, err := NewDetectorGrid(width, height, cfg, detector, g.logger)
	if err != nil {
		return nil, err
	}
	g.grid = grid

	g.latticeLeft = NewFeatureLattice()
	g.latticeRight = NewFeatureLattice()
	if err := g.latticeLeft.Configure(height, width); err != nil {
		return nil, err
	}
	if err := g.latticeRight.Configure(height, width); err != nil {
		return nil, err
	}

	g.bootstrapDistance = bootstrapDistanceFraction * float64(extractor.DescriptorBits())
	g.maxDistance = g.clampMaxDistance(g.bootstrapDistance)

	// Offset 0 first: the nominal rectified-epipolar case. Then widen
	// symmetrically to tolerate imperfect rectification.
	g.epipolarOffsets = []int{0}
	for i := 1; i < cfg.MaximumEpipolarSearchOffsetPixels; i++ {
		g.epipolarOffsets = append(g.epipolarOffsets, i, -i)
	}
	g.logger.Info("configured epipolar correspondence search",
		"epipolar_lines", len(g.epipolarOffsets),
		"minimum_disparity_pixels", cfg.MinimumDisparityPixels,
	)

	return g, nil
}

// clampMaxDistance caps the acceptance threshold at the configured
// maximum matching distance.
func (g *Generator) clampMaxDistance(d float64) float64 {
	return math.Min(d, g.cfg.MaximumMatchingDistanceTriangulation)
}

// EpipolarOffsets returns the row offsets tried per frame, in search order.
func (g *Generator) EpipolarOffsets() []int {
	out := make([]int, len(g.epipolarOffsets))
	copy(out, g.epipolarOffsets)
	return out
}

// MaxMatchingDistance returns the current acceptance threshold on
// descriptor distance.
func (g *Generator) MaxMatchingDistance() float64 {
	return g.maxDistance
}

// NumberOfDetectedKeypoints returns the per-frame detected keypoint count
// (average of both sides) from the last Initialize.
func (g *Generator) NumberOfDetectedKeypoints() int {
	return g.numberOfDetectedKeypoints
}

// Initialize prepares the engine for a frame: detects keypoints on both
// images, pushes the adapted detector thresholds into effect for the next
// frame, computes descriptors, adapts the matching acceptance threshold to
// the frame status and loads both feature lattices.
//
// With extractFeatures false the frame's existing keypoints and descriptors
// are loaded as-is.
func (g *Generator) Initialize(frame *Frame, extractFeatures bool) error {
	if frame == nil {
		return errors.New("frame is required")
	}

	if extractFeatures {
		keypointsLeft, err := g.grid.Detect(frame.IntensityImageLeft)
		if err != nil {
			return errors.Wrap(err, "can't detect keypoints on left image")
		}
		keypointsRight, err := g.grid.Detect(frame.IntensityImageRight)
		if err != nil {
			return errors.Wrap(err, "can't detect keypoints on right image")
		}
		g.grid.ApplyThresholds()

		g.numberOfDetectedKeypoints = (len(keypointsLeft) + len(keypointsRight)) / 2
		frame.NumberOfDetectedKeypoints = g.numberOfDetectedKeypoints

		frame.KeypointsLeft, frame.DescriptorsLeft, err = g.extractor.Compute(frame.IntensityImageLeft, keypointsLeft)
		if err != nil {
			return errors.Wrap(err, "can't compute descriptors on left image")
		}
		frame.KeypointsRight, frame.DescriptorsRight, err = g.extractor.Compute(frame.IntensityImageRight, keypointsRight)
		if err != nil {
			return errors.Wrap(err, "can't compute descriptors on right image")
		}
		g.logger.Debug("extracted features",
			"left", len(frame.KeypointsLeft),
			"right", len(frame.KeypointsRight),
		)

		if frame.Status == Localizing {
			// Bootstrapping: accept generously.
			g.maxDistance = g.clampMaxDistance(g.bootstrapDistance)
		} else {
			// Fewer points than targeted tightens acceptance
			// proportionally, but never below the bootstrap floor.
			ratioAvailablePoints := math.Min(float64(g.numberOfDetectedKeypoints)/g.grid.TargetKeypoints(), 1.0)
			g.maxDistance = g.clampMaxDistance(math.Max(ratioAvailablePoints*g.maxDistance, g.bootstrapDistance))
		}
	}

	if err := g.latticeLeft.SetFeatures(frame.KeypointsLeft, frame.DescriptorsLeft); err != nil {
		return errors.Wrap(err, "can't load left feature lattice")
	}
	if err := g.latticeRight.SetFeatures(frame.KeypointsRight, frame.DescriptorsRight); err != nil {
		return errors.Wrap(err, "can't load right feature lattice")
	}

	g.beginDiagnostics(frame)
	return nil
}

// matchPair is a left feature paired with its best right feature.
type matchPair struct {
	left  *IntensityFeature
	right *IntensityFeature
}

// matchEpipolar pairs left and right features whose rows satisfy
// left.row == right.row + offset, then prunes the matched features from
// both lattices so later offset passes only search the remainder.
//
// The sweep is a single forward two-pointer merge over the row-major
// sorted feature lists. For each row-aligned left feature all right
// features on the shifted row with non-negative column delta are scanned
// and the minimum descriptor distance wins; the pairing is accepted only
// strictly below the current maximum distance. An accepted right feature is
// claimed: the right pointer advances past it.
func (g *Generator) matchEpipolar(offset int) []matchPair {
	g.latticeLeft.SortFeatureVector()
	g.latticeRight.SortFeatureVector()

	left := g.latticeLeft.Features()
	right := g.latticeRight.Features()

	matchedLeft := roaring.New()
	matchedRight := roaring.New()
	var pairs []matchPair

	li, ri := 0, 0
	for li < len(left) && ri < len(right) {
		l := left[li]
		shiftedRow := right[ri].Row + offset
		if l.Row < shiftedRow {
			li++
			continue
		}
		if shiftedRow < l.Row {
			ri++
			continue
		}

		// Rows aligned: scan the right features sharing this epipolar
		// line. Right columns are ascending, so the first negative
		// column delta ends the scan.
		best := -1
		bestDistance := math.Inf(1)
		for rs := ri; rs < len(right) && right[rs].Row+offset == l.Row; rs++ {
			if l.Col-right[rs].Col < 0 {
				break
			}
			d := float64(HammingDistance(l.Descriptor, right[rs].Descriptor))
			if d < bestDistance {
				bestDistance = d
				best = rs
			}
		}

		if best >= 0 && bestDistance < g.maxDistance {
			matchedLeft.Add(uint32(l.Index))
			matchedRight.Add(uint32(right[best].Index))
			pairs = append(pairs, matchPair{left: l, right: right[best]})
			ri = best + 1
		}
		li++
	}

	g.latticeLeft.Prune(matchedLeft)
	g.latticeRight.Prune(matchedRight)
	return pairs
}

// EpipolarMatches runs one matching pass at the given epipolar row offset
// and returns the paired keypoints, left and right, in match order. The
// matched features are pruned from both lattices.
func (g *Generator) EpipolarMatches(offset int) ([]Keypoint, []Keypoint) {
	pairs := g.matchEpipolar(offset)
	keypointsLeft := make([]Keypoint, len(pairs))
	keypointsRight := make([]Keypoint, len(pairs))
	for i, pair := range pairs {
		keypointsLeft[i] = pair.left.Keypoint
		keypointsRight[i] = pair.right.Keypoint
	}
	return keypointsLeft, keypointsRight
}

// ComputeFramePoints iterates the configured epipolar offsets in order and
// turns every accepted pairing with sufficient disparity into a FramePoint.
// Pairs below the minimum disparity are dropped, not retried: they are too
// close to the horizon to triangulate reliably. Zero resulting points is a
// valid outcome, not an error.
//
// Initialize must have loaded the frame first.
func (g *Generator) ComputeFramePoints(frame *Frame) []FramePoint {
	var points []FramePoint
	dropped := 0
	for _, offset := range g.epipolarOffsets {
		pairs := g.matchEpipolar(offset)
		g.diag.MatchesPerOffset = append(g.diag.MatchesPerOffset, OffsetMatches{Offset: offset, Matches: len(pairs)})
		for _, pair := range pairs {
			disparity := pair.left.Keypoint.X - pair.right.Keypoint.X
			if disparity < g.cfg.MinimumDisparityPixels {
				dropped++
				continue
			}
			points = append(points, FramePoint{
				ID:              g.ids.Next(),
				KeypointLeft:    pair.left.Keypoint,
				KeypointRight:   pair.right.Keypoint,
				DescriptorLeft:  pair.left.Descriptor,
				DescriptorRight: pair.right.Descriptor,
				DisparityPixels: disparity,
			})
		}
	}

	g.diag.AcceptedPoints = len(points)
	g.diag.DroppedByDisparity = dropped
	g.logger.Debug("number of new stereo points",
		"frame", frame.ID,
		"points", len(points),
		"dropped_by_disparity", dropped,
	)
	return points
}

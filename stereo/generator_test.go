package stereo

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

// brightnessDetector reports every pixel brighter than the threshold as a
// keypoint, in region-local coordinates. Deterministic stand-in for a real
// corner detector.
type brightnessDetector struct{}

func (brightnessDetector) Detect(img *image.Gray, region image.Rectangle, threshold float64) ([]Keypoint, error) {
	var kps []Keypoint
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			if float64(img.GrayAt(x, y).Y) > threshold {
				kps = append(kps, NewKeypoint(float64(x-region.Min.X), float64(y-region.Min.Y)))
			}
		}
	}
	return kps, nil
}

// patchExtractor derives a 256-bit descriptor from the 16x16 brightness
// pattern around the keypoint, so identical local appearance yields
// identical descriptors on both sides.
type patchExtractor struct{}

func (patchExtractor) Compute(img *image.Gray, kps []Keypoint) ([]Keypoint, []Descriptor, error) {
	descriptors := make([]Descriptor, len(kps))
	for i, kp := range kps {
		d := make(Descriptor, 32)
		x, y := int(kp.X), int(kp.Y)
		for bit := 0; bit < 256; bit++ {
			dx := bit%16 - 8
			dy := bit/16 - 8
			if img.GrayAt(x+dx, y+dy).Y > 127 {
				d[bit/8] |= 1 << (bit % 8)
			}
		}
		descriptors[i] = d
	}
	return kps, descriptors, nil
}

func (patchExtractor) DescriptorBits() int { return 256 }

// noopExtractor only supplies the descriptor length; used when tests inject
// features directly with extractFeatures=false.
type noopExtractor struct{}

func (noopExtractor) Compute(_ *image.Gray, kps []Keypoint) ([]Keypoint, []Descriptor, error) {
	return kps, make([]Descriptor, len(kps)), nil
}

func (noopExtractor) DescriptorBits() int { return 256 }

func brightPixelPair(t *testing.T, leftX, rightX int) *Frame {
	t.Helper()
	left := image.NewGray(image.Rect(0, 0, 100, 100))
	right := image.NewGray(image.Rect(0, 0, 100, 100))
	left.SetGray(leftX, 50, color.Gray{Y: 255})
	right.SetGray(rightX, 50, color.Gray{Y: 255})
	frame, err := NewFrame(left, right)
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	return frame
}

func newTestGenerator(t *testing.T, cfg Config, opts ...Option) *Generator {
	t.Helper()
	g, err := NewGenerator(100, 100, cfg, brightnessDetector{}, patchExtractor{}, opts...)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	return g
}

func TestSingleBrightPixelCorrespondence(t *testing.T) {
	g := newTestGenerator(t, DefaultConfig())
	frame := brightPixelPair(t, 50, 45)

	if err := g.Initialize(frame, true); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	points := g.ComputeFramePoints(frame)

	if len(points) != 1 {
		t.Fatalf("expected exactly one correspondence, got %d", len(points))
	}
	if points[0].DisparityPixels != 5 {
		t.Errorf("disparity = %v, want 5", points[0].DisparityPixels)
	}
	if points[0].ID == 0 {
		t.Error("frame point must carry a non-zero identifier")
	}
	if points[0].KeypointLeft.X != 50 || points[0].KeypointRight.X != 45 {
		t.Errorf("unexpected pairing: left x=%v right x=%v", points[0].KeypointLeft.X, points[0].KeypointRight.X)
	}
}

func TestZeroDisparityIsDropped(t *testing.T) {
	g := newTestGenerator(t, DefaultConfig()) // minimum disparity 1.0
	frame := brightPixelPair(t, 50, 50)

	if err := g.Initialize(frame, true); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	points := g.ComputeFramePoints(frame)
	if len(points) != 0 {
		t.Fatalf("zero-disparity pair must be dropped, got %d points", len(points))
	}
	if g.Diagnostics().DroppedByDisparity != 1 {
		t.Errorf("dropped count = %d, want 1", g.Diagnostics().DroppedByDisparity)
	}
}

func TestEmptyImagesYieldNoPointsAndNoError(t *testing.T) {
	g := newTestGenerator(t, DefaultConfig())
	frame, err := NewFrame(image.NewGray(image.Rect(0, 0, 100, 100)), image.NewGray(image.Rect(0, 0, 100, 100)))
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	if err := g.Initialize(frame, true); err != nil {
		t.Fatalf("a blank frame is not an error: %v", err)
	}
	if points := g.ComputeFramePoints(frame); len(points) != 0 {
		t.Errorf("expected zero correspondences, got %d", len(points))
	}
}

func TestComputeFramePointsDeterminism(t *testing.T) {
	run := func() []FramePoint {
		ids := NewCounterID()
		g := newTestGenerator(t, DefaultConfig(), WithIDGenerator(ids))
		frame := brightPixelPair(t, 50, 45)
		if err := g.Initialize(frame, true); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		return g.ComputeFramePoints(frame)
	}

	first := run()
	second := run()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("identical inputs must give identical correspondences (-first +second):\n%s", diff)
	}
}

// injectFrame loads hand-built features through the extractFeatures=false
// path.
func injectFrame(t *testing.T, g *Generator, left, right []Keypoint, leftDesc, rightDesc []Descriptor) *Frame {
	t.Helper()
	frame, err := NewFrame(image.NewGray(image.Rect(0, 0, 100, 100)), image.NewGray(image.Rect(0, 0, 100, 100)))
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	frame.KeypointsLeft = left
	frame.KeypointsRight = right
	frame.DescriptorsLeft = leftDesc
	frame.DescriptorsRight = rightDesc
	if err := g.Initialize(frame, false); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return frame
}

func newInjectionGenerator(t *testing.T, cfg Config) *Generator {
	t.Helper()
	g, err := NewGenerator(100, 100, cfg, brightnessDetector{}, noopExtractor{})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	return g
}

func TestMatchingRespectsRowOffsetAndDisparitySign(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaximumEpipolarSearchOffsetPixels = 3
	g := newInjectionGenerator(t, cfg)

	left := []Keypoint{
		NewKeypoint(40, 10), // matches on the nominal line
		NewKeypoint(60, 20), // matches one row off
		NewKeypoint(30, 30), // right candidate sits to its right: must stay unmatched
	}
	right := []Keypoint{
		NewKeypoint(35, 10),
		NewKeypoint(55, 19),
		NewKeypoint(34, 30),
	}
	descs := func(n int) []Descriptor {
		out := make([]Descriptor, n)
		for i := range out {
			out[i] = descWithLeadingBits(0)
		}
		return out
	}
	injectFrame(t, g, left, right, descs(len(left)), descs(len(right)))

	var gotPairs [][2]Keypoint
	for _, offset := range g.EpipolarOffsets() {
		l, r := g.EpipolarMatches(offset)
		for i := range l {
			if int(l[i].Y) != int(r[i].Y)+offset {
				t.Errorf("offset %d pairing violates the row constraint: left y=%v right y=%v", offset, l[i].Y, r[i].Y)
			}
			if l[i].X-r[i].X < 0 {
				t.Errorf("pairing violates the disparity sign: left x=%v right x=%v", l[i].X, r[i].X)
			}
			gotPairs = append(gotPairs, [2]Keypoint{l[i], r[i]})
		}
	}

	if len(gotPairs) != 2 {
		t.Fatalf("expected 2 pairings, got %d", len(gotPairs))
	}
	if gotPairs[0][0].Y != 10 || gotPairs[1][0].Y != 20 {
		t.Errorf("unexpected pairing order: %v", gotPairs)
	}
}

func TestMatchingHonorsAcceptanceThreshold(t *testing.T) {
	g := newInjectionGenerator(t, DefaultConfig())

	// Descriptor distance is 30, above the bootstrap threshold 25.6.
	left := []Keypoint{NewKeypoint(40, 10)}
	right := []Keypoint{NewKeypoint(35, 10)}
	injectFrame(t, g, left, right,
		[]Descriptor{descWithLeadingBits(30)},
		[]Descriptor{descWithLeadingBits(0)},
	)

	if l, _ := g.EpipolarMatches(0); len(l) != 0 {
		t.Fatalf("distance above max_dist must not match, got %d pairings", len(l))
	}
}

func TestMatchingPicksMinimumDistanceCandidate(t *testing.T) {
	g := newInjectionGenerator(t, DefaultConfig())

	left := []Keypoint{NewKeypoint(50, 10)}
	right := []Keypoint{
		NewKeypoint(30, 10), // distance 20
		NewKeypoint(45, 10), // distance 4: the best
		NewKeypoint(48, 10), // distance 10
	}
	injectFrame(t, g, left, right,
		[]Descriptor{descWithLeadingBits(0)},
		[]Descriptor{descWithLeadingBits(20), descWithLeadingBits(4), descWithLeadingBits(10)},
	)

	l, r := g.EpipolarMatches(0)
	if len(l) != 1 {
		t.Fatalf("expected one pairing, got %d", len(l))
	}
	if r[0].X != 45 {
		t.Errorf("matched right x=%v, want the minimum-distance candidate at 45", r[0].X)
	}
}

func TestMatchedFeaturesArePrunedAcrossOffsets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaximumEpipolarSearchOffsetPixels = 2
	g := newInjectionGenerator(t, cfg)

	// The single right feature is claimable at offset 0 and would also be
	// claimable at offset +1 by the second left feature.
	left := []Keypoint{NewKeypoint(40, 10), NewKeypoint(42, 11)}
	right := []Keypoint{NewKeypoint(35, 10)}
	injectFrame(t, g, left, right,
		[]Descriptor{descWithLeadingBits(0), descWithLeadingBits(0)},
		[]Descriptor{descWithLeadingBits(0)},
	)

	total := 0
	for _, offset := range g.EpipolarOffsets() {
		l, _ := g.EpipolarMatches(offset)
		total += len(l)
	}
	if total != 1 {
		t.Fatalf("a right feature may be consumed once across offsets, got %d pairings", total)
	}
}

func TestOneRightFeaturePerLeftFeaturePerPass(t *testing.T) {
	g := newInjectionGenerator(t, DefaultConfig())

	// Two left features share the row; the single right feature can only
	// serve one of them.
	left := []Keypoint{NewKeypoint(40, 10), NewKeypoint(60, 10)}
	right := []Keypoint{NewKeypoint(35, 10)}
	injectFrame(t, g, left, right,
		[]Descriptor{descWithLeadingBits(0), descWithLeadingBits(0)},
		[]Descriptor{descWithLeadingBits(0)},
	)

	l, _ := g.EpipolarMatches(0)
	if len(l) != 1 {
		t.Fatalf("expected one pairing, got %d", len(l))
	}
	if l[0].X != 40 {
		t.Errorf("the first left feature in sweep order claims the match, got x=%v", l[0].X)
	}
}

func TestInitializeCountMismatchSurfaced(t *testing.T) {
	g := newInjectionGenerator(t, DefaultConfig())
	frame, err := NewFrame(image.NewGray(image.Rect(0, 0, 100, 100)), image.NewGray(image.Rect(0, 0, 100, 100)))
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	frame.KeypointsLeft = []Keypoint{NewKeypoint(1, 1), NewKeypoint(2, 2)}
	frame.DescriptorsLeft = []Descriptor{descWithLeadingBits(0)}

	if err := g.Initialize(frame, false); !errors.Is(err, ErrCountMismatch) {
		t.Fatalf("expected ErrCountMismatch, got %v", err)
	}
}

func TestMaxDistanceAdaptation(t *testing.T) {
	g := newTestGenerator(t, DefaultConfig())
	bootstrap := bootstrapDistanceFraction * 256.0

	// Localizing resets to the bootstrap fraction.
	frame := brightPixelPair(t, 50, 45)
	if err := g.Initialize(frame, true); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if got := g.MaxMatchingDistance(); got != bootstrap {
		t.Fatalf("localizing max distance = %v, want %v", got, bootstrap)
	}

	// Tracking with a single detected keypoint against a target of 25
	// tightens proportionally, floored at the bootstrap value.
	frame = brightPixelPair(t, 50, 45)
	frame.Status = Tracking
	if err := g.Initialize(frame, true); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if got := g.MaxMatchingDistance(); got != bootstrap {
		t.Errorf("tracking max distance must never fall below the bootstrap floor, got %v", got)
	}

	// With detection saturating the target the threshold is unchanged.
	left := image.NewGray(image.Rect(0, 0, 100, 100))
	right := image.NewGray(image.Rect(0, 0, 100, 100))
	for y := 10; y < 60; y += 10 {
		for x := 10; x < 60; x += 10 {
			left.SetGray(x, y, color.Gray{Y: 255})
			right.SetGray(x-5, y, color.Gray{Y: 255})
		}
	}
	full, err := NewFrame(left, right)
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	full.Status = Tracking
	if err := g.Initialize(full, true); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if got := g.MaxMatchingDistance(); got != bootstrap {
		t.Errorf("ratio is capped at 1.0, max distance must hold at %v, got %v", bootstrap, got)
	}
}

func TestEpipolarOffsetOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaximumEpipolarSearchOffsetPixels = 3
	g := newInjectionGenerator(t, cfg)

	want := []int{0, 1, -1, 2, -2}
	if diff := cmp.Diff(want, g.EpipolarOffsets()); diff != "" {
		t.Errorf("offset order mismatch (-want +got):\n%s", diff)
	}
}

func TestHammingDistance(t *testing.T) {
	a := descWithLeadingBits(10)
	b := descWithLeadingBits(4)
	if got := HammingDistance(a, b); got != 6 {
		t.Errorf("distance = %d, want 6", got)
	}
	if got := HammingDistance(a, a); got != 0 {
		t.Errorf("self distance = %d, want 0", got)
	}
	if got := Descriptor(make([]byte, 32)).Bits(); got != 256 {
		t.Errorf("bits = %d, want 256", got)
	}
	if math.Signbit(float64(HammingDistance(a, b))) {
		t.Error("distance must be non-negative")
	}
}

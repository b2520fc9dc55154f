package stereo

import (
	"log/slog"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// OffsetMatches is the number of pairings produced by one epipolar offset
// pass.
type OffsetMatches struct {
	Offset  int
	Matches int
}

// Diagnostics is the per-frame telemetry snapshot the engine exposes to
// downstream consumers (logging and visualization are external).
type Diagnostics struct {
	FrameID uuid.UUID
	Status  FrameStatus

	KeypointsLeft  int
	KeypointsRight int

	// DetectedKeypoints is the average of both sides, the count the
	// acceptance-threshold adaptation works from.
	DetectedKeypoints int
	TargetKeypoints   float64

	RegionCounts      []int
	RegionCountMean   float64
	RegionCountStdDev float64

	// Thresholds are the per-region sensitivity thresholds as adapted and
	// already pushed for the next frame's detection, not the ones this
	// frame was detected with.
	Thresholds []float64

	MaxMatchingDistance float64

	MatchesPerOffset   []OffsetMatches
	AcceptedPoints     int
	DroppedByDisparity int
}

// LogValue renders the snapshot for slog.
func (d Diagnostics) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("frame", d.FrameID.String()),
		slog.String("status", d.Status.String()),
		slog.Int("keypoints_left", d.KeypointsLeft),
		slog.Int("keypoints_right", d.KeypointsRight),
		slog.Int("detected_keypoints", d.DetectedKeypoints),
		slog.Float64("target_keypoints", d.TargetKeypoints),
		slog.Float64("region_count_mean", d.RegionCountMean),
		slog.Float64("region_count_stddev", d.RegionCountStdDev),
		slog.Float64("max_matching_distance", d.MaxMatchingDistance),
		slog.Int("accepted_points", d.AcceptedPoints),
		slog.Int("dropped_by_disparity", d.DroppedByDisparity),
	)
}

// beginDiagnostics snapshots the detection side of a frame; the matching
// counters are filled in by ComputeFramePoints.
func (g *Generator) beginDiagnostics(frame *Frame) {
	regions := g.grid.Regions()
	counts := make([]int, len(regions))
	thresholds := make([]float64, len(regions))
	countsF := make([]float64, len(regions))
	for i, region := range regions {
		counts[i] = region.LastKeypointCount()
		countsF[i] = float64(counts[i])
		thresholds[i] = region.Threshold()
	}
	mean := stat.Mean(countsF, nil)
	stddev := 0.0
	if len(countsF) > 1 {
		stddev = stat.StdDev(countsF, nil)
	}

	g.diag = Diagnostics{
		FrameID:             frame.ID,
		Status:              frame.Status,
		KeypointsLeft:       len(frame.KeypointsLeft),
		KeypointsRight:      len(frame.KeypointsRight),
		DetectedKeypoints:   frame.NumberOfDetectedKeypoints,
		TargetKeypoints:     g.grid.TargetKeypoints(),
		RegionCounts:        counts,
		RegionCountMean:     mean,
		RegionCountStdDev:   stddev,
		Thresholds:          thresholds,
		MaxMatchingDistance: g.maxDistance,
	}
}

// Diagnostics returns the telemetry snapshot of the most recent frame.
func (g *Generator) Diagnostics() Diagnostics {
	return g.diag
}

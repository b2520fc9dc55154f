package stereo

import (
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"
)

// IntensityFeature couples a keypoint with its descriptor and the lattice
// cell it occupies (the truncated pixel position). Index is the feature's
// current position in the owning flat list; SortFeatureVector and Prune
// keep it up to date.
type IntensityFeature struct {
	Keypoint   Keypoint
	Descriptor Descriptor
	Row        int
	Col        int
	Index      int
}

// FeatureLattice indexes one image side's current features twice: as a
// row/col-addressable grid of cells and as a flat list. After SetFeatures
// the two views are a bijection; the flat list's row-major sort order is
// established explicitly via SortFeatureVector before each matching pass.
type FeatureLattice struct {
	rows     int
	cols     int
	cells    [][]*IntensityFeature
	features []*IntensityFeature
}

// NewFeatureLattice creates an unconfigured lattice. Configure must be
// called once before SetFeatures.
func NewFeatureLattice() *FeatureLattice {
	return &FeatureLattice{}
}

// Configure allocates an empty rows×cols cell grid. Configuration is
// one-shot per lattice instance; a second call fails without touching the
// first configuration.
func (l *FeatureLattice) Configure(rows, cols int) error {
	if l.cells != nil {
		return errors.Wrapf(ErrAlreadyConfigured, "lattice is %dx%d", l.rows, l.cols)
	}
	if rows <= 0 || cols <= 0 {
		return errors.Wrapf(ErrBadConfig, "lattice dimensions must be positive, got %dx%d", rows, cols)
	}
	l.rows = rows
	l.cols = cols
	l.cells = make([][]*IntensityFeature, rows)
	for r := range l.cells {
		l.cells[r] = make([]*IntensityFeature, cols)
	}
	return nil
}

// Rows returns the configured number of lattice rows.
func (l *FeatureLattice) Rows() int { return l.rows }

// Cols returns the configured number of lattice columns.
func (l *FeatureLattice) Cols() int { return l.cols }

// Len returns the number of features currently held.
func (l *FeatureLattice) Len() int { return len(l.features) }

// Features returns the flat feature list. The slice is owned by the
// lattice; callers must not reorder it.
func (l *FeatureLattice) Features() []*IntensityFeature { return l.features }

// At returns the feature occupying cell (row, col), or nil.
func (l *FeatureLattice) At(row, col int) *IntensityFeature {
	return l.cells[row][col]
}

// SetFeatures replaces the lattice content with one feature per
// keypoint/descriptor pair. It fails without mutating the lattice if the
// counts differ or any keypoint lies outside the configured bounds. When
// two keypoints truncate to the same cell the later one wins the cell;
// both remain in the flat list.
func (l *FeatureLattice) SetFeatures(keypoints []Keypoint, descriptors []Descriptor) error {
	if l.cells == nil {
		return errors.New("lattice is not configured")
	}
	if len(keypoints) != len(descriptors) {
		return errors.Wrapf(ErrCountMismatch, "%d keypoints, %d descriptors", len(keypoints), len(descriptors))
	}
	for i := range keypoints {
		row := int(math.Floor(keypoints[i].Y))
		col := int(math.Floor(keypoints[i].X))
		if row < 0 || row >= l.rows || col < 0 || col >= l.cols {
			return errors.Wrapf(ErrOutOfBounds, "keypoint %d at (%.1f, %.1f) in %dx%d lattice",
				i, keypoints[i].X, keypoints[i].Y, l.rows, l.cols)
		}
	}

	for r := range l.cells {
		for c := range l.cells[r] {
			l.cells[r][c] = nil
		}
	}
	l.features = make([]*IntensityFeature, 0, len(keypoints))

	for i := range keypoints {
		feature := &IntensityFeature{
			Keypoint:   keypoints[i],
			Descriptor: descriptors[i],
			Row:        int(math.Floor(keypoints[i].Y)),
			Col:        int(math.Floor(keypoints[i].X)),
			Index:      i,
		}
		l.features = append(l.features, feature)
		l.cells[feature.Row][feature.Col] = feature
	}
	return nil
}

// SortFeatureVector reorders the flat list row-major: by row, then column.
// The epipolar matching sweep depends on this order.
func (l *FeatureLattice) SortFeatureVector() {
	sort.SliceStable(l.features, func(i, j int) bool {
		if l.features[i].Row != l.features[j].Row {
			return l.features[i].Row < l.features[j].Row
		}
		return l.features[i].Col < l.features[j].Col
	})
	for i, feature := range l.features {
		feature.Index = i
	}
}

// Prune compacts the flat list in place, dropping every feature whose
// pre-prune index is in matched and preserving the relative order of the
// survivors. Pruned features also vacate their lattice cells.
func (l *FeatureLattice) Prune(matched *roaring.Bitmap) {
	kept := l.features[:0]
	for i, feature := range l.features {
		if matched != nil && matched.Contains(uint32(i)) {
			if l.cells[feature.Row][feature.Col] == feature {
				l.cells[feature.Row][feature.Col] = nil
			}
			continue
		}
		feature.Index = len(kept)
		kept = append(kept, feature)
	}
	for i := len(kept); i < len(l.features); i++ {
		l.features[i] = nil
	}
	l.features = kept
}

package dataset

import (
	"bufio"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CameraCalibration holds the pinhole intrinsics and the pixel-scaled
// translation of one rectified KITTI camera, read from its projection
// matrix in calib.txt.
type CameraCalibration struct {
	Fx float64
	Fy float64
	Cx float64
	Cy float64
	// Translation is the fourth projection-matrix column (tx, ty, tz).
	// For the right camera tx equals -fx times the baseline in meters.
	Translation [3]float64
}

// BaselineMeters derives the stereo baseline from the translation. Only
// meaningful on the right camera of a rectified pair.
func (c CameraCalibration) BaselineMeters() float64 {
	if c.Fx == 0 {
		return 0
	}
	return -c.Translation[0] / c.Fx
}

// Sequence is an opened KITTI odometry sequence directory. Images live in
// image_0 (left) and image_1 (right) as zero-padded PNG files, one
// timestamp per frame in times.txt and projection matrices in calib.txt.
type Sequence struct {
	root    string
	cameras []CameraCalibration
	times   []float64
	logger  *slog.Logger
}

// OpenSequence validates the directory layout and loads calibration and
// timestamps. A nil logger falls back to the default one.
func OpenSequence(root string, logger *slog.Logger) (*Sequence, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sequence{root: root, logger: logger}
	if err := s.loadCalibration(); err != nil {
		return nil, errors.Wrap(err, "can't load calibration")
	}
	if err := s.loadTimestamps(); err != nil {
		return nil, errors.Wrap(err, "can't load timestamps")
	}
	if len(s.cameras) < 2 {
		return nil, errors.Errorf("sequence has %d cameras, need a stereo pair", len(s.cameras))
	}
	return s, nil
}

// loadCalibration parses calib.txt. A calibration line is used only when
// the matching image_<i> directory actually contains the first frame, so
// color cameras of the full KITTI layout are skipped on grayscale-only
// downloads.
func (s *Sequence) loadCalibration() error {
	f, err := os.Open(filepath.Join(s.root, "calib.txt"))
	if err != nil {
		return errors.Wrap(err, "can't open calib.txt")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for i := 0; scanner.Scan(); i++ {
		line := scanner.Text()
		if _, err := os.Stat(s.imagePath(i, 0)); err != nil {
			continue
		}
		cam, err := parseProjectionLine(line)
		if err != nil {
			return errors.Wrapf(err, "calib.txt line %d", i)
		}
		s.logger.Debug("loaded camera calibration",
			slog.Int("camera", i),
			slog.Float64("fx", cam.Fx), slog.Float64("fy", cam.Fy),
			slog.Float64("cx", cam.Cx), slog.Float64("cy", cam.Cy))
		s.cameras = append(s.cameras, cam)
	}
	return errors.Wrap(scanner.Err(), "can't read calib.txt")
}

// parseProjectionLine reads a "P0: <12 floats>" row-major 3x4 projection
// matrix line.
func parseProjectionLine(line string) (CameraCalibration, error) {
	if len(line) < 4 {
		return CameraCalibration{}, errors.Errorf("short projection line %q", line)
	}
	fields := strings.Fields(line[4:])
	if len(fields) < 12 {
		return CameraCalibration{}, errors.Errorf("projection line has %d values, want 12", len(fields))
	}
	vals := make([]float64, 12)
	for i, field := range fields[:12] {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return CameraCalibration{}, errors.Wrapf(err, "value %d", i)
		}
		vals[i] = v
	}
	return CameraCalibration{
		Fx:          vals[0],
		Fy:          vals[5],
		Cx:          vals[2],
		Cy:          vals[6],
		Translation: [3]float64{vals[3], vals[7], vals[11]},
	}, nil
}

func (s *Sequence) loadTimestamps() error {
	f, err := os.Open(filepath.Join(s.root, "times.txt"))
	if err != nil {
		return errors.Wrap(err, "can't open times.txt")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		t, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return errors.Wrapf(err, "timestamp %d", len(s.times))
		}
		s.times = append(s.times, t)
	}
	return errors.Wrap(scanner.Err(), "can't read times.txt")
}

func (s *Sequence) imagePath(camera, frame int) string {
	return filepath.Join(s.root, fmt.Sprintf("image_%d", camera), fmt.Sprintf("%06d.png", frame))
}

// Len is the number of frames in the sequence.
func (s *Sequence) Len() int {
	return len(s.times)
}

// Timestamp returns the capture time of the frame in seconds.
func (s *Sequence) Timestamp(frame int) (float64, error) {
	if frame < 0 || frame >= len(s.times) {
		return 0, errors.Errorf("frame %d out of range [0, %d)", frame, len(s.times))
	}
	return s.times[frame], nil
}

// Cameras returns the loaded camera calibrations, left first.
func (s *Sequence) Cameras() []CameraCalibration {
	return s.cameras
}

// BaselinePixels is the fourth projection-matrix column of the first
// camera with a nonzero horizontal offset, matching the KITTI convention
// for the right camera of the grayscale pair.
func (s *Sequence) BaselinePixels() [3]float64 {
	for _, cam := range s.cameras {
		if cam.Translation[0] != 0 {
			return cam.Translation
		}
	}
	return [3]float64{}
}

// StereoPair loads the left and right grayscale images of the frame.
func (s *Sequence) StereoPair(frame int) (*image.Gray, *image.Gray, error) {
	left, err := loadGrayPNG(s.imagePath(0, frame))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "can't load left image of frame %d", frame)
	}
	right, err := loadGrayPNG(s.imagePath(1, frame))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "can't load right image of frame %d", frame)
	}
	return left, right, nil
}

func loadGrayPNG(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, "can't decode png")
	}
	if gray, ok := img.(*image.Gray); ok {
		return gray, nil
	}
	gray := image.NewGray(img.Bounds())
	draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)
	return gray, nil
}

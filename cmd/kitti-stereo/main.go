// Command kitti-stereo runs the stereo frame point generator over a KITTI
// odometry sequence and logs per-frame matching telemetry.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"

	"github.com/XxChang/rslam/dataset"
	"github.com/XxChang/rslam/keypoints"
	"github.com/XxChang/rslam/opencv"
	"github.com/XxChang/rslam/stereo"
)

func main() {
	datasetPath := flag.String("dataset", "", "path to a KITTI odometry sequence directory (required)")
	configPath := flag.String("config", "", "path to a JSON generator configuration, defaults apply when empty")
	maxFrames := flag.Int("frames", 0, "number of frames to process, 0 means the whole sequence")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *datasetPath == "" {
		fmt.Fprintln(os.Stderr, "missing required -dataset flag")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*datasetPath, *configPath, *maxFrames, logger); err != nil {
		logger.Error("run failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(datasetPath, configPath string, maxFrames int, logger *slog.Logger) error {
	cfg := stereo.DefaultConfig()
	if configPath != "" {
		loaded, err := stereo.LoadConfig(configPath)
		if err != nil {
			return errors.Wrap(err, "can't load configuration")
		}
		cfg = loaded
	}

	seq, err := dataset.OpenSequence(datasetPath, logger)
	if err != nil {
		return errors.Wrap(err, "can't open sequence")
	}
	cams := seq.Cameras()
	logger.Info("opened sequence",
		slog.String("path", datasetPath),
		slog.Int("frames", seq.Len()),
		slog.Float64("fx", cams[0].Fx),
		slog.Float64("baseline_m", cams[1].BaselineMeters()))

	if seq.Len() == 0 {
		return errors.New("sequence has no frames")
	}

	left, right, err := seq.StereoPair(0)
	if err != nil {
		return errors.Wrap(err, "can't load first stereo pair")
	}
	width, height := left.Bounds().Dx(), left.Bounds().Dy()

	detector, extractor, cleanup, err := buildCapabilities(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	gen, err := stereo.NewGenerator(width, height, cfg, detector, extractor, stereo.WithLogger(logger))
	if err != nil {
		return errors.Wrap(err, "can't build generator")
	}

	frames := seq.Len()
	if maxFrames > 0 && maxFrames < frames {
		frames = maxFrames
	}

	tracking := false
	totalPoints := 0
	for i := 0; i < frames; i++ {
		if i > 0 {
			left, right, err = seq.StereoPair(i)
			if err != nil {
				return errors.Wrapf(err, "frame %d", i)
			}
		}
		timestamp, err := seq.Timestamp(i)
		if err != nil {
			return errors.Wrapf(err, "frame %d", i)
		}

		frame, err := stereo.NewFrame(left, right)
		if err != nil {
			return errors.Wrapf(err, "frame %d", i)
		}
		if tracking {
			frame.Status = stereo.Tracking
		}

		if err := gen.Initialize(frame, true); err != nil {
			return errors.Wrapf(err, "frame %d", i)
		}
		points := gen.ComputeFramePoints(frame)
		if len(points) > 0 {
			tracking = true
		}
		totalPoints += len(points)

		diag := gen.Diagnostics()
		logger.Info("frame processed",
			slog.Int("index", i),
			slog.Float64("timestamp_s", timestamp),
			slog.String("status", frame.Status.String()),
			slog.Int("keypoints", frame.NumberOfDetectedKeypoints),
			slog.Int("frame_points", len(points)),
			slog.Float64("max_matching_distance", diag.MaxMatchingDistance))
		logger.Debug("frame diagnostics", slog.Any("diagnostics", diag))
	}

	logger.Info("sequence done", slog.Int("frames", frames), slog.Int("frame_points", totalPoints))
	return nil
}

// buildCapabilities resolves the configured descriptor type to a matched
// detector/extractor pair: the pure-Go capability for BRIEF-256, the
// OpenCV-backed one for ORB-256.
func buildCapabilities(cfg stereo.Config) (stereo.Detector, stereo.Extractor, func() error, error) {
	descriptor, err := stereo.ParseDescriptorType(cfg.DescriptorType)
	if err != nil {
		return nil, nil, nil, err
	}
	switch descriptor {
	case stereo.DescriptorBRIEF256:
		return keypoints.NewFASTDetector(), keypoints.NewBRIEFExtractor(), func() error { return nil }, nil
	case stereo.DescriptorORB256:
		orb := opencv.NewORBExtractor()
		return opencv.NewFASTDetector(), orb, orb.Close, nil
	default:
		return nil, nil, nil, errors.Errorf("no capability for descriptor type %v", descriptor)
	}
}

// Package stereo implements the perception front-end of a stereo
// visual-odometry pipeline: spatially uniform keypoint detection with
// per-region adaptive thresholds, appearance descriptor extraction through
// pluggable capabilities, and greedy left/right correspondence search along
// (near-)epipolar lines producing stereo frame points for triangulation.
package stereo

// Package dataset reads KITTI odometry sequences: rectified grayscale
// stereo pairs, per-frame timestamps and the projection calibration of
// each camera.
package dataset

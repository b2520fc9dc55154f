// Package keypoints provides pure-Go implementations of the detection and
// description capabilities consumed by the stereo engine: a FAST corner
// detector and a BRIEF 256-bit binary descriptor extractor. No cgo or
// OpenCV required; see the opencv package for the OpenCV-backed variants.
package keypoints

// Package opencv provides OpenCV-backed detector and extractor
// capabilities via gocv. It is the production-grade alternative to the
// pure-Go keypoints package and plugs into the same stereo interfaces.
//
// Callers need OpenCV installed on the host. Everything allocated on the
// C side is released before the adapters return, except for the
// long-lived ORB handle, which is freed by Close.
package opencv

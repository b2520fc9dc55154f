package keypoints

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func fillRect(img *image.Gray, r image.Rectangle, v uint8) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

func TestFASTBlankImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	kps, err := NewFASTDetector().Detect(img, img.Bounds(), 15)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(kps) != 0 {
		t.Errorf("blank image must yield no keypoints, got %d", len(kps))
	}
}

func TestFASTDetectsSquareCorners(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 60, 60))
	fillRect(img, image.Rect(20, 20, 40, 40), 255)

	kps, err := NewFASTDetector().Detect(img, img.Bounds(), 40)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(kps) == 0 {
		t.Fatal("expected corner detections on a bright square")
	}

	corners := [][2]float64{{20, 20}, {39, 20}, {20, 39}, {39, 39}}
	found := make([]bool, len(corners))
	for _, kp := range kps {
		for i, c := range corners {
			if math.Abs(kp.X-c[0]) <= 3 && math.Abs(kp.Y-c[1]) <= 3 {
				found[i] = true
			}
		}
	}
	for i, ok := range found {
		if !ok {
			t.Errorf("no detection near corner %v", corners[i])
		}
	}

	// Straight edge midpoints are not corners.
	edges := [][2]float64{{30, 20}, {30, 39}, {20, 30}, {39, 30}}
	for _, kp := range kps {
		for _, e := range edges {
			if math.Abs(kp.X-e[0]) <= 2 && math.Abs(kp.Y-e[1]) <= 2 {
				t.Errorf("detection at (%v,%v) too close to edge midpoint %v", kp.X, kp.Y, e)
			}
		}
	}
}

func TestFASTThresholdSuppressesLowContrast(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 60, 60))
	fillRect(img, image.Rect(20, 20, 40, 40), 50)

	detector := NewFASTDetector()
	low, err := detector.Detect(img, img.Bounds(), 20)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	high, err := detector.Detect(img, img.Bounds(), 60)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(low) == 0 {
		t.Error("low threshold must detect the square corners")
	}
	if len(high) != 0 {
		t.Errorf("threshold above the contrast must suppress detection, got %d", len(high))
	}
}

func TestFASTRegionLocalCoordinates(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 100))
	img.SetGray(50, 50, color.Gray{Y: 255})

	region := image.Rect(40, 40, 60, 60)
	kps, err := NewFASTDetector().Detect(img, region, 15)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(kps) != 1 {
		t.Fatalf("expected the single bright pixel, got %d keypoints", len(kps))
	}
	if kps[0].X != 10 || kps[0].Y != 10 {
		t.Errorf("keypoint at (%v,%v), want region-local (10,10)", kps[0].X, kps[0].Y)
	}
}

func TestFASTRegionClippedToImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	region := image.Rect(16, 16, 64, 64)
	if _, err := NewFASTDetector().Detect(img, region, 15); err != nil {
		t.Fatalf("oversized region must be clipped, got %v", err)
	}
}

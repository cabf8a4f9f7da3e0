package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, maxW, maxH int
		wantW, wantH     int
	}{
		{1280, 960, 640, 480, 640, 480},
		{1920, 1080, 640, 480, 640, 360},
		{480, 1280, 640, 480, 180, 480},
		{320, 240, 640, 480, 320, 240},
		{1000, 1000, 0, 0, 1000, 1000},
		{1000, 10, 640, 480, 640, 6},
	}
	for _, tt := range tests {
		w, h := Fit(tt.w, tt.h, tt.maxW, tt.maxH)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("Fit(%d,%d,%d,%d) = %dx%d, want %dx%d", tt.w, tt.h, tt.maxW, tt.maxH, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestPrepare_DownsizesPNG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	for y := range 720 {
		for x := range 1280 {
			src.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	out, err := Prepare(buf.Bytes(), 640, 480)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not JPEG: %v", err)
	}
	if cfg.Width != 640 || cfg.Height != 360 {
		t.Errorf("got %dx%d, want 640x360", cfg.Width, cfg.Height)
	}
}

func TestPrepare_Errors(t *testing.T) {
	var ie *Error
	if _, err := Prepare(nil, 640, 480); !errors.As(err, &ie) || !errors.Is(err, ErrEmptyImage) {
		t.Errorf("expected ErrEmptyImage, got %v", err)
	}
	if _, err := Prepare([]byte("not an image"), 640, 480); !errors.As(err, &ie) {
		t.Errorf("expected *Error, got %v", err)
	}
}

// Package imaging normalizes frames and probe photos before detection.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// JPEGQuality is used when re-encoding prepared images.
const JPEGQuality = 90

// ErrEmptyImage is returned for zero-length input.
var ErrEmptyImage = errors.New("empty image")

// Error reports an image that could not be decoded or re-encoded.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("image: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Fit returns the largest size within maxW x maxH that keeps the aspect
// ratio of w x h. Images already inside the box keep their size. A bound
// of 0 is ignored.
func Fit(w, h, maxW, maxH int) (int, int) {
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = min(scale, float64(maxW)/float64(w))
	}
	if maxH > 0 && h > maxH {
		scale = min(scale, float64(maxH)/float64(h))
	}
	if scale == 1.0 {
		return w, h
	}
	return max(1, int(math.Round(float64(w)*scale))), max(1, int(math.Round(float64(h)*scale)))
}

// Prepare decodes JPEG, PNG, BMP or WebP data, downsizes it to fit
// maxW x maxH and re-encodes it as JPEG.
func Prepare(data []byte, maxW, maxH int) ([]byte, error) {
	if len(data) == 0 {
		return nil, &Error{Err: ErrEmptyImage}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to decode image: %w", err)}
	}

	bounds := img.Bounds()
	w, h := Fit(bounds.Dx(), bounds.Dy(), maxW, maxH)
	out := img
	if w != bounds.Dx() || h != bounds.Dy() {
		resized := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		out = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to encode image: %w", err)}
	}
	return buf.Bytes(), nil
}

package types

// FrameTask represents a single decoded frame handed to the detector
type FrameTask struct {
	Index int
	Data  []byte
}

// BBox is a face bounding box in pixel coordinates [x1, y1, x2, y2]
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Area returns the box area, or 0 for an inverted/empty box.
func (b BBox) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Pose holds head rotation angles in degrees
type Pose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// RawDetection is one face reported by the detector for one frame.
// Produced once per face per frame and never mutated afterwards.
type RawDetection struct {
	BBox       BBox
	Confidence float64
	Pose       Pose
	Embedding  []float32
}

// ErrorResult captures the error object returned by the detector on failure
type ErrorResult struct {
	Error string `json:"error"`
}

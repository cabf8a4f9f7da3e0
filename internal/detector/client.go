// Package detector talks to a remote face detection/embedding server.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/andresmejia3/faceauth/internal/types"
)

const defaultDetectorURL = "http://localhost:8002"

// Client posts images to <baseURL>/detect and returns every face found.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a detector client. A zero timeout means no limit
// beyond the request context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultDetectorURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// faceJSON is one face in the server's response.
type faceJSON struct {
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
	Pose      []float64 `json:"pose"` // [yaw, pitch, roll]
	Embedding []float32 `json:"embedding"`
}

type detectResponse struct {
	Faces []faceJSON `json:"faces"`
}

// postMultipartImage sends imageData as the "file" form field.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		var er types.ErrorResult
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return nil, fmt.Errorf("detector error (status %d): %s", resp.StatusCode, msg)
	}
	return body, nil
}

// Detect implements the pipeline's detector contract.
func (c *Client) Detect(ctx context.Context, image []byte) ([]types.RawDetection, error) {
	body, err := c.postMultipartImage(ctx, "/detect", image)
	if err != nil {
		return nil, err
	}

	var dr detectResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	dets := make([]types.RawDetection, 0, len(dr.Faces))
	for i, f := range dr.Faces {
		if len(f.BBox) != 4 {
			return nil, fmt.Errorf("face %d: bbox has %d values, want 4", i, len(f.BBox))
		}
		if len(f.Embedding) == 0 {
			return nil, fmt.Errorf("face %d: empty embedding returned", i)
		}
		var pose types.Pose
		if len(f.Pose) >= 3 {
			pose = types.Pose{Yaw: f.Pose[0], Pitch: f.Pose[1], Roll: f.Pose[2]}
		}
		dets = append(dets, types.RawDetection{
			BBox:       types.BBox{X1: f.BBox[0], Y1: f.BBox[1], X2: f.BBox[2], Y2: f.BBox[3]},
			Confidence: f.DetScore,
			Pose:       pose,
			Embedding:  f.Embedding,
		})
	}
	return dets, nil
}

// Health pings <baseURL>/health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("detector unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// detectMIMEType detects the MIME type from image magic bytes
func detectMIMEType(data []byte) string {
	if len(data) < 12 {
		return "application/octet-stream"
	}
	switch {
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	case bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return "image/webp"
	}
	return "application/octet-stream"
}

// Package facerec turns images into face descriptors and decides whether two
// descriptors belong to the same person.
package facerec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"slices"
	"strings"
	"time"

	"github.com/kozaktomas/face-guard/internal/models"
)

const defaultRecognizerURL = "http://localhost:8000"

// Recognizer is the opaque recognition capability: it detects faces, extracts
// landmarks and produces a descriptor for each face in an image.
type Recognizer interface {
	DetectFaces(ctx context.Context, image []byte, set *models.Set) (*FaceResponse, error)
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int          `json:"face_index"`
	Dim       int          `json:"dim"`
	Embedding []float32    `json:"embedding"`
	BBox      []float64    `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64      `json:"det_score"`
	Landmarks [][2]float64 `json:"landmarks,omitempty"`
}

// FaceResponse represents the response from the face endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Model      string          `json:"model"`
}

// Client talks to the recognition server over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new recognition client
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultRecognizerURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// DetectFaces posts image to /embed/face together with the digests of the loaded
// model set, so the server can refuse weights it does not run.
func (c *Client) DetectFaces(ctx context.Context, image []byte, set *models.Set) (*FaceResponse, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", image, set)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &faceResp, nil
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte, set *models.Set) ([]byte, error) {
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
	if err := writer.WriteField("landmarks", "68"); err != nil {
		return nil, fmt.Errorf("failed to write form field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if set != nil {
		req.Header.Set("X-Model-Set", modelSetHeader(set))
	}

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
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// modelSetHeader renders the set digests as "kind=digest" pairs in stable order.
func modelSetHeader(set *models.Set) string {
	digests := set.Digests()
	kinds := make([]string, 0, len(digests))
	for k := range digests {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)

	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = k + "=" + digests[k]
	}
	return strings.Join(parts, ",")
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}

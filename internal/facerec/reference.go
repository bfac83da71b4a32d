package facerec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-guard/internal/constants"
	"github.com/kozaktomas/face-guard/internal/geometry"
	"github.com/kozaktomas/face-guard/internal/logger"
)

// Reference is the trusted descriptor of a user. It is never mutated after creation.
type Reference struct {
	URL        string
	Descriptor Descriptor
	Confidence float64
	LoadedAt   time.Time
}

// ReferenceStore derives and holds the single trusted reference.
type ReferenceStore struct {
	recognizer Recognizer
	models     ModelState
	client     *http.Client
	logger     *slog.Logger
	allowLocal bool

	ref atomic.Pointer[Reference]
}

// ErrLocalReference is returned for file paths and file:// URLs when local files
// are not allowed.
var ErrLocalReference = errors.New("local reference files are not allowed")

func NewReferenceStore(r Recognizer, m ModelState, l *slog.Logger) *ReferenceStore {
	return &ReferenceStore{
		recognizer: r,
		models:     m,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger.OrDefault(l),
	}
}

// Load fetches the image at imageURL, picks the highest-confidence face and stores its
// descriptor as the reference, replacing any previous one. On failure the previous
// reference is kept.
func (s *ReferenceStore) Load(ctx context.Context, imageURL string) (*Reference, error) {
	set := s.models.Current()
	if set == nil {
		return nil, ErrModelsNotReady
	}

	data, err := s.fetch(ctx, imageURL)
	if err != nil {
		return nil, &ReferenceError{Kind: FetchFailed, URL: imageURL, Err: err}
	}

	resp, err := s.recognizer.DetectFaces(ctx, data, set)
	if err != nil {
		return nil, &ReferenceError{Kind: FetchFailed, URL: imageURL, Err: err}
	}
	face := bestFace(resp, geometry.Size{})
	if face == nil {
		return nil, &ReferenceError{Kind: NoFaceDetected, URL: imageURL}
	}
	if len(resp.Faces) > 1 {
		s.logger.Info("reference photo has several faces, using the most confident one",
			slog.Int("faces", len(resp.Faces)), slog.Float64("confidence", face.Confidence))
	}

	ref := &Reference{
		URL:        imageURL,
		Descriptor: face.Descriptor,
		Confidence: face.Confidence,
		LoadedAt:   time.Now(),
	}
	s.ref.Store(ref)
	s.logger.Info("reference face loaded", slog.String("url", imageURL), slog.Int("dim", len(ref.Descriptor)))
	return ref, nil
}

// AllowLocalFiles lets Load read file paths and file:// URLs. Only callers that
// already run with the operator's file access, such as the CLI, should enable it.
func (s *ReferenceStore) AllowLocalFiles(allow bool) {
	s.allowLocal = allow
}

// Restore installs a reference derived earlier, for example one persisted with a session.
func (s *ReferenceStore) Restore(ref *Reference) {
	if ref == nil || len(ref.Descriptor) == 0 {
		return
	}
	s.ref.Store(ref)
}

// Current returns the reference, or nil when none is loaded.
func (s *ReferenceStore) Current() *Reference {
	return s.ref.Load()
}

// Clear drops the reference.
func (s *ReferenceStore) Clear() {
	s.ref.Store(nil)
}

// fetch reads the image from an http(s) URL, or from a file:// URL or local path
// when local files are allowed.
func (s *ReferenceStore) fetch(ctx context.Context, imageURL string) ([]byte, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid reference url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
	case "file", "":
		if !s.allowLocal {
			return nil, ErrLocalReference
		}
		if u.Scheme == "file" {
			return readLimited(u.Path)
		}
		return readLimited(imageURL)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxReferenceImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > constants.MaxReferenceImageSize {
		return nil, fmt.Errorf("image exceeds %d bytes", constants.MaxReferenceImageSize)
	}
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return data, nil
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, constants.MaxReferenceImageSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > constants.MaxReferenceImageSize {
		return nil, fmt.Errorf("image exceeds %d bytes", constants.MaxReferenceImageSize)
	}
	return data, nil
}

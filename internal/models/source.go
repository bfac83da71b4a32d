package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/face-guard/internal/config"
	"github.com/kozaktomas/face-guard/internal/constants"
)

// Source names used in logs, metrics and Set.Source.
const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"
)

// Source fetches the weights of a single net.
type Source interface {
	Name() string
	Fetch(ctx context.Context, net config.NetSpec) (*Weights, error)
}

// manifestGroup is one entry of a weights manifest. Only the shard paths matter here.
type manifestGroup struct {
	Paths []string `json:"paths"`
}

func parseManifest(data []byte) ([]string, error) {
	var groups []manifestGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	var shards []string
	for _, g := range groups {
		shards = append(shards, g.Paths...)
	}
	if len(shards) == 0 {
		return nil, errors.New("manifest lists no weight shards")
	}
	for _, s := range shards {
		// Shards are resolved relative to the manifest; anything else is refused.
		if s == "" || strings.Contains(s, "..") || strings.HasPrefix(s, "/") {
			return nil, fmt.Errorf("invalid shard path %q", s)
		}
	}
	return shards, nil
}

// HTTPSource loads weights from a remote base URL.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSource creates the primary (remote) source.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  &http.Client{},
	}
}

func (s *HTTPSource) Name() string { return SourcePrimary }

func (s *HTTPSource) get(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/"+path.Clean(name), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("GET %s: status %d", name, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

func (s *HTTPSource) Fetch(ctx context.Context, net config.NetSpec) (*Weights, error) {
	body, _, err := s.get(ctx, net.Manifest)
	if err != nil {
		return nil, err
	}
	manifest, err := io.ReadAll(io.LimitReader(body, constants.MaxModelShardSize))
	body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	shards, err := parseManifest(manifest)
	if err != nil {
		return nil, err
	}

	d := newDigest(manifest)
	for _, shard := range shards {
		rc, _, err := s.get(ctx, shard)
		if err != nil {
			return nil, err
		}
		err = d.add(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", shard, err)
		}
	}
	return d.weights(net, s.Name(), len(shards)), nil
}

// Download copies the manifest and every shard of net into dir, writing shard bytes to
// progress as they arrive. It returns the number of shard bytes written.
func (s *HTTPSource) Download(ctx context.Context, net config.NetSpec, dir string, progress io.Writer) (int64, error) {
	body, _, err := s.get(ctx, net.Manifest)
	if err != nil {
		return 0, err
	}
	manifest, err := io.ReadAll(io.LimitReader(body, constants.MaxModelShardSize))
	body.Close()
	if err != nil {
		return 0, fmt.Errorf("failed to read manifest: %w", err)
	}
	shards, err := parseManifest(manifest)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	var total int64
	for _, shard := range shards {
		n, err := s.downloadShard(ctx, shard, dir, progress)
		total += n
		if err != nil {
			return total, err
		}
	}
	// Manifest last, so a partial download never looks complete to DirSource.
	if err := os.WriteFile(filepath.Join(dir, net.Manifest), manifest, 0o644); err != nil {
		return total, fmt.Errorf("failed to write manifest: %w", err)
	}
	return total, nil
}

func (s *HTTPSource) downloadShard(ctx context.Context, shard, dir string, progress io.Writer) (int64, error) {
	rc, _, err := s.get(ctx, shard)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	f, err := os.Create(filepath.Join(dir, filepath.FromSlash(shard)))
	if err != nil {
		return 0, fmt.Errorf("failed to create shard file: %w", err)
	}
	defer f.Close()

	w := io.Writer(f)
	if progress != nil {
		w = io.MultiWriter(f, progress)
	}
	n, err := io.Copy(w, io.LimitReader(rc, constants.MaxModelShardSize))
	if err != nil {
		return n, fmt.Errorf("shard %s: %w", shard, err)
	}
	return n, nil
}

// ShardSizes returns the advertised size of every shard of net, used to size progress bars.
// Unknown sizes are reported as -1.
func (s *HTTPSource) ShardSizes(ctx context.Context, net config.NetSpec) ([]int64, error) {
	body, _, err := s.get(ctx, net.Manifest)
	if err != nil {
		return nil, err
	}
	manifest, err := io.ReadAll(io.LimitReader(body, constants.MaxModelShardSize))
	body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	shards, err := parseManifest(manifest)
	if err != nil {
		return nil, err
	}

	sizes := make([]int64, len(shards))
	for i, shard := range shards {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.BaseURL+"/"+path.Clean(shard), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := s.Client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		resp.Body.Close()
		sizes[i] = resp.ContentLength
	}
	return sizes, nil
}

// DirSource loads weights from a local directory laid out like the remote source.
type DirSource struct {
	Dir string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir}
}

func (s *DirSource) Name() string { return SourceFallback }

func (s *DirSource) Fetch(ctx context.Context, net config.NetSpec) (*Weights, error) {
	manifest, err := os.ReadFile(filepath.Join(s.Dir, net.Manifest))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	shards, err := parseManifest(manifest)
	if err != nil {
		return nil, err
	}

	d := newDigest(manifest)
	for _, shard := range shards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(filepath.Join(s.Dir, filepath.FromSlash(shard)))
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", shard, err)
		}
		err = d.add(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", shard, err)
		}
	}
	return d.weights(net, s.Name(), len(shards)), nil
}

// digest accumulates a sha256 over a manifest and its shards.
type digest struct {
	h     hash.Hash
	bytes int64
}

func newDigest(manifest []byte) *digest {
	d := &digest{h: sha256.New()}
	d.h.Write(manifest)
	return d
}

func (d *digest) add(r io.Reader) error {
	n, err := io.Copy(d.h, io.LimitReader(r, constants.MaxModelShardSize+1))
	if err != nil {
		return err
	}
	if n > constants.MaxModelShardSize {
		return fmt.Errorf("shard exceeds %d bytes", constants.MaxModelShardSize)
	}
	if n == 0 {
		return errors.New("empty shard")
	}
	d.bytes += n
	return nil
}

func (d *digest) weights(net config.NetSpec, source string, shards int) *Weights {
	return &Weights{
		Net:    net.Name,
		Kind:   net.Kind,
		Digest: hex.EncodeToString(d.h.Sum(nil)),
		Bytes:  d.bytes,
		Shards: shards,
		Source: source,
	}
}

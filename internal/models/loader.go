package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-guard/internal/config"
	"github.com/kozaktomas/face-guard/internal/constants"
	"github.com/kozaktomas/face-guard/internal/logger"
	"github.com/kozaktomas/face-guard/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Loader loads the model set once per process. Fallback is all-or-nothing: if any
// net fails to load from the primary source, all three are loaded from the fallback.
type Loader struct {
	primary  Source
	fallback Source
	nets     map[string]config.NetSpec
	timeout  time.Duration
	logger   *slog.Logger
	metrics  metrics.Recorder

	mu      sync.Mutex // serializes load attempts
	set     atomic.Pointer[Set]
	lastErr atomic.Pointer[LoadError]
	loading atomic.Bool
}

// NewLoader creates a loader for the nets listed in cfg.
func NewLoader(cfg config.ModelsConfig, primary, fallback Source, l *slog.Logger, rec metrics.Recorder) *Loader {
	nets := make(map[string]config.NetSpec, len(cfg.Nets))
	for _, n := range cfg.Nets {
		nets[n.Name] = n
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultModelsTimeout
	}
	return &Loader{
		primary:  primary,
		fallback: fallback,
		nets:     nets,
		timeout:  timeout,
		logger:   logger.OrDefault(l),
		metrics:  metrics.OrNop(rec),
	}
}

// Load returns the loaded set, loading it first if needed. Once loaded it returns immediately.
func (l *Loader) Load(ctx context.Context) (*Set, error) {
	if s := l.set.Load(); s != nil {
		return s, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s := l.set.Load(); s != nil {
		return s, nil
	}
	return l.load(ctx)
}

// Retry re-runs the two-stage load even after a terminal failure. A previously loaded
// set stays in place if the retry fails.
func (l *Loader) Retry(ctx context.Context) (*Set, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx)
}

func (l *Loader) load(ctx context.Context) (*Set, error) {
	l.loading.Store(true)
	defer l.loading.Store(false)
	l.lastErr.Store(nil)

	start := time.Now()
	set, perr := l.loadFrom(ctx, l.primary)
	if perr == nil {
		l.finish(set, start)
		return set, nil
	}
	l.logger.Warn("loading models from primary source failed, trying fallback",
		slog.Any("error", &LoadError{Stage: PrimarySourceFailed, Err: perr}))

	set, ferr := l.loadFrom(ctx, l.fallback)
	if ferr == nil {
		l.finish(set, start)
		return set, nil
	}

	lerr := &LoadError{Stage: FallbackSourceFailed, Primary: perr, Err: ferr}
	l.lastErr.Store(lerr)
	l.logger.Error("loading models failed", slog.String("stage", lerr.Stage.String()), slog.Any("error", lerr))
	return nil, lerr
}

func (l *Loader) finish(set *Set, start time.Time) {
	l.set.Store(set)
	l.logger.Info("models loaded",
		slog.String("source", set.Source),
		slog.Duration("duration", time.Since(start)),
		slog.String("detector", set.Detector.ShortDigest()),
		slog.String("landmarks", set.Landmarks.ShortDigest()),
		slog.String("recognizer", set.Recognizer.ShortDigest()),
	)
}

// loadFrom loads all required nets from src in parallel. Any single failure fails the set.
func (l *Loader) loadFrom(ctx context.Context, src Source) (*Set, error) {
	if src == nil {
		return nil, errors.New("source not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	weights := make([]*Weights, len(RequiredNets))
	errs := make([]error, len(RequiredNets))

	var g errgroup.Group
	for i, name := range RequiredNets {
		g.Go(func() error {
			spec, ok := l.nets[name]
			if !ok {
				errs[i] = fmt.Errorf("%s: not listed in models manifest", name)
				return nil
			}
			w, err := src.Fetch(ctx, spec)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", name, err)
				return nil
			}
			weights[i] = w
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		l.metrics.RecordModelLoad(src.Name(), "failure")
		return nil, err
	}
	l.metrics.RecordModelLoad(src.Name(), "success")

	return &Set{
		Detector:   weights[0],
		Landmarks:  weights[1],
		Recognizer: weights[2],
		Source:     src.Name(),
		LoadedAt:   time.Now(),
	}, nil
}

// Ready reports whether a complete set is loaded.
func (l *Loader) Ready() bool {
	return l.set.Load() != nil
}

// Loading reports whether a load attempt is running.
func (l *Loader) Loading() bool {
	return l.loading.Load()
}

// Current returns the loaded set, or nil.
func (l *Loader) Current() *Set {
	return l.set.Load()
}

// Err returns the terminal error of the last attempt, or nil.
func (l *Loader) Err() error {
	if e := l.lastErr.Load(); e != nil {
		return e
	}
	return nil
}

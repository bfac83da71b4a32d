package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/face-guard/internal/camera"
	"github.com/kozaktomas/face-guard/internal/config"
	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/kozaktomas/face-guard/internal/database/postgres"
	"github.com/kozaktomas/face-guard/internal/facerec"
	"github.com/kozaktomas/face-guard/internal/metrics"
	"github.com/kozaktomas/face-guard/internal/models"
	"github.com/kozaktomas/face-guard/internal/verifier"
)

// storage holds the repositories backing the verification sessions.
type storage struct {
	sessions   database.SessionWriter
	detections database.DetectionWriter
}

// openStorage connects to PostgreSQL and applies migrations.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (*storage, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	log.Info("connecting to PostgreSQL")
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	sessions, err := database.GetSessionWriter(ctx)
	if err != nil {
		return nil, err
	}
	detections, err := database.GetDetectionWriter(ctx)
	if err != nil {
		return nil, err
	}
	return &storage{sessions: sessions, detections: detections}, nil
}

// closeStorage releases the global pool.
func closeStorage(log *slog.Logger) {
	if pool := postgres.GetGlobalPool(); pool != nil {
		if err := pool.Close(); err != nil {
			log.Warn("closing database pool failed", slog.Any("error", err))
		}
	}
}

// newModelLoader builds the loader with the remote primary and the local fallback source.
func newModelLoader(cfg *config.Config, log *slog.Logger, rec metrics.Recorder) *models.Loader {
	return models.NewLoader(cfg.Models,
		models.NewHTTPSource(cfg.Models.PrimaryURL),
		models.NewDirSource(cfg.Models.FallbackDir),
		log, rec)
}

// newCameraManager builds the camera manager for the configured capture device.
func newCameraManager(cfg *config.Config, log *slog.Logger, rec metrics.Recorder) *camera.Manager {
	device := &camera.FFmpegDevice{
		Path:   cfg.Camera.Device,
		Format: cfg.Camera.Format,
		Binary: cfg.Camera.FFmpegPath,
		Logger: log,
	}
	return camera.NewManager(device, camera.Constraints{
		Width:      cfg.Camera.Width,
		Height:     cfg.Camera.Height,
		FacingMode: cfg.Camera.FacingMode,
		FPS:        cfg.Camera.FPS,
	}, log, rec)
}

// buildEngine wires the verification engine from configuration. localReferences
// lets the reference photo be a local file, which only the terminal commands allow.
func buildEngine(cfg *config.Config, store *storage, localReferences bool, log *slog.Logger, rec metrics.Recorder) *verifier.Engine {
	return verifier.New(cfg, verifier.Deps{
		Models:          newModelLoader(cfg, log, rec),
		Camera:          newCameraManager(cfg, log, rec),
		Recognizer:      facerec.NewClient(cfg.Recognizer.URL, cfg.Recognizer.Timeout),
		Sessions:        store.sessions,
		Detections:      store.detections,
		LocalReferences: localReferences,
	}, log, rec)
}

// prepareEngine loads the models, starts the camera and loads the user's reference
// photo, the steps a UI performs after login.
func prepareEngine(ctx context.Context, e *verifier.Engine, userID, referenceURL string) error {
	e.Identity().Login(userID)
	if err := e.LoadModels(ctx); err != nil {
		return fmt.Errorf("loading models: %w", err)
	}
	if err := e.StartCamera(ctx); err != nil {
		return fmt.Errorf("starting camera: %w", err)
	}
	if _, err := e.LoadReference(ctx, referenceURL); err != nil {
		return fmt.Errorf("loading reference: %w", err)
	}
	if _, err := e.BeginSession(ctx); err != nil {
		return err
	}
	return nil
}

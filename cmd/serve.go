package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-guard/internal/metrics"
	"github.com/kozaktomas/face-guard/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the verification API server",
	Long: `Start the Face Guard API server.
The server exposes the verification engine to the UI: login and logout drive
the camera, and the UI loads the reference photo, verifies, monitors and
receives alerts over server-sent events.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().String("session-secret", "", "Secret for signing session cookies (overrides WEB_SESSION_SECRET)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log := loadConfig()
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
	if secret := mustGetString(cmd, "session-secret"); secret != "" {
		cfg.Web.SessionSecret = secret
	}
	if cfg.Web.SessionSecret == "" {
		log.Warn("WEB_SESSION_SECRET is not set, using the development secret")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStorage(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	engine := buildEngine(cfg, store, false, log, collector)
	go engine.Run(ctx)

	server := web.NewServer(cfg, web.Deps{
		Engine:     engine,
		Identity:   engine.Identity(),
		Sessions:   store.sessions,
		Detections: store.detections,
		Gatherer:   reg,
		Logger:     log,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("shutting down")
		engine.StopCamera()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("error during shutdown", slog.Any("error", err))
		}
	}()

	log.Info("face guard API ready", slog.String("host", cfg.Web.Host), slog.Int("port", cfg.Web.Port))
	return server.Start()
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/kozaktomas/face-guard/internal/events"
	"github.com/kozaktomas/face-guard/internal/monitor"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Continuously verify the person in front of the camera",
	Long: `Start continuous monitoring from the local camera and print alerts as they
are raised. Alerts are acknowledged automatically so a returning face or
another intruder is reported again.

Ctrl+C stops monitoring and ends the session as expired. With --duration the
session is ended with --end-status once the duration has elapsed.

Examples:
  face-guard monitor --user user-42 --reference https://example.com/u/42.jpg
  face-guard monitor --user user-42 --reference ./me.jpg --duration 30m --end-status verified`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().String("user", "", "User id to monitor (required)")
	monitorCmd.Flags().String("reference", "", "Reference photo URL (required)")
	monitorCmd.Flags().Duration("duration", 0, "Stop after this long (0 = until interrupted)")
	monitorCmd.Flags().String("end-status", string(database.StatusExpired), "Session status when --duration elapses: verified, failed or expired")
	monitorCmd.Flags().Bool("verbose", false, "Print every evaluated frame")
	_ = monitorCmd.MarkFlagRequired("user")
	_ = monitorCmd.MarkFlagRequired("reference")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	userID := mustGetString(cmd, "user")
	referenceURL := mustGetString(cmd, "reference")
	duration := mustGetDuration(cmd, "duration")
	verbose := mustGetBool(cmd, "verbose")
	endStatus := database.Status(mustGetString(cmd, "end-status"))
	if !endStatus.Terminal() {
		return fmt.Errorf("invalid --end-status %q", endStatus)
	}

	cfg, log := loadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx := ctx
	if duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStorage(log)

	engine := buildEngine(cfg, store, true, log, nil)
	defer engine.StopCamera()

	if err := prepareEngine(ctx, engine, userID, referenceURL); err != nil {
		return err
	}

	listener := engine.Events().AddListener()
	defer engine.Events().RemoveListener(listener)

	if err := engine.StartMonitoring(runCtx); err != nil {
		return fmt.Errorf("starting monitoring: %w", err)
	}
	fmt.Printf("Monitoring %s every %s. Press Ctrl+C to stop.\n", userID, cfg.Monitor.Interval)

	started := time.Now()
	printMonitorEvents(runCtx, engine, listener, verbose)

	status := endStatus
	if errors.Is(ctx.Err(), context.Canceled) {
		status = database.StatusExpired
	}
	if err := engine.EndSession(context.WithoutCancel(ctx), status); err != nil {
		return fmt.Errorf("ending session: %w", err)
	}

	c := engine.Loop().Alerts().Snapshot()
	fmt.Printf("\nSession ended as %s after %s.\n", status, time.Since(started).Round(time.Second))
	fmt.Printf("  Consecutive frames without a face at stop: %d\n", c.ConsecutiveNoFace)
	return nil
}

// alertAcker is the part of the engine that clears raised alerts.
type alertAcker interface {
	AckNoFace() bool
	AckDifferentPerson() bool
}

// printMonitorEvents prints engine events until ctx is done. Raised alerts are
// acknowledged right away so the next occurrence is reported too.
func printMonitorEvents(ctx context.Context, acker alertAcker, listener <-chan events.Event, verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-listener:
			if !ok {
				return
			}
			switch ev.Type {
			case events.TypeAlertRaised:
				alert, _ := ev.Data.(monitor.Alert)
				fmt.Printf("[%s] ALERT %s: %s\n", ev.At.Format(time.TimeOnly), alert.Title, alert.Message)
				switch alert.Kind {
				case monitor.AlertNoFace:
					acker.AckNoFace()
				case monitor.AlertDifferentPerson:
					acker.AckDifferentPerson()
				}
			case events.TypeDetection:
				if verbose {
					if res, ok := ev.Data.(*monitor.CycleResult); ok {
						fmt.Printf("[%s] %s\n", ev.At.Format(time.TimeOnly), res.Outcome)
					}
				}
			case events.TypeCameraError, events.TypeModelsFailed:
				fmt.Printf("[%s] %s\n", ev.At.Format(time.TimeOnly), ev.Message)
			}
		}
	}
}

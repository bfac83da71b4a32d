package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kozaktomas/face-guard/internal/constants"
	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect the verification audit trail",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's verification sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session and its detection trail",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Mark abandoned pending sessions as expired",
	Long: `Mark pending sessions that started longer ago than --older-than as expired.
A pending session blocks a new one for the same user, so sessions left behind
by a crashed client should be expired.`,
	Args: cobra.NoArgs,
	RunE: runSessionsExpire,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsExpireCmd)

	sessionsListCmd.Flags().String("user", "", "User id (required)")
	sessionsListCmd.Flags().Int("limit", constants.DefaultSessionListLimit, "Maximum number of sessions")
	sessionsListCmd.Flags().Bool("json", false, "Output as JSON")
	_ = sessionsListCmd.MarkFlagRequired("user")

	sessionsShowCmd.Flags().Int("limit", constants.DefaultDetectionListLimit, "Maximum number of detections")
	sessionsShowCmd.Flags().Bool("json", false, "Output as JSON")

	sessionsExpireCmd.Flags().Duration("older-than", 24*time.Hour, "Expire pending sessions started before this age")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg, log := loadConfig()
	ctx := cmd.Context()

	if _, err := openStorage(ctx, cfg, log); err != nil {
		return err
	}
	defer closeStorage(log)

	reader, err := database.GetSessionReader(ctx)
	if err != nil {
		return err
	}
	sessions, err := reader.ListSessions(ctx, mustGetString(cmd, "user"), mustGetInt(cmd, "limit"))
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return printJSON(sessions)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tENDED\tATTEMPTS\tLAST VERIFICATION")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.Status, s.StartedAt.Local().Format(time.DateTime), formatOptionalTime(s.EndedAt),
			s.Attempts, formatOptionalTime(s.LastVerificationAt))
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	cfg, log := loadConfig()
	ctx := cmd.Context()

	if _, err := openStorage(ctx, cfg, log); err != nil {
		return err
	}
	defer closeStorage(log)

	sessions, err := database.GetSessionReader(ctx)
	if err != nil {
		return err
	}
	detections, err := database.GetDetectionReader(ctx)
	if err != nil {
		return err
	}

	s, err := sessions.GetSession(ctx, args[0])
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if s == nil {
		return errors.New("session not found")
	}
	trail, err := detections.ListDetections(ctx, s.ID, mustGetInt(cmd, "limit"))
	if err != nil {
		return fmt.Errorf("listing detections: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return printJSON(map[string]any{"session": s, "detections": trail})
	}

	fmt.Printf("Session:    %s\n", s.ID)
	fmt.Printf("User:       %s\n", s.UserID)
	fmt.Printf("Status:     %s\n", s.Status)
	fmt.Printf("Started:    %s\n", s.StartedAt.Local().Format(time.DateTime))
	fmt.Printf("Ended:      %s\n", formatOptionalTime(s.EndedAt))
	fmt.Printf("Attempts:   %d\n", s.Attempts)
	fmt.Printf("Reference:  %s\n", s.ReferenceFaceURL)
	fmt.Printf("Device:     %s (%s/%s) %dx%d\n", s.DeviceInfo.Hostname, s.DeviceInfo.OS, s.DeviceInfo.Arch,
		s.DeviceInfo.Viewport.Width, s.DeviceInfo.Viewport.Height)
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tFACE\tCONFIDENCE\tMATCH\tBOX")
	for _, d := range trail {
		confidence, match, box := "-", "-", "-"
		if d.ConfidenceScore != nil {
			confidence = fmt.Sprintf("%.1f%%", *d.ConfidenceScore*100)
		}
		if d.FaceMatch != nil {
			match = fmt.Sprintf("%t", *d.FaceMatch)
		}
		if c := d.Coordinates; c != nil {
			box = fmt.Sprintf("%.0f,%.0f %.0fx%.0f", c.X, c.Y, c.Width, c.Height)
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", d.DetectedAt.Local().Format(time.TimeOnly), d.FaceDetected, confidence, match, box)
	}
	return w.Flush()
}

func runSessionsExpire(cmd *cobra.Command, args []string) error {
	cfg, log := loadConfig()
	ctx := cmd.Context()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStorage(log)

	cutoff := time.Now().Add(-mustGetDuration(cmd, "older-than"))
	n, err := store.sessions.ExpireStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("expiring sessions: %w", err)
	}
	fmt.Printf("Expired %d pending sessions started before %s\n", n, cutoff.Local().Format(time.DateTime))
	return nil
}

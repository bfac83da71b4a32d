package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/kozaktomas/face-guard/internal/monitor"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the person in front of the camera once",
	Long: `Run a one-shot verification from the local camera against the user's
reference photo. The session is ended as verified on a match and as failed
otherwise. Exits with a non-zero status when the user was not verified.

Examples:
  # Verify user-42 against their profile photo
  face-guard verify --user user-42 --reference https://example.com/u/42.jpg

  # JSON output for scripts
  face-guard verify --user user-42 --reference ./me.jpg --json`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("user", "", "User id to verify (required)")
	verifyCmd.Flags().String("reference", "", "Reference photo URL (required)")
	verifyCmd.Flags().Bool("json", false, "Output as JSON")
	_ = verifyCmd.MarkFlagRequired("user")
	_ = verifyCmd.MarkFlagRequired("reference")
}

var errNotVerified = errors.New("user not verified")

func runVerify(cmd *cobra.Command, args []string) error {
	userID := mustGetString(cmd, "user")
	referenceURL := mustGetString(cmd, "reference")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, log := loadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	res, err := engine.Verify(ctx)
	if err != nil {
		return fmt.Errorf("verification: %w", err)
	}

	status := database.StatusFailed
	if res.Matched() {
		status = database.StatusVerified
	}
	// The session outlives a cancelled command.
	if err := engine.EndSession(context.WithoutCancel(ctx), status); err != nil {
		return fmt.Errorf("ending session: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
	} else {
		printVerifyResult(res)
	}

	if !res.Matched() {
		return errNotVerified
	}
	return nil
}

func printVerifyResult(res *monitor.VerifyResult) {
	fmt.Println(res.Message)
	if res.Confidence != nil {
		fmt.Printf("  Detection confidence: %.1f%%\n", *res.Confidence*100)
	}
	if res.Distance != nil {
		fmt.Printf("  Descriptor distance:  %.4f\n", *res.Distance)
	}
}

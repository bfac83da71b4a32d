package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kozaktomas/face-guard/internal/models"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect and pre-fetch the recognition models",
}

var modelsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that every net loads from the primary and the fallback source",
	Long: `Fetch every net from both model sources and print what each source serves.
The engine needs all nets from one source; a source missing any net is not usable.`,
	Args: cobra.NoArgs,
	RunE: runModelsCheck,
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Copy the models from the primary source into the fallback directory",
	Long: `Download the manifests and weight shards of every net from the primary source
into a local directory, so the fallback source can serve them when the
primary is unreachable.

Examples:
  face-guard models download
  face-guard models download --dir /var/lib/face-guard/models`,
	Args: cobra.NoArgs,
	RunE: runModelsDownload,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsCheckCmd)
	modelsCmd.AddCommand(modelsDownloadCmd)

	modelsDownloadCmd.Flags().String("dir", "", "Target directory (default MODELS_FALLBACK_DIR)")
	modelsDownloadCmd.Flags().Bool("quiet", false, "Do not show a progress bar")
}

func runModelsCheck(cmd *cobra.Command, args []string) error {
	cfg, _ := loadConfig()
	ctx := cmd.Context()

	sources := []models.Source{
		models.NewHTTPSource(cfg.Models.PrimaryURL),
		models.NewDirSource(cfg.Models.FallbackDir),
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tNET\tSHARDS\tBYTES\tDIGEST\tSTATUS")

	usable := 0
	for _, src := range sources {
		ok := true
		for _, net := range cfg.Models.Nets {
			attemptCtx, cancel := context.WithTimeout(ctx, cfg.Models.Timeout)
			weights, err := src.Fetch(attemptCtx, net)
			cancel()
			if err != nil {
				ok = false
				fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t%v\n", src.Name(), net.Name, err)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\tok\n", src.Name(), net.Name, weights.Shards, weights.Bytes, weights.ShortDigest())
		}
		if ok {
			usable++
		}
	}
	w.Flush()

	if usable == 0 {
		return errors.New("no model source can serve every net")
	}
	return nil
}

func runModelsDownload(cmd *cobra.Command, args []string) error {
	cfg, _ := loadConfig()
	ctx := cmd.Context()
	dir := mustGetString(cmd, "dir")
	if dir == "" {
		dir = cfg.Models.FallbackDir
	}
	quiet := mustGetBool(cmd, "quiet")

	src := models.NewHTTPSource(cfg.Models.PrimaryURL)
	start := time.Now()
	var total int64

	for _, net := range cfg.Models.Nets {
		var bar *progressbar.ProgressBar
		if !quiet {
			size := int64(-1)
			if sizes, err := src.ShardSizes(ctx, net); err == nil {
				size = sumKnown(sizes)
			}
			bar = progressbar.DefaultBytes(size, "Downloading "+net.Name)
		}

		var n int64
		var err error
		if bar != nil {
			n, err = src.Download(ctx, net, dir, bar)
			_ = bar.Finish()
		} else {
			n, err = src.Download(ctx, net, dir, nil)
		}
		total += n
		if err != nil {
			return fmt.Errorf("downloading %s: %w", net.Name, err)
		}
	}

	fmt.Printf("Downloaded %d nets (%d bytes) to %s in %s\n", len(cfg.Models.Nets), total, dir, time.Since(start).Round(time.Millisecond))
	return nil
}

// sumKnown adds up sizes, returning -1 when any size is unknown.
func sumKnown(sizes []int64) int64 {
	var total int64
	for _, s := range sizes {
		if s < 0 {
			return -1
		}
		total += s
	}
	return total
}

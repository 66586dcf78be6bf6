package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagekeep/pagekeep/internal/archive"
	"github.com/pagekeep/pagekeep/internal/jobs"
)

const pollInterval = time.Second

// newCaptureCmd creates the 'capture' subcommand: archive one URL, or a
// whole site when --multi is set, and block until the job finishes.
func newCaptureCmd() *cobra.Command {
	var (
		multi    bool
		depth    int
		maxPages int
		offsite  bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "capture <url>",
		Short: "Archive a web page into a local capture directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			opts := archive.DefaultCaptureOptions()
			opts.Timeout = timeout
			opts.MultiPage = archive.MultiPageOptions{
				Enabled:        multi,
				Depth:          depth,
				MaxPages:       maxPages,
				SameDomainOnly: !offsite,
			}

			jobID, err := appInstance.Orchestrator.StartCapture(cmd.Context(), args[0], opts)
			if err != nil {
				return fmt.Errorf("start capture: %w", err)
			}
			cmd.Printf("capture job %s started\n", jobID)

			for {
				job, err := appInstance.Tracker.GetJob(jobID)
				if err != nil {
					if err == jobs.ErrJobNotFound {
						return fmt.Errorf("job %s disappeared", jobID)
					}
					return err
				}
				switch job.Status {
				case archive.JobStatusCompleted:
					cmd.Printf("capture complete: %s\n", job.OutputPath)
					printStats(cmd, job.Stats)
					return nil
				case archive.JobStatusFailed:
					return fmt.Errorf("capture failed: %s", job.Error)
				default:
					cmd.Printf("  %s %d%% (%s)\n", job.Status, job.Progress, job.CurrentStep)
				}
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(pollInterval):
				}
			}
		},
	}
	cmd.Flags().BoolVar(&multi, "multi", false, "crawl linked pages on the same site")
	cmd.Flags().IntVar(&depth, "depth", 1, "multi-page crawl depth (1-3)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 10, "multi-page page budget (1-100)")
	cmd.Flags().BoolVar(&offsite, "offsite", false, "follow links to other domains")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-page navigation timeout (5s-120s)")
	return cmd
}

func printStats(cmd *cobra.Command, stats archive.JobStats) {
	cmd.Printf("  pages: %d  resources: %d/%d (images %d, css %d, js %d, fonts %d; %d failed)\n",
		stats.PagesProcessed,
		stats.ResourcesDownloaded,
		stats.TotalResources,
		stats.Succeeded.Images,
		stats.Succeeded.Stylesheets,
		stats.Succeeded.Scripts,
		stats.Succeeded.Fonts,
		stats.Failed.Total(),
	)
}

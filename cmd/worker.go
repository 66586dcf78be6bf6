package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagekeep/pagekeep/internal/archive"
)

// newWorkerCmd creates the 'worker' subcommand: run the capture intake
// loop, consuming validated capture requests from the request queue until
// interrupted. The queue is the seam the API boundary enqueues into; any
// URLs given as arguments are enqueued as single-page requests at startup.
func newWorkerCmd() *cobra.Command {
	var multi bool
	cmd := &cobra.Command{
		Use:   "worker [url...]",
		Short: "Run the capture worker loop over the request queue",
		Long: `Consumes validated capture requests (single, multi, and curated) from
the intake queue and dispatches them to the capture pipeline. URLs passed
as arguments are enqueued before the loop starts. Blocks until interrupted;
in-flight captures are drained on shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := archive.DefaultCaptureOptions()
			opts.MultiPage.Enabled = multi
			for _, url := range args {
				if err := appInstance.Queue.Enqueue(ctx, archive.CaptureRequest{
					Kind:    archive.RequestSingle,
					URL:     url,
					Options: opts,
				}); err != nil {
					return fmt.Errorf("enqueue %s: %w", url, err)
				}
			}

			appInstance.Logger.Info("capture worker started",
				zap.Int("max_concurrent", appInstance.Config.Jobs.MaxConcurrent),
				zap.Int("queue_depth", appInstance.Config.Jobs.QueueDepth),
				zap.Int("seeded", len(args)),
			)
			appInstance.Orchestrator.Run(ctx, appInstance.Queue)
			appInstance.Logger.Info("capture worker stopped, draining in-flight captures")
			return nil
		},
	}
	cmd.Flags().BoolVar(&multi, "multi", false, "enqueue seeded urls as multi-page captures")
	return cmd
}

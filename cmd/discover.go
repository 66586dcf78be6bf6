package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagekeep/pagekeep/internal/archive"
)

// newDiscoverCmd creates the 'discover' subcommand: run a discovery-only
// test crawl and print the hierarchical page listing.
func newDiscoverCmd() *cobra.Command {
	var (
		depth    int
		maxPages int
		offsite  bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "discover <url>",
		Short: "Enumerate a site's pages without downloading assets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			opts := archive.DiscoveryOptions{
				Depth:          depth,
				MaxPages:       maxPages,
				SameDomainOnly: !offsite,
				Timeout:        timeout,
			}
			crawlID, err := appInstance.TestCrawls.Start(cmd.Context(), args[0], opts)
			if err != nil {
				return fmt.Errorf("start test crawl: %w", err)
			}
			cmd.Printf("test crawl %s started\n", crawlID)

			for {
				session, err := appInstance.TestCrawls.GetStatus(crawlID)
				if err != nil {
					return err
				}
				if session.Status != archive.CrawlStatusCrawling {
					if session.Status == archive.CrawlStatusFailed {
						return fmt.Errorf("test crawl failed: %s", session.Error)
					}
					break
				}
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(pollInterval):
				}
			}

			tree, err := appInstance.TestCrawls.GetHierarchical(crawlID)
			if err != nil {
				return err
			}
			totalPages := 0
			for _, count := range tree.ByDepth {
				totalPages += count
			}
			cmd.Printf("discovered %d pages, ~%d bytes\n", totalPages, tree.TotalEstimatedSize)
			for _, level := range tree.Levels {
				cmd.Printf("depth %d (%d pages)\n", level.Depth, len(level.Pages))
				for _, page := range level.Pages {
					cmd.Printf("  %s  %q  ~%d bytes\n", page.URL, page.Title, page.EstimatedSize)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 2, "crawl depth (1-10)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 100, "page budget")
	cmd.Flags().BoolVar(&offsite, "offsite", false, "follow links to other domains")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-page navigation timeout")
	return cmd
}

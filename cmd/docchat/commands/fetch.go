package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/logging"
)

// NewFetchCmd constructs the `docchat fetch` command.
func NewFetchCmd() *cobra.Command {
	var index bool

	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Print the visible text of web pages",
		Long: `Download each URL and print its title and visible text. A URL that fails
is reported inline and the remaining URLs are still fetched. With --index
every fetched page is also chunked, embedded and indexed.

Requests are rate limited by FETCH_RATE (requests per second, default 2) and
bounded by FETCH_TIMEOUT (default 30s).

Examples:
  docchat fetch https://example.com
  docchat fetch --index https://go.dev/doc/faq https://go.dev/doc/effective_go`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			out := cmd.OutOrStdout()

			var pipeline *ingestion.Pipeline
			if index {
				stack, err := buildIndexStack(ctx, log)
				if err != nil {
					return fmt.Errorf("fetch: %w", err)
				}
				defer stack.Close()
				if pipeline, err = newPipeline(stack, nil); err != nil {
					return fmt.Errorf("fetch: failed to create pipeline: %w", err)
				}
			}

			var failed int
			for _, fr := range newFetcher().FetchAll(ctx, args) {
				if fr.Err != nil {
					failed++
					printSourceError(out, fr.URL, fr.Err)
					continue
				}

				okColor.Fprintf(out, "== %s", fr.URL)
				if fr.Page.Title != "" {
					fmt.Fprintf(out, " (%s)", fr.Page.Title)
				}
				fmt.Fprintf(out, "\n%s\n\n", fr.Page.Text)

				if pipeline == nil {
					continue
				}
				res, err := pipeline.IngestPage(ctx, fr.Page)
				if err != nil {
					failed++
					printSourceError(out, fr.URL, err)
					continue
				}
				printIngestResult(out, res)
			}

			if failed > 0 {
				return fmt.Errorf("fetch: %d of %d urls failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&index, "index", false, "Also ingest every fetched page into the vector index")

	return cmd
}

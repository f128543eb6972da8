package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/logging"
)

// NewIngestCmd constructs the `docchat ingest` command, which extracts,
// chunks, embeds and indexes files and web pages.
func NewIngestCmd() *cobra.Command {
	var globs []string
	var urls []string
	var mediaType string
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Index files and web pages into the vector index",
		Long: `Extract the text of each file or URL, split it into chunks, embed every
chunk and upsert it into the vector index selected by VECTOR_BACKEND.

The media type of a file comes from its extension (.pdf, .docx, .html, .md,
.txt, ...) unless --type overrides it. Unknown extensions are read as text.
A file that fails to extract is reported and the remaining files are still
processed. Individual chunks that fail to embed or upsert are listed under
their file.

Examples:
  docchat ingest handbook.pdf notes.docx
  docchat ingest --glob 'docs/**/*.md'
  docchat ingest --url https://go.dev/doc/effective_go
  docchat ingest --type text/plain LICENSE`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			out := cmd.OutOrStdout()

			files, err := expandSources(args, globs)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if len(files) == 0 && len(urls) == 0 {
				return fmt.Errorf("ingest: no files, --glob matches, or --url given")
			}

			stack, err := buildIndexStack(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer stack.Close()

			bar := newChunkBar(cmd.ErrOrStderr(), noProgress)
			pipeline, err := newPipeline(stack, func(string) { _ = bar.Add(1) })
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			var failed int
			start := time.Now()

			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					failed++
					printSourceError(out, path, err)
					continue
				}
				mt := mediaType
				if mt == "" {
					mt = ingestion.MediaTypeFromName(path)
				}
				res, err := pipeline.IngestDocument(ctx, ingestion.Document{Name: path, MediaType: mt, Data: data})
				if err != nil {
					failed++
					printSourceError(out, path, err)
					continue
				}
				printIngestResult(out, res)
			}

			if len(urls) > 0 {
				for _, fr := range newFetcher().FetchAll(ctx, urls) {
					if fr.Err != nil {
						failed++
						printSourceError(out, fr.URL, fr.Err)
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
			}
			_ = bar.Finish()

			total := len(files) + len(urls)
			log.Info("ingestion complete",
				slog.Int("sources", total),
				slog.Int("failed", failed),
				slog.Duration("duration", time.Since(start)),
			)
			if failed > 0 {
				return fmt.Errorf("ingest: %d of %d sources failed", failed, total)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&globs, "glob", "g", nil, "Doublestar file pattern to ingest, e.g. 'docs/**/*.md' (repeatable)")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Web page URL to fetch and ingest (repeatable)")
	cmd.Flags().StringVarP(&mediaType, "type", "t", "", "Media type for every file, overriding the extension")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")

	return cmd
}

// expandSources merges explicit paths with glob matches, dropping
// duplicates and directories while keeping first-seen order.
func expandSources(paths, globs []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		p = filepath.Clean(p)
		if seen[p] {
			return
		}
		if st, err := os.Stat(p); err == nil && st.IsDir() {
			return
		}
		seen[p] = true
		out = append(out, p)
	}

	for _, p := range paths {
		add(p)
	}
	for _, g := range globs {
		if !doublestar.ValidatePathPattern(g) {
			return nil, fmt.Errorf("invalid glob pattern %q", g)
		}
		matches, err := doublestar.FilepathGlob(g, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", g, err)
		}
		for _, m := range matches {
			add(m)
		}
	}
	return out, nil
}

// newChunkBar returns a spinner-style bar counting finished chunks. The total
// is unknown until extraction completes, so the bar has no fixed length.
func newChunkBar(w io.Writer, disabled bool) *progressbar.ProgressBar {
	if disabled {
		return progressbar.DefaultSilent(-1)
	}
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("indexing chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
}

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
)

// printIngestResult prints one line per source and one line per failed chunk.
func printIngestResult(w io.Writer, res ingestion.IngestResult) {
	c := okColor
	if len(res.Failures) > 0 {
		c = warnColor
	}
	c.Fprintf(w, "%s: %d/%d chunks indexed (%s)\n",
		res.Source, res.ChunksIndexed, res.Chunks, res.Duration.Round(time.Millisecond))
	for _, f := range res.Failures {
		warnColor.Fprintf(w, "  chunk %d (offset %d): %v\n", f.Index, f.Offset, f.Err)
	}
}

func printSourceError(w io.Writer, source string, err error) {
	errColor.Fprintf(w, "%s: %v\n", source, err)
}

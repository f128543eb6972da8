package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/assistant"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/store"
	"github.com/54b3r/docchat-go/internal/tracing"
)

var (
	promptColor = color.New(color.FgCyan, color.Bold)
	userColor   = color.New(color.FgCyan)
	botColor    = color.New(color.FgGreen)
	dimColor    = color.New(color.Faint)
)

// NewChatCmd constructs the `docchat chat` command, an interactive REPL over
// the assistant.
func NewChatCmd() *cobra.Command {
	var showSources bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation about the indexed documents",
		Long: `Start an interactive session. Prior history is loaded on start and every
exchange is saved as it happens; the session is flushed once more on exit.

Commands inside the session:
  /history   print the conversation so far
  /sources   toggle printing the retrieved passages
  /exit      leave (Ctrl-D works too)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			flush := tracing.Setup(log)
			defer flush()

			stack, err := buildChatStack(ctx, log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer func() {
				// Flush even when ctx was cancelled by Ctrl-C.
				if err := stack.Close(context.WithoutCancel(ctx)); err != nil {
					warnColor.Fprintf(cmd.ErrOrStderr(), "warning: closing session: %v\n", err)
				}
			}()

			return runREPL(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), stack.assistant, showSources)
		},
	}

	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Print the retrieved passages after each answer")

	return cmd
}

// runREPL reads one question per line until /exit, EOF or cancellation.
func runREPL(ctx context.Context, in io.Reader, out io.Writer, a *assistant.Assistant, showSources bool) error {
	if n := len(a.History()); n > 0 {
		dimColor.Fprintf(out, "loaded %d previous turns; /history to show them\n", n)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		promptColor.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/history":
			printHistory(out, a.History())
			continue
		case "/sources":
			showSources = !showSources
			dimColor.Fprintf(out, "sources %s\n", map[bool]string{true: "on", false: "off"}[showSources])
			continue
		}

		reply, err := a.Ask(ctx, line)
		if err != nil {
			errColor.Fprintf(out, "error: %v\n", err)
			continue
		}
		botColor.Fprint(out, "docchat> ")
		fmt.Fprintln(out, reply.Text)
		if showSources {
			printSources(out, reply.Matches)
		}
		if reply.PersistErr != nil {
			warnColor.Fprintf(out, "warning: conversation history not saved: %v\n", reply.PersistErr)
		}
	}
}

// printHistory renders turns as "[YYYY-MM-DD HH:MM:SS] role: content".
func printHistory(w io.Writer, turns []store.Turn) {
	if len(turns) == 0 {
		dimColor.Fprintln(w, "no history")
		return
	}
	for _, t := range turns {
		c := botColor
		if t.Role == store.RoleUser {
			c = userColor
		}
		dimColor.Fprintf(w, "[%s] ", store.FormatTimestamp(t.Timestamp))
		c.Fprintf(w, "%s:", t.Role)
		fmt.Fprintf(w, " %s\n", t.Content)
	}
}

// printSources lists the retrieved passages, best match first.
func printSources(w io.Writer, matches []rag.Match) {
	for i, m := range matches {
		text := strings.Join(strings.Fields(m.Metadata.Text), " ")
		if r := []rune(text); len(r) > 120 {
			text = string(r[:117]) + "..."
		}
		dimColor.Fprintf(w, "  [%d] %.3f %s: %s\n", i+1, m.Score, m.Metadata.Source, text)
	}
}

package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/tracing"
)

// NewAskCmd constructs the `docchat ask` command, which runs one question
// through the assistant and records the exchange in the history.
func NewAskCmd() *cobra.Command {
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question about the indexed documents",
		Long: `Retrieve the passages most similar to the question, send them to the
model as context, and print the answer. The question and the answer are
appended to the conversation history.

Examples:
  docchat ask "What is the capital of France?"
  docchat ask --sources "Which chapter covers onboarding?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			out := cmd.OutOrStdout()

			flush := tracing.Setup(log)
			defer flush()

			stack, err := buildChatStack(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = stack.Close(ctx) }()

			reply, err := stack.assistant.Ask(ctx, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Fprintln(out, reply.Text)
			if showSources {
				printSources(out, reply.Matches)
			}
			if reply.PersistErr != nil {
				warnColor.Fprintf(cmd.ErrOrStderr(), "warning: conversation history not saved: %v\n", reply.PersistErr)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Print the retrieved passages after the answer")

	return cmd
}

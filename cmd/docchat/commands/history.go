package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewHistoryCmd constructs the `docchat history` command.
func NewHistoryCmd() *cobra.Command {
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print or clear the conversation history",
		Long: `Print every persisted turn as "[YYYY-MM-DD HH:MM:SS] role: content",
oldest first. The history lives in the backend selected by HISTORY_BACKEND
(sqlite by default, at DOCCHAT_HISTORY_DB or ~/.docchat/history.db).

Examples:
  docchat history
  docchat history --clear`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			session, err := openHistory(ctx)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			defer func() { _ = session.Close(ctx) }()

			if clearAll {
				n := session.Len()
				if err := session.Clear(ctx); err != nil {
					return fmt.Errorf("history: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d turns\n", n)
				return nil
			}

			printHistory(cmd.OutOrStdout(), session.LoadAll())
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearAll, "clear", false, "Delete every persisted turn")

	return cmd
}

// Package commands defines the Cobra CLI commands of the docchat binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/audit"
	"github.com/54b3r/docchat-go/internal/config"
	"github.com/54b3r/docchat-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docchat",
		Short: "Chat with your documents",
		Long: `docchat indexes PDF, DOCX, HTML and text files plus web pages into a
vector index and answers questions about them with an LLM, grounding every
answer in the retrieved passages.

Model, embedding, vector index and history backends are selected with
environment variables, a .env file, or a YAML config file
(~/.docchat/config.yaml). Variables already set in the environment always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env first so LOG_LEVEL/LOG_FORMAT from it shape the logger.
			bootLog := logging.New()
			if _, err := config.LoadDotEnv(bootLog, envFile); err != nil {
				return err
			}
			log := logging.New()

			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			cmd.SetContext(logging.WithLogger(cmd.Context(), log))
			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docchat/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file; a missing file is ignored")

	root.AddCommand(
		NewIngestCmd(),
		NewAskCmd(),
		NewChatCmd(),
		NewFetchCmd(),
		NewHistoryCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}

// Command rivanna runs the Rivanna persona chat bot on Matrix.
//
// Usage:
//
//	rivanna serve
//	rivanna memory teach --scope <space> <text>
//	rivanna memory list --scope <space>
//	rivanna memory forget --scope <space> <n>
//	rivanna version
//
// Configuration is read from the environment:
//
//	MATRIX_HOMESERVER, MATRIX_USER_ID, MATRIX_ACCESS_TOKEN  (required for serve)
//	MATRIX_ROOMS            comma-separated rooms joined at start-up
//	MATRIX_AUTO_JOIN        accept invites (default: true)
//	DATABASE_PATH           SQLite database (default: ./rivanna.db)
//	OPENAI_API_KEY, OPENAI_BASE_URL
//	RIVANNA_PERSONA_FILE    persona YAML
//	RIVANNA_MODEL, RIVANNA_SPECULATIVE_MODEL, RIVANNA_EMBEDDING_MODEL
//	RIVANNA_TEMPERATURE
//	RIVANNA_MEMORY_BACKEND  redis, sqlite or memory (default: sqlite)
//	REDIS_ADDR, REDIS_PASSWORD
//	RIVANNA_EMBED_CACHE_DIR Badger directory for cached embeddings
//	RIVANNA_DEBOUNCE, RIVANNA_SESSION_TIMEOUT
//	RIVANNA_HISTORY_CAPACITY, RIVANNA_CONTEXT_MAX
//	RIVANNA_DAILY_TOKEN_BUDGET, RIVANNA_RATE_LIMIT
//	HTTP_ADDR               health server address (disabled when empty)
//	RIVANNA_LOG_LEVEL       debug, info, warn or error (default: info)
//	RIVANNA_LOG_FORMAT      text or json (default: text)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdobrica/rivanna/common/environment"
	"github.com/bdobrica/rivanna/common/version"
	"github.com/bdobrica/rivanna/internal/rivanna/app"
	"github.com/bdobrica/rivanna/internal/rivanna/observability"
)

var rootCmd = &cobra.Command{
	Use:           "rivanna",
	Short:         "Retrieval-augmented persona chat bot for Matrix",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.Setup(os.Stderr,
			environment.StringOr("RIVANNA_LOG_LEVEL", "info"),
			environment.StringOr("RIVANNA_LOG_FORMAT", "text"))
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to Matrix and chat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		if err := requireMatrix(config); err != nil {
			return err
		}

		rivanna, err := app.New(config)
		if err != nil {
			return fmt.Errorf("failed to initialize Rivanna: %w", err)
		}
		defer rivanna.Stop()

		if err := rivanna.Run(); err != nil {
			return fmt.Errorf("error running Rivanna: %w", err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Info())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, memoryCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

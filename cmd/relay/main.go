package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/conf"
	"github.com/DevRickLin/chat-relay/internal/logging"
)

var version = "dev"

var (
	apiURL string
	cfg    *conf.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "WhatsApp relay and autonomous-reply assistant",
	Long: `relay watches WhatsApp Web for new messages, decides whether to answer them
on your behalf or ask you first, and turns your replies into messages.

Run without arguments to start the daemon (same as "relay serve").`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; values then come from the environment
		_ = godotenv.Load()

		cfg = conf.LoadFromEnv()
		var err error
		logger, err = logging.New(logging.Options{Debug: cfg.Debug, Format: cfg.LogFormat})
		if err != nil {
			return err
		}
		if apiURL == "" {
			apiURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.APIPort)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay daemon",
	Long: `Starts the local HTTP API, the WhatsApp polling loop, housekeeping jobs and,
when configured, the Feishu chat surface. If the relay cannot start (bad
configuration or no WhatsApp session) the API keeps serving and /health
reports the relay as down.`,
	RunE: runServe,
}

var sendCmd = &cobra.Command{
	Use:   "send <contact> <text...>",
	Short: "Send a WhatsApp message through the running daemon",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

var sayCmd = &cobra.Command{
	Use:   "say <text...>",
	Short: "Talk to the assistant as if through the chat surface",
	Long: `Hands the text to the relay exactly like a message to the assistant:
it may answer a pending message, run a command or just chat.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSay,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored messages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var historyCmd = &cobra.Command{
	Use:   "history [contact]",
	Short: "Show the latest messages of a conversation, or of all conversations",
	RunE:  runHistory,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show daemon and WhatsApp connection health",
	RunE:  runHealth,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the relay tools over MCP (stdio)",
	RunE:  runMCP,
}

var limit int

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "daemon API URL (default http://127.0.0.1:$API_PORT)")

	searchCmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of messages")
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of messages")

	rootCmd.AddCommand(serveCmd, sendCmd, sayCmd, searchCmd, historyCmd, healthCmd, mcpCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

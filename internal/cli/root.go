package cli

import (
	"log/slog"
	"os"

	"github.com/me/os3/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking OS3_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("OS3_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the os3 CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "os3",
		Short: "os3 - cooperative multitasking kernel",
		Long: `os3 boots a batch of applications on a single simulated core and
switches between them round-robin whenever one yields or exits.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(flagLogLevel), flagLogFormat, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "os3 server URL (or OS3_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newAppsCmd(),
		newSubmitCmd(),
		newRunsCmd(),
		newShowCmd(),
		newEventsCmd(),
	)

	return root
}

package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/corefabric/proxy/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.toml (overrides CORE_CONFIG_PATH)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	serveCmd.Flags().StringVar(&serveShutdownDeadline, "shutdown-deadline", "", "Grace period for in-flight work on shutdown, e.g. 5s (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveConfigPath       string
	serveLogLevel         string
	serveShutdownDeadline string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the predictive orchestration core",
	Long:  `Start the allocation decision loop, external connectors, and local HTTP surface.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveConfigPath != "" {
		os.Setenv("CORE_CONFIG_PATH", serveConfigPath)
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}

	if serveLogLevel != "" {
		d.Config.Logging.Level = serveLogLevel
	}
	if serveShutdownDeadline != "" {
		d.Config.Core.ShutdownDeadline = serveShutdownDeadline
	}

	return d.Serve(context.Background())
}

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/bitdabbler/cwlogs"
	"github.com/spf13/cobra"
)

// NewRootCommand constructs the `cwship` command and its subcommands.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cwship",
		Short:         "Ship log lines to CloudWatch Logs",
		Long:          "cwship reads log lines from stdin and appends them to CloudWatch Logs streams, batching per stream.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("log-format")
			verbose, _ := cmd.Flags().GetBool("verbose")
			return setupLogging(cmd.ErrOrStderr(), format, verbose)
		},
	}

	rootCmd.PersistentFlags().String("log-format", envString("CWSHIP_LOG_FORMAT", "text"), "Diagnostics format: text|json")
	rootCmd.PersistentFlags().Bool("verbose", envBool("CWSHIP_VERBOSE"), "Write debug diagnostics")

	rootCmd.AddCommand(
		newSendCommand(),
		newTailCommand(),
	)

	return rootCmd
}

// setupLogging installs a slog handler on w as the default logger, and routes
// the internal diagnostics of the cwlogs packages onto it.
func setupLogging(w io.Writer, format string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch format {
	case "text", "":
		h = slog.NewTextHandler(w, hopts)
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	default:
		return fmt.Errorf("invalid --log-format %q; use text|json", format)
	}

	slog.SetDefault(slog.New(h))
	cwlogs.SetInternalLogger(slog.NewLogLogger(h.WithAttrs([]slog.Attr{slog.String("component", "cwlogs")}), slog.LevelWarn))
	return nil
}

// flag defaults from the environment

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

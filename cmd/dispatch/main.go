package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/thinkscotty/dispatch/internal/config"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "Error: %s\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %s\n", err)
	return 1
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var (
		configPath string
		envFiles   []string
		cfg        config.Config
	)

	root := &cobra.Command{
		Use:   "dispatch",
		Short: "Rewrite the top news story and publish it through a chain of posting targets",
		Long: `Dispatch reads a link from a shared spreadsheet, fetches the current top
headline, asks Gemini for an analysis that carries the link, and posts the
result to the first paste service, webhook or social account that accepts it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			setupLogging(cfg.Logging)
			config.LoadEnvFiles(envFiles...)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	root.PersistentFlags().StringArrayVar(&envFiles, "env-file", nil, "Env file to load (repeatable, default .env and .env.local)")

	root.AddCommand(
		newRunCmd(&cfg, stdout),
		newWatchCmd(&cfg, stdout),
		newHistoryCmd(&cfg, stdout),
		newTargetsCmd(&cfg, stdout),
		newUpdateCmd(&cfg, stdout),
		&cobra.Command{
			Use:   "version",
			Short: "Print version info",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(stdout, "dispatch %s (built %s)\n", version, buildTime)
			},
		},
	)
	return root
}

func setupLogging(lc config.LoggingConfig) {
	opts := &slog.HandlerOptions{Level: lc.LogLevel()}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/thinkscotty/dispatch/internal/config"
	"github.com/thinkscotty/dispatch/internal/database"
	"github.com/thinkscotty/dispatch/internal/gemini"
	"github.com/thinkscotty/dispatch/internal/httpx"
	"github.com/thinkscotty/dispatch/internal/mission"
	"github.com/thinkscotty/dispatch/internal/models"
	"github.com/thinkscotty/dispatch/internal/publish"
	"github.com/thinkscotty/dispatch/internal/scheduler"
	"github.com/thinkscotty/dispatch/internal/scraper"
	"github.com/thinkscotty/dispatch/internal/similarity"
	"github.com/thinkscotty/dispatch/internal/source"
	"github.com/thinkscotty/dispatch/internal/updater"
)

func newHTTPClient(cfg *config.Config) *httpx.Client {
	return httpx.New(nil, httpx.RetryConfig{
		MaxRetries: cfg.HTTP.MaxRetries,
		BaseDelay:  cfg.HTTP.BaseDelay,
		MaxDelay:   cfg.HTTP.MaxDelay,
	})
}

// openHistory returns nil when history is disabled by an empty path.
func openHistory(cfg *config.Config) (*database.DB, error) {
	if cfg.Database.Path == "" {
		return nil, nil
	}
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	slog.Debug("History database opened", "path", cfg.Database.Path)
	return db, nil
}

func resolveTargets(cfg *config.Config) ([]publish.Target, error) {
	names := cfg.Publish.Targets
	if len(names) == 0 {
		names = config.DefaultTargets
	}
	return publish.Builtin(publish.EndpointsFromConfig(cfg.Endpoints)).Resolve(names)
}

func newRunner(cfg *config.Config, db *database.DB, out io.Writer) (*mission.Runner, error) {
	targets, err := resolveTargets(cfg)
	if err != nil {
		return nil, err
	}

	hc := newHTTPClient(cfg)
	src := source.New(hc, source.Options{
		SheetExportURL: cfg.Endpoints.SheetExport,
		NewsURL:        cfg.Endpoints.News,
		SheetTimeout:   cfg.Timeouts.Sheet,
		NewsTimeout:    cfg.Timeouts.News,
	})
	rw := gemini.NewClient(hc, cfg.Endpoints.Generate, cfg.Timeouts.Generate)
	pub := publish.New(hc, cfg.Timeouts.Publish)

	var history mission.History
	if db != nil {
		history = db
	}
	var enricher mission.Enricher
	if cfg.Enrich.Enabled {
		enricher = scraper.New(cfg.Enrich.Timeout)
	}

	return mission.New(src, rw, pub, history, mission.Options{
		Language: cfg.Compose.Language,
		Footer:   cfg.Compose.Footer,
		Targets:  targets,
		Dedupe:   cfg.Dedupe.Enabled,
		Lookback: cfg.Dedupe.Lookback,
		Checker:  similarity.New(cfg.Dedupe.Threshold, cfg.Dedupe.NGramSize),
		Enricher: enricher,
		Lookup:   os.LookupEnv,
		Out:      out,
	}), nil
}

func newRunCmd(cfg *config.Config, stdout io.Writer) *cobra.Command {
	var bestEffort bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one mission and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openHistory(cfg)
			if err != nil {
				slog.Warn("Running without history", "error", err)
			}
			if db != nil {
				defer db.Close()
			}

			runner, err := newRunner(cfg, db, stdout)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// failures are already printed by the runner
			report, _ := runner.Run(ctx)
			if bestEffort {
				return nil
			}
			if code := report.ExitCode(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&bestEffort, "best-effort", false, "Always exit 0, even when the run fails")
	return cmd
}

func newWatchCmd(cfg *config.Config, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run a mission now and then on every watch interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openHistory(cfg)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			runner, err := newRunner(cfg, db, stdout)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("Starting dispatch", "version", version, "interval", cfg.Watch.Interval)
			scheduler.New(runner, cfg.Watch.Interval).Run(ctx)
			return nil
		},
	}
}

func newHistoryCmd(cfg *config.Config, stdout io.Writer) *cobra.Command {
	var (
		limit   int
		runID   string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs and their publish attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openHistory(cfg)
			if err != nil {
				return err
			}
			if db == nil {
				return fmt.Errorf("history is disabled (database.path is empty)")
			}
			defer db.Close()

			if runID != "" {
				run, err := db.GetRun(runID)
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("run %s not found", runID)
				}
				if err != nil {
					return fmt.Errorf("read run: %w", err)
				}
				if jsonOut {
					return writeJSON(stdout, run)
				}
				printRun(stdout, run)
				return nil
			}

			runs, err := db.RecentRuns(limit)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}

			if jsonOut {
				return writeJSON(stdout, runs)
			}

			if len(runs) == 0 {
				fmt.Fprintln(stdout, "No runs recorded yet.")
				return nil
			}
			for _, r := range runs {
				printRun(stdout, r)
			}

			fmt.Fprintln(stdout)
			if counts, err := db.RunCounts(); err == nil {
				fmt.Fprintf(stdout, "all runs: %s\n", formatCounts(counts))
			}
			if size, err := db.SizeBytes(); err == nil {
				fmt.Fprintf(stdout, "%d runs shown, database %s\n", len(runs), humanize.Bytes(uint64(size)))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	cmd.Flags().StringVar(&runID, "id", "", "Show a single run by ID")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRun(w io.Writer, r models.Run) {
	fmt.Fprintf(w, "%s  %-11s  %s\n", humanize.Time(r.StartedAt), r.Status, r.ID)
	if r.NewsTitle != "" {
		fmt.Fprintf(w, "    news: %s\n", r.NewsTitle)
	}
	if r.Locator != "" {
		fmt.Fprintf(w, "    %s: %s\n", r.Target, r.Locator)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "    error: %s\n", r.Error)
	}
	for _, a := range r.Attempts {
		line := fmt.Sprintf("    #%d %-9s %-9s", a.Position+1, a.Target, a.Outcome)
		if a.StatusCode != 0 {
			line += fmt.Sprintf(" %d", a.StatusCode)
		}
		if a.Error != "" {
			line += "  " + a.Error
		}
		fmt.Fprintln(w, line)
	}
}

// formatCounts renders status counts as "duplicate 1, published 3".
func formatCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	for _, status := range slices.Sorted(maps.Keys(counts)) {
		parts = append(parts, fmt.Sprintf("%s %d", status, counts[status]))
	}
	return strings.Join(parts, ", ")
}

func newTargetsCmd(cfg *config.Config, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List posting targets in fallback order",
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := resolveTargets(cfg)
			if err != nil {
				return err
			}

			creds := publish.Credentials{}
			for _, name := range config.OptionalEnv {
				creds[name] = os.Getenv(name)
			}

			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tTARGET\tKIND\tCREDENTIALS\tREADY")
			for i, t := range targets {
				needs := "-"
				if len(t.Credentials) > 0 {
					needs = strings.Join(t.Credentials, ",")
				}
				ready := "yes"
				if missing := creds.Missing(t.Credentials...); len(missing) > 0 {
					ready = "missing " + strings.Join(missing, ",")
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, t.Name, t.Kind, needs, ready)
			}
			return tw.Flush()
		},
	}
}

func newUpdateCmd(cfg *config.Config, stdout io.Writer) *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for a newer release and install it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			u := updater.New(newHTTPClient(cfg), cfg.Endpoints.Releases, "dispatch")
			fmt.Fprintf(stdout, "dispatch %s, checking for updates...\n", version)

			info, err := u.Check(ctx, version)
			if err != nil {
				return fmt.Errorf("update check failed: %w", err)
			}
			if info == nil {
				fmt.Fprintln(stdout, "Already running the latest version.")
				return nil
			}

			fmt.Fprintf(stdout, "Update available: %s -> %s\n", version, info.TagName)
			fmt.Fprintf(stdout, "Binary: %s (%s)\n", info.AssetName, humanize.IBytes(uint64(info.AssetSize)))
			if checkOnly {
				return nil
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("find executable path: %w", err)
			}
			if err := u.Install(ctx, info, exe); err != nil {
				return fmt.Errorf("installation failed: %w", err)
			}
			fmt.Fprintf(stdout, "Updated to %s.\n", info.Version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report whether an update is available")
	return cmd
}

package mission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/thinkscotty/dispatch/internal/config"
	"github.com/thinkscotty/dispatch/internal/gemini"
	"github.com/thinkscotty/dispatch/internal/models"
	"github.com/thinkscotty/dispatch/internal/publish"
	"github.com/thinkscotty/dispatch/internal/similarity"
)

// Run statuses.
const (
	StatusPublished   = models.RunPublished
	StatusUnpublished = models.RunUnpublished
	StatusFailed      = models.RunFailed
	StatusDuplicate   = models.RunDuplicate
)

// Source yields the two inputs of a run.
type Source interface {
	FetchControlValue(ctx context.Context, documentID string) (string, error)
	FetchNewsItem(ctx context.Context, apiKey string) (models.NewsItem, error)
}

type Rewriter interface {
	Rewrite(ctx context.Context, prompt, apiKey string) (gemini.Generation, error)
}

type Publisher interface {
	Publish(ctx context.Context, text string, targets []publish.Target, creds publish.Credentials) publish.Result
}

// Enricher supplies a description for a news item that came without one.
type Enricher interface {
	Describe(ctx context.Context, pageURL string) (string, error)
}

// History stores finished runs. It is optional.
type History interface {
	RecordRun(r *models.Run) error
	RecentPublishedTrigrams(limit int) ([]similarity.StoredTrigrams, error)
}

type Options struct {
	Language string
	Footer   string
	Targets  []publish.Target

	// Dedupe skips a run whose headline repeats a recently published one.
	Dedupe   bool
	Lookback int
	Checker  *similarity.Checker

	// Enricher is optional.
	Enricher Enricher

	Lookup config.Lookup
	Out    io.Writer
}

// Report describes one run from start to finish.
type Report struct {
	RunID        string
	Status       string
	ControlValue string
	News         models.NewsItem
	Generation   gemini.Generation
	Post         string
	Publish      publish.Result
	Duplicate    *similarity.Match
	Err          error
}

// ExitCode maps the report to a process exit status: 0 for published or
// skipped-as-duplicate, 2 when no target accepted the post, 1 otherwise.
func (r Report) ExitCode() int {
	switch r.Status {
	case StatusPublished, StatusDuplicate:
		return 0
	case StatusUnpublished:
		return 2
	default:
		return 1
	}
}

type Runner struct {
	source    Source
	rewriter  Rewriter
	publisher Publisher
	history   History
	opts      Options
}

func New(src Source, rw Rewriter, pub Publisher, history History, opts Options) *Runner {
	if opts.Checker == nil {
		opts.Checker = similarity.New(0.6, 3)
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 20
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Runner{source: src, rewriter: rw, publisher: pub, history: history, opts: opts}
}

// Run performs one mission. Configuration, fetch and generation failures end
// the run and are returned. A publish chain where every target failed is not
// an error; it shows up as StatusUnpublished in the report.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	started := time.Now()
	report := Report{RunID: uuid.NewString(), Status: StatusFailed}
	log := slog.With("run_id", report.RunID)

	err := r.run(ctx, &report, log)
	if err != nil {
		report.Status = StatusFailed
		report.Err = err
		r.printf("Run failed: %v\n", err)
		log.Error("Run failed", "error", err)
	}

	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		r.record(report, started, log)
	}
	return report, err
}

func (r *Runner) run(ctx context.Context, report *Report, log *slog.Logger) error {
	rc, err := config.LoadRunConfig(r.opts.Lookup)
	if err != nil {
		return err
	}

	controlValue, err := r.source.FetchControlValue(ctx, rc.SheetID)
	if err != nil {
		return fmt.Errorf("fetch control value: %w", err)
	}
	report.ControlValue = controlValue
	r.printf("Control value: %s\n", controlValue)

	news, err := r.source.FetchNewsItem(ctx, rc.NewsKey)
	if err != nil {
		return fmt.Errorf("fetch news: %w", err)
	}
	news = r.enrich(ctx, news, log)
	report.News = news
	r.printf("News: %s\n", news.Title)

	if m, dup := r.checkDuplicate(news.Title, log); dup {
		report.Duplicate = &m
		report.Status = StatusDuplicate
		r.printf("Skipping repeated headline (%.2f similar to run %s)\n", m.Score, m.RunID)
		log.Info("Skipping repeated headline", "score", m.Score, "previous_run", m.RunID)
		return nil
	}

	prompt := gemini.BuildPrompt(news, controlValue, r.opts.Language)
	gen, err := r.rewriter.Rewrite(ctx, prompt, rc.GeminiKey)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	report.Generation = gen
	report.Post = gemini.ComposePost(gen.Text, controlValue, r.opts.Footer)
	r.printf("Generated %d characters\n", len(gen.Text))

	report.Publish = r.publisher.Publish(ctx, report.Post, r.opts.Targets, rc.Credentials)
	r.printf("%s\n", report.Publish.Summary())
	if report.Publish.OK {
		report.Status = StatusPublished
	} else {
		report.Status = StatusUnpublished
		log.Warn("No posting channel succeeded", "tried", report.Publish.Tried())
	}
	return nil
}

// enrich fills an empty description from the article page. Failures leave
// the item unchanged.
func (r *Runner) enrich(ctx context.Context, news models.NewsItem, log *slog.Logger) models.NewsItem {
	if r.opts.Enricher == nil || news.Description != "" || news.URL == "" {
		return news
	}
	desc, err := r.opts.Enricher.Describe(ctx, news.URL)
	if err != nil {
		log.Warn("Could not describe article", "url", news.URL, "error", err)
		return news
	}
	news.Description = desc
	return news
}

func (r *Runner) checkDuplicate(title string, log *slog.Logger) (similarity.Match, bool) {
	if !r.opts.Dedupe || r.history == nil {
		return similarity.Match{}, false
	}
	seen, err := r.history.RecentPublishedTrigrams(r.opts.Lookback)
	if err != nil {
		log.Warn("Failed to load recent headlines, not deduplicating", "error", err)
		return similarity.Match{}, false
	}
	return r.opts.Checker.IsRepeat(title, seen)
}

func (r *Runner) record(report Report, started time.Time, log *slog.Logger) {
	if r.history == nil {
		return
	}

	run := &models.Run{
		ID:             report.RunID,
		StartedAt:      started,
		FinishedAt:     time.Now(),
		Status:         report.Status,
		ControlValue:   report.ControlValue,
		NewsTitle:      report.News.Title,
		GeneratedChars: len(report.Generation.Text),
		TokensUsed:     report.Generation.TokensUsed,
		Target:         report.Publish.Target,
		Locator:        report.Publish.Locator,
	}
	if report.News.Title != "" {
		run.NewsTrigrams = similarity.Encode(r.opts.Checker.Grams(report.News.Title))
	}
	if report.Err != nil {
		run.Error = report.Err.Error()
	}
	for i, a := range report.Publish.Attempts {
		entry := models.AttemptLog{
			Position:   i,
			Target:     a.Target,
			Outcome:    string(a.Outcome),
			StatusCode: a.Status,
			Locator:    a.Locator,
			ElapsedMS:  a.Elapsed.Milliseconds(),
		}
		if a.Err != nil {
			entry.Error = a.Err.Error()
		}
		run.Attempts = append(run.Attempts, entry)
	}

	if err := r.history.RecordRun(run); err != nil {
		log.Warn("Failed to record run history", "error", err)
	}
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.opts.Out, format, args...)
}

package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/thinkscotty/dispatch/internal/httpx"
)

// Kind separates targets that need no credential from those that do.
type Kind int

const (
	Anonymous Kind = iota
	Credentialed
)

func (k Kind) String() string {
	if k == Credentialed {
		return "credentialed"
	}
	return "anonymous"
}

// Credentials maps credential names (environment variable names) to values.
type Credentials map[string]string

// Has reports whether every name has a non-blank value.
func (c Credentials) Has(names ...string) bool {
	for _, n := range names {
		if strings.TrimSpace(c[n]) == "" {
			return false
		}
	}
	return true
}

// Missing returns the names without a value.
func (c Credentials) Missing(names ...string) []string {
	var out []string
	for _, n := range names {
		if strings.TrimSpace(c[n]) == "" {
			out = append(out, n)
		}
	}
	return out
}

// Target describes one posting endpoint: what it needs, how to call it, which
// statuses count as success and where the locator comes from.
type Target struct {
	Name        string
	Kind        Kind
	Credentials []string
	Success     []int
	Build       func(ctx context.Context, text string, creds Credentials) (*http.Request, error)
	Locate      func(resp *httpx.Response, creds Credentials) (string, error)
}

// Outcome of a single attempt.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
	Skipped   Outcome = "skipped"
)

type Attempt struct {
	Target  string
	Outcome Outcome
	Status  int
	Locator string
	Err     error
	Elapsed time.Duration
}

// Result is the outcome of a whole fallback chain.
type Result struct {
	OK       bool
	Target   string
	Locator  string
	Attempts []Attempt
}

// Tried returns the names of targets that were actually called, in order.
func (r Result) Tried() []string {
	var names []string
	for _, a := range r.Attempts {
		if a.Outcome != Skipped {
			names = append(names, a.Target)
		}
	}
	return names
}

func (r Result) Summary() string {
	if r.OK {
		return fmt.Sprintf("published to %s: %s", r.Target, r.Locator)
	}
	skipped := len(r.Attempts) - len(r.Tried())
	return fmt.Sprintf("no posting channel succeeded (%d attempted, %d skipped)", len(r.Tried()), skipped)
}

var errStatus = errors.New("unexpected status")

// Publisher walks a target list until one accepts the text.
type Publisher struct {
	http    *httpx.Client
	timeout time.Duration
}

func New(hc *httpx.Client, timeout time.Duration) *Publisher {
	return &Publisher{http: hc, timeout: timeout}
}

// Publish tries each target in order and stops at the first success.
// Credentialed targets whose credentials are absent are skipped without a
// request. Failures are recorded and never returned as errors.
func (p *Publisher) Publish(ctx context.Context, text string, targets []Target, creds Credentials) Result {
	var res Result
	for _, t := range targets {
		if t.Kind == Credentialed && !creds.Has(t.Credentials...) {
			slog.Debug("Skipping target without credentials", "target", t.Name, "missing", creds.Missing(t.Credentials...))
			res.Attempts = append(res.Attempts, Attempt{Target: t.Name, Outcome: Skipped})
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Attempts = append(res.Attempts, Attempt{Target: t.Name, Outcome: Failed, Err: err})
			continue
		}

		a := p.attempt(ctx, t, text, creds)
		res.Attempts = append(res.Attempts, a)
		if a.Outcome == Succeeded {
			slog.Info("Published", "target", t.Name, "locator", a.Locator)
			res.OK = true
			res.Target = t.Name
			res.Locator = a.Locator
			return res
		}
		slog.Warn("Posting target failed", "target", t.Name, "status", a.Status, "error", a.Err)
	}
	return res
}

// attempt sends one post. Credential values never survive into the attempt's
// error, which is logged and stored in run history.
func (p *Publisher) attempt(ctx context.Context, t Target, text string, creds Credentials) Attempt {
	a := p.send(ctx, t, text, creds)
	a.Err = creds.scrub(a.Err, t.Credentials)
	return a
}

func (p *Publisher) send(ctx context.Context, t Target, text string, creds Credentials) Attempt {
	a := Attempt{Target: t.Name, Outcome: Failed}
	start := time.Now()

	resp, err := p.http.Do(ctx, p.timeout, func(ctx context.Context) (*http.Request, error) {
		return t.Build(ctx, text, creds)
	})
	a.Elapsed = time.Since(start)
	if err != nil {
		a.Err = err
		return a
	}
	a.Status = resp.StatusCode

	if !slices.Contains(t.Success, resp.StatusCode) {
		a.Err = fmt.Errorf("%w %d: %s", errStatus, resp.StatusCode, snippet(resp.Body))
		return a
	}

	locator, err := t.Locate(resp, creds)
	if err != nil {
		a.Err = fmt.Errorf("read locator: %w", err)
		return a
	}

	a.Outcome = Succeeded
	a.Locator = locator
	return a
}

// minSecretLen keeps short values such as chat ids out of redaction.
const minSecretLen = 6

// scrub replaces the values of the named credentials in err's message. The
// returned error still unwraps to err.
func (c Credentials) scrub(err error, names []string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, n := range names {
		v := strings.TrimSpace(c[n])
		if len(v) < minSecretLen {
			continue
		}
		for _, form := range []string{v, url.PathEscape(v), url.QueryEscape(v)} {
			msg = strings.ReplaceAll(msg, form, "[redacted]")
		}
	}
	if msg == err.Error() {
		return err
	}
	return &scrubbedError{msg: msg, err: err}
}

type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

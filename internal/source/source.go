package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thinkscotty/dispatch/internal/httpx"
	"github.com/thinkscotty/dispatch/internal/models"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrMalformedSource   = errors.New("malformed source")
	ErrNoResults         = errors.New("no results")
)

// Options configures where and how long the fetcher looks.
type Options struct {
	SheetExportURL string // %s is replaced by the document id
	NewsURL        string
	SheetTimeout   time.Duration
	NewsTimeout    time.Duration
}

// Fetcher retrieves the control value and the top news item.
type Fetcher struct {
	http *httpx.Client
	opts Options
}

func New(client *httpx.Client, opts Options) *Fetcher {
	return &Fetcher{http: client, opts: opts}
}

// FetchControlValue downloads the spreadsheet as CSV and returns its first
// cell, trimmed.
func (f *Fetcher) FetchControlValue(ctx context.Context, documentID string) (string, error) {
	reqURL := fmt.Sprintf(f.opts.SheetExportURL, url.PathEscape(documentID))
	slog.Info("Fetching control value", "url", reqURL)

	resp, err := f.http.Do(ctx, f.opts.SheetTimeout, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	})
	if err != nil {
		return "", fmt.Errorf("%w: sheet request failed: %v", ErrSourceUnavailable, err)
	}
	if !resp.OK() {
		return "", fmt.Errorf("%w: sheet returned status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	return FirstCell(resp.Body)
}

// FirstCell parses body as CSV and returns the first column of the first row.
func FirstCell(body []byte) (string, error) {
	r := csv.NewReader(strings.NewReader(string(body)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	record, err := r.Read()
	if err == io.EOF {
		return "", fmt.Errorf("%w: sheet is empty", ErrMalformedSource)
	}
	if err != nil {
		return "", fmt.Errorf("%w: parse csv: %v", ErrMalformedSource, err)
	}
	if len(record) == 0 {
		return "", fmt.Errorf("%w: first row has no columns", ErrMalformedSource)
	}

	value := strings.TrimSpace(strings.TrimPrefix(record[0], "\ufeff"))
	if value == "" {
		return "", fmt.Errorf("%w: first cell is blank", ErrMalformedSource)
	}
	return value, nil
}

type newsResponse struct {
	Status   string        `json:"status"`
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Articles []newsArticle `json:"articles"`
}

type newsArticle struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	URL         string  `json:"url"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`
}

// FetchNewsItem asks the news service for its single top English headline.
func (f *Fetcher) FetchNewsItem(ctx context.Context, apiKey string) (models.NewsItem, error) {
	params := url.Values{
		"language": {"en"},
		"pageSize": {"1"},
		"apiKey":   {apiKey},
	}
	reqURL := f.opts.NewsURL + "?" + params.Encode()
	slog.Info("Fetching latest news")

	resp, err := f.http.Do(ctx, f.opts.NewsTimeout, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	})
	if err != nil {
		return models.NewsItem{}, fmt.Errorf("%w: news request failed: %v", ErrSourceUnavailable, redact(err, apiKey))
	}

	var body newsResponse
	decodeErr := json.Unmarshal(resp.Body, &body)

	if !resp.OK() {
		if decodeErr == nil && body.Status == "error" {
			return models.NewsItem{}, fmt.Errorf("%w: news returned status %d: %s: %s",
				ErrSourceUnavailable, resp.StatusCode, body.Code, body.Message)
		}
		return models.NewsItem{}, fmt.Errorf("%w: news returned status %d", ErrSourceUnavailable, resp.StatusCode)
	}
	if decodeErr != nil {
		return models.NewsItem{}, fmt.Errorf("%w: parse news response: %v", ErrSourceUnavailable, decodeErr)
	}
	if len(body.Articles) == 0 {
		return models.NewsItem{}, fmt.Errorf("%w: news query returned no articles", ErrNoResults)
	}

	a := body.Articles[0]
	item := models.NewsItem{
		Title:       deref(a.Title),
		Description: deref(a.Description),
		URL:         a.URL,
		SourceName:  a.Source.Name,
	}
	slog.Info("Fetched news", "title", item.Title, "source", item.SourceName)
	return item, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// redact keeps API keys out of error messages that embed the request URL.
func redact(err error, secret string) string {
	msg := err.Error()
	if secret == "" {
		return msg
	}
	return strings.ReplaceAll(msg, secret, "REDACTED")
}

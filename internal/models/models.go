package models

import (
	"fmt"
	"time"
)

// NewsItem is the first headline returned by the news query.
type NewsItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
	SourceName  string `json:"source_name,omitempty"`
}

// Text renders the item the way it is embedded into prompts.
func (n NewsItem) Text() string {
	return fmt.Sprintf("Title: %s\nDescription: %s", n.Title, n.Description)
}

// Run status values.
const (
	RunPublished   = "published"
	RunUnpublished = "unpublished"
	RunFailed      = "failed"
	RunDuplicate   = "duplicate"
)

type Run struct {
	ID             string       `json:"id"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
	Status         string       `json:"status"`
	ControlValue   string       `json:"control_value,omitempty"`
	NewsTitle      string       `json:"news_title,omitempty"`
	NewsTrigrams   string       `json:"-"`
	GeneratedChars int          `json:"generated_chars"`
	TokensUsed     int          `json:"tokens_used"`
	Target         string       `json:"target,omitempty"`
	Locator        string       `json:"locator,omitempty"`
	Error          string       `json:"error,omitempty"`
	Attempts       []AttemptLog `json:"attempts,omitempty"`
}

// AttemptLog is the stored form of one publish attempt.
type AttemptLog struct {
	Position   int    `json:"position"`
	Target     string `json:"target"`
	Outcome    string `json:"outcome"`
	StatusCode int    `json:"status_code,omitempty"`
	Locator    string `json:"locator,omitempty"`
	Error      string `json:"error,omitempty"`
	ElapsedMS  int64  `json:"elapsed_ms"`
}

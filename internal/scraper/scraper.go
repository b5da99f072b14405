package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

var ErrNoDescription = errors.New("page has no usable description")

// Scraper reads article pages.
type Scraper struct {
	userAgent      string
	requestTimeout time.Duration
	maxChars       int
}

func New(timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Scraper{
		userAgent:      "dispatch/1.0 (+https://github.com/thinkscotty/dispatch)",
		requestTimeout: timeout,
		maxChars:       600,
	}
}

// Describe returns a short summary of the page at pageURL. It prefers the
// Open Graph description, then the meta description, then the first
// paragraph long enough to read as prose.
func (s *Scraper) Describe(ctx context.Context, pageURL string) (string, error) {
	if err := ValidateURL(pageURL); err != nil {
		return "", err
	}

	c := colly.NewCollector(
		colly.UserAgent(s.userAgent),
		colly.MaxDepth(1),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(s.requestTimeout)

	var (
		mu        sync.Mutex
		ogDesc    string
		metaDesc  string
		paragraph string
		scrapeErr error
	)

	c.OnHTML(`meta[property="og:description"]`, func(e *colly.HTMLElement) {
		mu.Lock()
		defer mu.Unlock()
		if ogDesc == "" {
			ogDesc = cleanText(e.Attr("content"))
		}
	})

	c.OnHTML(`meta[name="description"]`, func(e *colly.HTMLElement) {
		mu.Lock()
		defer mu.Unlock()
		if metaDesc == "" {
			metaDesc = cleanText(e.Attr("content"))
		}
	})

	c.OnHTML("p", func(e *colly.HTMLElement) {
		mu.Lock()
		defer mu.Unlock()
		text := cleanText(e.Text)
		if paragraph == "" && len(text) > 50 {
			paragraph = text
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		scrapeErr = fmt.Errorf("scrape %s: %w (status: %d)", pageURL, err, r.StatusCode)
	})

	if err := c.Visit(pageURL); err != nil {
		return "", fmt.Errorf("visit %s: %w", pageURL, err)
	}
	c.Wait()

	if scrapeErr != nil {
		return "", scrapeErr
	}

	for _, d := range []string{ogDesc, metaDesc, paragraph} {
		if d != "" {
			return truncate(d, s.maxChars), nil
		}
	}
	return "", ErrNoDescription
}

// ValidateURL checks that a URL is absolute and uses http or https.
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

func cleanText(s string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}

package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thinkscotty/dispatch/internal/config"
	"github.com/thinkscotty/dispatch/internal/httpx"
)

var errNoLocator = errors.New("response carried no locator")

// Endpoints are the base URLs of the built-in targets. Webhook and Mastodon
// URLs come from credentials instead.
type Endpoints struct {
	Nekobin   string
	Hastebin  string
	PasteRS   string
	ZeroXZero string
	IxIO      string
	PasteEE   string
	Telegram  string
}

// EndpointsFromConfig copies the target base URLs out of the config.
func EndpointsFromConfig(e config.EndpointsConfig) Endpoints {
	return Endpoints{
		Nekobin:   e.Nekobin,
		Hastebin:  e.Hastebin,
		PasteRS:   e.PasteRS,
		ZeroXZero: e.ZeroXZero,
		IxIO:      e.IxIO,
		PasteEE:   e.PasteEE,
		Telegram:  e.Telegram,
	}
}

// Registry holds the known targets by name.
type Registry map[string]Target

// Builtin returns every supported target wired to the given endpoints.
func Builtin(ep Endpoints) Registry {
	r := Registry{}
	for _, t := range []Target{
		nekobin(ep.Nekobin),
		hastebin(ep.Hastebin),
		pasteRS(ep.PasteRS),
		zeroXZero(ep.ZeroXZero),
		ixIO(ep.IxIO),
		pasteEE(ep.PasteEE),
		discord(),
		telegram(ep.Telegram),
		mastodon(),
	} {
		r[t.Name] = t
	}
	return r
}

// Resolve returns the named targets in the given order.
func (r Registry) Resolve(names []string) ([]Target, error) {
	targets := make([]Target, 0, len(names))
	var unknown []string
	for _, n := range names {
		t, ok := r[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		targets = append(targets, t)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown posting targets: %s", strings.Join(unknown, ", "))
	}
	return targets, nil
}

func trimBase(base string) string {
	return strings.TrimRight(base, "/")
}

func jsonRequest(ctx context.Context, method, endpoint string, v any) (*http.Request, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func formRequest(ctx context.Context, endpoint string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// bodyLocator treats the trimmed response body as the locator.
func bodyLocator(resp *httpx.Response, _ Credentials) (string, error) {
	loc := strings.TrimSpace(string(resp.Body))
	if loc == "" {
		return "", errNoLocator
	}
	return loc, nil
}

func nekobin(base string) Target {
	return Target{
		Name:    "nekobin",
		Kind:    Anonymous,
		Success: []int{http.StatusOK, http.StatusCreated},
		Build: func(ctx context.Context, text string, _ Credentials) (*http.Request, error) {
			return jsonRequest(ctx, "POST", trimBase(base)+"/api/documents", map[string]string{"content": text})
		},
		Locate: func(resp *httpx.Response, _ Credentials) (string, error) {
			var body struct {
				Result struct {
					Key string `json:"key"`
				} `json:"result"`
			}
			if err := json.Unmarshal(resp.Body, &body); err != nil {
				return "", err
			}
			if body.Result.Key == "" {
				return "", errNoLocator
			}
			return trimBase(base) + "/" + body.Result.Key, nil
		},
	}
}

func hastebin(base string) Target {
	return Target{
		Name:    "hastebin",
		Kind:    Anonymous,
		Success: []int{http.StatusOK, http.StatusCreated},
		Build: func(ctx context.Context, text string, _ Credentials) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, "POST", trimBase(base)+"/documents", strings.NewReader(text))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "text/plain; charset=utf-8")
			return req, nil
		},
		Locate: func(resp *httpx.Response, _ Credentials) (string, error) {
			var body struct {
				Key string `json:"key"`
			}
			if err := json.Unmarshal(resp.Body, &body); err != nil {
				return "", err
			}
			if body.Key == "" {
				return "", errNoLocator
			}
			return trimBase(base) + "/" + body.Key, nil
		},
	}
}

func pasteRS(base string) Target {
	return Target{
		Name:    "pasters",
		Kind:    Anonymous,
		Success: []int{http.StatusOK, http.StatusCreated},
		Build: func(ctx context.Context, text string, _ Credentials) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, "POST", base, strings.NewReader(text))
		},
		Locate: bodyLocator,
	}
}

func zeroXZero(base string) Target {
	return Target{
		Name:    "0x0st",
		Kind:    Anonymous,
		Success: []int{http.StatusOK, http.StatusCreated},
		Build: func(ctx context.Context, text string, _ Credentials) (*http.Request, error) {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			fw, err := mw.CreateFormFile("file", "post.txt")
			if err != nil {
				return nil, err
			}
			if _, err := fw.Write([]byte(text)); err != nil {
				return nil, err
			}
			if err := mw.Close(); err != nil {
				return nil, err
			}
			req, err := http.NewRequestWithContext(ctx, "POST", base, &buf)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", mw.FormDataContentType())
			return req, nil
		},
		Locate: bodyLocator,
	}
}

func ixIO(base string) Target {
	return Target{
		Name:    "ixio",
		Kind:    Anonymous,
		Success: []int{http.StatusOK, http.StatusCreated},
		Build: func(ctx context.Context, text string, _ Credentials) (*http.Request, error) {
			return formRequest(ctx, base, url.Values{"f:1": {text}})
		},
		Locate: bodyLocator,
	}
}

type pasteEESection struct {
	Name     string `json:"name"`
	Contents string `json:"contents"`
}

type pasteEERequest struct {
	Description string           `json:"description"`
	Sections    []pasteEESection `json:"sections"`
}

func pasteEE(base string) Target {
	return Target{
		Name:        "pasteee",
		Kind:        Credentialed,
		Credentials: []string{config.EnvPasteEEToken},
		Success:     []int{http.StatusCreated},
		Build: func(ctx context.Context, text string, creds Credentials) (*http.Request, error) {
			body := pasteEERequest{
				Description: "dispatch - " + time.Now().Format("2006-01-02"),
				Sections:    []pasteEESection{{Name: "AI News Analysis", Contents: text}},
			}
			req, err := jsonRequest(ctx, "POST", trimBase(base)+"/v1/pastes", body)
			if err != nil {
				return nil, err
			}
			req.Header.Set("X-Auth-Token", creds[config.EnvPasteEEToken])
			return req, nil
		},
		Locate: func(resp *httpx.Response, _ Credentials) (string, error) {
			var body struct {
				Link string `json:"link"`
			}
			if err := json.Unmarshal(resp.Body, &body); err != nil {
				return "", err
			}
			if body.Link == "" {
				return "", errNoLocator
			}
			return body.Link, nil
		},
	}
}

func discord() Target {
	return Target{
		Name:        "discord",
		Kind:        Credentialed,
		Credentials: []string{config.EnvDiscordWebhook},
		Success:     []int{http.StatusOK, http.StatusNoContent},
		Build: func(ctx context.Context, text string, creds Credentials) (*http.Request, error) {
			return jsonRequest(ctx, "POST", creds[config.EnvDiscordWebhook], map[string]string{"content": text})
		},
		Locate: func(*httpx.Response, Credentials) (string, error) {
			return "discord:webhook_ok", nil
		},
	}
}

func telegram(base string) Target {
	return Target{
		Name:        "telegram",
		Kind:        Credentialed,
		Credentials: []string{config.EnvTelegramToken, config.EnvTelegramChatID},
		Success:     []int{http.StatusOK},
		Build: func(ctx context.Context, text string, creds Credentials) (*http.Request, error) {
			u := fmt.Sprintf("%s/bot%s/sendMessage", trimBase(base), creds[config.EnvTelegramToken])
			return formRequest(ctx, u, url.Values{
				"chat_id":    {creds[config.EnvTelegramChatID]},
				"text":       {text},
				"parse_mode": {"HTML"},
			})
		},
		Locate: func(resp *httpx.Response, creds Credentials) (string, error) {
			var body struct {
				Result struct {
					MessageID int64 `json:"message_id"`
				} `json:"result"`
			}
			if err := json.Unmarshal(resp.Body, &body); err != nil || body.Result.MessageID == 0 {
				return "telegram:ok", nil
			}
			return fmt.Sprintf("telegram://%s/%d", creds[config.EnvTelegramChatID], body.Result.MessageID), nil
		},
	}
}

func mastodon() Target {
	return Target{
		Name:        "mastodon",
		Kind:        Credentialed,
		Credentials: []string{config.EnvMastodonBaseURL, config.EnvMastodonToken},
		Success:     []int{http.StatusOK, http.StatusAccepted},
		Build: func(ctx context.Context, text string, creds Credentials) (*http.Request, error) {
			u := trimBase(creds[config.EnvMastodonBaseURL]) + "/api/v1/statuses"
			req, err := formRequest(ctx, u, url.Values{
				"status":     {text},
				"visibility": {"public"},
			})
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+creds[config.EnvMastodonToken])
			return req, nil
		},
		Locate: func(resp *httpx.Response, _ Credentials) (string, error) {
			var body struct {
				URL string `json:"url"`
				URI string `json:"uri"`
			}
			if err := json.Unmarshal(resp.Body, &body); err != nil {
				return "", err
			}
			if body.URL != "" {
				return body.URL, nil
			}
			if body.URI != "" {
				return body.URI, nil
			}
			return "", errNoLocator
		},
	}
}

package publish

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/dispatch/internal/config"
	"github.com/thinkscotty/dispatch/internal/httpx"
)

// captured holds what a fake service saw.
type captured struct {
	method      string
	path        string
	contentType string
	auth        string
	header      http.Header
	body        []byte
	form        map[string]string
}

func fakeService(t *testing.T, code int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.method = r.Method
		c.path = r.URL.Path
		c.contentType = r.Header.Get("Content-Type")
		c.auth = r.Header.Get("Authorization")
		c.header = r.Header.Clone()
		if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
			assert.NoError(t, r.ParseForm())
			c.form = map[string]string{}
			for k := range r.PostForm {
				c.form[k] = r.PostForm.Get(k)
			}
		} else if mr, err := r.MultipartReader(); err == nil {
			part, err := mr.NextPart()
			if !assert.NoError(t, err) {
				return
			}
			c.form = map[string]string{"field": part.FormName(), "filename": part.FileName()}
			c.body, _ = io.ReadAll(part)
		} else {
			c.body, _ = io.ReadAll(r.Body)
		}
		w.WriteHeader(code)
		w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func publishOne(t *testing.T, srv *httptest.Server, target Target, creds Credentials) Result {
	t.Helper()
	hc := httpx.New(srv.Client(), httpx.RetryConfig{MaxRetries: 0})
	return New(hc, time.Second).Publish(context.Background(), "the post", []Target{target}, creds)
}

func TestNekobin(t *testing.T) {
	srv, got := fakeService(t, http.StatusCreated, `{"ok":true,"result":{"key":"abc123"}}`)
	res := publishOne(t, srv, Builtin(Endpoints{Nekobin: srv.URL + "/"})["nekobin"], nil)

	require.True(t, res.OK)
	assert.Equal(t, srv.URL+"/abc123", res.Locator)
	assert.Equal(t, "/api/documents", got.path)
	assert.Equal(t, "application/json", got.contentType)
	assert.JSONEq(t, `{"content":"the post"}`, string(got.body))
}

func TestNekobin_MissingKeyFails(t *testing.T) {
	srv, _ := fakeService(t, http.StatusOK, `{"ok":false,"error":"nope"}`)
	res := publishOne(t, srv, Builtin(Endpoints{Nekobin: srv.URL})["nekobin"], nil)
	assert.False(t, res.OK)
}

func TestHastebin(t *testing.T) {
	srv, got := fakeService(t, http.StatusOK, `{"key":"qwe"}`)
	res := publishOne(t, srv, Builtin(Endpoints{Hastebin: srv.URL})["hastebin"], nil)

	require.True(t, res.OK)
	assert.Equal(t, srv.URL+"/qwe", res.Locator)
	assert.Equal(t, "/documents", got.path)
	assert.Equal(t, "the post", string(got.body))
}

func TestPasteRS(t *testing.T) {
	srv, got := fakeService(t, http.StatusCreated, "https://paste.rs/Xyz\n")
	res := publishOne(t, srv, Builtin(Endpoints{PasteRS: srv.URL})["pasters"], nil)

	require.True(t, res.OK)
	assert.Equal(t, "https://paste.rs/Xyz", res.Locator)
	assert.Equal(t, "the post", string(got.body))
}

func TestZeroXZero(t *testing.T) {
	srv, got := fakeService(t, http.StatusOK, "https://0x0.st/abc.txt\n")
	res := publishOne(t, srv, Builtin(Endpoints{ZeroXZero: srv.URL})["0x0st"], nil)

	require.True(t, res.OK)
	assert.Equal(t, "https://0x0.st/abc.txt", res.Locator)
	assert.Equal(t, "file", got.form["field"])
	assert.Equal(t, "post.txt", got.form["filename"])
	assert.Equal(t, "the post", string(got.body))
}

func TestIxIO(t *testing.T) {
	srv, got := fakeService(t, http.StatusOK, "http://ix.io/4abc\n")
	res := publishOne(t, srv, Builtin(Endpoints{IxIO: srv.URL})["ixio"], nil)

	require.True(t, res.OK)
	assert.Equal(t, "http://ix.io/4abc", res.Locator)
	assert.Equal(t, "the post", got.form["f:1"])
}

func TestPasteEE(t *testing.T) {
	srv, got := fakeService(t, http.StatusCreated, `{"id":"p1","link":"https://paste.ee/p/p1","success":true}`)
	target := Builtin(Endpoints{PasteEE: srv.URL})["pasteee"]
	res := publishOne(t, srv, target, Credentials{config.EnvPasteEEToken: "tok"})

	require.True(t, res.OK)
	assert.Equal(t, "https://paste.ee/p/p1", res.Locator)
	assert.Equal(t, "/v1/pastes", got.path)
	assert.Equal(t, "tok", got.header.Get("X-Auth-Token"))

	var body pasteEERequest
	require.NoError(t, json.Unmarshal(got.body, &body))
	require.Len(t, body.Sections, 1)
	assert.Equal(t, "the post", body.Sections[0].Contents)
}

func TestPasteEE_OnlyCreatedCounts(t *testing.T) {
	srv, _ := fakeService(t, http.StatusOK, `{"link":"https://paste.ee/p/p1"}`)
	target := Builtin(Endpoints{PasteEE: srv.URL})["pasteee"]
	res := publishOne(t, srv, target, Credentials{config.EnvPasteEEToken: "tok"})
	assert.False(t, res.OK)
}

func TestDiscord(t *testing.T) {
	srv, got := fakeService(t, http.StatusNoContent, "")
	res := publishOne(t, srv, Builtin(Endpoints{})["discord"],
		Credentials{config.EnvDiscordWebhook: srv.URL + "/api/webhooks/1/abc"})

	require.True(t, res.OK)
	assert.Equal(t, "discord:webhook_ok", res.Locator)
	assert.Equal(t, "/api/webhooks/1/abc", got.path)
	assert.JSONEq(t, `{"content":"the post"}`, string(got.body))
}

func TestTelegram(t *testing.T) {
	srv, got := fakeService(t, http.StatusOK, `{"ok":true,"result":{"message_id":77}}`)
	res := publishOne(t, srv, Builtin(Endpoints{Telegram: srv.URL})["telegram"], Credentials{
		config.EnvTelegramToken:  "123:ABC",
		config.EnvTelegramChatID: "-100",
	})

	require.True(t, res.OK)
	assert.Equal(t, "telegram://-100/77", res.Locator)
	assert.Equal(t, "/bot123:ABC/sendMessage", got.path)
	assert.Equal(t, map[string]string{"chat_id": "-100", "text": "the post", "parse_mode": "HTML"}, got.form)
}

func TestTelegram_WithoutMessageID(t *testing.T) {
	srv, _ := fakeService(t, http.StatusOK, `{"ok":true}`)
	res := publishOne(t, srv, Builtin(Endpoints{Telegram: srv.URL})["telegram"], Credentials{
		config.EnvTelegramToken:  "t",
		config.EnvTelegramChatID: "c",
	})
	require.True(t, res.OK)
	assert.Equal(t, "telegram:ok", res.Locator)
}

func publishUnreachable(t *testing.T, target Target, creds Credentials) Result {
	t.Helper()
	hc := httpx.New(nil, httpx.RetryConfig{MaxRetries: 0})
	return New(hc, time.Second).Publish(context.Background(), "the post", []Target{target}, creds)
}

func TestTelegram_TransportErrorHidesToken(t *testing.T) {
	res := publishUnreachable(t, Builtin(Endpoints{Telegram: "http://127.0.0.1:1"})["telegram"], Credentials{
		config.EnvTelegramToken:  "123456:SECRET-BOT-TOKEN",
		config.EnvTelegramChatID: "-100",
	})

	require.False(t, res.OK)
	require.Len(t, res.Attempts, 1)
	require.Error(t, res.Attempts[0].Err)
	assert.NotContains(t, res.Attempts[0].Err.Error(), "SECRET-BOT-TOKEN")
}

func TestDiscord_TransportErrorHidesWebhook(t *testing.T) {
	res := publishUnreachable(t, Builtin(Endpoints{})["discord"], Credentials{
		config.EnvDiscordWebhook: "http://127.0.0.1:1/api/webhooks/1/WEBHOOK-SECRET",
	})

	require.False(t, res.OK)
	require.Len(t, res.Attempts, 1)
	require.Error(t, res.Attempts[0].Err)
	assert.NotContains(t, res.Attempts[0].Err.Error(), "WEBHOOK-SECRET")
}

func TestTelegram_EchoedTokenIsRedacted(t *testing.T) {
	srv, _ := fakeService(t, http.StatusBadRequest, `{"ok":false,"description":"bad token 123456:SECRET-BOT-TOKEN"}`)
	res := publishOne(t, srv, Builtin(Endpoints{Telegram: srv.URL})["telegram"], Credentials{
		config.EnvTelegramToken:  "123456:SECRET-BOT-TOKEN",
		config.EnvTelegramChatID: "-100",
	})

	require.False(t, res.OK)
	err := res.Attempts[0].Err
	require.ErrorIs(t, err, errStatus)
	assert.Contains(t, err.Error(), "[redacted]")
	assert.NotContains(t, err.Error(), "SECRET-BOT-TOKEN")
}

func TestMastodon(t *testing.T) {
	srv, got := fakeService(t, http.StatusOK, `{"id":"1","uri":"https://m/users/a/statuses/1","url":"https://m/@a/1"}`)
	res := publishOne(t, srv, Builtin(Endpoints{})["mastodon"], Credentials{
		config.EnvMastodonBaseURL: srv.URL + "/",
		config.EnvMastodonToken:   "bearer-tok",
	})

	require.True(t, res.OK)
	assert.Equal(t, "https://m/@a/1", res.Locator)
	assert.Equal(t, "/api/v1/statuses", got.path)
	assert.Equal(t, "Bearer bearer-tok", got.auth)
	assert.Equal(t, map[string]string{"status": "the post", "visibility": "public"}, got.form)
}

func TestMastodon_FallsBackToURI(t *testing.T) {
	srv, _ := fakeService(t, http.StatusAccepted, `{"uri":"https://m/users/a/statuses/2"}`)
	res := publishOne(t, srv, Builtin(Endpoints{})["mastodon"], Credentials{
		config.EnvMastodonBaseURL: srv.URL,
		config.EnvMastodonToken:   "t",
	})
	require.True(t, res.OK)
	assert.Equal(t, "https://m/users/a/statuses/2", res.Locator)
}

func TestResolve(t *testing.T) {
	reg := Builtin(Endpoints{})

	targets, err := reg.Resolve(config.DefaultTargets)
	require.NoError(t, err)
	require.Len(t, targets, len(config.DefaultTargets))

	firstCredentialed := -1
	for i, tgt := range targets {
		assert.Equal(t, config.DefaultTargets[i], tgt.Name)
		if tgt.Kind == Credentialed && firstCredentialed < 0 {
			firstCredentialed = i
		}
		if firstCredentialed >= 0 {
			assert.Equal(t, Credentialed, tgt.Kind, "anonymous target %s after a credentialed one", tgt.Name)
		}
	}

	_, err = reg.Resolve([]string{"nekobin", "myspace"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "myspace")
}

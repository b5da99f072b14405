package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/thinkscotty/dispatch/internal/httpx"
)

// ReleaseInfo describes a release newer than the running binary.
type ReleaseInfo struct {
	TagName     string
	Version     string // TagName without the leading "v"
	PublishedAt string
	HTMLURL     string
	AssetURL    string
	AssetName   string
	AssetSize   int64
}

type ghRelease struct {
	TagName     string    `json:"tag_name"`
	HTMLURL     string    `json:"html_url"`
	PublishedAt string    `json:"published_at"`
	Assets      []ghAsset `json:"assets"`
}

type ghAsset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type Updater struct {
	http       *httpx.Client
	releaseURL string
	binary     string
}

// New returns an updater that reads the latest release from releaseURL and
// looks for an asset named <binary>-<os>-<arch>.
func New(hc *httpx.Client, releaseURL, binary string) *Updater {
	return &Updater{http: hc, releaseURL: releaseURL, binary: binary}
}

// Check returns the latest release, or nil when currentVersion is up to date.
func (u *Updater) Check(ctx context.Context, currentVersion string) (*ReleaseInfo, error) {
	resp, err := u.http.Do(ctx, 15*time.Second, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.releaseURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("release request failed: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("release API returned status %d", resp.StatusCode)
	}

	var release ghRelease
	if err := json.Unmarshal(resp.Body, &release); err != nil {
		return nil, fmt.Errorf("parse release: %w", err)
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	if !isNewer(currentVersion, latest) {
		return nil, nil
	}

	asset, ok := u.matchAsset(release.Assets, runtime.GOOS, runtime.GOARCH)
	if !ok {
		return nil, fmt.Errorf("no binary for %s/%s in release %s", runtime.GOOS, runtime.GOARCH, release.TagName)
	}

	return &ReleaseInfo{
		TagName:     release.TagName,
		Version:     latest,
		PublishedAt: release.PublishedAt,
		HTMLURL:     release.HTMLURL,
		AssetURL:    asset.BrowserDownloadURL,
		AssetName:   asset.Name,
		AssetSize:   asset.Size,
	}, nil
}

// Install downloads the release asset and renames it over execPath.
func (u *Updater) Install(ctx context.Context, info *ReleaseInfo, execPath string) error {
	resolved, err := filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("resolve symlinks: %w", err)
	}

	slog.Info("Downloading update", "url", info.AssetURL, "target", resolved)
	resp, err := u.http.Do(ctx, 5*time.Minute, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, info.AssetURL, nil)
	})
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	if info.AssetSize > 0 && int64(len(resp.Body)) != info.AssetSize {
		return fmt.Errorf("download size mismatch: expected %d bytes, got %d", info.AssetSize, len(resp.Body))
	}

	tmpPath := resolved + ".update.tmp"
	os.Remove(tmpPath)
	if err := writeFile(tmpPath, resp.Body); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, resolved); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace binary: %w", err)
	}

	slog.Info("Binary replaced", "path", resolved, "version", info.Version)
	return nil
}

func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write download: %w", err)
	}
	return f.Close()
}

func (u *Updater) matchAsset(assets []ghAsset, goos, goarch string) (ghAsset, bool) {
	want := fmt.Sprintf("%s-%s-%s", u.binary, goos, goarch)
	if goos == "windows" {
		want += ".exe"
	}
	for _, a := range assets {
		if a.Name == want {
			return a, true
		}
	}
	return ghAsset{}, false
}

// isNewer reports whether latest is a higher version than current. Builds
// that are not plain releases ("dev", bare commit hashes) are always older.
func isNewer(current, latest string) bool {
	current = strings.TrimSuffix(strings.TrimPrefix(current, "v"), "-dirty")
	latest = strings.TrimPrefix(latest, "v")

	// git describe: 0.8.2-3-gabcdef1
	if idx := strings.Index(current, "-"); idx > 0 {
		current = current[:idx]
	}
	if !isSemver(current) {
		return true
	}

	cur, lat := parseSemver(current), parseSemver(latest)
	for i := range cur {
		if lat[i] != cur[i] {
			return lat[i] > cur[i]
		}
	}
	return false
}

func isSemver(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return false
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			return false
		}
	}
	return true
}

func parseSemver(s string) [3]int {
	var v [3]int
	for i, p := range strings.SplitN(s, ".", 3) {
		v[i], _ = strconv.Atoi(p)
	}
	return v
}

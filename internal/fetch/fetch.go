// Package fetch retrieves source media with yt-dlp, falling back across
// client identities, cookie policies, and format preferences, and classifies
// failures into the typed error taxonomy.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ontimehq/shorts-pipeline/internal/cache"
	"github.com/ontimehq/shorts-pipeline/internal/execx"
	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

// Config holds fetcher tuning.
type Config struct {
	// CookiesPath enables a cookie-authenticated first pass when set.
	CookiesPath string
	// ClientIdentities are the simulated player clients tried for anonymous
	// passes, in order.
	ClientIdentities []string
	// FormatChain is the descending format preference passed to yt-dlp.
	FormatChain []string
	// DownloadTimeout bounds one download attempt.
	DownloadTimeout time.Duration
	// ProbeTimeout bounds one metadata query.
	ProbeTimeout time.Duration
	// MetadataTTL is how long probe results stay cached.
	MetadataTTL time.Duration
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if len(c.ClientIdentities) == 0 {
		c.ClientIdentities = []string{"android", "web", "ios"}
	}
	if len(c.FormatChain) == 0 {
		c.FormatChain = []string{"bv*+ba/b", "b"}
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 5 * time.Minute
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 15 * time.Second
	}
	if c.MetadataTTL <= 0 {
		c.MetadataTTL = 6 * time.Hour
	}
}

// attempt is one (client identity, cookie policy) pass.
type attempt struct {
	client  string
	cookies string
}

// Fetcher downloads source media and probes metadata via yt-dlp.
type Fetcher struct {
	cfg    Config
	runner execx.Runner
	cache  cache.Cache
	logger *slog.Logger
}

// NewFetcher creates a fetcher. The cache is consulted for probe results and
// resolved video ids; pass a cache.Memory when Redis is not configured.
func NewFetcher(cfg Config, runner execx.Runner, c cache.Cache, logger *slog.Logger) *Fetcher {
	cfg.Defaults()
	return &Fetcher{cfg: cfg, runner: runner, cache: c, logger: logger}
}

// attempts builds the prioritized pass list: a cookie-authenticated pass
// first when credentials are configured, then anonymous passes per client
// identity.
func (f *Fetcher) attempts() []attempt {
	var out []attempt
	if f.cfg.CookiesPath != "" {
		out = append(out, attempt{client: f.cfg.ClientIdentities[0], cookies: f.cfg.CookiesPath})
	}
	for _, c := range f.cfg.ClientIdentities {
		out = append(out, attempt{client: c})
	}
	return out
}

func (a attempt) args() []string {
	args := []string{"--no-playlist", "--restrict-filenames"}
	if a.client != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+a.client)
	}
	if a.cookies != "" {
		args = append(args, "--cookies", a.cookies)
	}
	return args
}

// ResolveVideoID asks yt-dlp for the canonical video id of a URL. Results are
// cached; failures are non-fatal for callers that only use the id for dedupe.
func (f *Fetcher) ResolveVideoID(ctx context.Context, sourceURL string) (string, error) {
	key := "vid:" + sourceURL
	if v, ok, _ := f.cache.Get(ctx, key); ok {
		return v, nil
	}

	res, err := f.runner.Run(ctx, f.cfg.ProbeTimeout, "yt-dlp", "-s", "--get-id", sourceURL)
	if err != nil {
		return "", Classify("resolve", res.Output(), err)
	}
	id := firstLine(res.Stdout)
	if id == "" {
		return "", shorts.NewTransientError("resolve", errors.New("yt-dlp returned empty id"))
	}

	_ = f.cache.Set(ctx, key, id, f.cfg.MetadataTTL)
	return id, nil
}

// ProbeDuration attempts a lightweight metadata-only duration query, walking
// the same client fallback as downloads. An inconclusive probe returns (0,
// nil): the post-download measurement is the authoritative check. A permanent
// classification short-circuits the remaining attempts.
func (f *Fetcher) ProbeDuration(ctx context.Context, sourceURL string) (float64, error) {
	key := "dur:" + sourceURL
	if v, ok, _ := f.cache.Get(ctx, key); ok {
		if d, err := strconv.ParseFloat(v, 64); err == nil {
			return d, nil
		}
	}

	var lastErr error
	for _, a := range f.attempts() {
		args := append(a.args(), "--skip-download", "--print", "duration", sourceURL)
		res, err := f.runner.Run(ctx, f.cfg.ProbeTimeout, "yt-dlp", args...)
		if err != nil {
			classified := Classify("probe", res.Output(), err)
			var pe *shorts.PermanentError
			if errors.As(classified, &pe) {
				return 0, classified
			}
			lastErr = classified
			continue
		}

		d, perr := strconv.ParseFloat(firstLine(res.Stdout), 64)
		if perr != nil || d <= 0 {
			// metadata missing for this client, try the next
			continue
		}

		_ = f.cache.Set(ctx, key, strconv.FormatFloat(d, 'f', -1, 64), f.cfg.MetadataTTL)
		return d, nil
	}

	if lastErr != nil {
		f.logger.Debug("Duration preflight inconclusive",
			slog.String("source_url", sourceURL),
			slog.String("error", lastErr.Error()),
		)
	}
	return 0, nil
}

// Download fetches the source into scratchDir, trying each (client, cookie)
// pass against the descending format chain. Exactly one media file is left in
// scratchDir on success and its path returned. Permanent failures stop the
// matrix immediately; exhausting every attempt propagates the last transient
// error so the caller's retry policy applies.
func (f *Fetcher) Download(ctx context.Context, sourceURL, scratchDir string) (string, error) {
	var lastErr error

	for _, a := range f.attempts() {
		for _, format := range f.cfg.FormatChain {
			args := append(a.args(),
				"-f", format,
				"-P", scratchDir,
				"-o", "source.%(ext)s",
				sourceURL,
			)

			f.logger.Debug("Download attempt",
				slog.String("source_url", sourceURL),
				slog.String("client", a.client),
				slog.Bool("cookies", a.cookies != ""),
				slog.String("format", format),
			)

			res, err := f.runner.Run(ctx, f.cfg.DownloadTimeout, "yt-dlp", args...)
			if err == nil {
				path, ferr := findDownloaded(scratchDir)
				if ferr != nil {
					return "", shorts.NewTransientError("download", ferr)
				}
				return path, nil
			}

			classified := Classify("download", res.Output(), err)
			var pe *shorts.PermanentError
			if errors.As(classified, &pe) {
				f.logger.Warn("Download failed permanently",
					slog.String("source_url", sourceURL),
					slog.String("reason", pe.Reason),
				)
				return "", classified
			}
			lastErr = classified
		}
	}

	if lastErr == nil {
		lastErr = shorts.NewTransientError("download", errors.New("no download attempts configured"))
	}
	return "", lastErr
}

// findDownloaded locates the single media file yt-dlp wrote to dir.
func findDownloaded(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		// yt-dlp leaves .part files behind on interrupted runs
		if strings.HasSuffix(e.Name(), ".part") || strings.HasSuffix(e.Name(), ".ytdl") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) != 1 {
		return "", fmt.Errorf("expected one downloaded file in %s, found %d", dir, len(files))
	}
	return files[0], nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

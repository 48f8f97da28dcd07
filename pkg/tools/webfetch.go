package tools

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/models"
)

// fetchEntry holds cached page content with a timestamp for TTL expiration.
type fetchEntry struct {
	content   string
	fetchedAt time.Time
}

// fetchCache is a thread-safe in-memory cache with TTL expiration.
// Expired entries are cleaned up lazily on get, no background goroutine.
type fetchCache struct {
	mu      sync.RWMutex
	entries map[string]*fetchEntry
	ttl     time.Duration
}

func newFetchCache(ttl time.Duration) *fetchCache {
	return &fetchCache{
		entries: make(map[string]*fetchEntry),
		ttl:     ttl,
	}
}

func (c *fetchCache) get(url string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[url]
	c.mu.RUnlock()

	if !ok {
		return "", false
	}

	if time.Since(entry.fetchedAt) > c.ttl {
		// Expired, clean up lazily.
		// Re-check under write lock: a concurrent set() may have replaced
		// the entry with a fresh one between RUnlock and Lock.
		c.mu.Lock()
		if current, ok := c.entries[url]; ok && time.Since(current.fetchedAt) > c.ttl {
			delete(c.entries, url)
		}
		c.mu.Unlock()
		return "", false
	}

	return entry.content, true
}

func (c *fetchCache) set(url string, content string) {
	c.mu.Lock()
	c.entries[url] = &fetchEntry{
		content:   content,
		fetchedAt: time.Now(),
	}
	c.mu.Unlock()
}

// Fetcher retrieves web pages for the web_fetch built-in: domain allow-list,
// body size cap, TTL cache for repeated fetches of the same URL.
type Fetcher struct {
	cfg        *config.WebFetchConfig
	cache      *fetchCache
	httpClient *http.Client
}

// NewFetcher creates a Fetcher. A nil cfg applies the built-in defaults
// (no allow-list, 1m cache, 2 MiB body cap).
func NewFetcher(cfg *config.WebFetchConfig) *Fetcher {
	if cfg == nil {
		cfg = &config.WebFetchConfig{}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 1 * time.Minute
	}
	return &Fetcher{
		cfg:        cfg,
		cache:      newFetchCache(ttl),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// OverrideHTTPClientForTest replaces the internal HTTP client. For testing only.
func (f *Fetcher) OverrideHTTPClientForTest(client *http.Client) {
	f.httpClient = client
}

// Fetch retrieves a URL's body as text, subject to the allow-list and size cap.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	normalized, err := f.validate(rawURL)
	if err != nil {
		return "", err
	}

	if content, ok := f.cache.get(normalized); ok {
		return content, nil
	}

	content, err := f.download(ctx, normalized)
	if err != nil {
		return "", err
	}

	f.cache.set(normalized, content)
	return content, nil
}

// validate checks scheme and allow-list and returns the normalized cache key.
func (f *Fetcher) validate(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", Errorf(models.ErrKindBadArgs, "malformed URL: %v", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", Errorf(models.ErrKindBadArgs, "invalid scheme %q: only http and https allowed", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return "", NewError(models.ErrKindBadArgs, "URL has no host")
	}

	if len(f.cfg.AllowedDomains) > 0 {
		host := strings.ToLower(parsed.Hostname())
		allowed := false
		for _, domain := range f.cfg.AllowedDomains {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", Errorf(models.ErrKindBadArgs, "domain %q not in allowed list", host)
		}
	}

	// Fragments never reach the server; strip them so cache keys match.
	parsed.Fragment = ""
	return parsed.String(), nil
}

func (f *Fetcher) download(ctx context.Context, fetchURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return "", Errorf(models.ErrKindBadArgs, "build request: %v", err)
	}
	req.Header.Set("Accept", "text/html, text/plain, application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", WrapError(models.ErrKindTransportTimeout, "fetch "+fetchURL, err)
		}
		return "", WrapError(models.ErrKindUpstreamUnavailable, "fetch "+fetchURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return "", Errorf(models.ErrKindUpstreamUnavailable, "fetch %s: HTTP %d", fetchURL, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", Errorf(models.ErrKindAuthRequired, "fetch %s: HTTP %d", fetchURL, resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", Errorf(models.ErrKindBadArgs, "fetch %s: HTTP %d", fetchURL, resp.StatusCode)
	}

	maxBytes := f.cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return "", WrapError(models.ErrKindUpstreamUnavailable, "read body", err)
	}
	if int64(len(body)) > maxBytes {
		body = body[:maxBytes]
	}

	return string(body), nil
}

// Package upstream reads the public dump mirror: directory listings, status
// files, database lists, and the dump files themselves.
package upstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// DefaultUserAgent identifies the runner to the mirror operators.
const DefaultUserAgent = "dumpkeeper (+https://github.com/3leaps/dumpkeeper)"

// ErrNotFound is returned when the mirror answers 404.
var ErrNotFound = errors.New("not found upstream")

// HTTPError reports an unexpected status from the mirror.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: http %d", e.URL, e.StatusCode)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Config configures a Client.
type Config struct {
	// RateLimit is the maximum requests per second. Zero disables throttling.
	RateLimit float64
	// Timeout bounds each request, downloads included. Zero means none.
	Timeout time.Duration
	// UserAgent defaults to DefaultUserAgent.
	UserAgent string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client is a throttled HTTP reader for the mirror.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewClient builds a client from cfg.
func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &Client{http: hc, limiter: limiter, userAgent: ua}
}

func (c *Client) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	resp, err := c.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &HTTPError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// Links returns the entries of a directory listing page: every link that
// points directly inside dirURL, relative to it, with trailing slashes
// removed. Parent links, sort links, and nested paths are skipped.
func (c *Client) Links(ctx context.Context, dirURL string) ([]string, error) {
	if !strings.HasSuffix(dirURL, "/") {
		dirURL += "/"
	}
	base, err := url.Parse(dirURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}

	resp, err := c.get(ctx, dirURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return extractLinks(base, resp.Body)
}

func extractLinks(base *url.URL, r io.Reader) ([]string, error) {
	seen := make(map[string]bool)
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				out := make([]string, 0, len(seen))
				for name := range seen {
					out = append(out, name)
				}
				sort.Strings(out)
				return out, nil
			}
			return nil, fmt.Errorf("parse listing: %w", z.Err())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" {
					if entry, ok := listingEntry(base, string(val)); ok {
						seen[entry] = true
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

func listingEntry(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil || ref.RawQuery != "" || (ref.Fragment != "" && ref.Path == "") {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Host != base.Host {
		return "", false
	}
	rest, ok := strings.CutPrefix(abs.Path, base.Path)
	if !ok {
		return "", false
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// Exists reports whether rawURL answers a HEAD request with 200.
func (c *Client) Exists(ctx context.Context, rawURL string) (bool, error) {
	resp, err := c.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &HTTPError{URL: rawURL, StatusCode: resp.StatusCode}
	}
}

// Lines fetches a text file and returns its non-blank, non-comment lines.
func (c *Client) Lines(ctx context.Context, rawURL string) ([]string, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return readLines(resp.Body)
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return out, nil
}

// Download saves rawURL to dest. The body is written to a temporary file in
// the same directory and renamed into place, so dest is never partial.
func (c *Client) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	dir := filepath.Dir(dest)
	// #nosec G301 -- download directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create download directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		_ = tmp.Close()
		cleanup()
		return 0, fmt.Errorf("download %s: %w", rawURL, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		cleanup()
		return 0, fmt.Errorf("rename download: %w", err)
	}
	return n, nil
}

// Package fetcher retrieves web pages and extracts readable text from
// them. Results are cached by normalized URL.
package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/agenttic/agenttic/pkg/cache"
	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/log"
)

// Page is one fetched and extracted document.
type Page struct {
	URL       string
	Title     string
	Text      string // readable content as markdown
	HTML      string // raw page HTML
	FetchedAt time.Time
}

type Service struct {
	engine   Engine
	cache    *cache.MemoryCache
	cacheTTL atomic.Int64 // nanoseconds
	maxBytes int
	logger   *log.Logger
}

func New(engine Engine, pageCache *cache.MemoryCache, cacheTTL time.Duration, maxBytes int) *Service {
	s := &Service{
		engine:   engine,
		cache:    pageCache,
		maxBytes: maxBytes,
		logger:   log.WithModule("fetcher"),
	}
	s.cacheTTL.Store(int64(cacheTTL))
	return s
}

// SetCacheTTL swaps the page-cache TTL for subsequent fetches. Applied
// live on config reload.
func (s *Service) SetCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		s.cacheTTL.Store(int64(ttl))
	}
}

// Fetch returns the extracted page for rawURL, serving repeated requests
// from cache within the TTL. Oversized pages are returned but not cached.
func (s *Service) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	if cached, ok := s.cache.Get(key); ok {
		if page, ok := cached.(*Page); ok {
			s.logger.Debug("page cache hit", "url", key)
			return page, nil
		}
	}

	html, err := s.engine.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	page, err := Extract(rawURL, html)
	if err != nil {
		return nil, err
	}

	if s.maxBytes > 0 && len(html) > s.maxBytes {
		s.logger.Warn("page too large to cache", "url", key, "bytes", len(html))
	} else {
		s.cache.SetSized(key, page, time.Duration(s.cacheTTL.Load()), len(html))
	}
	return page, nil
}

// Extract pulls the readable article out of raw HTML and converts it to
// markdown. Falls back to whole-body text when readability finds no
// article content.
func Extract(pageURL, html string) (*Page, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	page := &Page{URL: pageURL, HTML: html, FetchedAt: time.Now()}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		page.Title = article.Title
		if md, mdErr := htmltomarkdown.ConvertString(article.Content); mdErr == nil {
			page.Text = strings.TrimSpace(md)
		} else {
			page.Text = strings.TrimSpace(article.TextContent)
		}
	}

	if page.Text == "" {
		title, text, fbErr := fallbackExtract(html)
		if fbErr != nil {
			return nil, fbErr
		}
		if page.Title == "" {
			page.Title = title
		}
		page.Text = text
	}

	if page.Title == "" {
		page.Title = pageURL
	}
	if page.Text == "" {
		return nil, fmt.Errorf("extract %s: %w", pageURL, domain.ErrNoChunks)
	}
	return page, nil
}

func fallbackExtract(html string) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, iframe").Remove()
	text = strings.TrimSpace(doc.Find("body").Text())
	text = collapseWhitespace(text)
	return title, text, nil
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}

// NormalizeURL canonicalizes a URL for cache keys and dedupe: lowercase
// scheme and host, default ports and fragments dropped, trailing slash
// trimmed from non-root paths.
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidInput, parsed.Scheme)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""

	if (parsed.Scheme == "http" && strings.HasSuffix(parsed.Host, ":80")) ||
		(parsed.Scheme == "https" && strings.HasSuffix(parsed.Host, ":443")) {
		parsed.Host = parsed.Host[:strings.LastIndex(parsed.Host, ":")]
	}
	if len(parsed.Path) > 1 {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}
	return parsed.String(), nil
}

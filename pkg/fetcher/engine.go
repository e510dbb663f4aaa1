package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/agenttic/agenttic/pkg/domain"
)

// Engine retrieves the raw HTML of a page.
type Engine interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// HTTPEngine fetches pages with a plain HTTP client. It is the default
// engine; pages that require JavaScript rendering need BrowserEngine.
type HTTPEngine struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

func NewHTTPEngine(timeout time.Duration, userAgent string, maxBytes int) *HTTPEngine {
	return &HTTPEngine{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		maxBytes:  int64(maxBytes),
	}
}

func (e *HTTPEngine) Fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: %w: status %d", pageURL, domain.ErrFetchFailed, resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if e.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, e.maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pageURL, err)
	}
	if e.maxBytes > 0 && int64(len(body)) > e.maxBytes {
		return "", fmt.Errorf("fetch %s: %w: body exceeds %d bytes", pageURL, domain.ErrContentTooLarge, e.maxBytes)
	}
	return string(body), nil
}

// BrowserEngine fetches pages through headless Chrome so client-rendered
// documentation sites yield their full DOM.
type BrowserEngine struct {
	timeout   time.Duration
	userAgent string
}

func NewBrowserEngine(timeout time.Duration, userAgent string) *BrowserEngine {
	return &BrowserEngine{timeout: timeout, userAgent: userAgent}
}

func (e *BrowserEngine) Fetch(ctx context.Context, pageURL string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(e.userAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, opts...)
	defer allocCancel()

	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)
	defer chromeCancel()

	var html string
	err := chromedp.Run(chromeCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("browser fetch %s: %w", pageURL, err)
	}
	return html, nil
}

package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttic/agenttic/pkg/cache"
	"github.com/agenttic/agenttic/pkg/domain"
)

const samplePage = `<!DOCTYPE html>
<html><head><title>Reading Files</title></head>
<body>
<article>
<h1>Reading Files</h1>
<p>Open the file, read its contents into a buffer, and close it when done.
This section covers buffered and unbuffered reads in enough detail that
the extractor treats it as the main article body of the page.</p>
<p>Error handling matters: always check the error returned by close.</p>
</article>
<script>console.log("noise")</script>
</body></html>`

func newTestFetcher(t *testing.T, handler http.Handler, maxBytes int) (*Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	engine := NewHTTPEngine(5*time.Second, "agenttic-test/1.0", maxBytes)
	svc := New(engine, cache.NewMemoryCache(16, time.Minute), time.Minute, maxBytes)
	return svc, srv
}

func TestFetchExtractsTitleAndText(t *testing.T) {
	svc, srv := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(samplePage))
	}), 0)

	page, err := svc.Fetch(context.Background(), srv.URL+"/docs/io/reading")
	require.NoError(t, err)

	assert.Equal(t, "Reading Files", page.Title)
	assert.Contains(t, page.Text, "buffered and unbuffered reads")
	assert.NotContains(t, page.Text, "console.log")
	assert.Contains(t, page.HTML, "<article>")
}

func TestFetchCachesByNormalizedURL(t *testing.T) {
	var hits atomic.Int32
	svc, srv := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(samplePage))
	}), 0)

	_, err := svc.Fetch(context.Background(), srv.URL+"/docs/")
	require.NoError(t, err)
	_, err = svc.Fetch(context.Background(), srv.URL+"/docs#section")
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchOversizedNotCached(t *testing.T) {
	big := strings.Replace(samplePage, "</article>",
		"<p>"+strings.Repeat("padding ", 400)+"</p></article>", 1)
	svc, srv := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(big))
	}), 1<<20)
	svc.maxBytes = 1024 // engine allows it, cache policy does not

	page, err := svc.Fetch(context.Background(), srv.URL+"/big")
	require.NoError(t, err)
	assert.NotEmpty(t, page.Text)
	assert.Equal(t, 0, svc.cache.Len())
}

func TestFetchNon200(t *testing.T) {
	svc, srv := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), 0)

	_, err := svc.Fetch(context.Background(), srv.URL+"/down")
	assert.ErrorIs(t, err, domain.ErrFetchFailed)
}

func TestEngineBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	t.Cleanup(srv.Close)

	engine := NewHTTPEngine(5*time.Second, "agenttic-test/1.0", 1024)
	_, err := engine.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, domain.ErrContentTooLarge)
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"HTTPS://Example.COM:443/Docs/":       "https://example.com/Docs",
		"http://example.com:80/a#frag":        "http://example.com/a",
		"https://example.com/docs/io/reading": "https://example.com/docs/io/reading",
		"https://example.com/":                "https://example.com/",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizeURL("ftp://example.com/file")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luoluoluo22/ai-assistant/internal/config"
)

const serpResponse = `{
	"organic_results": [
		{"title": "Go", "link": "https://go.dev", "snippet": "The Go programming language"},
		{"title": "Go docs", "link": "https://go.dev/doc", "snippet": "Documentation"}
	]
}`

func newBrowser(t *testing.T, handler http.HandlerFunc, limit int) *WebBrowser {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	w := NewWebBrowser(config.SearchConfig{SerpAPIKey: "serp-key", DailyLimit: limit})
	w.searchURL = server.URL
	return w
}

func TestBrowserSearch(t *testing.T) {
	var gotQuery string
	w := newBrowser(t, func(rw http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write([]byte(serpResponse))
	}, 100)

	results, err := w.Search(context.Background(), "golang", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Go", results[0].Title)
	assert.Equal(t, "https://go.dev", results[0].URL)
	assert.Equal(t, "The Go programming language", results[0].Snippet)

	assert.Contains(t, gotQuery, "q=golang")
	assert.Contains(t, gotQuery, "engine=google")
	assert.Contains(t, gotQuery, "api_key=serp-key")
	assert.Contains(t, gotQuery, "num=5")
}

func TestBrowserSearchCache(t *testing.T) {
	var calls int32
	w := newBrowser(t, func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = rw.Write([]byte(serpResponse))
	}, 100)

	_, err := w.Search(context.Background(), "golang", 5)
	require.NoError(t, err)
	_, err = w.Search(context.Background(), "golang", 5)
	require.NoError(t, err)

	// Second identical query answered from cache
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBrowserSearchQuota(t *testing.T) {
	w := newBrowser(t, func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte(serpResponse))
	}, 2)

	for i := 0; i < 2; i++ {
		_, err := w.Search(context.Background(), fmt.Sprintf("query-%d", i), 5)
		require.NoError(t, err)
	}

	_, err := w.Search(context.Background(), "one too many", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}

func TestBrowserSearchUnconfigured(t *testing.T) {
	w := NewWebBrowser(config.SearchConfig{})

	_, err := w.Search(context.Background(), "anything", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestBrowserExtract(t *testing.T) {
	page := `<html><head><title>Test Page</title><script>var x = 1;</script></head>
	<body>
	<nav>Navigation menu with plenty of characters to otherwise qualify as text</nav>
	<p>short</p>
	<p>This is the first real paragraph, long enough to pass the minimum length filter easily.</p>
	<p>Copyright 2026 Example Corp. All rights reserved across every jurisdiction worldwide.</p>
	<p>This is the second real paragraph, also long enough to pass the minimum length filter.</p>
	</body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte(page))
	}))
	t.Cleanup(server.Close)

	w := NewWebBrowser(config.SearchConfig{SerpAPIKey: "k"})
	title, content, err := w.Extract(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, "Test Page", title)
	assert.Contains(t, content, "first real paragraph")
	assert.Contains(t, content, "second real paragraph")
	assert.NotContains(t, content, "short")
	assert.NotContains(t, content, "Copyright")
	assert.NotContains(t, content, "Navigation")
	assert.NotContains(t, content, "var x")
}

func TestBrowserSearchAndExtract(t *testing.T) {
	pageServer := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte(`<html><title>Hit</title><body>
			<p>Extractable paragraph content that is comfortably longer than fifty characters total.</p>
			</body></html>`))
	}))
	t.Cleanup(pageServer.Close)

	serp := fmt.Sprintf(`{"organic_results": [
		{"title": "Hit", "link": "%s", "snippet": "fallback snippet"},
		{"title": "Dead", "link": "http://127.0.0.1:1/nope", "snippet": "unreachable snippet"}
	]}`, pageServer.URL)

	w := newBrowser(t, func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte(serp))
	}, 100)

	summary, err := w.SearchAndExtract(context.Background(), "anything", 2)
	require.NoError(t, err)

	assert.Contains(t, summary, "### Hit")
	assert.Contains(t, summary, "Extractable paragraph content")
	// Unreachable pages fall back to the search snippet
	assert.Contains(t, summary, "unreachable snippet")
}

func TestBrowserHandleOperations(t *testing.T) {
	w := newBrowser(t, func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte(serpResponse))
	}, 100)

	t.Run("search", func(t *testing.T) {
		result, err := w.handle(context.Background(), map[string]interface{}{
			"operation": "search",
			"query":     "golang",
		})
		require.NoError(t, err)
		payload := result.(map[string]interface{})
		assert.Equal(t, true, payload["success"])
	})

	t.Run("missing query", func(t *testing.T) {
		result, err := w.handle(context.Background(), map[string]interface{}{"operation": "search"})
		require.NoError(t, err)
		payload := result.(map[string]interface{})
		assert.Equal(t, false, payload["success"])
	})

	t.Run("unknown operation", func(t *testing.T) {
		result, err := w.handle(context.Background(), map[string]interface{}{"operation": "teleport"})
		require.NoError(t, err)
		payload := result.(map[string]interface{})
		assert.Equal(t, false, payload["success"])
		assert.True(t, strings.Contains(payload["message"].(string), "teleport"))
	})
}

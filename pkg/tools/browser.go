package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/luoluoluo22/ai-assistant/internal/config"
	"github.com/luoluoluo22/ai-assistant/pkg/toolregistry"
)

const (
	serpAPIEndpoint      = "https://serpapi.com/search.json"
	defaultNumResults    = 5
	maxNumResults        = 10
	searchCacheTTL       = time.Hour
	maxExtractParagraphs = 10
	minParagraphChars    = 50
	maxExtractChars      = 5000
	browserHTTPTimeout   = 20 * time.Second
)

// SearchResult is one organic search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type cachedSearch struct {
	results []SearchResult
	expires time.Time
}

// WebBrowser performs web searches through SerpAPI and extracts readable
// text from pages. Search calls count against a daily quota; cached
// queries are free and live for an hour.
type WebBrowser struct {
	apiKey     string
	dailyLimit int
	searchURL  string
	client     *http.Client

	mu    sync.Mutex
	day   string
	used  int
	cache map[string]cachedSearch
}

// NewWebBrowser creates a web browser tool backend from config.
func NewWebBrowser(cfg config.SearchConfig) *WebBrowser {
	limit := cfg.DailyLimit
	if limit <= 0 {
		limit = 100
	}
	return &WebBrowser{
		apiKey:     cfg.SerpAPIKey,
		dailyLimit: limit,
		searchURL:  serpAPIEndpoint,
		client:     &http.Client{Timeout: browserHTTPTimeout},
		cache:      make(map[string]cachedSearch),
	}
}

// Definition returns the web_browser tool definition.
func (w *WebBrowser) Definition() toolregistry.Definition {
	return toolregistry.Definition{
		Name:        "web_browser",
		Description: "Search the web and extract readable content from pages.",
		Parameters: []toolregistry.Parameter{
			{Name: "operation", Type: "string", Description: "Operation to perform", Required: true,
				Enum: []string{"search", "extract", "search_and_extract"}},
			{Name: "query", Type: "string", Description: "Search query (for search operations)"},
			{Name: "url", Type: "string", Description: "Page URL (for extract)"},
			{Name: "num_results", Type: "number", Description: "Number of search results (max 10)"},
		},
		Timeout: 60 * time.Second,
		Handler: w.handle,
	}
}

func (w *WebBrowser) handle(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	operation, _ := params["operation"].(string)

	switch operation {
	case "search":
		query, _ := params["query"].(string)
		if strings.TrimSpace(query) == "" {
			return envelopeError("query is required for search"), nil
		}
		results, err := w.Search(ctx, query, intParam(params, "num_results", defaultNumResults))
		if err != nil {
			return envelopeError(err.Error()), nil
		}
		return map[string]interface{}{"success": true, "results": results}, nil

	case "extract":
		pageURL, _ := params["url"].(string)
		if strings.TrimSpace(pageURL) == "" {
			return envelopeError("url is required for extract"), nil
		}
		title, content, err := w.Extract(ctx, pageURL)
		if err != nil {
			return envelopeError(fmt.Sprintf("extraction failed: %v", err)), nil
		}
		return map[string]interface{}{"success": true, "title": title, "content": content}, nil

	case "search_and_extract":
		query, _ := params["query"].(string)
		if strings.TrimSpace(query) == "" {
			return envelopeError("query is required for search_and_extract"), nil
		}
		summary, err := w.SearchAndExtract(ctx, query, intParam(params, "num_results", 3))
		if err != nil {
			return envelopeError(err.Error()), nil
		}
		return map[string]interface{}{"success": true, "summary": summary}, nil

	default:
		return envelopeError(fmt.Sprintf("unknown operation: %s", operation)), nil
	}
}

// Search runs a Google search via SerpAPI. Identical queries within the
// cache TTL are answered from memory without spending quota.
func (w *WebBrowser) Search(ctx context.Context, query string, numResults int) ([]SearchResult, error) {
	if w.apiKey == "" {
		return nil, fmt.Errorf("web search is not configured")
	}
	if numResults <= 0 {
		numResults = defaultNumResults
	}
	if numResults > maxNumResults {
		numResults = maxNumResults
	}

	cacheKey := fmt.Sprintf("%s|%d", strings.ToLower(strings.TrimSpace(query)), numResults)
	if results, ok := w.cachedResults(cacheKey); ok {
		return results, nil
	}

	if !w.consumeQuota() {
		return nil, fmt.Errorf("daily search quota of %d exhausted", w.dailyLimit)
	}

	values := url.Values{}
	values.Set("q", query)
	values.Set("num", strconv.Itoa(numResults))
	values.Set("api_key", w.apiKey)
	values.Set("engine", "google")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.searchURL+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search backend returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var payload struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]SearchResult, 0, len(payload.OrganicResults))
	for _, r := range payload.OrganicResults {
		if len(results) >= numResults {
			break
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}

	w.storeCache(cacheKey, results)
	return results, nil
}

// Extract fetches a page and pulls out its title and main paragraphs.
func (w *WebBrowser) Extract(ctx context.Context, pageURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; assistant/1.0)")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", "", err
	}

	doc.Find("script, style, nav, header, footer, aside").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	paragraphs := []string{}
	doc.Find("p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if len(text) < minParagraphChars {
			return true
		}
		lower := strings.ToLower(text)
		if strings.Contains(lower, "copyright") || strings.Contains(text, "©") {
			return true
		}
		paragraphs = append(paragraphs, text)
		return len(paragraphs) < maxExtractParagraphs
	})

	content := strings.Join(paragraphs, "\n\n")
	if len(content) > maxExtractChars {
		content = content[:maxExtractChars] + "..."
	}
	if content == "" {
		content = "(no readable content found)"
	}

	return title, content, nil
}

// SearchAndExtract searches and then extracts each hit concurrently,
// composing one Markdown summary. Pages that fail to extract fall back
// to their search snippet.
func (w *WebBrowser) SearchAndExtract(ctx context.Context, query string, numResults int) (string, error) {
	results, err := w.Search(ctx, query, numResults)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found for: " + query, nil
	}

	sections := make([]string, len(results))
	var wg sync.WaitGroup
	for i, result := range results {
		wg.Add(1)
		go func(i int, result SearchResult) {
			defer wg.Done()
			_, content, err := w.Extract(ctx, result.URL)
			if err != nil {
				log.Debug().Str("url", result.URL).Err(err).Msg("Page extraction failed")
				content = result.Snippet
			}
			sections[i] = fmt.Sprintf("### %s\n%s\n\n%s", result.Title, result.URL, content)
		}(i, result)
	}
	wg.Wait()

	return strings.Join(sections, "\n\n---\n\n"), nil
}

func (w *WebBrowser) cachedResults(key string) ([]SearchResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.cache[key]
	if !ok || time.Now().After(entry.expires) {
		delete(w.cache, key)
		return nil, false
	}
	return entry.results, true
}

func (w *WebBrowser) storeCache(key string, results []SearchResult) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cache[key] = cachedSearch{results: results, expires: time.Now().Add(searchCacheTTL)}
}

// consumeQuota reserves one search against the daily limit. The counter
// resets when the calendar day changes.
func (w *WebBrowser) consumeQuota() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if w.day != today {
		w.day = today
		w.used = 0
	}
	if w.used >= w.dailyLimit {
		return false
	}
	w.used++
	return true
}

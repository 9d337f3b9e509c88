package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/luoluoluo22/ai-assistant/internal/config"
	"github.com/luoluoluo22/ai-assistant/pkg/toolregistry"
)

const (
	knowledgeTable        = "notes"
	defaultSearchLimit    = 5
	knowledgeHTTPTimeout  = 15 * time.Second
	knowledgeToolName     = "knowledge_base"
	knowledgeRestBasePath = "/rest/v1/"
)

// KnowledgeBase talks to a Supabase PostgREST backend holding the user's
// notes. Every operation returns a {success, data} or {success, message}
// envelope as tool data; backend failures are observations for the model,
// not tool errors.
type KnowledgeBase struct {
	baseURL string
	apiKey  string
	webURL  string
	client  *http.Client
}

// NewKnowledgeBase creates a knowledge base client from config. An empty
// Supabase URL leaves the tool registered but unconfigured.
func NewKnowledgeBase(cfg config.KnowledgeConfig) *KnowledgeBase {
	return &KnowledgeBase{
		baseURL: strings.TrimRight(cfg.SupabaseURL, "/"),
		apiKey:  cfg.SupabaseKey,
		webURL:  cfg.WebURL,
		client:  &http.Client{Timeout: knowledgeHTTPTimeout},
	}
}

// Definition returns the knowledge_base tool definition.
func (k *KnowledgeBase) Definition() toolregistry.Definition {
	return toolregistry.Definition{
		Name:        knowledgeToolName,
		Description: "Search, read and manage documents in the personal knowledge base.",
		Parameters: []toolregistry.Parameter{
			{Name: "operation", Type: "string", Description: "Operation to perform", Required: true,
				Enum: []string{"search", "get", "get_all", "create", "update", "delete"}},
			{Name: "query", Type: "string", Description: "Search keywords (for search)"},
			{Name: "doc_id", Type: "string", Description: "Document ID (for get/update/delete)"},
			{Name: "title", Type: "string", Description: "Document title (for create/update)"},
			{Name: "content", Type: "string", Description: "Document content (for create/update)"},
			{Name: "limit", Type: "number", Description: "Maximum number of documents to return"},
		},
		Handler: k.handle,
	}
}

func (k *KnowledgeBase) handle(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if k.baseURL == "" || k.apiKey == "" {
		return envelopeError("knowledge base is not configured"), nil
	}

	operation, _ := params["operation"].(string)

	switch operation {
	case "search":
		query, _ := params["query"].(string)
		if strings.TrimSpace(query) == "" {
			return envelopeError("query is required for search"), nil
		}
		return k.search(ctx, query, intParam(params, "limit", defaultSearchLimit))
	case "get":
		docID, _ := params["doc_id"].(string)
		if docID == "" {
			return envelopeError("doc_id is required for get"), nil
		}
		return k.get(ctx, docID)
	case "get_all":
		return k.getAll(ctx, intParam(params, "limit", 20))
	case "create":
		content, _ := params["content"].(string)
		if strings.TrimSpace(content) == "" {
			return envelopeError("content is required for create"), nil
		}
		title, _ := params["title"].(string)
		return k.create(ctx, title, content)
	case "update":
		docID, _ := params["doc_id"].(string)
		if docID == "" {
			return envelopeError("doc_id is required for update"), nil
		}
		fields := map[string]interface{}{}
		if title, ok := params["title"].(string); ok && title != "" {
			fields["title"] = title
		}
		if content, ok := params["content"].(string); ok && content != "" {
			fields["content"] = content
		}
		if len(fields) == 0 {
			return envelopeError("nothing to update: provide title or content"), nil
		}
		return k.update(ctx, docID, fields)
	case "delete":
		docID, _ := params["doc_id"].(string)
		if docID == "" {
			return envelopeError("doc_id is required for delete"), nil
		}
		return k.delete(ctx, docID)
	default:
		return envelopeError(fmt.Sprintf("unknown operation: %s", operation)), nil
	}
}

func (k *KnowledgeBase) search(ctx context.Context, query string, limit int) (interface{}, error) {
	values := url.Values{}
	values.Set("select", "*")
	values.Set("content", "ilike.*"+query+"*")
	values.Set("limit", strconv.Itoa(limit))

	rows, err := k.fetchRows(ctx, http.MethodGet, values, nil)
	if err != nil {
		return envelopeError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(rows) == 0 {
		return map[string]interface{}{
			"success": true,
			"message": "no documents matched the query",
			"data":    []interface{}{},
		}, nil
	}
	return envelopeData(rows), nil
}

func (k *KnowledgeBase) get(ctx context.Context, docID string) (interface{}, error) {
	values := url.Values{}
	values.Set("select", "*")
	values.Set("id", "eq."+docID)

	rows, err := k.fetchRows(ctx, http.MethodGet, values, nil)
	if err != nil {
		return envelopeError(fmt.Sprintf("get failed: %v", err)), nil
	}
	if len(rows) == 0 {
		return envelopeError(fmt.Sprintf("document %s not found", docID)), nil
	}
	return envelopeData(rows[0]), nil
}

func (k *KnowledgeBase) getAll(ctx context.Context, limit int) (interface{}, error) {
	values := url.Values{}
	values.Set("select", "*")
	values.Set("order", "created_at.desc")
	values.Set("limit", strconv.Itoa(limit))

	rows, err := k.fetchRows(ctx, http.MethodGet, values, nil)
	if err != nil {
		return envelopeError(fmt.Sprintf("get_all failed: %v", err)), nil
	}
	return envelopeData(rows), nil
}

func (k *KnowledgeBase) create(ctx context.Context, title, content string) (interface{}, error) {
	record := map[string]interface{}{"content": content}
	if title != "" {
		record["title"] = title
	}

	rows, err := k.fetchRows(ctx, http.MethodPost, nil, []interface{}{record})
	if err != nil {
		return envelopeError(fmt.Sprintf("create failed: %v", err)), nil
	}
	if len(rows) > 0 {
		return envelopeData(rows[0]), nil
	}
	return map[string]interface{}{"success": true, "message": "document created"}, nil
}

func (k *KnowledgeBase) update(ctx context.Context, docID string, fields map[string]interface{}) (interface{}, error) {
	values := url.Values{}
	values.Set("id", "eq."+docID)

	rows, err := k.fetchRows(ctx, http.MethodPatch, values, fields)
	if err != nil {
		return envelopeError(fmt.Sprintf("update failed: %v", err)), nil
	}
	if len(rows) == 0 {
		return envelopeError(fmt.Sprintf("document %s not found", docID)), nil
	}
	return envelopeData(rows[0]), nil
}

func (k *KnowledgeBase) delete(ctx context.Context, docID string) (interface{}, error) {
	values := url.Values{}
	values.Set("id", "eq."+docID)

	if _, err := k.fetchRows(ctx, http.MethodDelete, values, nil); err != nil {
		return envelopeError(fmt.Sprintf("delete failed: %v", err)), nil
	}
	return map[string]interface{}{"success": true, "message": "document deleted"}, nil
}

// fetchRows issues one PostgREST request against the notes table and
// decodes the row array response.
func (k *KnowledgeBase) fetchRows(ctx context.Context, method string, query url.Values, body interface{}) ([]interface{}, error) {
	endpoint := k.baseURL + knowledgeRestBasePath + knowledgeTable
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", k.apiKey)
	req.Header.Set("Authorization", "Bearer "+k.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Debug().Int("status", resp.StatusCode).Str("method", method).Msg("Knowledge base request failed")
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var rows []interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		// A single object response still counts as one row
		var row map[string]interface{}
		if objErr := json.Unmarshal(data, &row); objErr == nil {
			return []interface{}{row}, nil
		}
		return nil, fmt.Errorf("unexpected backend response: %w", err)
	}
	return rows, nil
}

func envelopeData(data interface{}) map[string]interface{} {
	return map[string]interface{}{"success": true, "data": data}
}

func envelopeError(message string) map[string]interface{} {
	return map[string]interface{}{"success": false, "message": message}
}

func intParam(params map[string]interface{}, name string, fallback int) int {
	switch v := params[name].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return fallback
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

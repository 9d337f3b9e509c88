package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luoluoluo22/ai-assistant/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	APIKey string
	Body   string
}

func newKnowledgeServer(t *testing.T, status int, response string) (*KnowledgeBase, *[]recordedRequest) {
	t.Helper()

	requests := &[]recordedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*requests = append(*requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			APIKey: r.Header.Get("apikey"),
			Body:   string(body),
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)

	kb := NewKnowledgeBase(config.KnowledgeConfig{
		SupabaseURL: server.URL,
		SupabaseKey: "test-key",
	})
	return kb, requests
}

func invokeKnowledge(t *testing.T, kb *KnowledgeBase, params map[string]interface{}) map[string]interface{} {
	t.Helper()
	result, err := kb.handle(context.Background(), params)
	require.NoError(t, err)
	payload, ok := result.(map[string]interface{})
	require.True(t, ok)
	return payload
}

func TestKnowledgeSearch(t *testing.T) {
	kb, requests := newKnowledgeServer(t, http.StatusOK,
		`[{"id":"1","title":"groceries","content":"buy milk"}]`)

	payload := invokeKnowledge(t, kb, map[string]interface{}{
		"operation": "search",
		"query":     "milk",
	})

	assert.Equal(t, true, payload["success"])
	rows, ok := payload["data"].([]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/rest/v1/notes", req.Path)
	assert.Contains(t, req.Query, "ilike")
	assert.Contains(t, req.Query, "milk")
	assert.Equal(t, "Bearer test-key", req.Auth)
	assert.Equal(t, "test-key", req.APIKey)
}

func TestKnowledgeSearchNoMatches(t *testing.T) {
	kb, _ := newKnowledgeServer(t, http.StatusOK, `[]`)

	payload := invokeKnowledge(t, kb, map[string]interface{}{
		"operation": "search",
		"query":     "nothing",
	})

	assert.Equal(t, true, payload["success"])
	assert.Contains(t, payload["message"], "no documents")
}

func TestKnowledgeGet(t *testing.T) {
	kb, requests := newKnowledgeServer(t, http.StatusOK,
		`[{"id":"42","content":"note body"}]`)

	payload := invokeKnowledge(t, kb, map[string]interface{}{
		"operation": "get",
		"doc_id":    "42",
	})

	assert.Equal(t, true, payload["success"])
	row, ok := payload["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "42", row["id"])

	assert.Contains(t, (*requests)[0].Query, "id=eq.42")
}

func TestKnowledgeGetNotFound(t *testing.T) {
	kb, _ := newKnowledgeServer(t, http.StatusOK, `[]`)

	payload := invokeKnowledge(t, kb, map[string]interface{}{
		"operation": "get",
		"doc_id":    "missing",
	})

	assert.Equal(t, false, payload["success"])
	assert.Contains(t, payload["message"], "not found")
}

func TestKnowledgeCreate(t *testing.T) {
	kb, requests := newKnowledgeServer(t, http.StatusCreated,
		`[{"id":"7","title":"t","content":"c"}]`)

	payload := invokeKnowledge(t, kb, map[string]interface{}{
		"operation": "create",
		"title":     "t",
		"content":   "c",
	})

	assert.Equal(t, true, payload["success"])

	req := (*requests)[0]
	assert.Equal(t, http.MethodPost, req.Method)

	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(req.Body), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "c", body[0]["content"])
	assert.Equal(t, "t", body[0]["title"])
}

func TestKnowledgeUpdateAndDelete(t *testing.T) {
	t.Run("update", func(t *testing.T) {
		kb, requests := newKnowledgeServer(t, http.StatusOK, `[{"id":"7","content":"new"}]`)

		payload := invokeKnowledge(t, kb, map[string]interface{}{
			"operation": "update",
			"doc_id":    "7",
			"content":   "new",
		})

		assert.Equal(t, true, payload["success"])
		assert.Equal(t, http.MethodPatch, (*requests)[0].Method)
		assert.Contains(t, (*requests)[0].Query, "id=eq.7")
	})

	t.Run("delete", func(t *testing.T) {
		kb, requests := newKnowledgeServer(t, http.StatusNoContent, ``)

		payload := invokeKnowledge(t, kb, map[string]interface{}{
			"operation": "delete",
			"doc_id":    "7",
		})

		assert.Equal(t, true, payload["success"])
		assert.Equal(t, http.MethodDelete, (*requests)[0].Method)
	})
}

func TestKnowledgeBackendFailure(t *testing.T) {
	kb, _ := newKnowledgeServer(t, http.StatusInternalServerError, `{"message":"boom"}`)

	payload := invokeKnowledge(t, kb, map[string]interface{}{
		"operation": "search",
		"query":     "anything",
	})

	// Backend failures are observations, not handler errors
	assert.Equal(t, false, payload["success"])
	assert.Contains(t, payload["message"], "500")
}

func TestKnowledgeUnconfigured(t *testing.T) {
	kb := NewKnowledgeBase(config.KnowledgeConfig{})

	payload := invokeKnowledge(t, kb, map[string]interface{}{
		"operation": "search",
		"query":     "x",
	})

	assert.Equal(t, false, payload["success"])
	assert.Contains(t, payload["message"], "not configured")
}

func TestKnowledgeParameterValidation(t *testing.T) {
	kb, _ := newKnowledgeServer(t, http.StatusOK, `[]`)

	cases := []struct {
		name   string
		params map[string]interface{}
	}{
		{"search without query", map[string]interface{}{"operation": "search"}},
		{"get without doc_id", map[string]interface{}{"operation": "get"}},
		{"create without content", map[string]interface{}{"operation": "create", "title": "t"}},
		{"update without fields", map[string]interface{}{"operation": "update", "doc_id": "1"}},
		{"unknown operation", map[string]interface{}{"operation": "explode"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := invokeKnowledge(t, kb, tc.params)
			assert.Equal(t, false, payload["success"])
		})
	}
}

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/luoluoluo22/ai-assistant/internal/tracing"
	"github.com/luoluoluo22/ai-assistant/pkg/agent"
	"github.com/luoluoluo22/ai-assistant/pkg/session"
)

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// handleChatCompletions processes one chat turn, either as a single
// envelope response or as an OpenAI-style SSE stream.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Envelope{
			Code:    CodeBadRequest,
			Message: "invalid request body: " + err.Error(),
		})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	if err := session.ValidateSessionID(sessionID); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Envelope{
			Code:    CodeBadRequest,
			Message: err.Error(),
		})
		return
	}

	// Only the last user entry is consumed; stored history carries the
	// rest of the context.
	message := ""
	for _, m := range req.Messages {
		if m.Role == "user" {
			message = m.Content
		}
	}
	if message == "" {
		writeEnvelope(w, http.StatusBadRequest, Envelope{
			Code:    CodeBadRequest,
			Message: "No user message found",
		})
		return
	}

	model := req.Model
	if model == "" {
		model = s.model
	}

	opts := &agent.Options{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	// A client-supplied request id makes the call idempotent: a retry with
	// the same id replays the original answer.
	if requestID := r.Header.Get("X-Request-ID"); requestID != "" {
		r = r.WithContext(tracing.WithRequestID(r.Context(), requestID))
	}

	if req.Stream {
		s.streamCompletion(w, r, sessionID, model, message, opts)
		return
	}

	transcript := agent.NewTranscript()
	emitter := multiEmitter{transcript, s.sessionBroadcaster(sessionID)}

	answer, err := s.agent.HandleMessage(r.Context(), sessionID, message, opts, emitter)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Chat request failed")
		writeEnvelope(w, http.StatusInternalServerError, Envelope{
			Code:    CodeInternal,
			Message: err.Error(),
		})
		return
	}

	turns, err := s.agent.History(r.Context(), sessionID)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, Envelope{
			Code:    CodeInternal,
			Message: err.Error(),
		})
		return
	}

	writeEnvelope(w, http.StatusOK, Envelope{
		Code:    CodeOK,
		Message: "success",
		Data: map[string]interface{}{
			"response":             answer,
			"session_id":           sessionID,
			"conversation_history": historyView(turns),
		},
	})
}

// handleClearSession removes a session's history. Clearing a session
// that does not exist still succeeds.
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if err := session.ValidateSessionID(sessionID); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Envelope{Code: CodeBadRequest, Message: err.Error()})
		return
	}

	if err := s.agent.Clear(r.Context(), sessionID); err != nil {
		writeEnvelope(w, http.StatusInternalServerError, Envelope{Code: CodeInternal, Message: err.Error()})
		return
	}

	writeEnvelope(w, http.StatusOK, Envelope{
		Code:    CodeOK,
		Message: "Session cleared successfully",
	})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if err := session.ValidateSessionID(sessionID); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Envelope{Code: CodeBadRequest, Message: err.Error()})
		return
	}

	turns, err := s.agent.History(r.Context(), sessionID)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, Envelope{Code: CodeInternal, Message: err.Error()})
		return
	}

	writeEnvelope(w, http.StatusOK, Envelope{
		Code:    CodeOK,
		Message: "success",
		Data: map[string]interface{}{
			"session_id": sessionID,
			"history":    historyView(turns),
		},
	})
}

// historyView converts stored turns into the conversation history shape
// clients expect.
func historyView(turns []session.Turn) []map[string]interface{} {
	history := make([]map[string]interface{}, 0, len(turns))
	for _, turn := range turns {
		entry := map[string]interface{}{
			"role":      turn.Role,
			"content":   turn.Content,
			"timestamp": turn.Timestamp.Format(time.RFC3339),
		}
		if turn.Role == session.RoleTool {
			entry["tool_name"] = turn.ToolName
			entry["content"] = turn.ToolOutput
		}
		history = append(history, entry)
	}
	return history
}

// streamCompletion runs the agent and frames its events as OpenAI
// chat.completion.chunk SSE data. Failures inside the stream become an
// error payload followed by [DONE]; the HTTP status is already sent.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, sessionID, model, message string, opts *agent.Options) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeEnvelope(w, http.StatusInternalServerError, Envelope{
			Code:    CodeInternal,
			Message: "streaming is not supported by this connection",
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sse := &sseEmitter{
		w:       w,
		flusher: flusher,
		id:      "chatcmpl-" + sessionID,
		model:   model,
	}

	// Announce the assistant role before any content
	sse.writeChunk(chunkDelta{Role: "assistant"}, nil)

	emitter := multiEmitter{sse, s.sessionBroadcaster(sessionID)}

	if _, err := s.agent.HandleMessage(r.Context(), sessionID, message, opts, emitter); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Streamed chat request failed")
		sse.writeError(err)
		sse.writeDone()
		return
	}

	sse.writeChunk(chunkDelta{}, "stop")
	sse.writeDone()
}

// sseEmitter renders agent events as SSE chunks.
type sseEmitter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	id      string
	model   string
}

func (e *sseEmitter) EmitPlan(call agent.ToolCall) {
	e.writeChunk(chunkDelta{Content: agent.RenderPlan(call)}, nil)
}

func (e *sseEmitter) EmitStep(call agent.ToolCall, result agent.ToolResult) {
	e.writeChunk(chunkDelta{Content: agent.RenderStep(call, result)}, nil)
}

func (e *sseEmitter) EmitFinal(answer string) {
	e.writeChunk(chunkDelta{Content: agent.RenderFinal(answer)}, nil)
}

func (e *sseEmitter) EmitError(message string) {
	e.writeChunk(chunkDelta{Content: agent.RenderError(message)}, nil)
}

func (e *sseEmitter) writeChunk(delta chunkDelta, finishReason interface{}) {
	chunk := chatChunk{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   e.model,
		Choices: []chunkChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
	}
	e.writeEvent(chunk)
}

func (e *sseEmitter) writeError(err error) {
	var payload streamError
	payload.Error.Message = err.Error()
	payload.Error.Type = "internal_error"
	payload.Error.Code = CodeInternal
	e.writeEvent(payload)
}

func (e *sseEmitter) writeEvent(payload interface{}) {
	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = fmt.Fprintf(e.w, "data: %s\n\n", data)
	e.flusher.Flush()
}

func (e *sseEmitter) writeDone() {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = fmt.Fprint(e.w, "data: [DONE]\n\n")
	e.flusher.Flush()
}

// sessionBroadcaster adapts the WebSocket broadcaster into an agent
// emitter for one session.
func (s *Server) sessionBroadcaster(sessionID string) agent.Emitter {
	return &broadcastEmitter{broadcaster: s.broadcaster, sessionID: sessionID}
}

type broadcastEmitter struct {
	broadcaster *EventBroadcaster
	sessionID   string
}

func (b *broadcastEmitter) EmitPlan(call agent.ToolCall) {
	b.broadcaster.Broadcast("agent.plan", b.sessionID, map[string]interface{}{
		"tool":       call.Name,
		"parameters": call.Parameters,
	})
}

func (b *broadcastEmitter) EmitStep(call agent.ToolCall, result agent.ToolResult) {
	b.broadcaster.Broadcast("agent.step", b.sessionID, map[string]interface{}{
		"tool":   call.Name,
		"status": result.Status,
		"output": result.Output,
	})
}

func (b *broadcastEmitter) EmitFinal(answer string) {
	b.broadcaster.Broadcast("agent.final", b.sessionID, map[string]interface{}{
		"answer": answer,
	})
}

func (b *broadcastEmitter) EmitError(message string) {
	b.broadcaster.Broadcast("agent.error", b.sessionID, map[string]interface{}{
		"message": message,
	})
}

// multiEmitter fans one event out to several emitters in order.
type multiEmitter []agent.Emitter

func (m multiEmitter) EmitPlan(call agent.ToolCall) {
	for _, e := range m {
		e.EmitPlan(call)
	}
}

func (m multiEmitter) EmitStep(call agent.ToolCall, result agent.ToolResult) {
	for _, e := range m {
		e.EmitStep(call, result)
	}
}

func (m multiEmitter) EmitFinal(answer string) {
	for _, e := range m {
		e.EmitFinal(answer)
	}
}

func (m multiEmitter) EmitError(message string) {
	for _, e := range m {
		e.EmitError(message)
	}
}

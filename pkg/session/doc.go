// Package session manages persistent conversation history using JSONL files.
//
// Invariants:
// - Session IDs are validated and path-safe.
// - Writes for the same session are serialized; turns keep append order.
// - Clearing a session is idempotent.
// - Append/load/clear operations are observable via tracing and metrics.
//
// Usage:
//
//	store, _ := session.New("/tmp/assistant/sessions")
//	_ = store.Append("abc", session.Turn{Role: session.RoleUser, Content: "hello"})
//	turns, _ := store.History("abc")
//	_ = turns
package session

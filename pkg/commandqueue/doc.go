// Package commandqueue serializes work onto named lanes. Tasks enqueued on
// the same lane run one at a time in arrival order; tasks on different
// lanes run concurrently. The assistant gives every chat session its own
// lane (see SessionLane) so a session's messages never interleave while
// unrelated sessions proceed in parallel.
//
// A request-id dedup cache lets retried requests return the original
// result instead of running the task twice.
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.Enqueue(commandqueue.SessionLane("abc"), task, nil)
package commandqueue

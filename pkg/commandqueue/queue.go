package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/luoluoluo22/ai-assistant/internal/observability"
	"github.com/luoluoluo22/ai-assistant/internal/tracing"
)

// Task is a unit of work executed on a lane.
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions tunes a single enqueue.
type TaskOptions struct {
	WarnAfterMs int
	OnWait      func(waitMs int64, queuePos int)
}

// pendingTask is one queued unit of work waiting for its lane.
type pendingTask struct {
	id         string
	run        Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// lane holds the FIFO queue and running count for one lane name.
type lane struct {
	mu          sync.Mutex
	concurrency int
	pending     []*pendingTask
	running     int
	active      map[string]bool
}

// Event describes queue activity for subscribers.
type Event struct {
	Type     string // "enqueued" or "completed"
	Lane     string
	TaskID   string
	Data     map[string]interface{}
	Metadata map[string]interface{}
}

// EventHandler receives queue events.
type EventHandler func(event Event)

// CommandQueue serializes tasks onto named lanes. A lane runs its tasks
// in arrival order up to its concurrency limit (1 unless raised); lanes
// are independent of each other. Chat sessions each get their own lane
// via SessionLane so one session's messages never interleave.
type CommandQueue struct {
	mu        sync.RWMutex
	lanes     map[string]*lane
	taskIDSeq int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	dedup  *dedupCache

	handlersMu sync.RWMutex
	handlers   map[string][]EventHandler
}

// New creates an empty queue. Lanes appear on first use with
// concurrency 1.
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	return &CommandQueue{
		lanes:    make(map[string]*lane),
		ctx:      ctx,
		cancel:   cancel,
		dedup:    newDedupCache(ctx, defaultDedupTTL),
		handlers: make(map[string][]EventHandler),
	}
}

// SessionLane returns the lane name for a chat session.
func SessionLane(sessionID string) string {
	return "session:" + sessionID
}

// Enqueue runs a task on a lane and blocks until it finishes.
func (cq *CommandQueue) Enqueue(laneName string, task Task, options *TaskOptions) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), laneName, task, options)
}

// EnqueueIdempotent keys the task by request id. A repeated id within the
// dedup TTL replays the original result instead of running again.
func (cq *CommandQueue) EnqueueIdempotent(ctx context.Context, laneName, requestID string, task Task, options *TaskOptions) (interface{}, error) {
	if requestID == "" {
		return cq.EnqueueWithContext(ctx, laneName, task, options)
	}

	if cached, ok := cq.dedup.Get(requestID); ok {
		log.Debug().Str("lane", laneName).Str("requestId", requestID).Msg("Duplicate request served from cache")
		return cached.value, cached.err
	}

	ctx = tracing.WithRequestID(ctx, requestID)
	value, err := cq.EnqueueWithContext(ctx, laneName, task, options)
	cq.dedup.Set(requestID, taskResult{value: value, err: err})
	return value, err
}

// EnqueueWithContext runs a task on a lane, carrying the caller's trace
// context through to the task.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, laneName string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx,
		"assistant.commandqueue", "commandqueue.enqueue",
		attribute.String("lane", laneName),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", laneName).Logger()

	ln := cq.lane(laneName)

	cq.mu.Lock()
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", laneName, cq.taskIDSeq)
	cq.mu.Unlock()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	pt := &pendingTask{
		id:         taskID,
		run:        task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}

	ln.mu.Lock()
	ln.pending = append(ln.pending, pt)
	depth := len(ln.pending)
	ln.mu.Unlock()

	logger.Debug().Str("taskId", taskID).Int("queueSize", depth).Msg("Task enqueued")
	observability.RecordQueueEnqueue(laneName, depth)

	cq.emit(Event{
		Type:   "enqueued",
		Lane:   laneName,
		TaskID: taskID,
		Data:   map[string]interface{}{"queueSize": depth},
	})

	if opts.WarnAfterMs > 0 {
		go cq.warnIfWaiting(ln, laneName, pt)
	}

	go cq.dispatch(laneName, ln)

	res := <-pt.result
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}
	return res.value, res.err
}

// lane returns the named lane, creating it with concurrency 1 if needed.
func (cq *CommandQueue) lane(name string) *lane {
	cq.mu.RLock()
	ln := cq.lanes[name]
	cq.mu.RUnlock()
	if ln != nil {
		return ln
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ln = cq.lanes[name]; ln == nil {
		ln = &lane{concurrency: 1, active: make(map[string]bool)}
		cq.lanes[name] = ln
		log.Debug().Str("lane", name).Msg("Lane created")
	}
	return ln
}

// dispatch starts queued tasks while the lane has spare capacity.
func (cq *CommandQueue) dispatch(laneName string, ln *lane) {
	ln.mu.Lock()
	defer ln.mu.Unlock()

	for ln.running < ln.concurrency && len(ln.pending) > 0 {
		pt := ln.pending[0]
		ln.pending = ln.pending[1:]

		ln.running++
		ln.active[pt.id] = true

		logger := tracing.LoggerFromContext(pt.ctx, log.Logger).With().Str("lane", laneName).Logger()
		logger.Debug().Str("taskId", pt.id).Int("running", ln.running).Msg("Task started")

		cq.wg.Add(1)
		go cq.runTask(laneName, ln, pt)
	}
}

func (cq *CommandQueue) runTask(laneName string, ln *lane, pt *pendingTask) {
	defer cq.wg.Done()

	taskCtx := pt.ctx
	if taskCtx == nil {
		taskCtx = context.Background()
	}
	taskCtx, span := tracing.StartSpan(taskCtx,
		"assistant.commandqueue", "commandqueue.execute_task",
		attribute.String("lane", laneName),
		attribute.String("task_id", pt.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", laneName).Logger()

	// Queue shutdown cancels in-flight tasks
	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	start := time.Now()
	value, err := pt.run(runCtx)
	duration := time.Since(start)

	ln.mu.Lock()
	ln.running--
	delete(ln.active, pt.id)
	depth := len(ln.pending)
	ln.mu.Unlock()

	pt.result <- taskResult{value: value, err: err}
	close(pt.result)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Str("taskId", pt.id).Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("taskId", pt.id).Dur("duration", duration).Msg("Task completed")
	}

	observability.RecordQueueCompletion(laneName, duration, err == nil, depth)

	cq.emit(Event{
		Type:   "completed",
		Lane:   laneName,
		TaskID: pt.id,
		Data: map[string]interface{}{
			"duration": duration.Milliseconds(),
			"success":  err == nil,
		},
	})

	go cq.dispatch(laneName, ln)
}

// warnIfWaiting fires the wait callback when a task is still queued past
// its warn threshold.
func (cq *CommandQueue) warnIfWaiting(ln *lane, laneName string, pt *pendingTask) {
	timer := time.NewTimer(time.Duration(pt.options.WarnAfterMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-cq.ctx.Done():
		return
	}

	ln.mu.Lock()
	pos := -1
	for i, queued := range ln.pending {
		if queued.id == pt.id {
			pos = i
			break
		}
	}
	ln.mu.Unlock()

	if pos < 0 {
		return
	}

	waitMs := time.Since(pt.enqueuedAt).Milliseconds()
	log.Warn().
		Str("lane", laneName).
		Str("taskId", pt.id).
		Int64("waitMs", waitMs).
		Int("queuePos", pos).
		Msg("Task waiting longer than expected")

	if pt.options.OnWait != nil {
		pt.options.OnWait(waitMs, pos)
	}
}

// GetQueueSize returns how many tasks wait on a lane.
func (cq *CommandQueue) GetQueueSize(laneName string) int {
	cq.mu.RLock()
	ln := cq.lanes[laneName]
	cq.mu.RUnlock()
	if ln == nil {
		return 0
	}

	ln.mu.Lock()
	defer ln.mu.Unlock()
	return len(ln.pending)
}

// GetRunningCount returns how many tasks a lane is executing now.
func (cq *CommandQueue) GetRunningCount(laneName string) int {
	cq.mu.RLock()
	ln := cq.lanes[laneName]
	cq.mu.RUnlock()
	if ln == nil {
		return 0
	}

	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.running
}

// GetStats snapshots queued/running/concurrency per lane.
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int, len(cq.lanes))
	for name, ln := range cq.lanes {
		ln.mu.Lock()
		stats[name] = map[string]int{
			"queued":      len(ln.pending),
			"running":     ln.running,
			"concurrency": ln.concurrency,
		}
		ln.mu.Unlock()
	}
	return stats
}

// ClearLane rejects every queued (not yet running) task on a lane and
// returns how many were dropped.
func (cq *CommandQueue) ClearLane(laneName string) int {
	cq.mu.RLock()
	ln := cq.lanes[laneName]
	cq.mu.RUnlock()
	if ln == nil {
		return 0
	}

	ln.mu.Lock()
	defer ln.mu.Unlock()

	dropped := len(ln.pending)
	for _, pt := range ln.pending {
		pt.result <- taskResult{err: fmt.Errorf("lane cleared")}
		close(pt.result)
	}
	ln.pending = nil

	log.Info().Str("lane", laneName).Int("cleared", dropped).Msg("Lane cleared")
	observability.SetQueueSize(laneName, 0)

	return dropped
}

// SetConcurrency changes how many tasks a lane may run at once.
func (cq *CommandQueue) SetConcurrency(laneName string, concurrency int) {
	ln := cq.lane(laneName)

	ln.mu.Lock()
	previous := ln.concurrency
	ln.concurrency = concurrency
	ln.mu.Unlock()

	log.Info().
		Str("lane", laneName).
		Int("oldMax", previous).
		Int("newMax", concurrency).
		Msg("Lane concurrency updated")

	if concurrency > previous {
		go cq.dispatch(laneName, ln)
	}
}

// WaitForActive blocks until every running task finishes or the timeout
// passes. Returns true when fully drained.
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		drained := true
		cq.mu.RLock()
		for _, ln := range cq.lanes {
			ln.mu.Lock()
			if len(ln.active) > 0 {
				drained = false
			}
			ln.mu.Unlock()
		}
		cq.mu.RUnlock()

		if drained {
			log.Info().Msg("All active tasks completed")
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// On subscribes a handler to an event type.
func (cq *CommandQueue) On(eventType string, handler EventHandler) {
	cq.handlersMu.Lock()
	defer cq.handlersMu.Unlock()
	cq.handlers[eventType] = append(cq.handlers[eventType], handler)
}

// Off drops every handler for an event type.
func (cq *CommandQueue) Off(eventType string) {
	cq.handlersMu.Lock()
	defer cq.handlersMu.Unlock()
	delete(cq.handlers, eventType)
}

func (cq *CommandQueue) emit(event Event) {
	cq.handlersMu.RLock()
	handlers := cq.handlers[event.Type]
	cq.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Close cancels in-flight tasks and waits for them to unwind.
func (cq *CommandQueue) Close() error {
	cq.cancel()
	cq.dedup.Stop()
	cq.wg.Wait()
	return nil
}

package wchsync

import (
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

// RetryItem is the per-item record that drives backoff for a failed push or
// delete. The attempt count lives in the retry controller, keyed by Key.
type RetryItem struct {
	Key   string
	Path  string
	Item  artifact.Item
	Err   error
	Delay time.Duration
}

// Session carries the mutable state of one flow invocation: the event
// emitter, the flow logger, the error counter, and the retry lists. Worker
// tasks append to the retry lists; the flow goroutine drains them between
// passes.
type Session struct {
	emitter Emitter
	logger  *slog.Logger

	// FlowID tags every log line of this invocation through the session
	// logger; events do not carry it.
	FlowID string

	errCount atomic.Int32

	mu          stdsync.Mutex
	retryPush   []RetryItem
	retryDelete []RetryItem
}

// NewSession creates a session. A nil emitter discards events.
func NewSession(emitter Emitter, logger *slog.Logger) *Session {
	if emitter == nil {
		emitter = discardEmitter{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()

	return &Session{
		emitter: emitter,
		logger:  logger.With(slog.String("flow_id", id)),
		FlowID:  id,
	}
}

// Logger returns the flow-tagged logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Emit publishes one event.
func (s *Session) Emit(e Event) { s.emitter.Emit(e) }

// AddError increments the flow error counter.
func (s *Session) AddError() { s.errCount.Add(1) }

// ErrorCount returns the failures recorded so far.
func (s *Session) ErrorCount() int { return int(s.errCount.Load()) }

// AddRetryPush appends a push retry record.
func (s *Session) AddRetryPush(item RetryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retryPush = append(s.retryPush, item)
}

// TakeRetryPush drains and returns the pending push retries.
func (s *Session) TakeRetryPush() []RetryItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.retryPush
	s.retryPush = nil

	return items
}

// AddRetryDelete appends a delete retry record.
func (s *Session) AddRetryDelete(item RetryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retryDelete = append(s.retryDelete, item)
}

// TakeRetryDelete drains and returns the pending delete retries.
func (s *Session) TakeRetryDelete() []RetryItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.retryDelete
	s.retryDelete = nil

	return items
}

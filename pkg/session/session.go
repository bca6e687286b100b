// Package session manages in-memory analysis sessions: the bounded event
// queue between a background pipeline run and the SSE reader that drains
// it, with single-reader attachment, a reconnect grace window, slow-client
// abandonment and an absolute session timeout.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/logsleuth/logsleuth/pkg/events"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusStreaming  Status = "streaming"
	StatusComplete   Status = "complete"
	StatusNeedsInput Status = "needs_input"
	StatusError      Status = "error"
	StatusAbandoned  Status = "abandoned"
)

var (
	// ErrNotFound reports an unknown or already removed session ID.
	ErrNotFound = errors.New("session not found")

	// ErrBusy reports that the session already has an attached reader.
	ErrBusy = errors.New("session already has an attached reader")

	// ErrClientSlow reports that the event queue stayed full past the
	// stall limit and the session was abandoned.
	ErrClientSlow = errors.New("client not consuming events")
)

// Session is one analysis run's event channel and lifecycle state. The
// registry owns it; the pipeline and the attached stream hold handles.
type Session struct {
	ID        string
	CreatedAt time.Time

	queue  chan events.Event
	ctx    context.Context
	cancel context.CancelFunc

	stallLimit time.Duration
	grace      time.Duration

	mu       sync.Mutex
	status   Status
	attached bool
	closed   bool
	final    *events.Event
}

// Context returns the session-scoped context. It is cancelled on
// abandonment, removal and the absolute session timeout; pipeline steps
// must derive from it.
func (s *Session) Context() context.Context { return s.ctx }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Send enqueues one event, blocking while the queue is full. The block is
// the backpressure mechanism; a queue full for longer than the stall limit
// abandons the session and fails with ErrClientSlow. A terminal event
// closes the queue, so the attached reader sees the channel end after
// draining it.
func (s *Session) Send(ev events.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.ctx.Err()
	}
	if s.status == StatusAbandoned {
		s.mu.Unlock()
		return ErrClientSlow
	}
	if s.status == StatusPending {
		s.status = StatusStreaming
	}
	s.mu.Unlock()

	// Fast path. Trying the queue before the context keeps a terminal
	// event deliverable when the session deadline has already passed
	// but queue space remains.
	select {
	case s.queue <- ev:
	default:
		timer := time.NewTimer(s.stallLimit)
		defer timer.Stop()

		select {
		case s.queue <- ev:
		case <-s.ctx.Done():
			return context.Cause(s.ctx)
		case <-timer.C:
			s.abandon()
			return ErrClientSlow
		}
	}

	if ev.Terminal() {
		s.finish(ev)
	}
	return nil
}

// finish records the terminal status and closes the queue.
func (s *Session) finish(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.status = StatusComplete
	if ev.Name == events.NameError {
		s.status = StatusError
	} else if p, ok := ev.Data.(events.DonePayload); ok && p.Status == events.StatusNeedsInput {
		s.status = StatusNeedsInput
	}
	close(s.queue)
}

// abandon cancels the run and marks the session abandoned. The queue is
// not closed here; concurrent senders are unblocked by the cancelled
// context instead. A synthesized terminal event is recorded for a reader
// that is still draining the queue.
func (s *Session) abandon() {
	s.mu.Lock()
	if s.closed || s.status == StatusAbandoned {
		s.mu.Unlock()
		return
	}
	s.status = StatusAbandoned
	ev := events.Error("CLIENT_SLOW: client stopped consuming events")
	s.final = &ev
	s.mu.Unlock()
	s.cancel()
}

// FinalEvent returns the synthesized terminal event of an abandoned
// session. ok is false while the session is live or when the pipeline
// delivered its own terminal event through the queue.
func (s *Session) FinalEvent() (events.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil {
		return events.Event{}, false
	}
	return *s.final, true
}

// attach claims the single reader slot. Abandoned sessions are gone as far
// as clients are concerned; a reconnect after abandonment is rejected.
func (s *Session) attach() (<-chan events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusAbandoned {
		return nil, ErrNotFound
	}
	if s.attached {
		return nil, ErrBusy
	}
	s.attached = true
	return s.queue, nil
}

// Detach releases the reader slot. If the session is not yet terminal, a
// grace timer starts; a client that does not reattach within the grace
// window abandons the session.
func (s *Session) Detach() {
	s.mu.Lock()
	s.attached = false
	terminal := s.closed
	s.mu.Unlock()
	if terminal {
		return
	}

	time.AfterFunc(s.grace, func() {
		s.mu.Lock()
		reattached := s.attached
		terminal := s.closed
		s.mu.Unlock()
		if !reattached && !terminal {
			s.abandon()
		}
	})
}

// terminal reports whether the session reached a final state.
func (s *Session) terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.status == StatusAbandoned {
		return true
	}
	return s.ctx.Err() != nil
}

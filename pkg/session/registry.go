package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/logsleuth/logsleuth/pkg/events"
)

const (
	// queueCapacity bounds the per-session event queue. Senders block when
	// it is full; events are never dropped.
	queueCapacity = 64

	// DefaultStallLimit is how long a send may block on a full queue
	// before the session is abandoned as CLIENT_SLOW.
	DefaultStallLimit = 30 * time.Second

	// DefaultGrace is the reconnect window after a reader detaches.
	DefaultGrace = 5 * time.Second

	// DefaultTimeout is the absolute session lifetime.
	DefaultTimeout = 30 * time.Minute

	// janitorInterval is how often terminal sessions are swept from the
	// registry map.
	janitorInterval = time.Minute
)

// Options tunes session lifecycle limits. Zero fields take the defaults.
type Options struct {
	StallLimit time.Duration
	Grace      time.Duration
	Timeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.StallLimit <= 0 {
		o.StallLimit = DefaultStallLimit
	}
	if o.Grace <= 0 {
		o.Grace = DefaultGrace
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Registry owns all live sessions.
type Registry struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session

	janitorCancel context.CancelFunc
	janitorDone   chan struct{}
}

// NewRegistry creates an empty session registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Create allocates a session with a fresh ID and a context bounded by the
// absolute session timeout.
func (r *Registry) Create(parent context.Context) *Session {
	ctx, cancel := context.WithTimeoutCause(parent, r.opts.Timeout, context.DeadlineExceeded)

	s := &Session{
		ID:         uuid.New().String(),
		CreatedAt:  time.Now(),
		queue:      make(chan events.Event, queueCapacity),
		ctx:        ctx,
		cancel:     cancel,
		stallLimit: r.opts.StallLimit,
		grace:      r.opts.Grace,
		status:     StatusPending,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get retrieves a session by ID.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Attach claims the single reader slot of a session and returns its event
// channel. The channel is closed after the terminal event; the caller must
// call Detach when it stops reading.
func (r *Registry) Attach(sessionID string) (*Session, <-chan events.Event, error) {
	s, err := r.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, err := s.attach()
	if err != nil {
		return nil, nil, err
	}
	return s, ch, nil
}

// Remove cancels and drops a session.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if ok {
		s.cancel()
	}
}

// Len reports how many sessions are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StartJanitor launches the background sweep that drops terminal and
// timed-out sessions from the map.
func (r *Registry) StartJanitor(ctx context.Context) {
	if r.janitorCancel != nil {
		return
	}
	ctx, r.janitorCancel = context.WithCancel(ctx)
	r.janitorDone = make(chan struct{})

	go r.janitor(ctx)

	slog.Info("Session janitor started",
		"interval", janitorInterval,
		"session_timeout", r.opts.Timeout)
}

// StopJanitor signals the sweep loop to exit and waits for it.
func (r *Registry) StopJanitor() {
	if r.janitorCancel == nil {
		return
	}
	r.janitorCancel()
	<-r.janitorDone
	slog.Info("Session janitor stopped")
}

func (r *Registry) janitor(ctx context.Context) {
	defer close(r.janitorDone)

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep removes sessions that reached a terminal state and have no reader
// attached. A terminal session with a reader still draining the queue is
// left for the next pass.
func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		s.mu.Lock()
		attached := s.attached
		s.mu.Unlock()
		if attached || !s.terminal() {
			continue
		}
		s.cancel()
		delete(r.sessions, id)
		removed++
	}
	if removed > 0 {
		slog.Info("Session janitor swept terminal sessions", "count", removed)
	}
}

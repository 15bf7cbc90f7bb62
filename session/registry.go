// Package session manages the live session table: idempotent get-or-create,
// one in-flight turn per session with a bounded FIFO queue, TTL eviction of
// idle sessions and cascading delete of session-scoped state.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dialogmesh/dialogmesh/attachment"
	"github.com/dialogmesh/dialogmesh/core"
	"github.com/dialogmesh/dialogmesh/logging"
	"github.com/dialogmesh/dialogmesh/stream"
	"github.com/dialogmesh/dialogmesh/turn"
)

var (
	// ErrSessionBusy is returned when a session's turn queue is full.
	ErrSessionBusy = errors.New("session is busy")
	// ErrSessionClosed is returned for operations on a deleted session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrRegistryClosed is returned after the registry has shut down.
	ErrRegistryClosed = errors.New("session registry is closed")
)

// Options configures a Registry.
type Options struct {
	// TTL is the idle lifetime before a session becomes eligible for
	// eviction. Zero disables eviction.
	TTL time.Duration
	// EvictionInterval is the janitor sweep period.
	EvictionInterval time.Duration
	// QueueDepth bounds each session's pending turn queue. A full queue
	// rejects new turns with ErrSessionBusy.
	QueueDepth int
	// EventBufferSize sets the emitter channel capacity per turn.
	EventBufferSize int
	// History is used to cascade-delete session-scoped memory. Optional.
	History core.MemoryStore
	// Attachments is cascade-deleted alongside the session. Optional.
	Attachments attachment.Store
	// Logger defaults to a no-op logger.
	Logger logging.Logger
}

type job struct {
	ctx context.Context
	msg core.Message
	em  *stream.Emitter
}

// entry pairs a session with its serialized turn queue. One worker goroutine
// per entry drains the queue, guaranteeing turns never interleave.
type entry struct {
	sess  *core.Session
	queue chan job

	mu     sync.Mutex
	closed bool
}

func (e *entry) submit(j job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrSessionClosed
	}
	select {
	case e.queue <- j:
		return nil
	default:
		return ErrSessionBusy
	}
}

// close marks the entry closed and closes the queue so the worker drains and
// exits. Safe to call once.
func (e *entry) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.queue)
}

func (e *entry) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Registry is the authoritative session table. All methods are safe for
// concurrent use.
type Registry struct {
	orch   *turn.Orchestrator
	opts   Options
	logger logging.Logger

	mu       sync.RWMutex
	sessions map[core.SessionKey]*entry
	shutdown bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewRegistry builds a registry around the given orchestrator and starts the
// eviction janitor when a TTL is configured.
func NewRegistry(orch *turn.Orchestrator, optFns ...func(o *Options)) *Registry {
	opts := Options{
		TTL:              30 * time.Minute,
		EvictionInterval: time.Minute,
		QueueDepth:       8,
		EventBufferSize:  100,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 1
	}

	r := &Registry{
		orch:     orch,
		opts:     opts,
		logger:   logging.OrNoOp(opts.Logger),
		sessions: make(map[core.SessionKey]*entry),
		done:     make(chan struct{}),
	}
	if opts.TTL > 0 && opts.EvictionInterval > 0 {
		r.wg.Add(1)
		go r.janitor()
	}
	return r
}

// GetOrCreate returns the session for key, creating it on first use.
// Creation is idempotent under concurrency: all callers observe the same
// session instance.
func (r *Registry) GetOrCreate(key core.SessionKey) (*core.Session, error) {
	e, err := r.getOrCreateEntry(key)
	if err != nil {
		return nil, err
	}
	return e.sess, nil
}

func (r *Registry) getOrCreateEntry(key core.SessionKey) (*entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	e, ok := r.sessions[key]
	closed := r.shutdown
	r.mu.RUnlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	if ok {
		return e, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return nil, ErrRegistryClosed
	}
	if e, ok := r.sessions[key]; ok {
		return e, nil
	}
	e = &entry{
		sess:  core.NewSession(key),
		queue: make(chan job, r.opts.QueueDepth),
	}
	r.sessions[key] = e
	r.wg.Add(1)
	go r.worker(e)
	r.logger.Info("session created", "session", key.String())
	return e, nil
}

// Submit validates and enqueues a turn for the session, creating the session
// if needed. The returned emitter streams the turn's events; the turn runs as
// soon as earlier turns for the same session have finished. A full queue
// returns ErrSessionBusy without side effects.
func (r *Registry) Submit(ctx context.Context, key core.SessionKey, msg core.Message) (*stream.Emitter, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	e, err := r.getOrCreateEntry(key)
	if err != nil {
		return nil, err
	}

	em := stream.NewEmitter(core.NewID(), func(o *stream.EmitterOptions) {
		o.BufferSize = r.opts.EventBufferSize
		o.Logger = r.logger
	})
	if err := e.submit(job{ctx: ctx, msg: msg, em: em}); err != nil {
		return nil, err
	}
	return em, nil
}

// worker drains one session's queue, running turns strictly one at a time.
func (r *Registry) worker(e *entry) {
	defer r.wg.Done()
	for j := range e.queue {
		if e.sess.GetStatus() == core.StatusClosed {
			j.em.Fail(ErrSessionClosed)
			continue
		}
		e.sess.SetStatus(core.StatusBusy)
		if _, err := r.orch.ExecuteWith(j.ctx, e.sess, j.msg, j.em); err != nil {
			r.logger.Warn("turn ended with error", "session", e.sess.Key.String(), "error", err.Error())
		}
		if e.sess.GetStatus() == core.StatusBusy {
			e.sess.SetStatus(core.StatusActive)
		}
	}
	// Queue closed: fail nothing further, worker exits.
}

// Get returns a snapshot of the session if it exists.
func (r *Registry) Get(key core.SessionKey, withMessages bool) (core.Detail, bool) {
	r.mu.RLock()
	e, ok := r.sessions[key]
	r.mu.RUnlock()
	if !ok {
		return core.Detail{}, false
	}
	return e.sess.Snapshot(withMessages), true
}

// List returns snapshots of the user's sessions ordered by most recent
// activity, honoring limit/offset pagination. A zero limit returns all
// remaining sessions.
func (r *Registry) List(userID string, limit, offset int) []core.Detail {
	r.mu.RLock()
	details := make([]core.Detail, 0)
	for key, e := range r.sessions {
		if key.UserID != userID {
			continue
		}
		details = append(details, e.sess.Snapshot(false))
	}
	r.mu.RUnlock()

	sort.Slice(details, func(i, j int) bool {
		return details[i].LastActivity.After(details[j].LastActivity)
	})
	if offset >= len(details) {
		return []core.Detail{}
	}
	details = details[offset:]
	if limit > 0 && len(details) > limit {
		details = details[:limit]
	}
	return details
}

// Delete removes the session and cascades to its session-scoped memory and
// attachments. Queued turns that have not started fail with ErrSessionClosed;
// an in-flight turn finishes first because the worker drains in order.
func (r *Registry) Delete(ctx context.Context, key core.SessionKey) error {
	r.mu.Lock()
	e, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	e.sess.SetStatus(core.StatusClosed)
	e.close()

	if r.opts.History != nil {
		if err := r.opts.History.DeleteScope(ctx, core.SessionScope(key)); err != nil {
			r.logger.Warn("session memory cascade failed", "session", key.String(), "error", err.Error())
		}
	}
	if r.opts.Attachments != nil {
		if err := r.opts.Attachments.DeleteSession(key); err != nil {
			r.logger.Warn("session attachment cascade failed", "session", key.String(), "error", err.Error())
		}
	}
	r.logger.Info("session deleted", "session", key.String())
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close shuts the registry down: the janitor stops, all session queues close
// and the call blocks until in-flight turns finish.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil
	}
	r.shutdown = true
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.sessions = make(map[core.SessionKey]*entry)
	r.mu.Unlock()

	close(r.done)
	for _, e := range entries {
		e.sess.SetStatus(core.StatusClosed)
		e.close()
	}
	r.wg.Wait()
	return nil
}

// janitor periodically evicts idle sessions. Sessions with a turn in flight
// or queued work are never evicted regardless of age; eviction frees the
// in-memory session only and leaves persisted memory intact, so a recreated
// session regains its history through retrieval.
func (r *Registry) janitor() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.EvictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()
	var evicted []*entry
	for key, e := range r.sessions {
		if !e.sess.Idle(r.opts.TTL) || e.pending() > 0 {
			continue
		}
		delete(r.sessions, key)
		evicted = append(evicted, e)
	}
	r.mu.Unlock()

	for _, e := range evicted {
		e.sess.SetStatus(core.StatusClosed)
		e.close()
		r.logger.Info("session evicted", "session", e.sess.Key.String())
	}
}

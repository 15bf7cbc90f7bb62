package stream

import (
	"sync"
	"time"

	"github.com/dialogmesh/dialogmesh/logging"
)

// Emitter produces a single turn's event sequence. It enforces the stream
// contract: start is emitted once before anything else, nothing is emitted
// after a terminal event, and the channel is closed exactly once.
//
// Producer calls are serialized under an internal mutex, so concurrent
// producers racing a cancellation never send on a closed channel. Sends block
// when the consumer lags and the buffer is full, preserving ordering.
type Emitter struct {
	turnID string
	ch     chan Event
	logger logging.Logger

	mu       sync.Mutex
	seq      int
	started  bool
	done     bool
	deltaLen int
}

// EmitterOptions configure an Emitter.
type EmitterOptions struct {
	// BufferSize is the event channel capacity (default 100).
	BufferSize int

	// Logger defaults to a no-op logger.
	Logger logging.Logger
}

// NewEmitter creates an emitter for one turn.
func NewEmitter(turnID string, optFns ...func(o *EmitterOptions)) *Emitter {
	opts := EmitterOptions{BufferSize: 100}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1
	}
	return &Emitter{
		turnID: turnID,
		ch:     make(chan Event, opts.BufferSize),
		logger: logging.OrNoOp(opts.Logger),
	}
}

// Events returns the receive side of the turn's event stream.
func (e *Emitter) Events() <-chan Event { return e.ch }

// TurnID returns the turn this emitter belongs to.
func (e *Emitter) TurnID() string { return e.turnID }

// Start emits the opening event. Subsequent calls are no-ops.
func (e *Emitter) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done || e.started {
		return
	}
	e.started = true
	e.ch <- e.next(KindStart)
}

// Delta emits an incremental slice of assistant text. Empty deltas are
// dropped.
func (e *Emitter) Delta(text string) {
	if text == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done || !e.started {
		return
	}
	ev := e.next(KindContentDelta)
	ev.Delta = text
	e.deltaLen += len(text)
	e.ch <- ev
}

// ToolInvoked reports a completed tool dispatch. errMsg is empty on success.
func (e *Emitter) ToolInvoked(callID, name string, duration time.Duration, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done || !e.started {
		return
	}
	ev := e.next(KindToolInvoked)
	ev.Tool = &ToolInvocation{CallID: callID, Name: name, Duration: duration, Error: errMsg}
	e.ch <- ev
}

// End emits the terminal end event carrying the final text and closes the
// stream. Incomplete marks turns cut short by the round limit or timeout;
// aborted marks consumer cancellation.
func (e *Emitter) End(finalText string, incomplete, aborted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	if e.deltaLen > 0 && e.deltaLen != len(finalText) {
		e.logger.Warn("delta/final text length mismatch",
			"turn_id", e.turnID, "delta_len", e.deltaLen, "final_len", len(finalText))
	}
	ev := e.next(KindEnd)
	ev.Text = finalText
	ev.Incomplete = incomplete
	ev.Aborted = aborted
	e.ch <- ev
	close(e.ch)
}

// Fail emits the terminal error event and closes the stream.
func (e *Emitter) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	ev := e.next(KindError)
	if err != nil {
		ev.ErrorMsg = err.Error()
	}
	e.ch <- ev
	close(e.ch)
}

// Terminated reports whether a terminal event has been emitted.
func (e *Emitter) Terminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// next builds the event and advances the sequence counter. Callers hold e.mu.
func (e *Emitter) next(kind Kind) Event {
	ev := newEvent(e.turnID, kind)
	ev.Seq = e.seq
	e.seq++
	return ev
}

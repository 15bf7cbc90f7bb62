// Package turn drives a single conversational turn through its lifecycle:
// retrieve fused memory, generate, dispatch any proposed tool calls, loop
// until the backend produces a plain answer or the round limit trips, then
// finalize the session history and the event stream.
package turn

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dialogmesh/dialogmesh/attachment"
	"github.com/dialogmesh/dialogmesh/core"
	"github.com/dialogmesh/dialogmesh/logging"
	"github.com/dialogmesh/dialogmesh/model"
	"github.com/dialogmesh/dialogmesh/retriever"
	"github.com/dialogmesh/dialogmesh/stream"
	"github.com/dialogmesh/dialogmesh/tool"
)

// State names the orchestrator's position in the turn lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateRetrieving   State = "retrieving"
	StateGenerating   State = "generating"
	StateToolDispatch State = "tool_dispatch"
	StateFinalizing   State = "finalizing"
	StateError        State = "error"
)

// ErrRoundLimit reports that a turn was cut off after exhausting its
// generate/dispatch rounds. The turn still finalizes; the final message is
// flagged incomplete rather than failed.
var ErrRoundLimit = errors.New("tool round limit reached")

// Options configures an Orchestrator.
type Options struct {
	// Instructions is the base system prompt prepended to every request.
	Instructions string
	// MaxRounds bounds the generate/dispatch loop per turn.
	MaxRounds int
	// Timeout is the wall-clock budget for a whole turn. Zero disables it.
	Timeout time.Duration
	// HistoryBudget caps the token size of the history window sent to the
	// backend. Zero disables budgeting.
	HistoryBudget int
	// Retriever supplies fused memory for the request. Optional.
	Retriever *retriever.Fusion
	// History receives the turn transcript after finalization. Optional.
	History core.MemoryStore
	// Attachments stores inline image bytes off the message before append.
	// Optional; inline bytes are kept in place when absent.
	Attachments attachment.Store
	// Counter estimates tokens for history budgeting.
	Counter *TokenCounter
	// Logger defaults to a no-op logger.
	Logger logging.Logger
}

// Result summarizes a finished turn.
type Result struct {
	TurnID     string
	State      State
	FinalText  string
	Rounds     int
	Incomplete bool
	Aborted    bool
	Err        error
}

// Orchestrator executes turns against one backend and tool registry. It is
// stateless across turns and safe for concurrent use; per-turn state lives on
// the stack of Execute.
type Orchestrator struct {
	backend model.Model
	tools   *tool.Registry
	opts    Options
	logger  logging.Logger
}

// New constructs an Orchestrator.
func New(backend model.Model, tools *tool.Registry, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxRounds: 10,
		Timeout:   120 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 10
	}
	return &Orchestrator{
		backend: backend,
		tools:   tools,
		opts:    opts,
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// Execute runs one turn to completion, emitting progress on em. The user
// message must already be validated. Execute always terminates the emitter
// exactly once; the returned Result mirrors the terminal event.
//
// Tool failures are contained: the failure is reported to the backend as a
// tool result and the loop continues. Backend failures are fatal and
// terminate the turn with an error event. Cancellation of ctx finalizes the
// turn with an aborted end event carrying the text produced so far.
func (o *Orchestrator) Execute(ctx context.Context, sess *core.Session, userMsg core.Message) (Result, error) {
	em := stream.NewEmitter(core.NewID())
	res, err := o.execute(ctx, sess, userMsg, em)
	return res, err
}

// ExecuteWith runs one turn using a caller-supplied emitter, so consumers can
// subscribe to the event stream before the turn starts.
func (o *Orchestrator) ExecuteWith(ctx context.Context, sess *core.Session, userMsg core.Message, em *stream.Emitter) (Result, error) {
	return o.execute(ctx, sess, userMsg, em)
}

func (o *Orchestrator) execute(ctx context.Context, sess *core.Session, userMsg core.Message, em *stream.Emitter) (Result, error) {
	turnID := em.TurnID()
	res := Result{TurnID: turnID, State: StateIdle}
	log := o.logger

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	em.Start()
	seq := sess.NextTurnSeq()
	log.Info("turn started", "turn_id", turnID, "session", sess.Key.String(), "seq", seq)

	// Retrieval failures degrade to an empty memory block.
	res.State = StateRetrieving
	var memories []core.ScoredEntry
	if o.opts.Retriever != nil {
		entries, err := o.opts.Retriever.Retrieve(ctx, userMsg.Text(), sess.Key)
		if err != nil {
			log.Warn("memory retrieval failed", "turn_id", turnID, "error", err.Error())
		} else {
			memories = entries
		}
	}

	o.stashAttachments(sess.Key, &userMsg)
	sess.Append(userMsg)
	userText := userMsg.Text()

	instructions := o.buildInstructions(memories)
	catalog := o.tools.Describe()

	var text strings.Builder
	for round := 1; round <= o.opts.MaxRounds; round++ {
		res.Rounds = round
		res.State = StateGenerating

		history := sess.History()
		if o.opts.HistoryBudget > 0 {
			history = budgetHistory(history, o.opts.HistoryBudget, o.opts.Counter)
		}

		final, err := o.generate(ctx, em, model.Request{
			Instructions: instructions,
			Messages:     history,
			Tools:        catalog,
			Stream:       true,
		}, &text)
		if err != nil {
			return o.fail(em, sess, &res, text.String(), err)
		}

		if len(final.ToolCalls) == 0 {
			return o.finalize(ctx, em, sess, &res, userText, text.String(), false)
		}

		res.State = StateToolDispatch
		assistantMsg := toolCallMessage(final)
		sess.Append(assistantMsg)

		for _, call := range final.ToolCalls {
			if err := ctx.Err(); err != nil {
				return o.fail(em, sess, &res, text.String(), err)
			}
			start := time.Now()
			outcome := o.tools.Invoke(ctx, call)
			dur := time.Since(start)

			errMsg := ""
			if !outcome.Ok() {
				errMsg = outcome.Err.Error()
			}
			em.ToolInvoked(call.ID, call.Name, dur, errMsg)
			sess.Append(core.NewToolMessage(call.ID, call.Name, outcome.Result, outcome.AsError()))
		}
	}

	log.Warn("turn hit round limit", "turn_id", turnID, "rounds", o.opts.MaxRounds)
	return o.finalize(ctx, em, sess, &res, userText, text.String(), true)
}

// generate runs one backend round, forwarding text deltas to the emitter and
// accumulating them into text. A backend that answers without partial chunks
// has its final text replayed as one delta, keeping the delta/final contract.
// It returns the final response of the round.
func (o *Orchestrator) generate(ctx context.Context, em *stream.Emitter, req model.Request, text *strings.Builder) (model.Response, error) {
	respCh, errCh := o.backend.Generate(ctx, req)

	var final model.Response
	sawFinal := false
	sawDelta := false
	for resp := range respCh {
		if resp.Partial {
			sawDelta = true
			text.WriteString(resp.Delta)
			em.Delta(resp.Delta)
			continue
		}
		final = resp
		sawFinal = true
	}
	if sawFinal && !sawDelta && final.Text != "" {
		text.WriteString(final.Text)
		em.Delta(final.Text)
	}
	backendErr := <-errCh
	// Cancellation wins over whatever the backend reported.
	if err := ctx.Err(); err != nil {
		return model.Response{}, err
	}
	if backendErr != nil {
		return model.Response{}, backendErr
	}
	if !sawFinal {
		return model.Response{}, fmt.Errorf("backend closed stream without a final response")
	}
	return final, nil
}

// finalize appends the assistant message, persists the transcript and emits
// the terminal end event.
func (o *Orchestrator) finalize(ctx context.Context, em *stream.Emitter, sess *core.Session, res *Result, userText, finalText string, incomplete bool) (Result, error) {
	res.State = StateFinalizing
	res.FinalText = finalText
	res.Incomplete = incomplete

	msg := core.NewAssistantMessage(finalText)
	msg.Incomplete = incomplete
	sess.Append(msg)

	o.persistTranscript(ctx, sess, res.TurnID, userText, finalText)

	em.End(finalText, incomplete, false)
	res.State = StateIdle
	if incomplete {
		res.Err = ErrRoundLimit
	}
	o.logger.Info("turn finished", "turn_id", res.TurnID, "rounds", res.Rounds, "incomplete", incomplete)
	return *res, nil
}

// fail terminates the turn. Cancellation and turn timeout finalize with an
// aborted or incomplete end event; every other cause is a backend failure
// that ends the stream with an error event.
func (o *Orchestrator) fail(em *stream.Emitter, sess *core.Session, res *Result, partialText string, err error) (Result, error) {
	switch {
	case errors.Is(err, context.Canceled):
		res.State = StateFinalizing
		res.FinalText = partialText
		res.Aborted = true
		msg := core.NewAssistantMessage(partialText)
		msg.Aborted = true
		sess.Append(msg)
		em.End(partialText, false, true)
		res.State = StateIdle
		o.logger.Info("turn aborted", "turn_id", res.TurnID, "rounds", res.Rounds)
		return *res, context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		res.State = StateFinalizing
		res.FinalText = partialText
		res.Incomplete = true
		msg := core.NewAssistantMessage(partialText)
		msg.Incomplete = true
		sess.Append(msg)
		em.End(partialText, true, false)
		res.State = StateIdle
		res.Err = err
		o.logger.Warn("turn timed out", "turn_id", res.TurnID, "rounds", res.Rounds)
		return *res, err
	default:
		res.State = StateError
		res.Err = err
		em.Fail(err)
		o.logger.Error("turn failed", "turn_id", res.TurnID, "rounds", res.Rounds, "error", err.Error())
		return *res, err
	}
}

// buildInstructions folds the fused memory block into the system prompt.
func (o *Orchestrator) buildInstructions(memories []core.ScoredEntry) string {
	if len(memories) == 0 {
		return o.opts.Instructions
	}
	var b strings.Builder
	b.WriteString(o.opts.Instructions)
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString("Relevant context:\n")
	for _, m := range memories {
		fmt.Fprintf(&b, "- [%s] %s\n", m.Tier.String(), m.Entry.Content)
	}
	return b.String()
}

// stashAttachments moves inline image bytes into the attachment store so the
// session history only carries references. Store failures leave the part
// inline.
func (o *Orchestrator) stashAttachments(key core.SessionKey, msg *core.Message) {
	if o.opts.Attachments == nil {
		return
	}
	for i, p := range msg.Parts {
		img, ok := p.(core.ImagePart)
		if !ok || img.Bytes == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(img.Bytes)
		if err != nil {
			o.logger.Warn("attachment decode failed", "session", key.String(), "error", err.Error())
			continue
		}
		id, err := o.opts.Attachments.Save(key, img.MimeType, data)
		if err != nil {
			o.logger.Warn("attachment save failed", "session", key.String(), "error", err.Error())
			continue
		}
		img.AttachmentID = id
		img.Bytes = ""
		msg.Parts[i] = img
	}
}

// persistTranscript writes the finished exchange into the session-history
// memory tier so later turns can retrieve it.
func (o *Orchestrator) persistTranscript(ctx context.Context, sess *core.Session, turnID, userText, finalText string) {
	if o.opts.History == nil {
		return
	}
	scope := core.SessionScope(sess.Key)
	// User message first so arrival order in the tier matches the exchange.
	for _, rec := range []struct {
		role    string
		content string
	}{
		{core.RoleUser, userText},
		{core.RoleAssistant, finalText},
	} {
		if rec.content == "" {
			continue
		}
		_, err := o.opts.History.Add(ctx, scope, rec.content, map[string]any{
			"turn_id": turnID,
			"role":    rec.role,
		})
		if err != nil {
			o.logger.Warn("transcript persistence failed", "turn_id", turnID, "error", err.Error())
		}
	}
}

// toolCallMessage converts a backend response proposing tool calls into the
// assistant message recorded in session history.
func toolCallMessage(resp model.Response) core.Message {
	parts := make([]core.Part, 0, len(resp.ToolCalls)+1)
	if resp.Text != "" {
		parts = append(parts, core.TextPart{Text: resp.Text})
	}
	for _, call := range resp.ToolCalls {
		parts = append(parts, core.ToolCallPart{Call: call})
	}
	return core.NewMessage(core.RoleAssistant, parts...)
}

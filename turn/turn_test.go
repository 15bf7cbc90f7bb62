package turn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogmesh/dialogmesh/core"
	"github.com/dialogmesh/dialogmesh/internal/testutil"
	"github.com/dialogmesh/dialogmesh/memory"
	"github.com/dialogmesh/dialogmesh/model"
	"github.com/dialogmesh/dialogmesh/retriever"
	"github.com/dialogmesh/dialogmesh/stream"
	"github.com/dialogmesh/dialogmesh/tool"
)

func policyRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	r.Register(tool.NewFunctionTool(
		"get_policy",
		"Fetch a store policy document by type",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"type": map[string]any{"type": "string"},
			},
			"required": []string{"type"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return "Returns accepted within 30 days.", nil
		},
	))
	return r
}

func runTurn(t *testing.T, o *Orchestrator, sess *core.Session, text string) (Result, []stream.Event) {
	t.Helper()
	em := stream.NewEmitter(core.NewID())
	done := make(chan Result, 1)
	go func() {
		res, _ := o.ExecuteWith(context.Background(), sess, core.NewUserMessage(text), em)
		done <- res
	}()
	events := testutil.Drain(t, em.Events(), 5*time.Second)
	return <-done, events
}

func TestOrchestrator_PlainAnswer(t *testing.T) {
	backend := model.NewScriptedModel(model.Turn{Text: "Hello there"})
	o := New(backend, tool.NewRegistry())
	sess := core.NewSession(testutil.Key("u", "s"))

	res, events := runTurn(t, o, sess, "hi")

	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, "Hello there", res.FinalText)
	assert.Equal(t, 1, res.Rounds)

	kinds := testutil.Kinds(events)
	assert.Equal(t, stream.KindStart, kinds[0])
	term := testutil.Terminal(t, events)
	assert.Equal(t, stream.KindEnd, term.Kind)
	assert.Equal(t, "Hello there", testutil.DeltaText(events))
	assert.Equal(t, "Hello there", term.Text)

	// Session history: user then assistant.
	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hello there", history[1].Text())
}

func TestOrchestrator_ToolDispatchLoop(t *testing.T) {
	backend := model.NewScriptedModel(
		model.Turn{ToolCalls: []core.ToolCall{{ID: "c1", Name: "get_policy", Arguments: `{"type":"returns"}`}}},
		model.Turn{Text: "Our return policy allows returns within 30 days."},
	)
	o := New(backend, policyRegistry(t))
	sess := core.NewSession(testutil.Key("u", "s"))

	res, events := runTurn(t, o, sess, "What is your return policy?")

	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, "Our return policy allows returns within 30 days.", res.FinalText)

	var invoked *stream.Event
	for i := range events {
		if events[i].Kind == stream.KindToolInvoked {
			invoked = &events[i]
		}
	}
	require.NotNil(t, invoked, "expected a tool-invoked event")
	assert.Equal(t, "get_policy", invoked.Tool.Name)
	assert.Empty(t, invoked.Tool.Error)

	// History carries the full exchange: user, assistant tool call, tool
	// result, final assistant answer.
	history := sess.History()
	require.Len(t, history, 4)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
	require.Len(t, history[1].ToolCalls(), 1)
	assert.Equal(t, core.RoleTool, history[2].Role)
	assert.Equal(t, "c1", history[2].ToolCallID)

	// The backend saw the tool result in the second request.
	reqs := backend.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, core.RoleTool, last.Role)
}

func TestOrchestrator_ToolFailureDoesNotAbortTurn(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(tool.NewFunctionTool("flaky", "Always fails", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("upstream 500")
		}))

	backend := model.NewScriptedModel(
		model.Turn{ToolCalls: []core.ToolCall{{ID: "c1", Name: "flaky", Arguments: `{}`}}},
		model.Turn{Text: "I could not fetch that right now."},
	)
	o := New(backend, registry)
	sess := core.NewSession(testutil.Key("u", "s"))

	res, events := runTurn(t, o, sess, "try the tool")

	require.Equal(t, StateIdle, res.State)
	term := testutil.Terminal(t, events)
	assert.Equal(t, stream.KindEnd, term.Kind, "tool failure must not abort the turn")

	var invoked *stream.Event
	for i := range events {
		if events[i].Kind == stream.KindToolInvoked {
			invoked = &events[i]
		}
	}
	require.NotNil(t, invoked)
	assert.Contains(t, invoked.Tool.Error, "upstream 500")

	// The failure was surfaced to the backend as a tool result.
	reqs := backend.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	require.Equal(t, core.RoleTool, last.Role)
	part := last.Parts[0].(core.ToolResultPart)
	assert.NotEmpty(t, part.Error)
}

func TestOrchestrator_UnknownToolReportedNotFatal(t *testing.T) {
	backend := model.NewScriptedModel(
		model.Turn{ToolCalls: []core.ToolCall{{ID: "c1", Name: "ghost", Arguments: `{}`}}},
		model.Turn{Text: "done"},
	)
	o := New(backend, tool.NewRegistry())
	sess := core.NewSession(testutil.Key("u", "s"))

	_, events := runTurn(t, o, sess, "call a ghost")
	term := testutil.Terminal(t, events)
	assert.Equal(t, stream.KindEnd, term.Kind)
}

func TestOrchestrator_RoundLimitFinalizesIncomplete(t *testing.T) {
	// Every round proposes another tool call; the loop must stop.
	var turns []model.Turn
	for i := 0; i < 5; i++ {
		turns = append(turns, model.Turn{ToolCalls: []core.ToolCall{{ID: "c", Name: "get_policy", Arguments: `{"type":"x"}`}}})
	}
	backend := model.NewScriptedModel(turns...)
	o := New(backend, policyRegistry(t), func(o *Options) { o.MaxRounds = 3 })
	sess := core.NewSession(testutil.Key("u", "s"))

	res, events := runTurn(t, o, sess, "loop forever")

	assert.ErrorIs(t, res.Err, ErrRoundLimit)
	assert.Equal(t, 3, res.Rounds)
	term := testutil.Terminal(t, events)
	assert.Equal(t, stream.KindEnd, term.Kind)
	assert.True(t, term.Incomplete)

	last := sess.History()[sess.Len()-1]
	assert.True(t, last.Incomplete)
}

func TestOrchestrator_BackendErrorAbortsTurn(t *testing.T) {
	backend := model.NewScriptedModel(model.Turn{Err: errors.New("api quota exceeded")})
	o := New(backend, tool.NewRegistry())
	sess := core.NewSession(testutil.Key("u", "s"))

	res, events := runTurn(t, o, sess, "hi")

	assert.Equal(t, StateError, res.State)
	require.Error(t, res.Err)
	term := testutil.Terminal(t, events)
	assert.Equal(t, stream.KindError, term.Kind)
	assert.Contains(t, term.ErrorMsg, "api quota exceeded")
}

// stallingModel never answers; it waits out the request context and reports
// its error, like a backend that hangs.
type stallingModel struct{}

func (stallingModel) Generate(ctx context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		<-ctx.Done()
		errCh <- ctx.Err()
	}()
	return respCh, errCh
}

func (stallingModel) Info() model.Info {
	return model.Info{Name: "stalling", Provider: "scripted"}
}

func TestOrchestrator_TurnTimeoutFinalizesIncomplete(t *testing.T) {
	o := New(stallingModel{}, tool.NewRegistry(), func(o *Options) { o.Timeout = 50 * time.Millisecond })
	sess := core.NewSession(testutil.Key("u", "s"))

	res, events := runTurn(t, o, sess, "take your time")

	assert.True(t, res.Incomplete)
	assert.False(t, res.Aborted)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)

	term := testutil.Terminal(t, events)
	assert.Equal(t, stream.KindEnd, term.Kind, "timeout must finalize, not error")
	assert.True(t, term.Incomplete)
	assert.False(t, term.Aborted)

	last := sess.History()[sess.Len()-1]
	assert.Equal(t, core.RoleAssistant, last.Role)
	assert.True(t, last.Incomplete)
}

func TestOrchestrator_CancellationEmitsAbortedEnd(t *testing.T) {
	backend := model.NewScriptedModel(model.Turn{Text: "never delivered"})
	o := New(backend, tool.NewRegistry())
	sess := core.NewSession(testutil.Key("u", "s"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	em := stream.NewEmitter(core.NewID())
	done := make(chan Result, 1)
	go func() {
		res, _ := o.ExecuteWith(ctx, sess, core.NewUserMessage("hi"), em)
		done <- res
	}()
	events := testutil.Drain(t, em.Events(), 5*time.Second)
	res := <-done

	assert.True(t, res.Aborted)
	term := testutil.Terminal(t, events)
	assert.Equal(t, stream.KindEnd, term.Kind)
	assert.True(t, term.Aborted)

	last := sess.History()[sess.Len()-1]
	assert.True(t, last.Aborted)
}

func TestOrchestrator_MemoryFoldedIntoInstructions(t *testing.T) {
	private := memory.NewInMemoryStore()
	testutil.Seed(t, private, core.PrivateScope("u"), "customer prefers email contact", nil)

	fusion := retriever.New(memory.NewInMemoryStore(), private, memory.NewInMemoryStore(),
		func(o *retriever.Options) { o.CacheSize = 0 })

	backend := model.NewScriptedModel(model.Turn{Text: "ok"})
	o := New(backend, tool.NewRegistry(), func(o *Options) {
		o.Instructions = "You are a support agent."
		o.Retriever = fusion
	})
	sess := core.NewSession(testutil.Key("u", "s"))

	runTurn(t, o, sess, "how should you contact me? email preferences")

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "You are a support agent.")
	assert.Contains(t, reqs[0].Instructions, "customer prefers email contact")
}

func TestOrchestrator_TranscriptPersistedToHistoryTier(t *testing.T) {
	history := memory.NewInMemoryStore()
	backend := model.NewScriptedModel(model.Turn{Text: "the answer"})
	o := New(backend, tool.NewRegistry(), func(o *Options) { o.History = history })
	sess := core.NewSession(testutil.Key("u", "s"))

	runTurn(t, o, sess, "the question")

	entries := history.Entries(core.SessionScope(sess.Key))
	require.Len(t, entries, 2)
	assert.Equal(t, core.RoleUser, entries[0].Metadata["role"])
	assert.Equal(t, "the question", entries[0].Content)
	assert.Equal(t, core.RoleAssistant, entries[1].Metadata["role"])
	assert.Equal(t, "the answer", entries[1].Content)
}

func TestBudgetHistory(t *testing.T) {
	counter := &TokenCounter{} // heuristic mode
	var msgs []core.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, core.NewUserMessage("a message with a handful of words in it"))
	}

	kept := budgetHistory(msgs, 40, counter)
	assert.Less(t, len(kept), len(msgs))
	assert.NotEmpty(t, kept)
	// The newest message survives budgeting.
	assert.Equal(t, msgs[len(msgs)-1].ID, kept[len(kept)-1].ID)

	// A huge budget keeps everything.
	assert.Len(t, budgetHistory(msgs, 1<<20, counter), len(msgs))
	// Zero budget disables trimming.
	assert.Len(t, budgetHistory(msgs, 0, counter), len(msgs))
}

func TestBudgetHistory_DropsOrphanToolResults(t *testing.T) {
	counter := &TokenCounter{}
	call := core.NewMessage(core.RoleAssistant, core.ToolCallPart{Call: core.ToolCall{ID: "c1", Name: "t", Arguments: `{"padding":"xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"}`}})
	result := core.NewToolMessage("c1", "t", "ok", nil)
	answer := core.NewAssistantMessage("final words that should stay around")

	kept := budgetHistory([]core.Message{call, result, answer}, counter.CountMessage(result)+counter.CountMessage(answer), counter)
	for _, m := range kept[:len(kept)-1] {
		assert.NotEqual(t, core.RoleTool, m.Role, "tool result without its call must be trimmed")
	}
}

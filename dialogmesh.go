// Package dialogmesh provides a high-level façade over the turn orchestrator
// and its services (sessions, memory tiers, tools, attachments & logging)
// enabling rapid construction of conversational backends. Most applications
// interact with this package by:
//  1. Creating a DialogMesh via New() (optionally overriding default in-memory services)
//  2. Registering tools
//  3. Sending user messages asynchronously (Send) or synchronously (SendSync)
//
// The façade delegates turn execution to turn.Orchestrator and session
// lifecycle to session.Registry while keeping setup ergonomics concise. All
// defaults are safe for local development and testing; production deployments
// typically supply a durable memory store, a real generation backend and a
// structured logger.
package dialogmesh

import (
	"context"
	"time"

	"github.com/dialogmesh/dialogmesh/attachment"
	"github.com/dialogmesh/dialogmesh/core"
	"github.com/dialogmesh/dialogmesh/logging"
	"github.com/dialogmesh/dialogmesh/memory"
	"github.com/dialogmesh/dialogmesh/model"
	"github.com/dialogmesh/dialogmesh/retriever"
	"github.com/dialogmesh/dialogmesh/session"
	"github.com/dialogmesh/dialogmesh/stream"
	"github.com/dialogmesh/dialogmesh/tool"
	"github.com/dialogmesh/dialogmesh/turn"
)

// Options configures the DialogMesh instance.
type Options struct {
	// Backend is the generation backend driving turns. Required for real
	// deployments; defaults to a ScriptedModel that answers nothing useful.
	Backend model.Model

	// Instructions is the base system prompt for every turn.
	Instructions string

	// MaxRounds bounds the generate/dispatch loop per turn.
	MaxRounds int

	// TurnTimeout is the wall-clock budget per turn.
	TurnTimeout time.Duration

	// ToolTimeout bounds each individual tool invocation.
	ToolTimeout time.Duration

	// EventBufferSize sets the channel buffer size for event streaming.
	// Larger buffers reduce blocking but increase memory usage.
	EventBufferSize int

	// HistoryTokenBudget caps the token size of the history window. Zero
	// disables budgeting.
	HistoryTokenBudget int

	// RetrieveTimeout bounds each memory tier query.
	RetrieveTimeout time.Duration

	// FusionCap bounds the merged memory list per turn.
	FusionCap int

	// SessionTTL is the idle lifetime before eviction.
	SessionTTL time.Duration

	// TurnQueueDepth bounds queued turns per busy session.
	TurnQueueDepth int

	// Memory tiers (default to in-memory implementations if not provided).
	HistoryStore core.MemoryStore
	PrivateStore core.MemoryStore
	PublicStore  core.MemoryStore

	// Attachments stores inline message payloads (defaults to in-memory).
	Attachments attachment.Store

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// DialogMesh is the high-level façade aggregating the orchestrator and its
// services.
type DialogMesh struct {
	opts     Options
	tools    *tool.Registry
	fusion   *retriever.Fusion
	orch     *turn.Orchestrator
	sessions *session.Registry
}

// New creates a new DialogMesh instance with optional overrides. Any unset
// service is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *DialogMesh {
	opts := Options{
		MaxRounds:          10,
		TurnTimeout:        120 * time.Second,
		ToolTimeout:        15 * time.Second,
		EventBufferSize:    100,
		HistoryTokenBudget: 4096,
		RetrieveTimeout:    2 * time.Second,
		FusionCap:          10,
		SessionTTL:         30 * time.Minute,
		TurnQueueDepth:     8,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Backend == nil {
		opts.Backend = model.NewScriptedModel()
	}
	if opts.HistoryStore == nil {
		opts.HistoryStore = memory.NewInMemoryStore()
	}
	if opts.PrivateStore == nil {
		opts.PrivateStore = memory.NewInMemoryStore()
	}
	if opts.PublicStore == nil {
		opts.PublicStore = memory.NewInMemoryStore()
	}
	if opts.Attachments == nil {
		opts.Attachments = attachment.NewInMemoryStore()
	}

	tools := tool.NewRegistry(func(o *tool.RegistryOptions) {
		o.CallTimeout = opts.ToolTimeout
		o.Logger = opts.Logger
	})

	fusion := retriever.New(opts.HistoryStore, opts.PrivateStore, opts.PublicStore, func(o *retriever.Options) {
		o.Cap = opts.FusionCap
		o.StoreTimeout = opts.RetrieveTimeout
		o.Logger = opts.Logger
	})

	orch := turn.New(opts.Backend, tools, func(o *turn.Options) {
		o.Instructions = opts.Instructions
		o.MaxRounds = opts.MaxRounds
		o.Timeout = opts.TurnTimeout
		o.HistoryBudget = opts.HistoryTokenBudget
		o.Retriever = fusion
		o.History = opts.HistoryStore
		o.Attachments = opts.Attachments
		o.Counter = turn.NewTokenCounter(opts.Backend.Info().Name)
		o.Logger = opts.Logger
	})

	sessions := session.NewRegistry(orch, func(o *session.Options) {
		o.TTL = opts.SessionTTL
		o.QueueDepth = opts.TurnQueueDepth
		o.EventBufferSize = opts.EventBufferSize
		o.History = opts.HistoryStore
		o.Attachments = opts.Attachments
		o.Logger = opts.Logger
	})

	return &DialogMesh{
		opts:     opts,
		tools:    tools,
		fusion:   fusion,
		orch:     orch,
		sessions: sessions,
	}
}

// RegisterTool adds a tool to the registry, replacing any tool with the same
// name.
func (m *DialogMesh) RegisterTool(t tool.Tool) { m.tools.Register(t) }

// Tools exposes the tool registry for advanced wiring.
func (m *DialogMesh) Tools() *tool.Registry { return m.tools }

// Sessions exposes the session registry for query surfaces.
func (m *DialogMesh) Sessions() *session.Registry { return m.sessions }

// Send enqueues a user message for the session and returns the turn's event
// stream. The turn starts once earlier turns for the session have finished.
func (m *DialogMesh) Send(ctx context.Context, key core.SessionKey, msg core.Message) (<-chan stream.Event, error) {
	em, err := m.sessions.Submit(ctx, key, msg)
	if err != nil {
		return nil, err
	}
	return em.Events(), nil
}

// SendText is a convenience wrapper sending a plain text user message.
func (m *DialogMesh) SendText(ctx context.Context, key core.SessionKey, text string) (<-chan stream.Event, error) {
	return m.Send(ctx, key, core.NewUserMessage(text))
}

// SendSync sends a user message and drains the event stream, returning the
// final assistant text and all observed events.
func (m *DialogMesh) SendSync(ctx context.Context, key core.SessionKey, msg core.Message) (string, []stream.Event, error) {
	events, err := m.Send(ctx, key, msg)
	if err != nil {
		return "", nil, err
	}

	var collected []stream.Event
	for ev := range events {
		collected = append(collected, ev)
		switch ev.Kind {
		case stream.KindEnd:
			return ev.Text, collected, nil
		case stream.KindError:
			return "", collected, errorFromEvent(ev)
		}
	}
	return "", collected, ctx.Err()
}

// Remember writes an entry into the user's private memory tier.
func (m *DialogMesh) Remember(ctx context.Context, userID, content string, metadata map[string]any) (string, error) {
	return m.opts.PrivateStore.Add(ctx, core.PrivateScope(userID), content, metadata)
}

// Publish writes an entry into the shared public memory tier.
func (m *DialogMesh) Publish(ctx context.Context, content string, metadata map[string]any) (string, error) {
	return m.opts.PublicStore.Add(ctx, core.PublicScope(), content, metadata)
}

// Close shuts down the session registry, waiting for in-flight turns.
func (m *DialogMesh) Close() error { return m.sessions.Close() }

type turnError struct{ msg string }

func (e *turnError) Error() string { return e.msg }

func errorFromEvent(ev stream.Event) error {
	if ev.ErrorMsg == "" {
		return &turnError{msg: "turn failed"}
	}
	return &turnError{msg: ev.ErrorMsg}
}

// Package chat runs one conversational turn: resolve the session, load its
// history, cut the history down to the context budget, ask the backend for
// a reply and persist the exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/qmuntal/stateless"

	"github.com/comigor/calmchat/internal/apperr"
	"github.com/comigor/calmchat/internal/history"
	"github.com/comigor/calmchat/internal/logger"
	"github.com/comigor/calmchat/internal/window"
)

// Request is one inbound chat message. OwnerID is the verified principal.
type Request struct {
	OwnerID   string
	SessionID string
	Message   string
}

// Reply is the outcome of a successful turn.
type Reply struct {
	SessionID string
	Response  string
}

// Sessions resolves session identity and records token usage.
type Sessions interface {
	Resolve(ctx context.Context, ownerID, supplied string) (string, error)
	RecordUsage(ctx context.Context, sessionID string, tokens int) error
}

// History loads and saves conversation messages.
type History interface {
	FetchAll(ctx context.Context, sessionID string) ([]history.Message, error)
	Save(ctx context.Context, sessionID, role, content string) (history.Message, error)
}

// Generator produces the assistant's reply for a window.
type Generator interface {
	Generate(ctx context.Context, entries []window.Entry) (string, error)
}

// Handler is safe for concurrent use; every call builds its own state.
type Handler struct {
	sessions Sessions
	history  History
	builder  window.Builder
	backend  Generator
	budget   int
}

func NewHandler(sessions Sessions, hist History, builder window.Builder, backend Generator, budget int) *Handler {
	return &Handler{
		sessions: sessions,
		history:  hist,
		builder:  builder,
		backend:  backend,
		budget:   budget,
	}
}

// turn stages
type stage string

const (
	stageReceived   stage = "Received"
	stageResolving  stage = "ResolvingSession"
	stageFetching   stage = "FetchingHistory"
	stageWindowing  stage = "BuildingWindow"
	stageGenerating stage = "Generating"
	stagePersisting stage = "Persisting"
	stageDone       stage = "Done"
)

type trigger string

const triggerNext trigger = "Next"

// turn is the per-request data the stage actions share.
type turn struct {
	req     Request
	session string
	history []history.Message
	entries []window.Entry
	reply   string
}

// Handle runs one turn. Either the whole turn succeeds or an error is
// returned; writes made before a failing stage are kept (a failed backend
// call saves nothing, a failed reply save can leave the user message alone).
func (h *Handler) Handle(ctx context.Context, req Request) (Reply, error) {
	if err := validate(req); err != nil {
		return Reply{}, err
	}

	t := &turn{req: req}
	fsm := h.newMachine(t)

	for {
		state, err := fsm.State(ctx)
		if err != nil {
			return Reply{}, apperr.New(apperr.Unexpected, "turn state", err)
		}
		if state == stageDone {
			break
		}
		if err := fsm.FireCtx(ctx, triggerNext); err != nil {
			failed, _ := fsm.State(ctx)
			logger.L.Error("chat turn failed",
				"stage", failed,
				"session", t.session,
				"kind", apperr.KindOf(err).String(),
				"error", err)
			return Reply{}, err
		}
	}

	return Reply{SessionID: t.session, Response: t.reply}, nil
}

func validate(req Request) error {
	if strings.TrimSpace(req.Message) == "" {
		return apperr.New(apperr.Validation, "validate request", errors.New("message is required"))
	}
	if req.OwnerID == "" {
		return apperr.New(apperr.AuthMissing, "validate request", errors.New("caller identity is missing"))
	}
	return nil
}

func (h *Handler) newMachine(t *turn) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(stageReceived)

	fsm.Configure(stageReceived).
		Permit(triggerNext, stageResolving)

	fsm.Configure(stageResolving).
		OnEntry(func(ctx context.Context, _ ...any) error {
			id, err := h.sessions.Resolve(ctx, t.req.OwnerID, t.req.SessionID)
			if err != nil {
				return err
			}
			t.session = id
			return nil
		}).
		Permit(triggerNext, stageFetching)

	fsm.Configure(stageFetching).
		OnEntry(func(ctx context.Context, _ ...any) error {
			msgs, err := h.history.FetchAll(ctx, t.session)
			if err != nil {
				return err
			}
			t.history = msgs
			return nil
		}).
		Permit(triggerNext, stageWindowing)

	fsm.Configure(stageWindowing).
		OnEntry(func(_ context.Context, _ ...any) error {
			entries, stats := h.builder.BuildStats(t.history, t.req.Message, h.budget)
			t.entries = entries
			logger.L.Debug("window built",
				"session", t.session,
				"included", stats.Included,
				"dropped", stats.Dropped,
				"history_tokens", stats.HistoryTokens,
				"budget", h.budget)
			return nil
		}).
		Permit(triggerNext, stageGenerating)

	fsm.Configure(stageGenerating).
		OnEntry(func(ctx context.Context, _ ...any) error {
			reply, err := h.backend.Generate(ctx, t.entries)
			if err != nil {
				return err
			}
			t.reply = reply
			return nil
		}).
		Permit(triggerNext, stagePersisting)

	fsm.Configure(stagePersisting).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if err := h.persist(ctx, t.session, history.RoleUser, t.req.Message); err != nil {
				return err
			}
			return h.persist(ctx, t.session, history.RoleAssistant, t.reply)
		}).
		Permit(triggerNext, stageDone)

	return fsm
}

func (h *Handler) persist(ctx context.Context, sessionID, role, content string) error {
	msg, err := h.history.Save(ctx, sessionID, role, content)
	if err != nil {
		return err
	}
	if err := h.sessions.RecordUsage(ctx, sessionID, msg.Tokens); err != nil {
		return fmt.Errorf("record %s message usage: %w", role, err)
	}
	return nil
}

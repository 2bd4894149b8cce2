// Package orchestrator wires the dialogue graph: one inbound customer
// message in, one assistant reply out, with the session state loaded,
// mutated through handler updates, and saved along the way.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"

	desknode "github.com/bancoagil/servicedesk/agent/nodes"
	statex "github.com/bancoagil/servicedesk/agent/state"
)

var (
	ErrInvalidMessage = desknode.ErrInvalidMessage
	ErrInvalidSession = desknode.ErrInvalidSession
)

type Orchestrator struct {
	store    statex.Store
	handlers desknode.Handlers

	graphRunner compose.Runnable[desknode.GraphInput, desknode.GraphOutput]

	now func() time.Time
}

func New(store statex.Store, handlers desknode.Handlers) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if handlers.Auth == nil || handlers.Triage == nil || handlers.Credit == nil ||
		handlers.Currency == nil || handlers.Interview == nil {
		return nil, errors.New("all handlers are required")
	}

	o := &Orchestrator{
		store:    store,
		handlers: handlers,
		now:      time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleMessage runs one conversation turn and returns the assistant
// reply. The stored session is only advanced when the whole turn
// succeeds; any failure leaves it exactly as it was.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID string, text string) (string, error) {
	out, err := o.graphRunner.Invoke(ctx, desknode.GraphInput{
		SessionID: sessionID,
		Text:      text,
	})
	if err != nil {
		return "", err
	}
	return out.Reply, nil
}

// ProcessTurn advances the given session snapshot by one turn without
// touching the session store; the caller owns persistence. On any error
// the input state comes back unchanged.
func (o *Orchestrator) ProcessTurn(ctx context.Context, st *statex.SessionState, utterance string) (*statex.SessionState, error) {
	if st == nil {
		return nil, ErrInvalidSession
	}
	text := strings.TrimSpace(utterance)
	if text == "" {
		return st, ErrInvalidMessage
	}

	in := &desknode.GraphState{
		SessionID: st.SessionID,
		Text:      text,
		Now:       o.now().UTC(),
		Session:   st,
	}
	if _, err := desknode.AppendUserTurn(in); err != nil {
		return st, err
	}
	if _, err := desknode.DispatchHandlers(ctx, in, o.handlers); err != nil {
		return st, err
	}

	in.Session.Touch(in.Now)
	if err := in.Session.Validate(); err != nil {
		return st, fmt.Errorf("state validation failed: %w", err)
	}
	return in.Session, nil
}

// Session returns the stored state for inspection.
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*statex.SessionState, error) {
	return o.store.Load(ctx, sessionID)
}

// Reset discards the stored state so the next message starts a fresh
// conversation.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	return o.store.Delete(ctx, sessionID)
}

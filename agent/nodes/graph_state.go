// Package desknode holds the orchestration graph nodes: request
// validation, session loading, handler dispatch, persistence, and reply
// finalization.
package desknode

import (
	"errors"
	"strings"
	"time"

	statex "github.com/bancoagil/servicedesk/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSession = errors.New("session id is empty")
)

type GraphInput struct {
	SessionID string
	Text      string
}

type GraphOutput struct {
	Reply   string
	Session *statex.SessionState
}

type GraphState struct {
	SessionID string
	Text      string
	Now       time.Time

	Session *statex.SessionState
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	return &GraphState{
		SessionID: sessionID,
		Text:      text,
		Now:       nowFn().UTC(),
	}, nil
}

package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxAuthAttempts is the hard ceiling on identity-verification retries.
// Reaching it locks the session out.
const MaxAuthAttempts = 3

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallMeta records a tool-call request the reasoning engine emitted on
// an assistant turn, with the raw argument payload for the audit trail.
type ToolCallMeta struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Turn is one message in the conversation log.
type Turn struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []ToolCallMeta `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

func UserTurn(content string) Turn      { return Turn{Role: RoleUser, Content: content} }
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// Intent is the classified next destination for the conversation.
type Intent string

const (
	IntentNone      Intent = "nenhum"
	IntentCredit    Intent = "credito"
	IntentCurrency  Intent = "cambio"
	IntentInterview Intent = "entrevista"
	IntentFinished  Intent = "finalizado"
	IntentEnded     Intent = "encerrado"
)

func ParseIntent(s string) (Intent, bool) {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentNone:
		return IntentNone, true
	case IntentCredit:
		return IntentCredit, true
	case IntentCurrency:
		return IntentCurrency, true
	case IntentInterview:
		return IntentInterview, true
	case IntentFinished:
		return IntentFinished, true
	case IntentEnded:
		return IntentEnded, true
	default:
		return IntentNone, false
	}
}

// IsHandler reports whether the intent routes to a task handler.
func (i Intent) IsHandler() bool {
	return i == IntentCredit || i == IntentCurrency || i == IntentInterview
}

// SessionState is the single mutable object threaded through every turn of
// one conversation. It is mutated exclusively through orchestrator-mediated
// merges of handler updates.
type SessionState struct {
	SessionID string `json:"session_id"`
	Version   int    `json:"version,omitempty"`

	Turns []Turn `json:"turns"`

	TaxID        string `json:"tax_id,omitempty"`
	BirthDate    string `json:"birth_date,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`

	Authenticated bool   `json:"authenticated"`
	AuthAttempts  int    `json:"auth_attempts"`
	Intent        Intent `json:"intent"`

	UpdatedAt time.Time `json:"updated_at"`
}

func NewSessionState(sessionID string, now time.Time) *SessionState {
	return &SessionState{
		SessionID: sessionID,
		Version:   1,
		Intent:    IntentNone,
		UpdatedAt: now.UTC(),
	}
}

func (s *SessionState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// LastUserTurn returns the most recent user turn, or nil.
func (s *SessionState) LastUserTurn() *Turn {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == RoleUser {
			return &s.Turns[i]
		}
	}
	return nil
}

// Clone returns a deep copy. Handlers and the orchestrator work on clones
// so a failed turn leaves the caller's state untouched.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	dup := *s
	dup.Turns = make([]Turn, len(s.Turns))
	copy(dup.Turns, s.Turns)
	for i, t := range dup.Turns {
		if len(t.ToolCalls) > 0 {
			calls := make([]ToolCallMeta, len(t.ToolCalls))
			copy(calls, t.ToolCalls)
			dup.Turns[i].ToolCalls = calls
		}
	}
	return &dup
}

var (
	ErrTooManyAttempts  = errors.New("auth attempts exceed ceiling")
	ErrAuthWithoutName  = errors.New("authenticated without customer name")
	ErrNegativeAttempts = errors.New("auth attempts below zero")
	ErrUnknownIntent    = errors.New("unknown intent")
)

func (s *SessionState) Validate() error {
	if s.AuthAttempts > MaxAuthAttempts {
		return fmt.Errorf("%w: %d", ErrTooManyAttempts, s.AuthAttempts)
	}
	if s.AuthAttempts < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeAttempts, s.AuthAttempts)
	}
	if s.Authenticated && strings.TrimSpace(s.CustomerName) == "" {
		return ErrAuthWithoutName
	}
	if _, ok := ParseIntent(string(s.Intent)); !ok && s.Intent != "" {
		return fmt.Errorf("%w: %q", ErrUnknownIntent, s.Intent)
	}
	return nil
}

// Update is a partial state update returned by a handler. Nil pointer
// fields leave the corresponding state field untouched; Turns are appended,
// never replaced.
type Update struct {
	Turns []Turn `json:"turns,omitempty"`

	TaxID        *string `json:"tax_id,omitempty"`
	BirthDate    *string `json:"birth_date,omitempty"`
	CustomerName *string `json:"customer_name,omitempty"`

	Authenticated *bool   `json:"authenticated,omitempty"`
	AuthAttempts  *int    `json:"auth_attempts,omitempty"`
	Intent        *Intent `json:"intent,omitempty"`
}

// Ptr is a helper for building Update literals.
func Ptr[T any](v T) *T { return &v }

// Merge applies a partial update to a state snapshot and returns the new
// state. Per-field policy: Turns concatenate (append-only, order
// preserved); every other set field overwrites. The input state is not
// mutated.
func Merge(st SessionState, u Update) SessionState {
	out := st
	out.Turns = make([]Turn, 0, len(st.Turns)+len(u.Turns))
	out.Turns = append(out.Turns, st.Turns...)
	out.Turns = append(out.Turns, u.Turns...)

	if u.TaxID != nil {
		out.TaxID = *u.TaxID
	}
	if u.BirthDate != nil {
		out.BirthDate = *u.BirthDate
	}
	if u.CustomerName != nil {
		out.CustomerName = *u.CustomerName
	}
	if u.Authenticated != nil {
		out.Authenticated = *u.Authenticated
	}
	if u.AuthAttempts != nil {
		out.AuthAttempts = *u.AuthAttempts
	}
	if u.Intent != nil {
		out.Intent = *u.Intent
	}
	return out
}

// HasAssistantTurn reports whether the update carries a user-visible
// assistant message. Handoffs without one are re-entered by the router in
// the same turn.
func (u Update) HasAssistantTurn() bool {
	for _, t := range u.Turns {
		if t.Role == RoleAssistant && strings.TrimSpace(t.Content) != "" {
			return true
		}
	}
	return false
}

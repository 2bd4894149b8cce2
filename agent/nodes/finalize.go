package desknode

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
	statex "github.com/bancoagil/servicedesk/agent/state"
)

func ValidateAndSaveState(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	in.Session.Touch(in.Now)
	if err := in.Session.Validate(); err != nil {
		return nil, fmt.Errorf("state validation failed: %w", err)
	}
	if err := store.Save(ctx, in.Session); err != nil {
		return nil, err
	}
	return in, nil
}

// FinalizeReply surfaces the last assistant message of the turn as the
// reply.
func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Session == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	for i := len(in.Session.Turns) - 1; i >= 0; i-- {
		turn := in.Session.Turns[i]
		if turn.Role == statex.RoleAssistant && strings.TrimSpace(turn.Content) != "" {
			return GraphOutput{Reply: turn.Content, Session: in.Session}, nil
		}
	}
	return GraphOutput{}, fmt.Errorf("%w: turn produced no assistant message", contractx.ErrValidation)
}

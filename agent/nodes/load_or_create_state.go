package desknode

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
	statex "github.com/bancoagil/servicedesk/agent/state"
)

func LoadOrCreateState(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st, err := store.Load(ctx, in.SessionID)
	if err != nil {
		if !errors.Is(err, statex.ErrStateNotFound) {
			return nil, err
		}
		st = statex.NewSessionState(in.SessionID, in.Now)
	}
	in.Session = st
	return in, nil
}

// AppendUserTurn clones the loaded session and appends the inbound user
// turn. The clone keeps a failed turn from leaking partial writes back to
// the stored state.
func AppendUserTurn(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	work := statex.Merge(*in.Session.Clone(), statex.Update{
		Turns: []statex.Turn{statex.UserTurn(in.Text)},
	})
	in.Session = &work
	return in, nil
}

package desknode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
	statex "github.com/bancoagil/servicedesk/agent/state"
)

// maxHandlerHops bounds silent handoffs inside one turn. A handoff chain
// longer than this indicates a routing bug, not a legitimate conversation.
const maxHandlerHops = 4

const farewellNotice = "Este atendimento já foi encerrado. Obrigado por falar com o Banco Ágil!"

// Handlers is the routing table the dispatcher consults.
type Handlers struct {
	Auth      contractx.Handler
	Triage    contractx.Handler
	Credit    contractx.Handler
	Currency  contractx.Handler
	Interview contractx.Handler
}

// DispatchHandlers runs handlers against the working session until one of
// them produces a user-visible assistant message. A handler that changes
// the intent without speaking hands off silently and the loop re-enters
// with the target handler in the same turn.
func DispatchHandlers(ctx context.Context, in *GraphState, reg Handlers) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	st := in.Session
	for hop := 0; hop <= maxHandlerHops; hop++ {
		handler := route(reg, st)
		if handler == nil {
			merged := statex.Merge(*st, statex.Update{
				Turns: []statex.Turn{statex.AssistantTurn(farewellNotice)},
			})
			in.Session = &merged
			return in, nil
		}

		update, err := handler.Handle(ctx, st)
		if err != nil {
			return nil, err
		}

		merged := statex.Merge(*st, update)
		st = &merged

		// A closing message with intent "finalizado" seals the session.
		if st.Intent == statex.IntentFinished && update.HasAssistantTurn() {
			st.Intent = statex.IntentEnded
		}

		if update.HasAssistantTurn() {
			in.Session = st
			return in, nil
		}

		log.Debug().
			Str("session_id", st.SessionID).
			Str("intent", string(st.Intent)).
			Int("hop", hop).
			Msg("silent handoff")
	}

	return nil, fmt.Errorf("%w: handler handoffs exceeded %d in one turn", contractx.ErrValidation, maxHandlerHops)
}

func route(reg Handlers, st *statex.SessionState) contractx.Handler {
	if st.Intent == statex.IntentEnded {
		return nil
	}
	if !st.Authenticated {
		return reg.Auth
	}
	switch st.Intent {
	case statex.IntentCredit:
		return reg.Credit
	case statex.IntentCurrency:
		return reg.Currency
	case statex.IntentInterview:
		return reg.Interview
	default:
		return reg.Triage
	}
}

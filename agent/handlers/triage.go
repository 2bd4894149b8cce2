package handlers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
	promptx "github.com/bancoagil/servicedesk/agent/prompt"
	statex "github.com/bancoagil/servicedesk/agent/state"
)

// Triage classifies what the authenticated customer wants this turn.
// A task intent hands off silently so the matching handler answers in the
// same turn. Only "nenhum" and "finalizado" produce a message here.
type Triage struct {
	gateway contractx.Gateway
	prompts promptx.PromptSet
}

func NewTriage(gateway contractx.Gateway, prompts promptx.PromptSet) *Triage {
	return &Triage{gateway: gateway, prompts: prompts}
}

type intentExtraction struct {
	UserIntent string `json:"user_intent"`
}

func (h *Triage) Handle(ctx context.Context, st *statex.SessionState) (statex.Update, error) {
	var out intentExtraction
	if err := h.gateway.Extract(ctx, h.prompts.Intent, st.Turns, &out); err != nil {
		return statex.Update{}, err
	}
	intent, _ := statex.ParseIntent(out.UserIntent)
	log.Debug().Str("session_id", st.SessionID).Str("intent", string(intent)).Msg("triage classified")

	switch {
	case intent == statex.IntentFinished:
		msg, err := h.reply(ctx, st, "O cliente quer encerrar o atendimento. Despeça-se educadamente.")
		if err != nil {
			return statex.Update{}, err
		}
		return statex.Update{
			Intent: statex.Ptr(statex.IntentEnded),
			Turns:  []statex.Turn{msg},
		}, nil
	case intent.IsHandler():
		// Silent handoff: no message here, the target handler answers.
		return statex.Update{Intent: statex.Ptr(intent)}, nil
	default:
		msg, err := h.reply(ctx, st,
			fmt.Sprintf("Cliente já autenticado como: %s. Nenhum pedido específico identificado, pergunte como pode ajudar com crédito, câmbio ou atualização cadastral.", st.CustomerName))
		if err != nil {
			return statex.Update{}, err
		}
		return statex.Update{
			Intent: statex.Ptr(statex.IntentNone),
			Turns:  []statex.Turn{msg},
		}, nil
	}
}

func (h *Triage) reply(ctx context.Context, st *statex.SessionState, feedback string) (statex.Turn, error) {
	system := fmt.Sprintf(h.prompts.Triage, statex.MaxAuthAttempts-st.AuthAttempts, statusAuthenticated, feedback)
	comp, err := h.gateway.Complete(ctx, system, st.Turns)
	if err != nil {
		return statex.Turn{}, err
	}
	return statex.AssistantTurn(comp.Content), nil
}

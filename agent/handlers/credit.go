package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
	promptx "github.com/bancoagil/servicedesk/agent/prompt"
	rulesx "github.com/bancoagil/servicedesk/agent/rules"
	statex "github.com/bancoagil/servicedesk/agent/state"
)

const interviewInvite = "Perfeito! Para atualizar seu cadastro financeiro vou te fazer algumas perguntas rápidas. Vamos lá?"

const persistenceApology = "Desculpe, estamos com uma instabilidade no sistema e não consegui concluir sua solicitação. Por favor, tente novamente mais tarde."

// Credit answers limit questions and resolves limit-increase requests.
// The approval decision is pure rule evaluation over the customer's score
// and the tier table; the reasoning engine only phrases the answer.
type Credit struct {
	gateway contractx.Gateway
	records contractx.RecordStore
	prompts promptx.PromptSet
	now     func() time.Time
}

func NewCredit(gateway contractx.Gateway, records contractx.RecordStore, prompts promptx.PromptSet) *Credit {
	return &Credit{gateway: gateway, records: records, prompts: prompts, now: time.Now}
}

type creditExtraction struct {
	DesiredLimit   *float64 `json:"desired_limit"`
	WantsInterview bool     `json:"wants_interview"`
}

func (h *Credit) Handle(ctx context.Context, st *statex.SessionState) (statex.Update, error) {
	last := st.LastUserTurn()
	if last == nil {
		return statex.Update{}, fmt.Errorf("%w: no user turn for credit handling", contractx.ErrValidation)
	}

	customer, err := h.records.LookupCustomer(ctx, st.TaxID)
	if err != nil {
		if !errors.Is(err, contractx.ErrRecordNotFound) {
			return statex.Update{}, fmt.Errorf("%w: customer lookup: %v", contractx.ErrPersistence, err)
		}
		// Unknown record: zero limit and zero score, the conversation
		// continues instead of failing.
		customer = &contractx.Customer{CPF: st.TaxID, Name: st.CustomerName}
	}

	var req creditExtraction
	if err := h.gateway.Extract(ctx, h.prompts.CreditExtract, []statex.Turn{*last}, &req); err != nil {
		return statex.Update{}, err
	}

	if req.WantsInterview {
		return statex.Update{
			Intent: statex.Ptr(statex.IntentInterview),
			Turns:  []statex.Turn{statex.AssistantTurn(interviewInvite)},
		}, nil
	}

	statusNote := ""
	if req.DesiredLimit != nil {
		statusNote, err = h.resolveRequest(ctx, customer, *req.DesiredLimit)
		if err != nil {
			if errors.Is(err, contractx.ErrPersistence) {
				log.Error().Err(err).Str("session_id", st.SessionID).Msg("credit request persistence failure")
				return statex.Update{
					Intent: statex.Ptr(statex.IntentEnded),
					Turns:  []statex.Turn{statex.AssistantTurn(persistenceApology)},
				}, nil
			}
			return statex.Update{}, err
		}
	}

	system := fmt.Sprintf(h.prompts.Credit, customer.Limit, customer.Score, statusNote)
	comp, err := h.gateway.Complete(ctx, system, st.Turns)
	if err != nil {
		return statex.Update{}, err
	}
	return statex.Update{
		Intent: statex.Ptr(statex.IntentNone),
		Turns:  []statex.Turn{statex.AssistantTurn(comp.Content)},
	}, nil
}

// resolveRequest records the limit request and settles it against the tier
// table in the same turn. The returned note feeds the phrasing prompt.
func (h *Credit) resolveRequest(ctx context.Context, customer *contractx.Customer, desired float64) (string, error) {
	if desired <= customer.Limit {
		return fmt.Sprintf(
			"\n# STATUS DO PEDIDO\nSISTEMA: o cliente pediu R$ %.2f mas já possui limite de R$ %.2f. Informe que o limite atual já cobre o valor.",
			desired, customer.Limit), nil
	}

	tiers, err := h.records.EligibilityTiers(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: load eligibility tiers: %v", contractx.ErrPersistence, err)
	}

	entry := contractx.RequestLogEntry{
		CPF:            customer.CPF,
		RequestedAt:    h.now(),
		PreviousLimit:  customer.Limit,
		RequestedLimit: desired,
		Status:         contractx.StatusPending,
	}
	if err := h.records.AppendRequestLog(ctx, entry); err != nil {
		return "", fmt.Errorf("%w: append request log: %v", contractx.ErrPersistence, err)
	}

	status := contractx.StatusRejected
	if rulesx.Eligible(tiers, customer.Score, desired) {
		status = contractx.StatusApproved
	}
	if _, err := rulesx.ApplyDecision(ctx, h.records, customer.CPF, status); err != nil {
		return "", err
	}

	log.Info().
		Str("cpf", customer.CPF).
		Float64("requested_limit", desired).
		Str("status", status).
		Msg("limit request resolved")

	if status == contractx.StatusApproved {
		return fmt.Sprintf(
			"\n# STATUS DO PEDIDO\nSISTEMA: pedido de R$ %.2f APROVADO. O novo limite já está ativo. Parabenize o cliente.",
			desired), nil
	}
	return fmt.Sprintf(
		"\n# STATUS DO PEDIDO\nSISTEMA: pedido de R$ %.2f REJEITADO pelo score atual (%d). Sugira atualizar o cadastro financeiro para melhorar o score.",
		desired, customer.Score), nil
}

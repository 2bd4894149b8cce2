package handlers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
	promptx "github.com/bancoagil/servicedesk/agent/prompt"
	rulesx "github.com/bancoagil/servicedesk/agent/rules"
	statex "github.com/bancoagil/servicedesk/agent/state"
)

// Interview collects the five-slot financial profile one question at a
// time, then recomputes and persists the customer's score. The profile is
// re-extracted from the whole conversation every turn, so the customer may
// answer several slots at once or correct earlier answers.
type Interview struct {
	gateway contractx.Gateway
	records contractx.RecordStore
	prompts promptx.PromptSet
}

func NewInterview(gateway contractx.Gateway, records contractx.RecordStore, prompts promptx.PromptSet) *Interview {
	return &Interview{gateway: gateway, records: records, prompts: prompts}
}

type profileExtraction struct {
	MonthlyIncome   *float64 `json:"monthly_income"`
	EmploymentType  *string  `json:"employment_type"`
	MonthlyExpenses *float64 `json:"monthly_expenses"`
	Dependents      *int     `json:"dependents"`
	HasActiveDebt   *bool    `json:"has_active_debt"`
}

func (h *Interview) Handle(ctx context.Context, st *statex.SessionState) (statex.Update, error) {
	var out profileExtraction
	if err := h.gateway.Extract(ctx, h.prompts.InterviewExtract, st.Turns, &out); err != nil {
		return statex.Update{}, err
	}

	profile, missing := buildProfile(out)
	if missing != "" {
		system := fmt.Sprintf(h.prompts.Interview, missing)
		comp, err := h.gateway.Complete(ctx, system, st.Turns)
		if err != nil {
			return statex.Update{}, err
		}
		return statex.Update{Turns: []statex.Turn{statex.AssistantTurn(comp.Content)}}, nil
	}

	score := rulesx.Score(profile)
	if err := h.records.UpdateCustomerField(ctx, st.TaxID, "score", score); err != nil {
		log.Error().Err(err).Str("session_id", st.SessionID).Msg("score persistence failure")
		return statex.Update{
			Intent: statex.Ptr(statex.IntentEnded),
			Turns:  []statex.Turn{statex.AssistantTurn(persistenceApology)},
		}, nil
	}

	log.Info().Str("cpf", st.TaxID).Int("score", score).Msg("score recomputed")
	msg := fmt.Sprintf(
		"Cadastro atualizado com sucesso! Seu novo score é %d. Quer que eu reavalie agora sua solicitação de aumento de limite?",
		score)
	return statex.Update{
		Intent: statex.Ptr(statex.IntentCredit),
		Turns:  []statex.Turn{statex.AssistantTurn(msg)},
	}, nil
}

// buildProfile validates the extracted slots and names the first missing
// one. Question order is fixed: income, employment, expenses, dependents,
// debt.
func buildProfile(out profileExtraction) (rulesx.Profile, string) {
	var p rulesx.Profile

	if out.MonthlyIncome == nil {
		return p, "a renda mensal do cliente (em R$)"
	}
	p.MonthlyIncome = *out.MonthlyIncome

	employment := rulesx.EmploymentCategory("")
	if out.EmploymentType != nil {
		if parsed, ok := rulesx.ParseEmployment(*out.EmploymentType); ok {
			employment = parsed
		}
	}
	if employment == "" {
		return p, "o tipo de emprego do cliente (formal, autônomo ou desempregado)"
	}
	p.Employment = employment

	if out.MonthlyExpenses == nil {
		return p, "os gastos mensais fixos do cliente (em R$)"
	}
	p.MonthlyExpenses = *out.MonthlyExpenses

	if out.Dependents == nil {
		return p, "quantos dependentes o cliente possui"
	}
	p.Dependents = *out.Dependents

	if out.HasActiveDebt == nil {
		return p, "se o cliente possui dívidas ativas no momento"
	}
	p.HasActiveDebt = *out.HasActiveDebt

	return p, ""
}

// Package handlers holds the task handlers the orchestrator dispatches to:
// authentication, intent triage, credit, currency, and interview. Each one
// consumes a session snapshot plus the latest user turn and returns a
// partial update.
package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
	identityx "github.com/bancoagil/servicedesk/agent/identity"
	promptx "github.com/bancoagil/servicedesk/agent/prompt"
	statex "github.com/bancoagil/servicedesk/agent/state"
)

const (
	statusAuthenticated    = "AUTENTICADO"
	statusNotAuthenticated = "NÃO AUTENTICADO"
)

// Auth verifies the caller's identity: capture CPF, capture birth date,
// then match both against the customer record. Three mismatches lock the
// session out. The reasoning engine only phrases the outgoing message; it
// never decides the outcome.
type Auth struct {
	gateway contractx.Gateway
	records contractx.RecordStore
	prompts promptx.PromptSet
}

func NewAuth(gateway contractx.Gateway, records contractx.RecordStore, prompts promptx.PromptSet) *Auth {
	return &Auth{gateway: gateway, records: records, prompts: prompts}
}

type birthDateExtraction struct {
	BirthDate *string `json:"data_nascimento"`
}

func (h *Auth) Handle(ctx context.Context, st *statex.SessionState) (statex.Update, error) {
	last := st.LastUserTurn()
	if last == nil {
		return statex.Update{}, fmt.Errorf("%w: no user turn to authenticate", contractx.ErrValidation)
	}

	if st.TaxID == "" {
		return h.captureCPF(ctx, st, last.Content)
	}

	birthDate := st.BirthDate
	captured := false
	if birthDate == "" {
		extracted, err := h.extractBirthDate(ctx, *last)
		if err != nil {
			return statex.Update{}, err
		}
		if extracted == "" {
			msg, err := h.phrase(ctx, st, st.AuthAttempts, "Data de nascimento não encontrada na mensagem, peça novamente.")
			if err != nil {
				return statex.Update{}, err
			}
			return statex.Update{Turns: []statex.Turn{msg}}, nil
		}
		birthDate = extracted
		captured = true
	}

	update, err := h.verify(ctx, st, birthDate)
	if err != nil {
		return statex.Update{}, err
	}
	if captured && update.BirthDate == nil && update.Authenticated != nil && *update.Authenticated {
		update.BirthDate = statex.Ptr(birthDate)
	}
	return update, nil
}

func (h *Auth) captureCPF(ctx context.Context, st *statex.SessionState, text string) (statex.Update, error) {
	cpf := identityx.ExtractCPF(text)
	if cpf == "" {
		msg, err := h.phrase(ctx, st, st.AuthAttempts, "CPF não encontrado na mensagem, peça o CPF.")
		if err != nil {
			return statex.Update{}, err
		}
		return statex.Update{Turns: []statex.Turn{msg}}, nil
	}

	msg, err := h.phrase(ctx, st, st.AuthAttempts, "CPF extraído com sucesso, peça agora a data de nascimento.")
	if err != nil {
		return statex.Update{}, err
	}
	return statex.Update{
		TaxID: statex.Ptr(cpf),
		Turns: []statex.Turn{msg},
	}, nil
}

func (h *Auth) extractBirthDate(ctx context.Context, last statex.Turn) (string, error) {
	var out birthDateExtraction
	if err := h.gateway.Extract(ctx, h.prompts.BirthDate, []statex.Turn{last}, &out); err != nil {
		return "", err
	}
	if out.BirthDate == nil {
		return "", nil
	}
	return identityx.ValidateDate(*out.BirthDate), nil
}

// verify matches the captured credentials against the customer record.
// A lookup miss counts toward the attempt ceiling and clears both
// credentials, forcing full re-entry.
func (h *Auth) verify(ctx context.Context, st *statex.SessionState, birthDate string) (statex.Update, error) {
	customer, err := h.records.LookupCustomerByBirthDate(ctx, st.TaxID, birthDate)
	if err != nil && !errors.Is(err, contractx.ErrRecordNotFound) {
		return statex.Update{}, fmt.Errorf("%w: customer lookup: %v", contractx.ErrPersistence, err)
	}

	if customer != nil {
		msg, err := h.phraseWithStatus(ctx, st, 0, statusAuthenticated,
			fmt.Sprintf("SUCESSO: cliente %s autenticado. Pergunte como pode ajudar.", customer.Name))
		if err != nil {
			return statex.Update{}, err
		}
		return statex.Update{
			Authenticated: statex.Ptr(true),
			CustomerName:  statex.Ptr(customer.Name),
			AuthAttempts:  statex.Ptr(0),
			Turns:         []statex.Turn{msg},
		}, nil
	}

	attempts := st.AuthAttempts + 1
	if attempts >= statex.MaxAuthAttempts {
		log.Warn().Str("session_id", st.SessionID).Msg("authentication locked out")
		msg, err := h.phrase(ctx, st, attempts, "Falha de autenticação final, encerre o atendimento educadamente.")
		if err != nil {
			return statex.Update{}, err
		}
		return statex.Update{
			Authenticated: statex.Ptr(false),
			AuthAttempts:  statex.Ptr(0),
			TaxID:         statex.Ptr(""),
			BirthDate:     statex.Ptr(""),
			Intent:        statex.Ptr(statex.IntentFinished),
			Turns:         []statex.Turn{msg},
		}, nil
	}

	msg, err := h.phrase(ctx, st, attempts,
		"Falha de autenticação: dados não conferem. Peça CPF e data de nascimento novamente.")
	if err != nil {
		return statex.Update{}, err
	}
	return statex.Update{
		AuthAttempts: statex.Ptr(attempts),
		TaxID:        statex.Ptr(""),
		BirthDate:    statex.Ptr(""),
		Turns:        []statex.Turn{msg},
	}, nil
}

func (h *Auth) phrase(ctx context.Context, st *statex.SessionState, attempts int, feedback string) (statex.Turn, error) {
	status := statusNotAuthenticated
	if st.Authenticated {
		status = statusAuthenticated
	}
	return h.phraseWithStatus(ctx, st, attempts, status, feedback)
}

func (h *Auth) phraseWithStatus(ctx context.Context, st *statex.SessionState, attempts int, status, feedback string) (statex.Turn, error) {
	system := fmt.Sprintf(h.prompts.Triage, statex.MaxAuthAttempts-attempts, status, feedback)
	comp, err := h.gateway.Complete(ctx, system, st.Turns)
	if err != nil {
		return statex.Turn{}, err
	}
	return statex.AssistantTurn(comp.Content), nil
}

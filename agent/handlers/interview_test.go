package handlers

import (
	"context"
	"errors"
	"strings"
	"testing"

	statex "github.com/bancoagil/servicedesk/agent/state"
)

func interviewSession(t *testing.T, text string) *statex.SessionState {
	st := sessionWith(t, statex.UserTurn(text))
	st.Authenticated = true
	st.TaxID = testCPF
	st.CustomerName = "Ana Souza"
	st.Intent = statex.IntentInterview
	return st
}

func TestInterviewAsksFirstMissingSlot(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name    string
		extract string
		wantAsk string
	}{
		{
			name:    "income first",
			extract: `{"monthly_income":null,"employment_type":null,"monthly_expenses":null,"dependents":null,"has_active_debt":null}`,
			wantAsk: "renda mensal",
		},
		{
			name:    "employment after income",
			extract: `{"monthly_income":5000,"employment_type":null,"monthly_expenses":null,"dependents":null,"has_active_debt":null}`,
			wantAsk: "tipo de emprego",
		},
		{
			name:    "invalid employment treated as missing",
			extract: `{"monthly_income":5000,"employment_type":"aposentado","monthly_expenses":2000,"dependents":1,"has_active_debt":false}`,
			wantAsk: "tipo de emprego",
		},
		{
			name:    "expenses after employment",
			extract: `{"monthly_income":5000,"employment_type":"formal","monthly_expenses":null,"dependents":null,"has_active_debt":null}`,
			wantAsk: "gastos mensais",
		},
		{
			name:    "dependents after expenses",
			extract: `{"monthly_income":5000,"employment_type":"formal","monthly_expenses":2000,"dependents":null,"has_active_debt":null}`,
			wantAsk: "dependentes",
		},
		{
			name:    "debt last",
			extract: `{"monthly_income":5000,"employment_type":"formal","monthly_expenses":2000,"dependents":1,"has_active_debt":null}`,
			wantAsk: "dívidas ativas",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			records := newFakeRecords()
			seedCustomer(records, 600, 1000)
			gw := &fakeGateway{reply: "Pode me informar?", extractJSON: tc.extract}
			h := NewInterview(gw, records, testPrompts)

			u, err := h.Handle(context.Background(), interviewSession(t, "vamos lá"))
			if err != nil {
				t.Fatal(err)
			}
			requireAssistant(t, u)
			if u.Intent != nil {
				t.Fatalf("a follow-up question must keep the interview active, got intent %s", *u.Intent)
			}
			containsAll(t, gw.systems[len(gw.systems)-1], tc.wantAsk)
		})
	}
}

func TestInterviewCompleteProfilePersistsScore(t *testing.T) {
	t.Parallel()
	records := newFakeRecords()
	seedCustomer(records, 100, 1000)
	gw := &fakeGateway{
		extractJSON: `{"monthly_income":5000,"employment_type":"formal","monthly_expenses":2000,"dependents":1,"has_active_debt":false}`,
	}
	h := NewInterview(gw, records, testPrompts)

	u, err := h.Handle(context.Background(), interviewSession(t, "não tenho dívidas"))
	if err != nil {
		t.Fatal(err)
	}
	// 5000/2001*30 = 74, +300 formal, +80 one dependent, +100 no debt.
	if got := records.customers[testCPF].Score; got != 554 {
		t.Fatalf("persisted score = %d, want 554", got)
	}
	if u.Intent == nil || *u.Intent != statex.IntentCredit {
		t.Fatalf("Intent = %v, want %s", u.Intent, statex.IntentCredit)
	}
	if got := requireAssistant(t, u); !strings.Contains(got, "554") {
		t.Fatalf("reply must state the new score, got %q", got)
	}
}

func TestInterviewPersistenceFailureApologizesAndEnds(t *testing.T) {
	t.Parallel()
	records := newFakeRecords()
	seedCustomer(records, 100, 1000)
	records.fieldErr = errors.New("connection refused")
	gw := &fakeGateway{
		extractJSON: `{"monthly_income":5000,"employment_type":"formal","monthly_expenses":2000,"dependents":1,"has_active_debt":false}`,
	}
	h := NewInterview(gw, records, testPrompts)

	u, err := h.Handle(context.Background(), interviewSession(t, "não tenho dívidas"))
	if err != nil {
		t.Fatal(err)
	}
	if u.Intent == nil || *u.Intent != statex.IntentEnded {
		t.Fatalf("Intent = %v, want %s", u.Intent, statex.IntentEnded)
	}
	if got := requireAssistant(t, u); got != persistenceApology {
		t.Fatalf("reply = %q, want the fixed apology", got)
	}
}

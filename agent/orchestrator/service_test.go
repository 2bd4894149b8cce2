package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
	handlersx "github.com/bancoagil/servicedesk/agent/handlers"
	desknode "github.com/bancoagil/servicedesk/agent/nodes"
	promptx "github.com/bancoagil/servicedesk/agent/prompt"
	statex "github.com/bancoagil/servicedesk/agent/state"
	toolx "github.com/bancoagil/servicedesk/agent/tool"
	"github.com/bancoagil/servicedesk/pkg/fxrates"
)

// scriptedGateway feeds queued responses to every handler sharing it, in
// call order. Completions and extractions drain independently.
type scriptedGateway struct {
	t *testing.T

	completions []contractx.Completion
	extractions []string
}

func (g *scriptedGateway) Complete(_ context.Context, _ string, _ []statex.Turn) (contractx.Completion, error) {
	if len(g.completions) == 0 {
		g.t.Fatal("scripted gateway ran out of completions")
	}
	next := g.completions[0]
	g.completions = g.completions[1:]
	return next, nil
}

func (g *scriptedGateway) Extract(_ context.Context, _ string, _ []statex.Turn, out any) error {
	if len(g.extractions) == 0 {
		g.t.Fatal("scripted gateway ran out of extractions")
	}
	next := g.extractions[0]
	g.extractions = g.extractions[1:]
	return json.Unmarshal([]byte(next), out)
}

func (g *scriptedGateway) BindTools(_ []*schema.ToolInfo) contractx.Gateway { return g }

func say(content string) contractx.Completion { return contractx.Completion{Content: content} }

type fakeRecords struct {
	customers map[string]*contractx.Customer
	tiers     []contractx.Tier
	requests  []contractx.RequestLogEntry
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{customers: map[string]*contractx.Customer{}}
}

func (r *fakeRecords) LookupCustomer(_ context.Context, cpf string) (*contractx.Customer, error) {
	c, ok := r.customers[cpf]
	if !ok {
		return nil, contractx.ErrRecordNotFound
	}
	clone := *c
	return &clone, nil
}

func (r *fakeRecords) LookupCustomerByBirthDate(ctx context.Context, cpf, birthDate string) (*contractx.Customer, error) {
	c, err := r.LookupCustomer(ctx, cpf)
	if err != nil {
		return nil, err
	}
	if c.BirthDate != birthDate {
		return nil, contractx.ErrRecordNotFound
	}
	return c, nil
}

func (r *fakeRecords) UpdateCustomerField(_ context.Context, cpf, field string, value any) error {
	c, ok := r.customers[cpf]
	if !ok {
		return contractx.ErrRecordNotFound
	}
	switch field {
	case "score":
		c.Score = value.(int)
	case "limite_atual":
		c.Limit = value.(float64)
	default:
		return errors.New("unknown field " + field)
	}
	return nil
}

func (r *fakeRecords) AppendRequestLog(_ context.Context, entry contractx.RequestLogEntry) error {
	r.requests = append(r.requests, entry)
	return nil
}

func (r *fakeRecords) UpdateLastRequestStatus(_ context.Context, cpf, status string) (*contractx.RequestLogEntry, error) {
	for i := len(r.requests) - 1; i >= 0; i-- {
		if r.requests[i].CPF == cpf {
			r.requests[i].Status = status
			entry := r.requests[i]
			return &entry, nil
		}
	}
	return nil, contractx.ErrRecordNotFound
}

func (r *fakeRecords) EligibilityTiers(_ context.Context) ([]contractx.Tier, error) {
	return r.tiers, nil
}

type fakeQuoter struct {
	result fxrates.QuoteResult
}

func (q fakeQuoter) Quote(_ context.Context, _ string, _ float64) (fxrates.QuoteResult, error) {
	return q.result, nil
}

const (
	testCPF   = "52998224725"
	testBirth = "1990-05-10"
)

func buildOrchestrator(t *testing.T, gw contractx.Gateway, records contractx.RecordStore, quotes toolx.Quoter) (*Orchestrator, *statex.MemoryStore) {
	t.Helper()
	prompts := promptx.LoadPromptSet()
	store := statex.NewMemoryStore()
	o, err := New(store, desknode.Handlers{
		Auth:      handlersx.NewAuth(gw, records, prompts),
		Triage:    handlersx.NewTriage(gw, prompts),
		Credit:    handlersx.NewCredit(gw, records, prompts),
		Currency:  handlersx.NewCurrency(gw, toolx.NewExecutor(quotes), prompts),
		Interview: handlersx.NewInterview(gw, records, prompts),
	})
	if err != nil {
		t.Fatal(err)
	}
	return o, store
}

func seedAuthenticated(t *testing.T, store *statex.MemoryStore, sessionID string) {
	t.Helper()
	st := statex.NewSessionState(sessionID, time.Now())
	st.TaxID = testCPF
	st.BirthDate = testBirth
	st.CustomerName = "Ana Souza"
	st.Authenticated = true
	if err := store.Save(context.Background(), st); err != nil {
		t.Fatal(err)
	}
}

func turn(t *testing.T, o *Orchestrator, sessionID, text string) string {
	t.Helper()
	reply, err := o.HandleMessage(context.Background(), sessionID, text)
	if err != nil {
		t.Fatalf("turn %q failed: %v", text, err)
	}
	if strings.TrimSpace(reply) == "" {
		t.Fatalf("turn %q produced an empty reply", text)
	}
	return reply
}

func TestFullCreditJourney(t *testing.T) {
	t.Parallel()
	records := newFakeRecords()
	records.customers[testCPF] = &contractx.Customer{
		CPF: testCPF, Name: "Ana Souza", BirthDate: testBirth, Score: 420, Limit: 1000,
	}
	records.tiers = []contractx.Tier{{MinScore: 500, MaxLimit: 1000}, {MinScore: 800, MaxLimit: 5000}}

	gw := &scriptedGateway{
		t: t,
		completions: []contractx.Completion{
			say("Olá! Para começar, me informe seu CPF."),
			say("Obrigado! Agora preciso da sua data de nascimento."),
			say("Perfeito, Ana! Como posso ajudar?"),
			say("Seu pedido de R$ 2000 foi rejeitado pelo seu score atual. Quer atualizar seu cadastro financeiro?"),
			say("Ótimo! Qual é a sua renda mensal?"),
			say("E qual é o seu tipo de emprego?"),
			say("Quais são seus gastos mensais fixos?"),
			say("Quantos dependentes você possui?"),
			say("Você possui dívidas ativas?"),
			say("Aprovado! Seu novo limite de R$ 2000 já está ativo. Parabéns!"),
			say("Banco Ágil agradece o contato. Até logo!"),
		},
		extractions: []string{
			`{"data_nascimento":"1990-05-10"}`,
			`{"user_intent":"credito"}`,
			`{"desired_limit":2000,"wants_interview":false}`,
			`{"user_intent":"entrevista"}`,
			`{"monthly_income":null,"employment_type":null,"monthly_expenses":null,"dependents":null,"has_active_debt":null}`,
			`{"monthly_income":10000,"employment_type":null,"monthly_expenses":null,"dependents":null,"has_active_debt":null}`,
			`{"monthly_income":10000,"employment_type":"formal","monthly_expenses":null,"dependents":null,"has_active_debt":null}`,
			`{"monthly_income":10000,"employment_type":"formal","monthly_expenses":500,"dependents":null,"has_active_debt":null}`,
			`{"monthly_income":10000,"employment_type":"formal","monthly_expenses":500,"dependents":0,"has_active_debt":null}`,
			`{"monthly_income":10000,"employment_type":"formal","monthly_expenses":500,"dependents":0,"has_active_debt":false}`,
			`{"desired_limit":2000,"wants_interview":false}`,
			`{"user_intent":"finalizado"}`,
		},
	}

	o, store := buildOrchestrator(t, gw, records, fakeQuoter{})
	sid := "journey-1"

	turn(t, o, sid, "oi, bom dia")
	turn(t, o, sid, "meu cpf é 529.982.247-25")
	turn(t, o, sid, "nasci em 10/05/1990")

	st, err := store.Load(context.Background(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Authenticated || st.CustomerName != "Ana Souza" {
		t.Fatalf("after verification: authenticated=%v name=%q", st.Authenticated, st.CustomerName)
	}

	turn(t, o, sid, "quero aumentar meu limite para 2000")
	if len(records.requests) != 1 || records.requests[0].Status != contractx.StatusRejected {
		t.Fatalf("first request = %+v, want one rejected entry", records.requests)
	}

	turn(t, o, sid, "sim, quero atualizar meu cadastro")
	turn(t, o, sid, "ganho 10000 por mês")
	turn(t, o, sid, "trabalho com carteira assinada, formal")
	turn(t, o, sid, "gasto uns 500")
	turn(t, o, sid, "nenhum dependente")
	reply := turn(t, o, sid, "não tenho dívidas")
	// 10000/501*30 = 598, +300 formal, +100 no dependents, +100 no debt, clamped to 1000.
	if !strings.Contains(reply, "1000") {
		t.Fatalf("interview wrap-up must state the new score, got %q", reply)
	}
	if got := records.customers[testCPF].Score; got != 1000 {
		t.Fatalf("persisted score = %d, want 1000", got)
	}

	turn(t, o, sid, "agora sim, quero o aumento para 2000")
	if got := records.customers[testCPF].Limit; got != 2000 {
		t.Fatalf("limit after approval = %.0f, want 2000", got)
	}
	if len(records.requests) != 2 || records.requests[1].Status != contractx.StatusApproved {
		t.Fatalf("second request = %+v, want approved", records.requests)
	}

	turn(t, o, sid, "era só isso, obrigada!")
	st, err = store.Load(context.Background(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if st.Intent != statex.IntentEnded {
		t.Fatalf("intent after goodbye = %s, want %s", st.Intent, statex.IntentEnded)
	}

	// The session is sealed: any further message gets the fixed farewell
	// without touching the reasoning engine.
	if reply := turn(t, o, sid, "oi?"); !strings.Contains(reply, "encerrado") {
		t.Fatalf("sealed session reply = %q", reply)
	}
}

func TestCurrencyQuoteJourney(t *testing.T) {
	t.Parallel()
	records := newFakeRecords()
	records.customers[testCPF] = &contractx.Customer{
		CPF: testCPF, Name: "Ana Souza", BirthDate: testBirth, Score: 700, Limit: 1000,
	}

	gw := &scriptedGateway{
		t: t,
		completions: []contractx.Completion{
			{ToolRequests: []contractx.ToolRequest{{
				ID:   "call_1",
				Tool: toolx.ToolFXQuote,
				Args: map[string]any{"currency": "USD", "amount": float64(100)},
			}}},
			say("100 dólares custam R$ 545,00 na cotação de hoje."),
		},
		extractions: []string{`{"user_intent":"cambio"}`},
	}
	quoter := fakeQuoter{result: fxrates.QuoteResult{
		Currency: "USD", Amount: 100, Rate: 5.45, Value: 545, Date: "2026-09-01",
	}}

	o, store := buildOrchestrator(t, gw, records, quoter)
	sid := "fx-1"
	seedAuthenticated(t, store, sid)

	reply := turn(t, o, sid, "quanto custam 100 dólares hoje?")
	if !strings.Contains(reply, "545") {
		t.Fatalf("reply = %q, want the quoted value", reply)
	}

	st, err := store.Load(context.Background(), sid)
	if err != nil {
		t.Fatal(err)
	}
	// Placeholder, tool record, and final reply all land in the log.
	var sawToolTurn bool
	for _, tr := range st.Turns {
		if tr.Role == statex.RoleTool && tr.ToolCallID == "call_1" {
			sawToolTurn = true
		}
	}
	if !sawToolTurn {
		t.Fatal("tool turn missing from the conversation log")
	}
	if st.Intent != statex.IntentNone {
		t.Fatalf("intent after quote = %s, want %s", st.Intent, statex.IntentNone)
	}
}

func TestLockoutAfterThreeFailures(t *testing.T) {
	t.Parallel()
	records := newFakeRecords()
	records.customers[testCPF] = &contractx.Customer{
		CPF: testCPF, Name: "Ana Souza", BirthDate: testBirth, Score: 700, Limit: 1000,
	}

	wrongDate := `{"data_nascimento":"1991-01-01"}`
	gw := &scriptedGateway{
		t: t,
		completions: []contractx.Completion{
			say("Me informe seu CPF, por favor."),
			say("Agora sua data de nascimento."),
			say("Dados não conferem. Vamos tentar de novo: qual seu CPF?"),
			say("E a data de nascimento?"),
			say("Ainda não confere. Última tentativa: CPF?"),
			say("Data de nascimento?"),
			say("Não foi possível confirmar sua identidade. Atendimento encerrado."),
		},
		extractions: []string{wrongDate, wrongDate, wrongDate},
	}

	o, store := buildOrchestrator(t, gw, records, fakeQuoter{})
	sid := "lock-1"

	turn(t, o, sid, "oi")
	turn(t, o, sid, "cpf 529.982.247-25")
	turn(t, o, sid, "nasci em 01/01/1991")
	turn(t, o, sid, "529.982.247-25")
	turn(t, o, sid, "01/01/1991")
	turn(t, o, sid, "529.982.247-25")
	turn(t, o, sid, "01/01/1991")

	st, err := store.Load(context.Background(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if st.Authenticated {
		t.Fatal("locked-out session must not be authenticated")
	}
	if st.AuthAttempts != 0 {
		t.Fatalf("attempts after lockout = %d, want 0", st.AuthAttempts)
	}
	if st.TaxID != "" || st.BirthDate != "" {
		t.Fatal("lockout must clear captured credentials")
	}
	if st.Intent != statex.IntentEnded {
		t.Fatalf("intent after lockout = %s, want %s", st.Intent, statex.IntentEnded)
	}
}

func TestRecoveryBeforeThirdFailure(t *testing.T) {
	t.Parallel()
	records := newFakeRecords()
	records.customers[testCPF] = &contractx.Customer{
		CPF: testCPF, Name: "Ana Souza", BirthDate: testBirth, Score: 700, Limit: 1000,
	}

	gw := &scriptedGateway{
		t: t,
		completions: []contractx.Completion{
			say("Me informe seu CPF, por favor."),
			say("Dados não conferem. Qual seu CPF?"),
			say("E a data de nascimento?"),
			say("Ainda não confere. CPF novamente?"),
			say("Data de nascimento?"),
			say("Perfeito, Ana! Como posso ajudar?"),
		},
		extractions: []string{
			`{"data_nascimento":"1991-01-01"}`,
			`{"data_nascimento":"1992-02-02"}`,
			`{"data_nascimento":"1990-05-10"}`,
		},
	}

	o, store := buildOrchestrator(t, gw, records, fakeQuoter{})
	sid := "recover-1"

	turn(t, o, sid, "cpf 529.982.247-25")
	turn(t, o, sid, "nasci em 01/01/1991")
	turn(t, o, sid, "529.982.247-25")
	turn(t, o, sid, "02/02/1992")
	turn(t, o, sid, "529.982.247-25")
	turn(t, o, sid, "10/05/1990")

	st, err := store.Load(context.Background(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Authenticated || st.CustomerName != "Ana Souza" {
		t.Fatalf("after recovery: authenticated=%v name=%q", st.Authenticated, st.CustomerName)
	}
	if st.AuthAttempts != 0 {
		t.Fatalf("attempts after success = %d, want 0", st.AuthAttempts)
	}
}

func TestProcessTurnLeavesInputUntouched(t *testing.T) {
	t.Parallel()
	records := newFakeRecords()
	gw := &scriptedGateway{
		t:           t,
		completions: []contractx.Completion{say("Me informe seu CPF, por favor.")},
	}
	o, _ := buildOrchestrator(t, gw, records, fakeQuoter{})

	st := statex.NewSessionState("direct-1", time.Now())
	next, err := o.ProcessTurn(context.Background(), st, "oi")
	if err != nil {
		t.Fatal(err)
	}
	if len(next.Turns) != 2 {
		t.Fatalf("next turns = %d, want user + assistant", len(next.Turns))
	}
	if len(st.Turns) != 0 {
		t.Fatal("the input snapshot must stay untouched")
	}

	// A failing turn hands the original state back unchanged.
	if got, err := o.ProcessTurn(context.Background(), next, "   "); err == nil || got != next {
		t.Fatalf("blank utterance: got=%p want input back, err=%v", got, err)
	}
}

type erroringHandler struct{ err error }

func (h erroringHandler) Handle(context.Context, *statex.SessionState) (statex.Update, error) {
	return statex.Update{}, h.err
}

func TestFailedTurnLeavesStoredStateUntouched(t *testing.T) {
	t.Parallel()
	boom := errors.New("model unavailable")
	store := statex.NewMemoryStore()
	h := erroringHandler{err: boom}
	o, err := New(store, desknode.Handlers{Auth: h, Triage: h, Credit: h, Currency: h, Interview: h})
	if err != nil {
		t.Fatal(err)
	}

	sid := "atomic-1"
	seeded := statex.NewSessionState(sid, time.Now())
	seeded.Turns = []statex.Turn{statex.UserTurn("oi"), statex.AssistantTurn("Olá! Seu CPF?")}
	if err := store.Save(context.Background(), seeded); err != nil {
		t.Fatal(err)
	}

	if _, err := o.HandleMessage(context.Background(), sid, "meu cpf é 529.982.247-25"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the handler failure", err)
	}

	st, err := store.Load(context.Background(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Turns) != 2 {
		t.Fatalf("stored turns = %d, want the pre-failure 2", len(st.Turns))
	}
}

type silentHandoffHandler struct{ next statex.Intent }

func (h silentHandoffHandler) Handle(context.Context, *statex.SessionState) (statex.Update, error) {
	return statex.Update{Intent: statex.Ptr(h.next)}, nil
}

func TestUnboundedHandoffChainFails(t *testing.T) {
	t.Parallel()
	store := statex.NewMemoryStore()
	// Credit and interview silently bounce the intent between each other.
	o, err := New(store, desknode.Handlers{
		Auth:      silentHandoffHandler{next: statex.IntentCredit},
		Triage:    silentHandoffHandler{next: statex.IntentCredit},
		Credit:    silentHandoffHandler{next: statex.IntentInterview},
		Currency:  silentHandoffHandler{next: statex.IntentCredit},
		Interview: silentHandoffHandler{next: statex.IntentCredit},
	})
	if err != nil {
		t.Fatal(err)
	}

	sid := "loop-1"
	seeded := statex.NewSessionState(sid, time.Now())
	seeded.Authenticated = true
	seeded.CustomerName = "Ana Souza"
	if err := store.Save(context.Background(), seeded); err != nil {
		t.Fatal(err)
	}

	if _, err := o.HandleMessage(context.Background(), sid, "oi"); err == nil {
		t.Fatal("expected the handoff bound to trip")
	}
}

func TestRejectsBlankInput(t *testing.T) {
	t.Parallel()
	h := erroringHandler{err: errors.New("unused")}
	o, err := New(statex.NewMemoryStore(), desknode.Handlers{Auth: h, Triage: h, Credit: h, Currency: h, Interview: h})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := o.HandleMessage(context.Background(), "", "oi"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("err = %v, want ErrInvalidSession", err)
	}
	if _, err := o.HandleMessage(context.Background(), "s1", "   "); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("err = %v, want ErrInvalidMessage", err)
	}
}

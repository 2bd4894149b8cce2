package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
	statex "github.com/bancoagil/servicedesk/agent/state"
)

type fakeToolCallingModel struct {
	responses []*schema.Message
	err       error
	withErr   error
	idx       int
	inputs    [][]*schema.Message
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	if f.withErr != nil {
		return nil, f.withErr
	}
	return f, nil
}

func TestCompleteRendersSystemAndHistory(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{Role: schema.Assistant, Content: "Olá! Me informe seu CPF."}},
	}
	gw, err := NewGateway(context.Background(), fake, nil, "model-x")
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}

	comp, err := gw.Complete(context.Background(), "prompt do sistema", []statex.Turn{
		statex.UserTurn("oi"),
		statex.AssistantTurn("bom dia"),
		statex.UserTurn("quero ajuda"),
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if comp.Content != "Olá! Me informe seu CPF." {
		t.Fatalf("content = %q", comp.Content)
	}

	if len(fake.inputs) != 1 {
		t.Fatalf("model calls = %d, want 1", len(fake.inputs))
	}
	msgs := fake.inputs[0]
	if len(msgs) != 4 {
		t.Fatalf("rendered messages = %d, want system + 3 history", len(msgs))
	}
	if msgs[0].Role != schema.System || msgs[0].Content != "prompt do sistema" {
		t.Fatalf("first message = %+v, want the system prompt", msgs[0])
	}
	if msgs[1].Role != schema.User || msgs[3].Content != "quero ajuda" {
		t.Fatalf("history out of order: %+v", msgs[1:])
	}
}

func TestCompleteDecodesToolCalls(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{{
				ID: "call_1",
				Function: schema.FunctionCall{
					Name:      "fx.quote",
					Arguments: `{"currency":"USD","amount":100}`,
				},
			}},
		}},
	}
	gw, err := NewGateway(context.Background(), fake, nil, "model-x")
	if err != nil {
		t.Fatal(err)
	}

	comp, err := gw.Complete(context.Background(), "sys", []statex.Turn{statex.UserTurn("dólar?")})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if len(comp.ToolRequests) != 1 {
		t.Fatalf("tool requests = %d, want 1", len(comp.ToolRequests))
	}
	req := comp.ToolRequests[0]
	if req.Tool != "fx.quote" || req.ID != "call_1" {
		t.Fatalf("request = %+v", req)
	}
	if req.Args["currency"] != "USD" {
		t.Fatalf("args = %v", req.Args)
	}
}

func TestCompleteRejectsEmptyResponse(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{Role: schema.Assistant, Content: "   "}},
	}
	gw, err := NewGateway(context.Background(), fake, nil, "model-x")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := gw.Complete(context.Background(), "sys", []statex.Turn{statex.UserTurn("oi")}); !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("err = %v, want ErrSchemaViolation", err)
	}
}

func TestBindToolsFailureSurfacesOnComplete(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{withErr: errors.New("unsupported")}
	gw, err := NewGateway(context.Background(), fake, nil, "model-x")
	if err != nil {
		t.Fatal(err)
	}

	bound := gw.BindTools([]*schema.ToolInfo{{Name: "fx.quote"}})
	if _, err := bound.Complete(context.Background(), "sys", nil); !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("err = %v, want ErrModelInvoke", err)
	}
}

func TestExtractDecodesJSONMode(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["model"] != "model-x" {
			t.Errorf("model = %v, want model-x", body["model"])
		}
		content := "```json\n{\"user_intent\":\"credito\"}\n```"
		raw, _ := json.Marshal(content)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%s}}]}`, raw)
	}))
	t.Cleanup(server.Close)

	sdk := openaisdk.NewClient(option.WithAPIKey("test"), option.WithBaseURL(server.URL))
	fake := &fakeToolCallingModel{}
	gw, err := NewGateway(context.Background(), fake, &sdk, "model-x")
	if err != nil {
		t.Fatal(err)
	}

	var out struct {
		UserIntent string `json:"user_intent"`
	}
	if err := gw.Extract(context.Background(), "classifique", []statex.Turn{statex.UserTurn("quero crédito")}, &out); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if out.UserIntent != "credito" {
		t.Fatalf("user_intent = %q", out.UserIntent)
	}
}

func TestExtractRejectsNonJSONPayload(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"desculpe, não sei"}}]}`)
	}))
	t.Cleanup(server.Close)

	sdk := openaisdk.NewClient(option.WithAPIKey("test"), option.WithBaseURL(server.URL))
	gw, err := NewGateway(context.Background(), &fakeToolCallingModel{}, &sdk, "model-x")
	if err != nil {
		t.Fatal(err)
	}

	var out map[string]any
	err = gw.Extract(context.Background(), "sys", nil, &out)
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("err = %v, want ErrSchemaViolation", err)
	}
}

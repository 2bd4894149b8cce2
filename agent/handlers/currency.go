package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
	promptx "github.com/bancoagil/servicedesk/agent/prompt"
	statex "github.com/bancoagil/servicedesk/agent/state"
	toolx "github.com/bancoagil/servicedesk/agent/tool"
)

// maxToolRounds bounds the model/tool loop for a single turn.
const maxToolRounds = 3

const toolWaitNotice = "Consultando a cotação para você, um instante..."

// Currency runs the exchange-rate conversation. The gateway is bound to
// the quote tool; the handler loops model -> tool -> model until the model
// answers without requesting a tool.
type Currency struct {
	gateway contractx.Gateway
	exec    contractx.ToolExecutor
	prompts promptx.PromptSet
}

func NewCurrency(gateway contractx.Gateway, exec contractx.ToolExecutor, prompts promptx.PromptSet) *Currency {
	return &Currency{
		gateway: gateway.BindTools(toolx.CurrencyTools()),
		exec:    exec,
		prompts: prompts,
	}
}

func (h *Currency) Handle(ctx context.Context, st *statex.SessionState) (statex.Update, error) {
	history := append([]statex.Turn(nil), st.Turns...)
	var added []statex.Turn

	for round := 0; round < maxToolRounds; round++ {
		comp, err := h.gateway.Complete(ctx, h.prompts.Currency, history)
		if err != nil {
			return statex.Update{}, err
		}

		if len(comp.ToolRequests) == 0 {
			added = append(added, statex.AssistantTurn(comp.Content))
			return statex.Update{
				Intent: statex.Ptr(statex.IntentNone),
				Turns:  added,
			}, nil
		}

		// Surface a wait notice instead of the raw tool metadata, then
		// feed every tool result back as a tool turn.
		call := statex.Turn{
			Role:      statex.RoleAssistant,
			Content:   toolWaitNotice,
			ToolCalls: toolCallMeta(comp.ToolRequests),
		}
		history = append(history, call)
		added = append(added, call)

		for _, req := range comp.ToolRequests {
			result, err := h.exec(ctx, req.Tool, req.Args)
			if err != nil {
				return statex.Update{}, fmt.Errorf("%w: tool %s: %v", contractx.ErrModelInvoke, req.Tool, err)
			}
			if result.Error != "" {
				log.Warn().Str("tool", req.Tool).Str("error", result.Error).Msg("tool reported failure")
			}
			turn := statex.Turn{
				Role:       statex.RoleTool,
				Content:    encodeToolResult(result),
				ToolCallID: req.ID,
			}
			history = append(history, turn)
			added = append(added, turn)
		}
	}

	return statex.Update{}, fmt.Errorf("%w: tool loop did not settle in %d rounds", contractx.ErrModelInvoke, maxToolRounds)
}

func toolCallMeta(reqs []contractx.ToolRequest) []statex.ToolCallMeta {
	meta := make([]statex.ToolCallMeta, 0, len(reqs))
	for _, req := range reqs {
		args, err := json.Marshal(req.Args)
		if err != nil {
			args = []byte("{}")
		}
		meta = append(meta, statex.ToolCallMeta{ID: req.ID, Name: req.Tool, Arguments: string(args)})
	}
	return meta
}

func encodeToolResult(result contractx.ToolResult) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"tool":%q,"error":"unencodable result"}`, result.Tool)
	}
	return string(raw)
}

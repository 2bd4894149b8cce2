// Package llm implements the reasoning-engine gateway: free-form
// completion, schema-constrained extraction, and tool binding. The engine
// is responsible only for phrasing and slot extraction; business decisions
// never pass through it.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
	statex "github.com/bancoagil/servicedesk/agent/state"
)

type GatewayClient struct {
	chatModel    einomodel.ToolCallingChatModel
	runner       compose.Runnable[map[string]any, *schema.Message]
	sdk          *openaisdk.Client
	extractModel string
	bindErr      error
}

var _ contractx.Gateway = (*GatewayClient)(nil)

// NewGateway builds a gateway over an eino chat model (completion and tool
// binding) and a raw SDK client (JSON-mode extraction).
func NewGateway(ctx context.Context, chatModel einomodel.ToolCallingChatModel, sdk *openaisdk.Client, extractModel string) (*GatewayClient, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}

	runner, err := compileCompletionGraph(ctx, chatModel, "gateway.completion_graph")
	if err != nil {
		return nil, err
	}

	return &GatewayClient{
		chatModel:    chatModel,
		runner:       runner,
		sdk:          sdk,
		extractModel: strings.TrimSpace(extractModel),
	}, nil
}

func compileCompletionGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	graphName string,
) (compose.Runnable[map[string]any, *schema.Message], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add completion prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add completion model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add completion edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add completion edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add completion edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile completion graph: %w", err)
	}
	return runner, nil
}

func (g *GatewayClient) Complete(ctx context.Context, system string, turns []statex.Turn) (contractx.Completion, error) {
	if g.bindErr != nil {
		return contractx.Completion{}, g.bindErr
	}

	msg, err := g.runner.Invoke(ctx, map[string]any{
		"system":  system,
		"history": toSchemaMessages(turns),
	})
	if err != nil {
		return contractx.Completion{}, fmt.Errorf("%w: completion invoke: %v", contractx.ErrModelInvoke, err)
	}
	if msg == nil {
		return contractx.Completion{}, fmt.Errorf("%w: empty completion response", contractx.ErrSchemaViolation)
	}

	toolRequests, err := toToolRequests(msg.ToolCalls)
	if err != nil {
		return contractx.Completion{}, err
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" && len(toolRequests) == 0 {
		return contractx.Completion{}, fmt.Errorf("%w: completion carries neither content nor tool calls", contractx.ErrSchemaViolation)
	}

	return contractx.Completion{
		Content:      content,
		ToolRequests: toolRequests,
	}, nil
}

// Extract runs a JSON-mode completion and decodes the reply into out.
// Unextractable fields come back null and are left at their zero values.
func (g *GatewayClient) Extract(ctx context.Context, system string, turns []statex.Turn, out any) error {
	if g.sdk == nil {
		return fmt.Errorf("%w: extraction client is not configured", contractx.ErrValidation)
	}

	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	messages = append(messages, openaisdk.SystemMessage(system))
	for _, turn := range turns {
		switch turn.Role {
		case statex.RoleUser:
			messages = append(messages, openaisdk.UserMessage(turn.Content))
		case statex.RoleAssistant:
			if strings.TrimSpace(turn.Content) != "" {
				messages = append(messages, openaisdk.AssistantMessage(turn.Content))
			}
		case statex.RoleTool:
			messages = append(messages, openaisdk.UserMessage("[tool result] "+turn.Content))
		}
	}

	resp, err := g.sdk.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(g.extractModel),
		Messages: messages,
		ResponseFormat: openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: extraction invoke: %v", contractx.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: extraction returned no choices", contractx.ErrModelInvoke)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("%w: decode extraction payload: %v", contractx.ErrSchemaViolation, err)
	}
	return nil
}

// BindTools returns a gateway variant whose completions may carry tool-call
// requests. A binding failure is deferred to the first Complete call.
func (g *GatewayClient) BindTools(tools []*schema.ToolInfo) contractx.Gateway {
	toolModel, err := g.chatModel.WithTools(tools)
	if err != nil {
		return &GatewayClient{
			bindErr: fmt.Errorf("%w: bind tools: %v", contractx.ErrModelInvoke, err),
		}
	}

	runner, err := compileCompletionGraph(context.Background(), toolModel, "gateway.tool_completion_graph")
	if err != nil {
		return &GatewayClient{
			bindErr: fmt.Errorf("%w: compile tool completion graph: %v", contractx.ErrModelInvoke, err),
		}
	}

	return &GatewayClient{
		chatModel:    toolModel,
		runner:       runner,
		sdk:          g.sdk,
		extractModel: g.extractModel,
	}
}

func toSchemaMessages(turns []statex.Turn) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case statex.RoleUser:
			msgs = append(msgs, schema.UserMessage(turn.Content))
		case statex.RoleAssistant:
			msg := &schema.Message{Role: schema.Assistant, Content: turn.Content}
			for _, call := range turn.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
					ID: call.ID,
					Function: schema.FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			msgs = append(msgs, msg)
		case statex.RoleTool:
			msgs = append(msgs, schema.ToolMessage(turn.Content, turn.ToolCallID))
		}
	}
	return msgs
}

func toToolRequests(calls []schema.ToolCall) ([]contractx.ToolRequest, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	reqs := make([]contractx.ToolRequest, 0, len(calls))
	for _, call := range calls {
		tool := strings.TrimSpace(call.Function.Name)
		if tool == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		args := map[string]any{}
		rawArgs := strings.TrimSpace(call.Function.Arguments)
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, tool, err)
			}
		}

		reqs = append(reqs, contractx.ToolRequest{
			ID:   call.ID,
			Tool: tool,
			Args: args,
		})
	}
	return reqs, nil
}

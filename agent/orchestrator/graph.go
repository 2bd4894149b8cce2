package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	desknode "github.com/bancoagil/servicedesk/agent/nodes"
)

func (o *Orchestrator) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[desknode.GraphInput, desknode.GraphOutput], error) {
	graph := compose.NewGraph[desknode.GraphInput, desknode.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in desknode.GraphInput) (*desknode.GraphState, error) {
			return desknode.ValidateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_or_create_state",
		compose.InvokableLambda(func(ctx context.Context, in *desknode.GraphState) (*desknode.GraphState, error) {
			return desknode.LoadOrCreateState(ctx, in, o.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_or_create_state: %w", err)
	}

	if err := graph.AddLambdaNode("append_user_turn",
		compose.InvokableLambda(func(ctx context.Context, in *desknode.GraphState) (*desknode.GraphState, error) {
			return desknode.AppendUserTurn(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node append_user_turn: %w", err)
	}

	if err := graph.AddLambdaNode("dispatch_handlers",
		compose.InvokableLambda(func(ctx context.Context, in *desknode.GraphState) (*desknode.GraphState, error) {
			return desknode.DispatchHandlers(ctx, in, o.handlers)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node dispatch_handlers: %w", err)
	}

	if err := graph.AddLambdaNode("validate_and_save_state",
		compose.InvokableLambda(func(ctx context.Context, in *desknode.GraphState) (*desknode.GraphState, error) {
			return desknode.ValidateAndSaveState(ctx, in, o.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_and_save_state: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *desknode.GraphState) (desknode.GraphOutput, error) {
			return desknode.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_or_create_state"},
		{"load_or_create_state", "append_user_turn"},
		{"append_user_turn", "dispatch_handlers"},
		{"dispatch_handlers", "validate_and_save_state"},
		{"validate_and_save_state", "finalize_reply"},
		{"finalize_reply", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("servicedesk.handle_message"))
	if err != nil {
		return nil, fmt.Errorf("compile dialogue graph: %w", err)
	}
	return runner, nil
}

// Package tool defines the deterministic tools the reasoning engine may
// request by name, and the executor that runs them.
package tool

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
	"github.com/bancoagil/servicedesk/pkg/fxrates"
)

const ToolFXQuote = "fx.quote"

// Quoter is the slice of the fxrates client the executor needs.
type Quoter interface {
	Quote(ctx context.Context, currency string, amount float64) (fxrates.QuoteResult, error)
}

// CurrencyTools lists the tools bound to the currency handler's gateway.
func CurrencyTools() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: ToolFXQuote,
			Desc: "Look up the current BRL exchange quote for a currency code (e.g. USD, EUR).",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"currency": {Type: schema.String, Desc: "ISO currency code", Required: true},
				"amount":   {Type: schema.Number, Desc: "Amount to convert, defaults to 1"},
			}),
		},
	}
}

// NewExecutor resolves tool names to implementations. Unknown tools yield
// an error result, never a hard failure.
func NewExecutor(quotes Quoter) contractx.ToolExecutor {
	return func(ctx context.Context, tool string, args map[string]any) (contractx.ToolResult, error) {
		switch tool {
		case ToolFXQuote:
			return executeQuote(ctx, quotes, args)
		default:
			return contractx.ToolResult{
				Tool:  tool,
				Error: fmt.Sprintf("tool=%s is unavailable", tool),
			}, nil
		}
	}
}

func executeQuote(ctx context.Context, quotes Quoter, args map[string]any) (contractx.ToolResult, error) {
	if quotes == nil {
		return contractx.ToolResult{Tool: ToolFXQuote, Error: "quote client is not configured"}, nil
	}

	currency, _ := args["currency"].(string)
	if currency == "" {
		return contractx.ToolResult{Tool: ToolFXQuote, Error: "currency is required"}, nil
	}

	amount := 1.0
	switch v := args["amount"].(type) {
	case float64:
		amount = v
	case int:
		amount = float64(v)
	case string:
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			amount = parsed
		}
	}

	result, err := quotes.Quote(ctx, currency, amount)
	if err != nil {
		return contractx.ToolResult{Tool: ToolFXQuote, Error: err.Error()}, nil
	}
	return contractx.ToolResult{Tool: ToolFXQuote, Result: result}, nil
}

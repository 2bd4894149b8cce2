package contract

import (
	"context"

	"github.com/cloudwego/eino/schema"

	statex "github.com/bancoagil/servicedesk/agent/state"
)

// Gateway wraps the external reasoning engine. Complete is free-form (and
// may carry tool-call requests when the gateway is tool-bound); Extract is
// schema-constrained: the model must answer with JSON decodable into out,
// with null fields where nothing could be extracted.
type Gateway interface {
	Complete(ctx context.Context, system string, turns []statex.Turn) (Completion, error)
	Extract(ctx context.Context, system string, turns []statex.Turn, out any) error
	BindTools(tools []*schema.ToolInfo) Gateway
}

// Handler consumes an immutable session snapshot plus the latest user turn
// and returns a partial update; it never mutates the snapshot.
type Handler interface {
	Handle(ctx context.Context, st *statex.SessionState) (statex.Update, error)
}

// RecordStore is the adapter over the customer, rule-table, and
// request-log records. Lookups return ErrRecordNotFound on a miss;
// callers outside authentication treat a miss as zero-valued defaults.
type RecordStore interface {
	LookupCustomer(ctx context.Context, cpf string) (*Customer, error)
	LookupCustomerByBirthDate(ctx context.Context, cpf, birthDate string) (*Customer, error)
	UpdateCustomerField(ctx context.Context, cpf, field string, value any) error
	AppendRequestLog(ctx context.Context, entry RequestLogEntry) error
	UpdateLastRequestStatus(ctx context.Context, cpf, status string) (*RequestLogEntry, error)
	EligibilityTiers(ctx context.Context) ([]Tier, error)
}

// ToolExecutor runs one named deterministic tool.
type ToolExecutor func(ctx context.Context, tool string, args map[string]any) (ToolResult, error)

package contract

import "time"

// Completion is what the reasoning engine returns for a free-form call:
// text content and, when the gateway is tool-bound, zero or more tool-call
// requests.
type Completion struct {
	Content      string        `json:"content"`
	ToolRequests []ToolRequest `json:"tool_requests,omitempty"`
}

type ToolRequest struct {
	ID   string         `json:"id,omitempty"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	Tool   string `json:"tool"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Customer is one row of the customer record store. BirthDate is the raw
// YYYY-MM-DD string; authentication matches it exactly.
type Customer struct {
	CPF       string  `json:"cpf"`
	Name      string  `json:"nome"`
	BirthDate string  `json:"data_nascimento"`
	Score     int     `json:"score"`
	Limit     float64 `json:"limite_atual"`
}

// Tier is one row of the eligibility rule table. A requested limit is
// eligible when some tier has MinScore <= score and request <= MaxLimit.
type Tier struct {
	MinScore int     `json:"score_minimo"`
	MaxLimit float64 `json:"limite_maximo"`
}

// Request-log statuses. Every limit-change request is appended as pending
// and resolved to exactly one final status.
const (
	StatusPending  = "pending"
	StatusApproved = "aprovado"
	StatusRejected = "rejeitado"
)

type RequestLogEntry struct {
	CPF            string    `json:"cpf_cliente"`
	RequestedAt    time.Time `json:"data_hora_solicitacao"`
	PreviousLimit  float64   `json:"limite_atual"`
	RequestedLimit float64   `json:"novo_limite_solicitado"`
	Status         string    `json:"status_pedido"`
}

package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
)

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true"`
	Timeout time.Duration `split_words:"true" default:"5s"`
}

type customerRow struct {
	bun.BaseModel `bun:"table:clientes"`

	CPF       string  `bun:"cpf,pk"`
	Name      string  `bun:"nome"`
	BirthDate string  `bun:"data_nascimento"`
	Score     int     `bun:"score"`
	Limit     float64 `bun:"limite_atual"`
}

type tierRow struct {
	bun.BaseModel `bun:"table:score_limite"`

	MinScore int     `bun:"score_minimo"`
	MaxLimit float64 `bun:"limite_maximo"`
}

type requestRow struct {
	bun.BaseModel `bun:"table:solicitacoes_aumento_limite"`

	ID             int64     `bun:"id,pk,autoincrement"`
	CPF            string    `bun:"cpf_cliente"`
	RequestedAt    time.Time `bun:"data_hora_solicitacao"`
	PreviousLimit  float64   `bun:"limite_atual"`
	RequestedLimit float64   `bun:"novo_limite_solicitado"`
	Status         string    `bun:"status_pedido"`
}

// PostgresStore is the database-backed record store, selected when a DSN
// is configured. Same last-writer-wins semantics as the flat files.
type PostgresStore struct {
	db  *bun.DB
	now func() time.Time
}

var _ contractx.RecordStore = (*PostgresStore)(nil)

func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(cfg.Timeout),
	))
	db := bun.NewDB(sqldb, pgdialect.New())

	return &PostgresStore{db: db, now: time.Now}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) LookupCustomer(ctx context.Context, cpf string) (*contractx.Customer, error) {
	var row customerRow
	err := s.db.NewSelect().
		Model(&row).
		Where("regexp_replace(cpf, '[^0-9]', '', 'g') = ?", normalizeID(cpf)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contractx.ErrRecordNotFound
		}
		return nil, fmt.Errorf("lookup customer: %w", err)
	}
	return &contractx.Customer{
		CPF:       normalizeID(row.CPF),
		Name:      row.Name,
		BirthDate: row.BirthDate,
		Score:     row.Score,
		Limit:     row.Limit,
	}, nil
}

func (s *PostgresStore) LookupCustomerByBirthDate(ctx context.Context, cpf, birthDate string) (*contractx.Customer, error) {
	customer, err := s.LookupCustomer(ctx, cpf)
	if err != nil {
		return nil, err
	}
	if customer.BirthDate != birthDate {
		return nil, contractx.ErrRecordNotFound
	}
	return customer, nil
}

func (s *PostgresStore) UpdateCustomerField(ctx context.Context, cpf, field string, value any) error {
	if !contains(customerHeader, field) {
		return fmt.Errorf("unknown customer field %q", field)
	}

	res, err := s.db.NewUpdate().
		Model((*customerRow)(nil)).
		Set("? = ?", bun.Ident(field), value).
		Where("regexp_replace(cpf, '[^0-9]', '', 'g') = ?", normalizeID(cpf)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update customer %s: %w", field, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update customer %s: %w", field, err)
	}
	if affected == 0 {
		return contractx.ErrRecordNotFound
	}
	return nil
}

func (s *PostgresStore) AppendRequestLog(ctx context.Context, entry contractx.RequestLogEntry) error {
	requestedAt := entry.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = s.now()
	}
	row := &requestRow{
		CPF:            entry.CPF,
		RequestedAt:    requestedAt,
		PreviousLimit:  entry.PreviousLimit,
		RequestedLimit: entry.RequestedLimit,
		Status:         entry.Status,
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("append request log: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateLastRequestStatus(ctx context.Context, cpf, status string) (*contractx.RequestLogEntry, error) {
	var row requestRow
	err := s.db.NewSelect().
		Model(&row).
		Where("regexp_replace(cpf_cliente, '[^0-9]', '', 'g') = ?", normalizeID(cpf)).
		OrderExpr("id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contractx.ErrRecordNotFound
		}
		return nil, fmt.Errorf("find last request: %w", err)
	}

	row.Status = status
	if _, err := s.db.NewUpdate().Model(&row).Column("status_pedido").WherePK().Exec(ctx); err != nil {
		return nil, fmt.Errorf("update request status: %w", err)
	}

	return &contractx.RequestLogEntry{
		CPF:            normalizeID(row.CPF),
		RequestedAt:    row.RequestedAt,
		PreviousLimit:  row.PreviousLimit,
		RequestedLimit: row.RequestedLimit,
		Status:         row.Status,
	}, nil
}

func (s *PostgresStore) EligibilityTiers(ctx context.Context) ([]contractx.Tier, error) {
	var rows []tierRow
	if err := s.db.NewSelect().Model(&rows).OrderExpr("score_minimo ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("load eligibility tiers: %w", err)
	}
	tiers := make([]contractx.Tier, 0, len(rows))
	for _, row := range rows {
		tiers = append(tiers, contractx.Tier{MinScore: row.MinScore, MaxLimit: row.MaxLimit})
	}
	return tiers, nil
}

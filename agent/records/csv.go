// Package records adapts the customer, rule-table, and request-log record
// stores. The CSV implementation mirrors the flat files the product ships
// with; the Postgres implementation is selected when a DSN is configured.
package records

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
)

const (
	customersFile = "clientes.csv"
	tiersFile     = "score_limite.csv"
	requestsFile  = "solicitacoes_aumento_limite.csv"
)

var (
	customerHeader = []string{"cpf", "nome", "data_nascimento", "score", "limite_atual"}
	requestHeader  = []string{"cpf_cliente", "data_hora_solicitacao", "limite_atual", "novo_limite_solicitado", "status_pedido"}
	nonDigits      = regexp.MustCompile(`[^0-9]`)
)

type CSVConfig struct {
	Dir string `split_words:"true" default:"data"`
}

// CSVStore is a single-writer flat-file record store. Writes hold a mutex
// and rewrite through a temp file; concurrent sessions in one process are
// serialized, cross-process writers are last-writer-wins.
type CSVStore struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

var _ contractx.RecordStore = (*CSVStore)(nil)

func NewCSVStore(cfg CSVConfig) (*CSVStore, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.New("records dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create records dir: %w", err)
	}
	return &CSVStore{dir: dir, now: time.Now}, nil
}

func normalizeID(cpf string) string {
	return nonDigits.ReplaceAllString(cpf, "")
}

func (s *CSVStore) LookupCustomer(ctx context.Context, cpf string) (*contractx.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readAll(customersFile)
	if err != nil {
		return nil, err
	}
	target := normalizeID(cpf)
	for _, row := range rows {
		if normalizeID(row["cpf"]) == target {
			return customerFromRow(row)
		}
	}
	return nil, contractx.ErrRecordNotFound
}

func (s *CSVStore) LookupCustomerByBirthDate(ctx context.Context, cpf, birthDate string) (*contractx.Customer, error) {
	customer, err := s.LookupCustomer(ctx, cpf)
	if err != nil {
		return nil, err
	}
	if customer.BirthDate != birthDate {
		return nil, contractx.ErrRecordNotFound
	}
	return customer, nil
}

func (s *CSVStore) UpdateCustomerField(ctx context.Context, cpf, field string, value any) error {
	if !contains(customerHeader, field) {
		return fmt.Errorf("unknown customer field %q", field)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readAll(customersFile)
	if err != nil {
		return err
	}

	target := normalizeID(cpf)
	found := false
	for _, row := range rows {
		if normalizeID(row["cpf"]) == target {
			row[field] = formatValue(value)
			found = true
		}
	}
	if !found {
		return contractx.ErrRecordNotFound
	}
	return s.writeAll(customersFile, customerHeader, rows)
}

func (s *CSVStore) AppendRequestLog(ctx context.Context, entry contractx.RequestLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, requestsFile)
	_, statErr := os.Stat(path)
	writeHeader := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open request log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(requestHeader); err != nil {
			return fmt.Errorf("write request log header: %w", err)
		}
	}

	requestedAt := entry.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = s.now()
	}
	record := []string{
		entry.CPF,
		requestedAt.Format(time.RFC3339),
		formatValue(entry.PreviousLimit),
		formatValue(entry.RequestedLimit),
		entry.Status,
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("append request log: %w", err)
	}
	w.Flush()
	return w.Error()
}

// UpdateLastRequestStatus rewrites the status of the most recent log row
// for the given id (last-matching-row semantics; the log carries no
// request ids).
func (s *CSVStore) UpdateLastRequestStatus(ctx context.Context, cpf, status string) (*contractx.RequestLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readAll(requestsFile)
	if err != nil {
		return nil, err
	}

	target := normalizeID(cpf)
	last := -1
	for i, row := range rows {
		if normalizeID(row["cpf_cliente"]) == target {
			last = i
		}
	}
	if last < 0 {
		return nil, contractx.ErrRecordNotFound
	}

	rows[last]["status_pedido"] = status
	if err := s.writeAll(requestsFile, requestHeader, rows); err != nil {
		return nil, err
	}
	return requestFromRow(rows[last])
}

func (s *CSVStore) EligibilityTiers(ctx context.Context) ([]contractx.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readAll(tiersFile)
	if err != nil {
		return nil, err
	}

	tiers := make([]contractx.Tier, 0, len(rows))
	for _, row := range rows {
		minScore, err := strconv.Atoi(strings.TrimSpace(row["score_minimo"]))
		if err != nil {
			return nil, fmt.Errorf("parse score_minimo: %w", err)
		}
		maxLimit, err := strconv.ParseFloat(strings.TrimSpace(row["limite_maximo"]), 64)
		if err != nil {
			return nil, fmt.Errorf("parse limite_maximo: %w", err)
		}
		tiers = append(tiers, contractx.Tier{MinScore: minScore, MaxLimit: maxLimit})
	}
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinScore < tiers[j].MinScore })
	return tiers, nil
}

func (s *CSVStore) readAll(name string) ([]map[string]string, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s header: %w", name, err)
	}

	var rows []map[string]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *CSVStore) writeAll(name string, header []string, rows []map[string]string) error {
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, name+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s header: %w", name, err)
	}
	for _, row := range rows {
		record := make([]string, len(header))
		for i, col := range header {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("write %s row: %w", name, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flush %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func customerFromRow(row map[string]string) (*contractx.Customer, error) {
	score, err := strconv.Atoi(strings.TrimSpace(row["score"]))
	if err != nil {
		return nil, fmt.Errorf("parse customer score: %w", err)
	}
	limit, err := strconv.ParseFloat(strings.TrimSpace(row["limite_atual"]), 64)
	if err != nil {
		return nil, fmt.Errorf("parse customer limit: %w", err)
	}
	return &contractx.Customer{
		CPF:       normalizeID(row["cpf"]),
		Name:      row["nome"],
		BirthDate: strings.TrimSpace(row["data_nascimento"]),
		Score:     score,
		Limit:     limit,
	}, nil
}

func requestFromRow(row map[string]string) (*contractx.RequestLogEntry, error) {
	prev, err := strconv.ParseFloat(strings.TrimSpace(row["limite_atual"]), 64)
	if err != nil {
		return nil, fmt.Errorf("parse request previous limit: %w", err)
	}
	requested, err := strconv.ParseFloat(strings.TrimSpace(row["novo_limite_solicitado"]), 64)
	if err != nil {
		return nil, fmt.Errorf("parse requested limit: %w", err)
	}
	requestedAt, _ := time.Parse(time.RFC3339, strings.TrimSpace(row["data_hora_solicitacao"]))
	return &contractx.RequestLogEntry{
		CPF:            normalizeID(row["cpf_cliente"]),
		RequestedAt:    requestedAt,
		PreviousLimit:  prev,
		RequestedLimit: requested,
		Status:         row["status_pedido"],
	}, nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', 2, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', 2, 64)
	case int:
		return strconv.Itoa(val)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func contains(cols []string, col string) bool {
	for _, c := range cols {
		if c == col {
			return true
		}
	}
	return false
}

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
)

const maxResponseSizeBytes = 2 << 20

type OdooConfig struct {
	URL      string        `envconfig:"URL" split_words:"true" required:"true"`
	Database string        `envconfig:"DATABASE" split_words:"true" required:"true"`
	Login    string        `envconfig:"LOGIN" split_words:"true" required:"true"`
	APIKey   string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Timeout  time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
}

// OdooStore implements the Backend over Odoo's external JSON-RPC API,
// mapping crm.lead, res.partner, and sale.order onto the contract.
type OdooStore struct {
	baseURL    string
	database   string
	login      string
	apiKey     string
	httpClient *http.Client
	now        contractx.Clock

	mu  sync.Mutex
	uid int64
}

var _ contractx.Backend = (*OdooStore)(nil)

type OdooOption func(*OdooStore)

func WithHTTPClient(client *http.Client) OdooOption {
	return func(s *OdooStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func NewOdooStore(cfg OdooConfig, opts ...OdooOption) (*OdooStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("odoo url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid odoo url: %w", err)
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, errors.New("odoo database is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("odoo api key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	store := &OdooStore{
		baseURL:  baseURL,
		database: strings.TrimSpace(cfg.Database),
		login:    strings.TrimSpace(cfg.Login),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *OdooStore) Search(ctx context.Context, entity contractx.EntityType, query string, limit int) ([]contractx.Record, error) {
	if limit <= 0 {
		limit = 5
	}
	q := strings.TrimSpace(query)

	switch entity {
	case contractx.EntityLead:
		domain := []any{"|",
			[]any{"name", "ilike", q},
			[]any{"email_from", "ilike", q},
		}
		rows, err := s.searchRead(ctx, "crm.lead", domain,
			[]string{"id", "name", "email_from", "phone", "expected_revenue"}, limit, "")
		if err != nil {
			return nil, err
		}
		return odooLeadRecords(rows), nil
	case contractx.EntityCustomer:
		domain := []any{"|",
			[]any{"name", "ilike", q},
			[]any{"email", "ilike", q},
		}
		rows, err := s.searchRead(ctx, "res.partner", domain,
			[]string{"id", "name", "email", "phone", "customer_rank", "total_invoiced"}, limit, "")
		if err != nil {
			return nil, err
		}
		return odooCustomerRecords(rows), nil
	default:
		return nil, fmt.Errorf("%w: unsupported entity %q", contractx.ErrBackend, entity)
	}
}

func (s *OdooStore) TopCustomers(ctx context.Context, limit int) ([]contractx.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	domain := []any{[]any{"customer_rank", ">", 0}}
	rows, err := s.searchRead(ctx, "res.partner", domain,
		[]string{"id", "name", "email", "phone", "customer_rank", "total_invoiced"},
		limit, "customer_rank desc")
	if err != nil {
		return nil, err
	}
	return odooCustomerRecords(rows), nil
}

func (s *OdooStore) Create(ctx context.Context, entity contractx.EntityType, fields map[string]any) (int64, error) {
	var model string
	vals := map[string]any{}

	switch entity {
	case contractx.EntityLead:
		model = "crm.lead"
		vals["name"] = stringField(fields, "name")
		if v := stringField(fields, "email"); v != "" {
			vals["email_from"] = v
		}
		if v := stringField(fields, "phone"); v != "" {
			vals["phone"] = v
		}
		if v := stringField(fields, "description"); v != "" {
			vals["description"] = v
		}
	case contractx.EntityCustomer:
		model = "res.partner"
		vals["name"] = stringField(fields, "name")
		vals["customer_rank"] = 1
		if v := stringField(fields, "email"); v != "" {
			vals["email"] = v
		}
		if v := stringField(fields, "phone"); v != "" {
			vals["phone"] = v
		}
	default:
		return 0, fmt.Errorf("%w: unsupported entity %q", contractx.ErrBackend, entity)
	}

	result, err := s.executeKw(ctx, model, "create", []any{vals}, nil)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := json.Unmarshal(result, &id); err != nil {
		return 0, fmt.Errorf("%w: decode created id: %v", contractx.ErrBackend, err)
	}
	return id, nil
}

func (s *OdooStore) Summarize(ctx context.Context, period string) (contractx.SalesSummary, error) {
	monthStart := startOfMonth(s.now())
	summary := contractx.SalesSummary{Period: periodOrCurrentMonth(period, monthStart)}

	orders, err := s.searchRead(ctx, "sale.order", []any{
		[]any{"date_order", ">=", monthStart.Format("2006-01-02 15:04:05")},
		[]any{"state", "in", []string{"sale", "done"}},
	}, []string{"amount_total"}, 0, "")
	if err != nil {
		return contractx.SalesSummary{}, err
	}
	summary.MonthlyOrders = len(orders)
	for _, row := range orders {
		summary.MonthlyRevenue += floatField(row, "amount_total")
	}

	opportunities, err := s.searchRead(ctx, "crm.lead", []any{
		[]any{"type", "=", "opportunity"},
		[]any{"stage_id.is_won", "=", false},
	}, []string{"expected_revenue"}, 0, "")
	if err != nil {
		return contractx.SalesSummary{}, err
	}
	summary.PendingOpportunities = len(opportunities)
	for _, row := range opportunities {
		summary.ExpectedRevenue += floatField(row, "expected_revenue")
	}

	return summary, nil
}

func (s *OdooStore) searchRead(
	ctx context.Context,
	model string,
	domain []any,
	fields []string,
	limit int,
	order string,
) ([]map[string]any, error) {
	kwargs := map[string]any{"fields": fields}
	if limit > 0 {
		kwargs["limit"] = limit
	}
	if order != "" {
		kwargs["order"] = order
	}

	result, err := s.executeKw(ctx, model, "search_read", []any{domain}, kwargs)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(result, &rows); err != nil {
		return nil, fmt.Errorf("%w: decode %s rows: %v", contractx.ErrBackend, model, err)
	}
	return rows, nil
}

// executeKw performs one authenticated execute_kw call. The uid from the
// first authentication is cached for the life of the store.
func (s *OdooStore) executeKw(ctx context.Context, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	uid, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	callArgs := []any{s.database, uid, s.apiKey, model, method, args}
	if kwargs != nil {
		callArgs = append(callArgs, kwargs)
	}
	return s.call(ctx, "object", "execute_kw", callArgs)
}

func (s *OdooStore) authenticate(ctx context.Context) (int64, error) {
	s.mu.Lock()
	uid := s.uid
	s.mu.Unlock()
	if uid != 0 {
		return uid, nil
	}

	result, err := s.call(ctx, "common", "authenticate", []any{s.database, s.login, s.apiKey, map[string]any{}})
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(result, &uid); err != nil || uid == 0 {
		return 0, fmt.Errorf("%w: odoo authentication rejected for login=%s", contractx.ErrBackend, s.login)
	}

	s.mu.Lock()
	s.uid = uid
	s.mu.Unlock()
	return uid, nil
}

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	ID      int64          `json:"id"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonRPCError   `json:"error"`
}

type jsonRPCError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func (s *OdooStore) call(ctx context.Context, service, method string, args []any) (json.RawMessage, error) {
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params: map[string]any{
			"service": service,
			"method":  method,
			"args":    args,
		},
		ID: time.Now().UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal rpc request: %v", contractx.ErrBackend, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build rpc request: %v", contractx.ErrBackend, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: execute rpc request: %v", contractx.ErrBackend, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read rpc response: %v", contractx.ErrBackend, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: odoo http status=%d body=%s", contractx.ErrBackend, resp.StatusCode, string(raw))
	}

	var parsed jsonRPCResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode rpc response: %v", contractx.ErrBackend, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: odoo rpc: %s", contractx.ErrBackend, parsed.Error.Message)
	}
	return parsed.Result, nil
}

func odooLeadRecords(rows []map[string]any) []contractx.Record {
	out := make([]contractx.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, contractx.Record{
			"id":               row["id"],
			"name":             row["name"],
			"email":            falseAsEmpty(row["email_from"]),
			"phone":            falseAsEmpty(row["phone"]),
			"expected_revenue": floatField(row, "expected_revenue"),
		})
	}
	return out
}

func odooCustomerRecords(rows []map[string]any) []contractx.Record {
	out := make([]contractx.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, contractx.Record{
			"id":             row["id"],
			"name":           row["name"],
			"email":          falseAsEmpty(row["email"]),
			"phone":          falseAsEmpty(row["phone"]),
			"customer_rank":  row["customer_rank"],
			"total_invoiced": floatField(row, "total_invoiced"),
		})
	}
	return out
}

// Odoo renders empty char fields as JSON false.
func falseAsEmpty(v any) any {
	if b, ok := v.(bool); ok && !b {
		return ""
	}
	return v
}

func floatField(row map[string]any, name string) float64 {
	f, _ := row[name].(float64)
	return f
}

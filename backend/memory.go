// Package backend provides Backend adapters for the business data store:
// Postgres via bun, Odoo via JSON-RPC, and an in-memory store for tests.
package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
)

// MemoryStore is an in-process Backend used for development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    int64
	leads     []contractx.Record
	customers []contractx.Record
	orders    []order
	now       contractx.Clock
}

type order struct {
	amount float64
	date   time.Time
	state  string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, now: time.Now}
}

var _ contractx.Backend = (*MemoryStore)(nil)

func (m *MemoryStore) Search(ctx context.Context, entity contractx.EntityType, query string, limit int) ([]contractx.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, err := m.records(entity)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	var out []contractx.Record
	for _, rec := range pool {
		if needle != "" && !matches(rec, needle) {
			continue
		}
		out = append(out, clone(rec))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) TopCustomers(ctx context.Context, limit int) ([]contractx.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ranked := make([]contractx.Record, len(m.customers))
	for i, rec := range m.customers {
		ranked[i] = clone(rec)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return rank(ranked[i]) > rank(ranked[j])
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func (m *MemoryStore) Create(ctx context.Context, entity contractx.EntityType, fields map[string]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := contractx.Record{}
	for k, v := range fields {
		rec[k] = v
	}
	id := m.nextID
	m.nextID++
	rec["id"] = id

	switch entity {
	case contractx.EntityLead:
		rec["stage"] = "New"
		m.leads = append(m.leads, rec)
	case contractx.EntityCustomer:
		if _, ok := rec["customer_rank"]; !ok {
			rec["customer_rank"] = 1
		}
		m.customers = append(m.customers, rec)
	default:
		return 0, fmt.Errorf("%w: unsupported entity %q", contractx.ErrBackend, entity)
	}
	return id, nil
}

func (m *MemoryStore) Summarize(ctx context.Context, period string) (contractx.SalesSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	monthStart := startOfMonth(m.now())
	summary := contractx.SalesSummary{Period: periodOrCurrentMonth(period, monthStart)}

	for _, o := range m.orders {
		if o.date.Before(monthStart) {
			continue
		}
		if o.state != "sale" && o.state != "done" {
			continue
		}
		summary.MonthlyOrders++
		summary.MonthlyRevenue += o.amount
	}
	for _, lead := range m.leads {
		if won, _ := lead["is_won"].(bool); won {
			continue
		}
		summary.PendingOpportunities++
		if rev, ok := lead["expected_revenue"].(float64); ok {
			summary.ExpectedRevenue += rev
		}
	}
	return summary, nil
}

// AddOrder seeds a sales order, for dev fixtures and tests.
func (m *MemoryStore) AddOrder(amount float64, date time.Time, state string) {
	m.mu.Lock()
	m.orders = append(m.orders, order{amount: amount, date: date, state: state})
	m.mu.Unlock()
}

func (m *MemoryStore) records(entity contractx.EntityType) ([]contractx.Record, error) {
	switch entity {
	case contractx.EntityLead:
		return m.leads, nil
	case contractx.EntityCustomer:
		return m.customers, nil
	default:
		return nil, fmt.Errorf("%w: unsupported entity %q", contractx.ErrBackend, entity)
	}
}

func matches(rec contractx.Record, needle string) bool {
	for _, field := range []string{"name", "email"} {
		if v, ok := rec[field].(string); ok && strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func rank(rec contractx.Record) float64 {
	switch v := rec["customer_rank"].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}

func clone(rec contractx.Record) contractx.Record {
	out := make(contractx.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func startOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}

func periodOrCurrentMonth(period string, monthStart time.Time) string {
	if p := strings.TrimSpace(period); p != "" {
		return p
	}
	return monthStart.Format("2006-01")
}

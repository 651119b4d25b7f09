package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
)

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// Lead mirrors the CRM lead/opportunity record.
type Lead struct {
	bun.BaseModel `bun:"table:crm_leads,alias:l"`

	ID              int64     `bun:"id,pk,autoincrement"`
	Name            string    `bun:"name,notnull"`
	Email           string    `bun:"email"`
	Phone           string    `bun:"phone"`
	Description     string    `bun:"description"`
	Stage           string    `bun:"stage,default:'New'"`
	ExpectedRevenue float64   `bun:"expected_revenue,default:0"`
	IsWon           bool      `bun:"is_won,default:false"`
	CreatedAt       time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

type Customer struct {
	bun.BaseModel `bun:"table:customers,alias:c"`

	ID            int64     `bun:"id,pk,autoincrement"`
	Name          string    `bun:"name,notnull"`
	Email         string    `bun:"email"`
	Phone         string    `bun:"phone"`
	CustomerRank  int       `bun:"customer_rank,default:1"`
	TotalInvoiced float64   `bun:"total_invoiced,default:0"`
	CreatedAt     time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

type SalesOrder struct {
	bun.BaseModel `bun:"table:sales_orders,alias:o"`

	ID          int64     `bun:"id,pk,autoincrement"`
	CustomerID  int64     `bun:"customer_id"`
	OrderDate   time.Time `bun:"order_date,notnull"`
	AmountTotal float64   `bun:"amount_total,notnull"`
	State       string    `bun:"state,notnull"`
}

// PostgresStore implements the Backend against Postgres via bun.
type PostgresStore struct {
	db  *bun.DB
	now contractx.Clock
}

var _ contractx.Backend = (*PostgresStore)(nil)

func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", contractx.ErrValidation)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	db := bun.NewDB(sqldb, pgdialect.New())

	return &PostgresStore{db: db, now: time.Now}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping postgres: %v", contractx.ErrBackend, err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, entity contractx.EntityType, query string, limit int) ([]contractx.Record, error) {
	pattern := "%" + strings.TrimSpace(query) + "%"
	if limit <= 0 {
		limit = 5
	}

	switch entity {
	case contractx.EntityLead:
		var leads []Lead
		err := s.db.NewSelect().
			Model(&leads).
			Where("l.name ILIKE ? OR l.email ILIKE ?", pattern, pattern).
			Order("l.id ASC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: search leads: %v", contractx.ErrBackend, err)
		}
		return leadRecords(leads), nil
	case contractx.EntityCustomer:
		var customers []Customer
		err := s.db.NewSelect().
			Model(&customers).
			Where("c.name ILIKE ? OR c.email ILIKE ?", pattern, pattern).
			Order("c.id ASC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: search customers: %v", contractx.ErrBackend, err)
		}
		return customerRecords(customers), nil
	default:
		return nil, fmt.Errorf("%w: unsupported entity %q", contractx.ErrBackend, entity)
	}
}

func (s *PostgresStore) TopCustomers(ctx context.Context, limit int) ([]contractx.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	var customers []Customer
	err := s.db.NewSelect().
		Model(&customers).
		Where("c.customer_rank > 0").
		Order("c.customer_rank DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: top customers: %v", contractx.ErrBackend, err)
	}
	return customerRecords(customers), nil
}

func (s *PostgresStore) Create(ctx context.Context, entity contractx.EntityType, fields map[string]any) (int64, error) {
	switch entity {
	case contractx.EntityLead:
		lead := &Lead{
			Name:        stringField(fields, "name"),
			Email:       stringField(fields, "email"),
			Phone:       stringField(fields, "phone"),
			Description: stringField(fields, "description"),
			Stage:       "New",
		}
		if _, err := s.db.NewInsert().Model(lead).Exec(ctx); err != nil {
			return 0, fmt.Errorf("%w: create lead: %v", contractx.ErrBackend, err)
		}
		return lead.ID, nil
	case contractx.EntityCustomer:
		customer := &Customer{
			Name:         stringField(fields, "name"),
			Email:        stringField(fields, "email"),
			Phone:        stringField(fields, "phone"),
			CustomerRank: 1,
		}
		if _, err := s.db.NewInsert().Model(customer).Exec(ctx); err != nil {
			return 0, fmt.Errorf("%w: create customer: %v", contractx.ErrBackend, err)
		}
		return customer.ID, nil
	default:
		return 0, fmt.Errorf("%w: unsupported entity %q", contractx.ErrBackend, entity)
	}
}

func (s *PostgresStore) Summarize(ctx context.Context, period string) (contractx.SalesSummary, error) {
	monthStart := startOfMonth(s.now())
	summary := contractx.SalesSummary{Period: periodOrCurrentMonth(period, monthStart)}

	err := s.db.NewSelect().
		Model((*SalesOrder)(nil)).
		ColumnExpr("count(*)").
		ColumnExpr("coalesce(sum(o.amount_total), 0)").
		Where("o.order_date >= ?", monthStart).
		Where("o.state IN (?)", bun.In([]string{"sale", "done"})).
		Scan(ctx, &summary.MonthlyOrders, &summary.MonthlyRevenue)
	if err != nil {
		return contractx.SalesSummary{}, fmt.Errorf("%w: summarize orders: %v", contractx.ErrBackend, err)
	}

	err = s.db.NewSelect().
		Model((*Lead)(nil)).
		ColumnExpr("count(*)").
		ColumnExpr("coalesce(sum(l.expected_revenue), 0)").
		Where("l.is_won = FALSE").
		Scan(ctx, &summary.PendingOpportunities, &summary.ExpectedRevenue)
	if err != nil {
		return contractx.SalesSummary{}, fmt.Errorf("%w: summarize opportunities: %v", contractx.ErrBackend, err)
	}

	return summary, nil
}

func leadRecords(leads []Lead) []contractx.Record {
	out := make([]contractx.Record, 0, len(leads))
	for _, l := range leads {
		out = append(out, contractx.Record{
			"id":               l.ID,
			"name":             l.Name,
			"email":            l.Email,
			"phone":            l.Phone,
			"stage":            l.Stage,
			"expected_revenue": l.ExpectedRevenue,
		})
	}
	return out
}

func customerRecords(customers []Customer) []contractx.Record {
	out := make([]contractx.Record, 0, len(customers))
	for _, c := range customers {
		out = append(out, contractx.Record{
			"id":             c.ID,
			"name":           c.Name,
			"email":          c.Email,
			"phone":          c.Phone,
			"customer_rank":  c.CustomerRank,
			"total_invoiced": c.TotalInvoiced,
		})
	}
	return out
}

func stringField(fields map[string]any, name string) string {
	v, _ := fields[name].(string)
	return strings.TrimSpace(v)
}

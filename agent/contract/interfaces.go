package contract

import (
	"context"
	"time"
)

type EntityType string

const (
	EntityLead     EntityType = "lead"
	EntityCustomer EntityType = "customer"
)

// Record is one business record as returned by the backend.
type Record map[string]any

// SalesSummary aggregates current-period sales performance.
type SalesSummary struct {
	Period               string  `json:"period"`
	MonthlyOrders        int     `json:"monthly_orders"`
	MonthlyRevenue       float64 `json:"monthly_revenue"`
	PendingOpportunities int     `json:"pending_opportunities"`
	ExpectedRevenue      float64 `json:"expected_revenue"`
}

// Backend executes tool effects against the business data store. It performs
// no confirmation of its own; mutating calls reach it strictly after approval.
// Calls are blocking, fallible, and never retried here.
type Backend interface {
	Search(ctx context.Context, entity EntityType, query string, limit int) ([]Record, error)
	TopCustomers(ctx context.Context, limit int) ([]Record, error)
	Create(ctx context.Context, entity EntityType, fields map[string]any) (int64, error)
	Summarize(ctx context.Context, period string) (SalesSummary, error)
}

// ModelProvider produces the next conversation step given the full ordered
// history. The available tools are bound at construction time; the registry is
// immutable after startup so rebinding is never needed.
type ModelProvider interface {
	NextTurn(ctx context.Context, history []Turn) (ModelStep, error)
}

// ProposalNotifier surfaces a proposed action to the user-facing channel. The
// gate calls it exactly once per pending action, before the decision wait
// begins.
type ProposalNotifier interface {
	NotifyProposal(action ProposedAction)
}

// ProposalNotifierFunc adapts a function to ProposalNotifier.
type ProposalNotifierFunc func(action ProposedAction)

func (f ProposalNotifierFunc) NotifyProposal(action ProposedAction) {
	f(action)
}

// Clock is injected where deadline arithmetic must be testable.
type Clock func() time.Time

package tool

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
)

const (
	ToolSearchLeads     = "search_leads"
	ToolTopCustomers    = "get_top_customers"
	ToolSalesSummary    = "get_sales_summary"
	ToolCreateLead      = "create_lead"
	ToolCreateCustomer  = "create_customer"
	defaultSearchLimit  = 5
	defaultTopCustomers = 10
)

// BuildCatalog registers the CRM tool set against the given backend and seals
// the registry.
func BuildCatalog(backend contractx.Backend) (*Registry, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", contractx.ErrValidation)
	}

	registry := NewRegistry()
	for _, desc := range catalogFor(backend) {
		if err := registry.Register(desc); err != nil {
			return nil, err
		}
	}
	registry.Seal()
	return registry, nil
}

func catalogFor(backend contractx.Backend) []contractx.ToolDescriptor {
	return []contractx.ToolDescriptor{
		{
			Name: ToolSearchLeads,
			Desc: "Search CRM leads by name or email.",
			Params: []contractx.Param{
				{Name: "query", Type: contractx.ParamString, Desc: "Search term for lead name or email", Required: true},
				{Name: "limit", Type: contractx.ParamInteger, Desc: "Maximum number of results"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				query, _ := args["query"].(string)
				return backend.Search(ctx, contractx.EntityLead, query, intArg(args, "limit", defaultSearchLimit))
			},
		},
		{
			Name: ToolTopCustomers,
			Desc: "Get top customers by sales ranking.",
			Params: []contractx.Param{
				{Name: "limit", Type: contractx.ParamInteger, Desc: "Maximum number of customers"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return backend.TopCustomers(ctx, intArg(args, "limit", defaultTopCustomers))
			},
		},
		{
			Name: ToolSalesSummary,
			Desc: "Get sales summary statistics for the current month.",
			Params: []contractx.Param{
				{Name: "period", Type: contractx.ParamString, Desc: "Reporting period, defaults to the current month"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				period, _ := args["period"].(string)
				return backend.Summarize(ctx, period)
			},
		},
		{
			Name:     ToolCreateLead,
			Desc:     "Create a new CRM lead. Requires user confirmation.",
			Mutating: true,
			Params: []contractx.Param{
				{Name: "name", Type: contractx.ParamString, Desc: "Lead name", Required: true},
				{Name: "email", Type: contractx.ParamString, Desc: "Lead email address"},
				{Name: "phone", Type: contractx.ParamString, Desc: "Lead phone number"},
				{Name: "description", Type: contractx.ParamString, Desc: "Lead description"},
			},
			Describe: func(args map[string]any) string {
				return describeCreate("lead", args, "name", "email", "phone")
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				id, err := backend.Create(ctx, contractx.EntityLead, args)
				if err != nil {
					return nil, err
				}
				return map[string]any{"id": id, "name": args["name"]}, nil
			},
		},
		{
			Name:     ToolCreateCustomer,
			Desc:     "Create a new customer. Requires user confirmation.",
			Mutating: true,
			Params: []contractx.Param{
				{Name: "name", Type: contractx.ParamString, Desc: "Customer name", Required: true},
				{Name: "email", Type: contractx.ParamString, Desc: "Customer email address"},
				{Name: "phone", Type: contractx.ParamString, Desc: "Customer phone number"},
			},
			Describe: func(args map[string]any) string {
				return describeCreate("customer", args, "name", "email", "phone")
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				id, err := backend.Create(ctx, contractx.EntityCustomer, args)
				if err != nil {
					return nil, err
				}
				return map[string]any{"id": id, "name": args["name"]}, nil
			},
		},
	}
}

// describeCreate renders the confirmation prompt, e.g.
// "Create a new lead with name 'Acme Corp', email 'a@acme.com'?"
func describeCreate(entity string, args map[string]any, fields ...string) string {
	var parts []string
	for _, field := range fields {
		if v, ok := args[field].(string); ok && strings.TrimSpace(v) != "" {
			parts = append(parts, fmt.Sprintf("%s '%s'", field, v))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Create a new %s?", entity)
	}
	return fmt.Sprintf("Create a new %s with %s?", entity, strings.Join(parts, ", "))
}

func intArg(args map[string]any, name string, fallback int) int {
	f, ok := asFloat(args[name])
	if !ok || f <= 0 {
		return fallback
	}
	return int(f)
}

package tool

import (
	"context"
	"testing"

	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
)

type fakeBackend struct {
	searchEntity contractx.EntityType
	searchQuery  string
	searchLimit  int
	createEntity contractx.EntityType
	createFields map[string]any
	createID     int64
}

func (f *fakeBackend) Search(ctx context.Context, entity contractx.EntityType, query string, limit int) ([]contractx.Record, error) {
	f.searchEntity, f.searchQuery, f.searchLimit = entity, query, limit
	return []contractx.Record{{"name": "Acme Corp"}}, nil
}

func (f *fakeBackend) TopCustomers(ctx context.Context, limit int) ([]contractx.Record, error) {
	f.searchLimit = limit
	return nil, nil
}

func (f *fakeBackend) Create(ctx context.Context, entity contractx.EntityType, fields map[string]any) (int64, error) {
	f.createEntity, f.createFields = entity, fields
	return f.createID, nil
}

func (f *fakeBackend) Summarize(ctx context.Context, period string) (contractx.SalesSummary, error) {
	return contractx.SalesSummary{Period: period}, nil
}

func TestBuildCatalogRegistersToolSet(t *testing.T) {
	t.Parallel()

	registry, err := BuildCatalog(&fakeBackend{})
	if err != nil {
		t.Fatalf("BuildCatalog() error = %v", err)
	}

	mutating := map[string]bool{
		ToolSearchLeads:    false,
		ToolTopCustomers:   false,
		ToolSalesSummary:   false,
		ToolCreateLead:     true,
		ToolCreateCustomer: true,
	}
	for name, want := range mutating {
		desc, err := registry.Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%s) error = %v", name, err)
		}
		if desc.Mutating != want {
			t.Fatalf("tool %s mutating = %v, want %v", name, desc.Mutating, want)
		}
	}
}

func TestSearchLeadsHandlerDefaultsLimit(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	registry, err := BuildCatalog(backend)
	if err != nil {
		t.Fatalf("BuildCatalog() error = %v", err)
	}

	desc, err := registry.Lookup(ToolSearchLeads)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if _, err := desc.Handler(context.Background(), map[string]any{"query": "acme"}); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	if backend.searchEntity != contractx.EntityLead {
		t.Fatalf("search entity = %s, want lead", backend.searchEntity)
	}
	if backend.searchQuery != "acme" {
		t.Fatalf("search query = %s, want acme", backend.searchQuery)
	}
	if backend.searchLimit != defaultSearchLimit {
		t.Fatalf("search limit = %d, want %d", backend.searchLimit, defaultSearchLimit)
	}
}

func TestCreateLeadHandlerReturnsID(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{createID: 456}
	registry, err := BuildCatalog(backend)
	if err != nil {
		t.Fatalf("BuildCatalog() error = %v", err)
	}

	desc, err := registry.Lookup(ToolCreateLead)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	out, err := desc.Handler(context.Background(), map[string]any{"name": "Acme Corp"})
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	result, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type: %T", out)
	}
	if result["id"] != int64(456) {
		t.Fatalf("result id = %v, want 456", result["id"])
	}
	if backend.createEntity != contractx.EntityLead {
		t.Fatalf("create entity = %s, want lead", backend.createEntity)
	}
}

func TestCreateLeadDescription(t *testing.T) {
	t.Parallel()

	registry, err := BuildCatalog(&fakeBackend{})
	if err != nil {
		t.Fatalf("BuildCatalog() error = %v", err)
	}

	desc, err := registry.Lookup(ToolCreateLead)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}

	got := desc.Describe(map[string]any{"name": "Acme Corp", "email": "hello@acme.com"})
	want := "Create a new lead with name 'Acme Corp', email 'hello@acme.com'?"
	if got != want {
		t.Fatalf("Describe() = %q, want %q", got, want)
	}
}

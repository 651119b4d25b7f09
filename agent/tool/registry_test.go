package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
)

func noopHandler(ctx context.Context, args map[string]any) (any, error) {
	return nil, nil
}

func testDescriptor(name string) contractx.ToolDescriptor {
	return contractx.ToolDescriptor{
		Name: name,
		Desc: "test tool",
		Params: []contractx.Param{
			{Name: "query", Type: contractx.ParamString, Required: true},
			{Name: "limit", Type: contractx.ParamInteger},
			{Name: "verbose", Type: contractx.ParamBoolean},
		},
		Handler: noopHandler,
	}
}

func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(testDescriptor("search")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	err := r.Register(testDescriptor("search"))
	if !errors.Is(err, contractx.ErrDuplicateTool) {
		t.Fatalf("Register() error = %v, want ErrDuplicateTool", err)
	}
}

func TestRegisterAfterSeal(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Seal()
	if err := r.Register(testDescriptor("late")); err == nil {
		t.Fatal("Register() after Seal must fail")
	}
}

func TestLookupUnknown(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Lookup("missing")
	if !errors.Is(err, contractx.ErrUnknownTool) {
		t.Fatalf("Lookup() error = %v, want ErrUnknownTool", err)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(testDescriptor("search")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := r.Validate("search", map[string]any{})
	if !errors.Is(err, contractx.ErrInvalidArguments) {
		t.Fatalf("Validate() error = %v, want ErrInvalidArguments", err)
	}
	if !strings.Contains(err.Error(), "query") {
		t.Fatalf("Validate() error must name the missing field, got %v", err)
	}
}

func TestValidateWrongTypeAndUndeclared(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(testDescriptor("search")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := r.Validate("search", map[string]any{
		"query":   42,
		"unknown": "x",
	})
	if !errors.Is(err, contractx.ErrInvalidArguments) {
		t.Fatalf("Validate() error = %v, want ErrInvalidArguments", err)
	}
	for _, want := range []string{"query", "unknown"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Validate() error must name %q, got %v", want, err)
		}
	}
}

func TestValidateAcceptsJSONNumbers(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(testDescriptor("search")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// JSON decoding delivers integers as float64.
	err := r.Validate("search", map[string]any{
		"query":   "acme",
		"limit":   float64(5),
		"verbose": true,
	})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	err = r.Validate("search", map[string]any{
		"query": "acme",
		"limit": 2.5,
	})
	if !errors.Is(err, contractx.ErrInvalidArguments) {
		t.Fatalf("Validate() with fractional integer error = %v, want ErrInvalidArguments", err)
	}
}

func TestDescriptorsSortedAndToolInfos(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha"} {
		if err := r.Register(testDescriptor(name)); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	descs := r.Descriptors()
	if len(descs) != 2 || descs[0].Name != "alpha" || descs[1].Name != "zeta" {
		t.Fatalf("Descriptors() not sorted by name: %v", descs)
	}

	infos := r.ToolInfos()
	if len(infos) != 2 {
		t.Fatalf("ToolInfos() len = %d, want 2", len(infos))
	}
	if infos[0].Name != "alpha" {
		t.Fatalf("ToolInfos()[0].Name = %s, want alpha", infos[0].Name)
	}
}

package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
)

// Registry is the static catalog of invocable tools. It is populated once at
// process start and read-only afterwards, so lookups take no lock.
type Registry struct {
	entries map[string]contractx.ToolDescriptor
	sealed  bool
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]contractx.ToolDescriptor, 8),
	}
}

// Register adds a descriptor. Registration after Seal or under a duplicate
// name is rejected.
func (r *Registry) Register(desc contractx.ToolDescriptor) error {
	if r.sealed {
		return fmt.Errorf("%w: registry is sealed", contractx.ErrValidation)
	}
	name := strings.TrimSpace(desc.Name)
	if name == "" {
		return fmt.Errorf("%w: tool name is empty", contractx.ErrValidation)
	}
	if desc.Handler == nil {
		return fmt.Errorf("%w: tool=%s has no handler", contractx.ErrValidation, name)
	}
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", contractx.ErrDuplicateTool, name)
	}
	desc.Name = name
	r.entries[name] = desc
	return nil
}

// Seal marks the end of registration. Called once from bootstrap.
func (r *Registry) Seal() {
	r.sealed = true
}

func (r *Registry) Lookup(name string) (contractx.ToolDescriptor, error) {
	desc, ok := r.entries[name]
	if !ok {
		return contractx.ToolDescriptor{}, fmt.Errorf("%w: %s", contractx.ErrUnknownTool, name)
	}
	return desc, nil
}

// Validate checks an argument mapping against the declared schema: every
// required field present, every present field of the declared type, no
// undeclared fields. The returned error names all offending fields.
func (r *Registry) Validate(name string, args map[string]any) error {
	desc, err := r.Lookup(name)
	if err != nil {
		return err
	}

	declared := make(map[string]contractx.Param, len(desc.Params))
	for _, p := range desc.Params {
		declared[p.Name] = p
	}

	var offending []string
	for _, p := range desc.Params {
		v, present := args[p.Name]
		if !present {
			if p.Required {
				offending = append(offending, fmt.Sprintf("%s: required field missing", p.Name))
			}
			continue
		}
		if !matchesType(v, p.Type) {
			offending = append(offending, fmt.Sprintf("%s: expected %s", p.Name, p.Type))
		}
	}
	for field := range args {
		if _, ok := declared[field]; !ok {
			offending = append(offending, fmt.Sprintf("%s: undeclared field", field))
		}
	}

	if len(offending) > 0 {
		sort.Strings(offending)
		return fmt.Errorf("%w: tool=%s: %s", contractx.ErrInvalidArguments, name, strings.Join(offending, "; "))
	}
	return nil
}

// Descriptors returns every registered tool, sorted by name.
func (r *Registry) Descriptors() []contractx.ToolDescriptor {
	out := make([]contractx.ToolDescriptor, 0, len(r.entries))
	for _, desc := range r.entries {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ToolInfos converts the catalog into the schema the chat model binds.
func (r *Registry) ToolInfos() []*schema.ToolInfo {
	descs := r.Descriptors()
	infos := make([]*schema.ToolInfo, 0, len(descs))
	for _, desc := range descs {
		params := make(map[string]*schema.ParameterInfo, len(desc.Params))
		for _, p := range desc.Params {
			params[p.Name] = &schema.ParameterInfo{
				Type:     dataType(p.Type),
				Desc:     p.Desc,
				Required: p.Required,
			}
		}
		infos = append(infos, &schema.ToolInfo{
			Name:        desc.Name,
			Desc:        desc.Desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos
}

func dataType(t contractx.ParamType) schema.DataType {
	switch t {
	case contractx.ParamNumber:
		return schema.Number
	case contractx.ParamInteger:
		return schema.Integer
	case contractx.ParamBoolean:
		return schema.Boolean
	default:
		return schema.String
	}
}

// matchesType accepts the value shapes JSON decoding produces: numbers arrive
// as float64 or json.Number, so integers are checked for an integral value
// rather than a Go int type.
func matchesType(v any, t contractx.ParamType) bool {
	switch t {
	case contractx.ParamString:
		_, ok := v.(string)
		return ok
	case contractx.ParamBoolean:
		_, ok := v.(bool)
		return ok
	case contractx.ParamNumber:
		_, ok := asFloat(v)
		return ok
	case contractx.ParamInteger:
		f, ok := asFloat(v)
		return ok && f == math.Trunc(f)
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

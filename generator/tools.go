package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"brand_hero_content/logging"
)

// ParamType is the JSON type a tool parameter accepts.
type ParamType string

const (
	ParamString     ParamType = "string"
	ParamStringList ParamType = "string_list"
)

// Param declares one tool argument.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// Args are tool arguments that already passed validation.
type Args map[string]any

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) Strings(name string) []string {
	list, _ := a[name].([]string)
	return list
}

// ToolHandler executes a validated call; the returned value is sent back to the model.
type ToolHandler func(ctx context.Context, args Args) (any, error)

// Tool is a named, schema-bound operation a model may call during a turn.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Handler     ToolHandler
}

// Schema renders the parameters as a JSON schema object.
func (t Tool) Schema() map[string]any {
	props := make(map[string]any, len(t.Params))
	required := make([]string, 0, len(t.Params))
	for _, p := range t.Params {
		prop := map[string]any{"description": p.Description}
		switch p.Type {
		case ParamStringList:
			prop["type"] = "array"
			prop["items"] = map[string]any{"type": "string"}
		default:
			prop["type"] = "string"
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// ToolCall records one dispatched call.
type ToolCall struct {
	Name      string
	Arguments string
	Err       string
}

// ToolSet is the fixed palette exposed to one turn.
type ToolSet struct {
	tools  []Tool
	index  map[string]int
	logger *slog.Logger

	mu    sync.Mutex
	calls []ToolCall
}

// NewToolSet builds a palette; duplicate names keep the first declaration.
func NewToolSet(logger *slog.Logger, tools ...Tool) *ToolSet {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &ToolSet{index: make(map[string]int, len(tools)), logger: logger}
	for _, t := range tools {
		if _, dup := s.index[t.Name]; dup {
			continue
		}
		s.index[t.Name] = len(s.tools)
		s.tools = append(s.tools, t)
	}
	return s
}

// Tools lists the palette in declaration order.
func (s *ToolSet) Tools() []Tool {
	if s == nil {
		return nil
	}
	return append([]Tool(nil), s.tools...)
}

// Calls lists dispatched calls in order.
func (s *ToolSet) Calls() []ToolCall {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ToolCall(nil), s.calls...)
}

// Called reports whether name was dispatched without error.
func (s *ToolSet) Called(name string) bool {
	for _, c := range s.Calls() {
		if c.Name == name && c.Err == "" {
			return true
		}
	}
	return false
}

// Dispatch validates rawArgs against the tool's declared parameters, runs the
// handler and returns the JSON text handed back to the model. Failures are
// reported to the model as {"error": "..."} instead of aborting the turn.
func (s *ToolSet) Dispatch(ctx context.Context, name, rawArgs string) string {
	if s == nil {
		return `{"error":"no tools available"}`
	}
	result, err := s.dispatch(ctx, name, rawArgs)
	call := ToolCall{Name: name, Arguments: rawArgs}
	if err != nil {
		call.Err = err.Error()
		s.logger.Warn("tool call rejected", "tool", name, "args", logging.Truncate(rawArgs, 256), "error", err)
	} else {
		s.logger.Debug("tool call", "tool", name, "args", logging.Truncate(rawArgs, 256))
	}
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()

	return envelope(result, err)
}

// envelope wraps a handler result or error as the JSON object sent to the model.
func envelope(result any, err error) string {
	var (
		out  string
		sErr error
	)
	if err != nil {
		out, sErr = sjson.Set(`{}`, "error", err.Error())
	} else {
		out, sErr = sjson.Set(`{}`, "result", result)
	}
	if sErr != nil {
		return fmt.Sprintf(`{"error":%q}`, sErr.Error())
	}
	return out
}

func (s *ToolSet) dispatch(ctx context.Context, name, rawArgs string) (any, error) {
	i, ok := s.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tool %q", ErrValidation, name)
	}
	tool := s.tools[i]
	args, err := validateArgs(tool, rawArgs)
	if err != nil {
		return nil, err
	}
	if tool.Handler == nil {
		return nil, fmt.Errorf("tool %s has no handler", name)
	}
	return tool.Handler(ctx, args)
}

func validateArgs(tool Tool, rawArgs string) (Args, error) {
	trimmed := strings.TrimSpace(rawArgs)
	if trimmed == "" {
		trimmed = "{}"
	}
	if !gjson.Valid(trimmed) {
		return nil, fmt.Errorf("%w: %s arguments are not a JSON object", ErrValidation, tool.Name)
	}
	raw := gjson.Parse(trimmed)
	if !raw.IsObject() {
		return nil, fmt.Errorf("%w: %s arguments are not a JSON object", ErrValidation, tool.Name)
	}

	declared := make(map[string]Param, len(tool.Params))
	for _, p := range tool.Params {
		declared[p.Name] = p
	}
	var undeclared string
	raw.ForEach(func(key, _ gjson.Result) bool {
		if _, ok := declared[key.String()]; !ok {
			undeclared = key.String()
			return false
		}
		return true
	})
	if undeclared != "" {
		return nil, fmt.Errorf("%w: %s does not accept %q", ErrValidation, tool.Name, undeclared)
	}

	args := make(Args, len(tool.Params))
	for _, p := range tool.Params {
		v := raw.Get(gjsonKey(p.Name))
		if !v.Exists() || v.Type == gjson.Null {
			if p.Required {
				return nil, fmt.Errorf("%w: %s requires %q", ErrValidation, tool.Name, p.Name)
			}
			continue
		}
		switch p.Type {
		case ParamStringList:
			list, ok := stringItems(v)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s must be a list of strings", ErrValidation, tool.Name, p.Name)
			}
			args[p.Name] = list
		default:
			if v.Type != gjson.String {
				return nil, fmt.Errorf("%w: %s.%s must be a string", ErrValidation, tool.Name, p.Name)
			}
			str := v.String()
			if p.Required && strings.TrimSpace(str) == "" {
				return nil, fmt.Errorf("%w: %s.%s must not be empty", ErrValidation, tool.Name, p.Name)
			}
			args[p.Name] = str
		}
	}
	return args, nil
}

func stringItems(v gjson.Result) ([]string, bool) {
	if !v.IsArray() {
		return nil, false
	}
	items := v.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item.Type != gjson.String {
			return nil, false
		}
		out = append(out, item.String())
	}
	return out, true
}

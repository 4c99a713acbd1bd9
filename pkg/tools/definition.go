package tools

import (
	"sort"

	"scanopy-mcp/pkg/policy"
)

// ConfirmField is the argument that carries the write confirmation token
const ConfirmField = "confirm"

// Tool is one callable operation derived from the interface document.
// Tools are immutable once built; a rebuild produces new values.
type Tool struct {
	Name        string
	Method      string
	Path        string
	InputSchema map[string]interface{}
}

// Description returns the "<METHOD> <path>" label shown to clients
func (t *Tool) Description() string {
	return t.Method + " " + t.Path
}

// Mutating reports whether calling the tool changes remote state
func (t *Tool) Mutating() bool {
	return policy.IsMutating(t.Method)
}

// Required returns the required argument names in schema order
func (t *Tool) Required() []string {
	return requiredList(t.InputSchema)
}

// ToolDefinition is the client-facing view of a tool
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// NewToolDefinition builds the listing view of a tool. Mutating tools gain a
// required confirm property; the stored schema is left untouched.
func NewToolDefinition(tool *Tool) ToolDefinition {
	schema := tool.InputSchema
	if tool.Mutating() {
		schema = withConfirmField(schema)
	}
	return ToolDefinition{
		Name:        tool.Name,
		Description: tool.Description(),
		InputSchema: schema,
	}
}

func withConfirmField(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema)+1)
	for k, v := range schema {
		out[k] = v
	}

	props := make(map[string]interface{})
	if existing, ok := schema["properties"].(map[string]interface{}); ok {
		for k, v := range existing {
			props[k] = v
		}
	}
	props[ConfirmField] = map[string]interface{}{
		"type":        "string",
		"description": "Confirmation string for write operations",
	}
	out["properties"] = props

	seen := map[string]bool{ConfirmField: true}
	required := []string{ConfirmField}
	for _, name := range requiredList(schema) {
		if !seen[name] {
			seen[name] = true
			required = append(required, name)
		}
	}
	sort.Strings(required)
	out["required"] = required
	return out
}

func requiredList(schema map[string]interface{}) []string {
	switch r := schema["required"].(type) {
	case []string:
		return append([]string(nil), r...)
	case []interface{}:
		out := make([]string, 0, len(r))
		for _, v := range r {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

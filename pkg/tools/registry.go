package tools

import (
	"fmt"
	"sort"
	"strings"

	"scanopy-mcp/pkg/errors"
	"scanopy-mcp/pkg/openapi"
	"scanopy-mcp/pkg/policy"
)

// Keys under a path item that never name an operation
var metadataKeys = map[string]bool{
	"$ref":        true,
	"summary":     true,
	"description": true,
	"servers":     true,
	"parameters":  true,
}

var standardMethods = map[string]bool{
	"GET":    true,
	"HEAD":   true,
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// DuplicateOperationError is returned when two retained operations share an id
type DuplicateOperationError struct {
	OperationID string
	Method      string
	Path        string
}

func (e *DuplicateOperationError) Error() string {
	return fmt.Sprintf("Duplicate operationId: %s", e.OperationID)
}

// StructuredError implements errors.Classifier
func (e *DuplicateOperationError) StructuredError() *errors.StructuredError {
	return errors.NewSchemaError(errors.ErrCodeDuplicateOperation, e.Error(), e).
		WithContext("operation_id", e.OperationID).
		WithContext("method", e.Method).
		WithContext("path", e.Path)
}

// DeriveTools builds the tool set for doc. Mutating operations outside the
// allowlist are dropped before duplicate detection.
func DeriveTools(doc *openapi.Document, allowlist *policy.Allowlist) (map[string]*Tool, error) {
	list, err := DeriveToolList(doc, allowlist)
	if err != nil {
		return nil, err
	}
	tools := make(map[string]*Tool, len(list))
	for _, tool := range list {
		tools[tool.Name] = tool
	}
	return tools, nil
}

// DeriveToolList is DeriveTools with the tools kept in document order
func DeriveToolList(doc *openapi.Document, allowlist *policy.Allowlist) ([]*Tool, error) {
	if doc.IsEmpty() {
		return []*Tool{}, nil
	}

	seen := make(map[string]bool)
	var tools []*Tool
	for _, item := range doc.Paths {
		for _, entry := range item.Entries {
			if metadataKeys[entry.Key] {
				continue
			}
			method := strings.ToUpper(entry.Key)
			if !standardMethods[method] {
				continue
			}
			op := entry.Operation
			if op == nil || op.OperationID == "" {
				continue
			}
			if policy.IsMutating(method) && !allowlist.Contains(op.OperationID) {
				continue
			}
			if seen[op.OperationID] {
				return nil, &DuplicateOperationError{OperationID: op.OperationID, Method: method, Path: item.Path}
			}
			seen[op.OperationID] = true

			tools = append(tools, &Tool{
				Name:        op.OperationID,
				Method:      method,
				Path:        item.Path,
				InputSchema: buildInputSchema(doc, item, op),
			})
		}
	}
	return tools, nil
}

type paramKey struct {
	name string
	in   string
}

// buildInputSchema merges path-level and operation-level parameters with the
// flattened request body into one object schema.
func buildInputSchema(doc *openapi.Document, item *openapi.PathItem, op *openapi.Operation) map[string]interface{} {
	var order []paramKey
	params := make(map[paramKey]*openapi.Parameter)
	collect := func(list []*openapi.Parameter) {
		for _, p := range list {
			resolved := doc.ResolveParameter(p)
			if resolved == nil || resolved.Name == "" {
				continue
			}
			key := paramKey{name: resolved.Name, in: resolved.In}
			if _, ok := params[key]; !ok {
				order = append(order, key)
			}
			params[key] = resolved
		}
	}
	collect(item.Parameters)
	collect(op.Parameters)

	properties := make(map[string]interface{})
	required := make(map[string]bool)

	for _, key := range order {
		p := params[key]
		properties[p.Name] = doc.ResolveSchema(p.Schema).Raw()
		if p.Required || p.In == "path" {
			required[p.Name] = true
		}
	}

	if body := doc.ResolveRequestBody(op.RequestBody); body != nil {
		if raw := body.BodySchema(); raw != nil {
			resolved := doc.ResolveSchema(raw)
			if resolved.IsObjectShaped() {
				for name, prop := range resolved.Properties {
					properties[name] = prop.Raw()
				}
				for _, name := range resolved.Required {
					required[name] = true
				}
			} else {
				properties["body"] = resolved.Raw()
			}
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		names := make([]string, 0, len(required))
		for name := range required {
			names = append(names, name)
		}
		sort.Strings(names)
		schema["required"] = names
	}
	return schema
}

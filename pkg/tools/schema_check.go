package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	neturl "net/url"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"scanopy-mcp/pkg/openapi"
)

// CompileInputSchema checks that a derived input schema is itself a valid
// JSON schema. Flattened properties may still point into the document's
// definitions table, so the table is embedded in the compiled resource at
// the same pointers. Arguments are never validated against it.
func CompileInputSchema(tool *Tool, doc *openapi.Document) error {
	resource := make(map[string]interface{}, len(tool.InputSchema)+2)
	for k, v := range tool.InputSchema {
		resource[k] = v
	}
	if doc != nil {
		for pointer, def := range doc.Definitions {
			embedDefinition(resource, pointer, def.Raw())
		}
	}

	data, err := json.Marshal(resource)
	if err != nil {
		return fmt.Errorf("encode input schema for %s: %w", tool.Name, err)
	}
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode input schema for %s: %w", tool.Name, err)
	}

	url := "mem://tools/" + neturl.PathEscape(tool.Name) + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, parsed); err != nil {
		return fmt.Errorf("add input schema for %s: %w", tool.Name, err)
	}
	if _, err := c.Compile(url); err != nil {
		return fmt.Errorf("compile input schema for %s: %w", tool.Name, err)
	}
	return nil
}

// embedDefinition places value at a local pointer such as
// "#/components/schemas/Host", creating intermediate objects. Pointers that
// would overwrite the tool's own keywords are skipped.
func embedDefinition(root map[string]interface{}, pointer string, value map[string]interface{}) {
	if !strings.HasPrefix(pointer, "#/") {
		return
	}
	segments := strings.Split(strings.TrimPrefix(pointer, "#/"), "/")
	node := root
	for i, segment := range segments {
		segment = strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
		if i == 0 {
			if _, reserved := tableRoots[segment]; !reserved {
				return
			}
		}
		if i == len(segments)-1 {
			node[segment] = value
			return
		}
		next, ok := node[segment].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			node[segment] = next
		}
		node = next
	}
}

// Top-level keys the definitions table can live under
var tableRoots = map[string]struct{}{
	"components":  {},
	"definitions": {},
}

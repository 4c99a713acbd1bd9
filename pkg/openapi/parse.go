package openapi

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"scanopy-mcp/pkg/errors"
)

// Parse decodes a JSON or YAML interface document. Key order of paths,
// methods and content types is preserved. Empty input yields an empty document.
func Parse(data []byte) (*Document, error) {
	doc := NewDocument()
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.NewSchemaError(errors.ErrCodeMalformedDocument, "interface document is not valid JSON or YAML", err)
	}

	top := deref(&root)
	if top == nil {
		return doc, nil
	}
	if top.Kind != yaml.MappingNode {
		return nil, errors.NewSchemaError(errors.ErrCodeMalformedDocument, "interface document must be a mapping", nil).
			WithDetails(fmt.Sprintf("got %s", kindName(top.Kind)))
	}

	var pathsNode *yaml.Node
	for _, kv := range pairs(top) {
		switch kv.key {
		case "info":
			parseInfo(doc, kv.value)
		case "paths":
			pathsNode = kv.value
		case "definitions":
			for _, def := range pairs(kv.value) {
				doc.Definitions[DefinitionsPrefix+escapePointer(def.key)] = decodeSchema(def.value)
			}
		case "components":
			parseComponents(doc, kv.value)
		case "parameters":
			for _, param := range pairs(kv.value) {
				doc.Parameters[SwaggerParamsPrefix+escapePointer(param.key)] = parseParameter(param.value)
			}
		}
	}

	if pathsNode != nil && pathsNode.Kind != yaml.MappingNode && !isNull(pathsNode) {
		return nil, errors.NewSchemaError(errors.ErrCodeMalformedDocument, "paths must be a mapping", nil)
	}
	for _, kv := range pairs(pathsNode) {
		doc.Paths = append(doc.Paths, parsePathItem(kv.key, kv.value))
	}

	return doc, nil
}

func parseInfo(doc *Document, n *yaml.Node) {
	for _, kv := range pairs(n) {
		switch kv.key {
		case "title":
			doc.Title = scalar(kv.value)
		case "version":
			doc.Version = scalar(kv.value)
		}
	}
}

func parseComponents(doc *Document, n *yaml.Node) {
	for _, section := range pairs(n) {
		for _, kv := range pairs(section.value) {
			name := escapePointer(kv.key)
			switch section.key {
			case "schemas":
				doc.Definitions[ComponentSchemasPrefix+name] = decodeSchema(kv.value)
			case "parameters":
				doc.Parameters[ComponentParamsPrefix+name] = parseParameter(kv.value)
			case "requestBodies":
				doc.RequestBodies[ComponentBodiesPrefix+name] = parseRequestBody(kv.value)
			}
		}
	}
}

func parsePathItem(path string, n *yaml.Node) *PathItem {
	item := &PathItem{Path: path}
	for _, kv := range pairs(n) {
		if kv.key == "parameters" {
			item.Parameters = parseParameters(kv.value)
			continue
		}
		entry := Entry{Key: kv.key}
		if v := deref(kv.value); v != nil && v.Kind == yaml.MappingNode {
			entry.Operation = parseOperation(v)
		}
		item.Entries = append(item.Entries, entry)
	}
	return item
}

func parseOperation(n *yaml.Node) *Operation {
	op := &Operation{}
	for _, kv := range pairs(n) {
		switch kv.key {
		case "operationId":
			op.OperationID = scalar(kv.value)
		case "summary":
			op.Summary = scalar(kv.value)
		case "parameters":
			op.Parameters = parseParameters(kv.value)
		case "requestBody":
			op.RequestBody = parseRequestBody(kv.value)
		}
	}

	// Swagger 2 carries the body as an "in: body" parameter
	if op.RequestBody == nil {
		kept := op.Parameters[:0]
		for _, p := range op.Parameters {
			if p.In == "body" {
				if op.RequestBody == nil {
					op.RequestBody = &RequestBody{Content: []MediaType{{ContentType: "application/json", Schema: p.Schema}}}
				}
				continue
			}
			kept = append(kept, p)
		}
		op.Parameters = kept
	}
	return op
}

func parseParameters(n *yaml.Node) []*Parameter {
	n = deref(n)
	if n == nil || n.Kind != yaml.SequenceNode {
		return nil
	}
	params := make([]*Parameter, 0, len(n.Content))
	for _, item := range n.Content {
		if p := parseParameter(item); p != nil {
			params = append(params, p)
		}
	}
	return params
}

func parseParameter(n *yaml.Node) *Parameter {
	n = deref(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}

	p := &Parameter{}
	var inline map[string]interface{}
	for _, kv := range pairs(n) {
		switch kv.key {
		case "$ref":
			p.Ref = scalar(kv.value)
		case "name":
			p.Name = scalar(kv.value)
		case "in":
			p.In = scalar(kv.value)
		case "required":
			p.Required = boolValue(kv.value)
		case "schema":
			p.Schema = decodeSchema(kv.value)
		case "type", "format", "items", "enum", "default", "minimum", "maximum", "description":
			// Swagger 2 declares non-body parameter schemas inline
			if inline == nil {
				inline = make(map[string]interface{})
			}
			inline[kv.key] = decodeValue(kv.value)
		}
	}

	if p.Schema == nil {
		if _, typed := inline["type"]; typed {
			p.Schema = NewSchema(inline)
		} else {
			p.Schema = EmptySchema()
		}
	}
	return p
}

func parseRequestBody(n *yaml.Node) *RequestBody {
	n = deref(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}

	body := &RequestBody{}
	for _, kv := range pairs(n) {
		switch kv.key {
		case "$ref":
			body.Ref = scalar(kv.value)
		case "content":
			for _, ct := range pairs(kv.value) {
				mt := MediaType{ContentType: ct.key}
				for _, field := range pairs(ct.value) {
					if field.key == "schema" {
						mt.Schema = decodeSchema(field.value)
					}
				}
				body.Content = append(body.Content, mt)
			}
		}
	}
	return body
}

type keyValue struct {
	key   string
	value *yaml.Node
}

// pairs returns the entries of a mapping node in document order
func pairs(n *yaml.Node) []keyValue {
	n = deref(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	out := make([]keyValue, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out = append(out, keyValue{key: n.Content[i].Value, value: n.Content[i+1]})
	}
	return out
}

// deref unwraps document and alias nodes
func deref(n *yaml.Node) *yaml.Node {
	for n != nil {
		switch n.Kind {
		case yaml.DocumentNode:
			if len(n.Content) == 0 {
				return nil
			}
			n = n.Content[0]
		case yaml.AliasNode:
			n = n.Alias
		default:
			return n
		}
	}
	return nil
}

func scalar(n *yaml.Node) string {
	n = deref(n)
	if n == nil || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}

func isNull(n *yaml.Node) bool {
	n = deref(n)
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

func boolValue(n *yaml.Node) bool {
	var b bool
	if n := deref(n); n == nil || n.Decode(&b) != nil {
		return false
	}
	return b
}

func decodeValue(n *yaml.Node) interface{} {
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return nil
	}
	return normalize(v)
}

// normalize converts YAML mappings with non-string keys so values stay
// encodable as JSON
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			t[k] = normalize(child)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			out[fmt.Sprint(k)] = normalize(child)
		}
		return out
	case []interface{}:
		for i, child := range t {
			t[i] = normalize(child)
		}
		return t
	default:
		return v
	}
}

func decodeSchema(n *yaml.Node) *Schema {
	raw, _ := decodeValue(n).(map[string]interface{})
	return NewSchema(raw)
}

// escapePointer applies JSON pointer escaping to a single reference token
func escapePointer(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "~", "~0"), "/", "~1")
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.MappingNode:
		return "mapping"
	default:
		return "unknown"
	}
}

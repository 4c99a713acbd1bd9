package openapi

import "strings"

// Kind tags the shape of a schema node
type Kind int

const (
	KindEmpty Kind = iota
	KindRef
	KindObject
	KindArray
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindRef:
		return "ref"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindScalar:
		return "scalar"
	default:
		return "empty"
	}
}

// Local reference prefixes that resolve against Document.Definitions
const (
	DefinitionsPrefix      = "#/definitions/"
	ComponentSchemasPrefix = "#/components/schemas/"
	ComponentParamsPrefix  = "#/components/parameters/"
	ComponentBodiesPrefix  = "#/components/requestBodies/"
	SwaggerParamsPrefix    = "#/parameters/"
)

// Schema is a JSON-schema node. The typed fields drive resolution and
// merging; raw holds the node as it appeared in the document for emission.
type Schema struct {
	Kind       Kind
	Ref        string
	Type       string
	Properties map[string]*Schema
	Required   []string
	Items      *Schema

	raw map[string]interface{}
}

// EmptySchema returns the schema that accepts anything
func EmptySchema() *Schema {
	return &Schema{Kind: KindEmpty, raw: map[string]interface{}{}}
}

// NewSchema classifies a raw JSON-like mapping. A nil mapping is empty.
func NewSchema(raw map[string]interface{}) *Schema {
	if len(raw) == 0 {
		return EmptySchema()
	}

	s := &Schema{raw: raw, Type: schemaType(raw["type"])}

	if ref, ok := raw["$ref"].(string); ok {
		s.Kind = KindRef
		s.Ref = ref
		return s
	}

	props, hasProps := raw["properties"].(map[string]interface{})
	switch {
	case s.Type == "object" || hasProps:
		s.Kind = KindObject
		s.Properties = make(map[string]*Schema, len(props))
		for name, v := range props {
			child, _ := v.(map[string]interface{})
			s.Properties[name] = NewSchema(child)
		}
		s.Required = stringList(raw["required"])
	case s.Type == "array" || raw["items"] != nil:
		s.Kind = KindArray
		items, _ := raw["items"].(map[string]interface{})
		s.Items = NewSchema(items)
	default:
		s.Kind = KindScalar
	}

	return s
}

// Raw returns a shallow copy of the node as it appeared in the document
func (s *Schema) Raw() map[string]interface{} {
	if s == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(s.raw))
	for k, v := range s.raw {
		out[k] = v
	}
	return out
}

// IsObjectShaped reports whether the schema declares type object or carries properties
func (s *Schema) IsObjectShaped() bool {
	return s != nil && s.Kind == KindObject
}

// IsLocalSchemaRef reports whether ref points into the definitions table
func IsLocalSchemaRef(ref string) bool {
	return strings.HasPrefix(ref, DefinitionsPrefix) || strings.HasPrefix(ref, ComponentSchemasPrefix)
}

// schemaType returns the declared type. OpenAPI 3.1 type lists yield the
// first non-null entry.
func schemaType(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		for _, item := range t {
			if s, ok := item.(string); ok && s != "null" {
				return s
			}
		}
	}
	return ""
}

func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

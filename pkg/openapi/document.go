package openapi

// Document is a parsed interface document. It is immutable once loaded and
// replaced wholesale on refresh.
type Document struct {
	Title   string
	Version string

	// Paths in document order
	Paths []*PathItem

	// Keyed by full local pointer, e.g. "#/components/schemas/Host"
	Definitions   map[string]*Schema
	Parameters    map[string]*Parameter
	RequestBodies map[string]*RequestBody
}

// PathItem is one path template with its entries in document order
type PathItem struct {
	Path       string
	Parameters []*Parameter
	// Every key except "parameters", including metadata keys and
	// non-standard methods. Operation is nil when the value is not a mapping.
	Entries []Entry
}

// Entry is one key under a path item
type Entry struct {
	Key       string
	Operation *Operation
}

// Operation is one HTTP method under one path
type Operation struct {
	OperationID string
	Summary     string
	Parameters  []*Parameter
	RequestBody *RequestBody
}

// Parameter is a path/query/header parameter, or a reference to one
type Parameter struct {
	Ref      string
	Name     string
	In       string
	Required bool
	Schema   *Schema
}

// RequestBody lists media types in document order, or is a reference
type RequestBody struct {
	Ref     string
	Content []MediaType
}

// MediaType pairs a content type with its schema
type MediaType struct {
	ContentType string
	Schema      *Schema
}

// NewDocument returns an empty document with initialized tables
func NewDocument() *Document {
	return &Document{
		Definitions:   make(map[string]*Schema),
		Parameters:    make(map[string]*Parameter),
		RequestBodies: make(map[string]*RequestBody),
	}
}

// IsEmpty reports whether the document declares no paths
func (d *Document) IsEmpty() bool {
	return d == nil || len(d.Paths) == 0
}

// ResolveSchema follows local references until a concrete node. A reference
// outside the definitions table is returned as-is; a missing target or a
// cycle yields an empty schema.
func (d *Document) ResolveSchema(s *Schema) *Schema {
	if s == nil {
		return EmptySchema()
	}

	seen := make(map[string]struct{})
	for s.Kind == KindRef {
		if !IsLocalSchemaRef(s.Ref) {
			return s
		}
		if _, loop := seen[s.Ref]; loop {
			return EmptySchema()
		}
		seen[s.Ref] = struct{}{}

		target, ok := d.Definitions[s.Ref]
		if !ok || target == nil {
			return EmptySchema()
		}
		s = target
	}

	return s
}

// ResolveParameter follows parameter references. It returns nil when the
// target is missing or the chain loops.
func (d *Document) ResolveParameter(p *Parameter) *Parameter {
	seen := make(map[string]struct{})
	for p != nil && p.Ref != "" {
		if _, loop := seen[p.Ref]; loop {
			return nil
		}
		seen[p.Ref] = struct{}{}
		p = d.Parameters[p.Ref]
	}
	return p
}

// ResolveRequestBody follows request body references. It returns nil when
// the target is missing or the chain loops.
func (d *Document) ResolveRequestBody(b *RequestBody) *RequestBody {
	seen := make(map[string]struct{})
	for b != nil && b.Ref != "" {
		if _, loop := seen[b.Ref]; loop {
			return nil
		}
		seen[b.Ref] = struct{}{}
		b = d.RequestBodies[b.Ref]
	}
	return b
}

// BodySchema picks the request body schema: application/json first, else
// the first content entry in document order. Nil when there is no content.
func (b *RequestBody) BodySchema() *Schema {
	if b == nil || len(b.Content) == 0 {
		return nil
	}
	for _, mt := range b.Content {
		if mt.ContentType == "application/json" {
			return mt.Schema
		}
	}
	return b.Content[0].Schema
}

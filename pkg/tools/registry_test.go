package tools

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanopy-mcp/pkg/errors"
	"scanopy-mcp/pkg/openapi"
	"scanopy-mcp/pkg/policy"
)

const hostsDocument = `{
  "openapi": "3.0.3",
  "paths": {
    "/hosts/{id}": {
      "get": {
        "operationId": "get_host",
        "parameters": [{"name": "id", "in": "path", "schema": {"type": "string"}}]
      }
    },
    "/hosts": {
      "options": {"operationId": "host_options"},
      "post": {
        "operationId": "create_host",
        "requestBody": {
          "content": {
            "application/json": {
              "schema": {
                "type": "object",
                "properties": {"name": {"type": "string"}, "ip": {"type": "string"}},
                "required": ["name"]
              }
            }
          }
        }
      },
      "delete": {"operationId": "purge_hosts"}
    }
  }
}`

func mustParse(t *testing.T, data string) *openapi.Document {
	t.Helper()
	doc, err := openapi.Parse([]byte(data))
	require.NoError(t, err)
	return doc
}

func TestDeriveToolsScenario(t *testing.T) {
	doc := mustParse(t, hostsDocument)
	tools, err := DeriveTools(doc, policy.NewAllowlist("create_host"))
	require.NoError(t, err)

	require.Len(t, tools, 2)
	assert.NotContains(t, tools, "host_options")
	assert.NotContains(t, tools, "purge_hosts")

	get := tools["get_host"]
	require.NotNil(t, get)
	assert.Equal(t, "GET", get.Method)
	assert.Equal(t, "/hosts/{id}", get.Path)
	assert.Equal(t, []string{"id"}, get.InputSchema["required"])
	assert.Equal(t, "GET /hosts/{id}", get.Description())
	assert.False(t, get.Mutating())

	create := tools["create_host"]
	require.NotNil(t, create)
	assert.Equal(t, "POST", create.Method)
	assert.Equal(t, []string{"name"}, create.InputSchema["required"])
	assert.Equal(t, map[string]interface{}{
		"name": map[string]interface{}{"type": "string"},
		"ip":   map[string]interface{}{"type": "string"},
	}, create.InputSchema["properties"])
	assert.True(t, create.Mutating())
}

func TestDeriveToolListOrder(t *testing.T) {
	doc := mustParse(t, hostsDocument)
	list, err := DeriveToolList(doc, policy.NewAllowlist("create_host"))
	require.NoError(t, err)

	names := make([]string, 0, len(list))
	for _, tool := range list {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"get_host", "create_host"}, names)
}

func TestDeriveToolsSkips(t *testing.T) {
	doc := mustParse(t, `{
	  "paths": {
	    "/hosts": {
	      "$ref": "#/x",
	      "summary": "hosts",
	      "description": "all hosts",
	      "servers": [{"url": "https://example.com"}],
	      "parameters": [],
	      "options": {"operationId": "hosts_options"},
	      "trace": {"operationId": "hosts_trace"},
	      "head": {"operationId": "hosts_head"},
	      "GET": {"operationId": "hosts_list"},
	      "put": {"summary": "no id"}
	    }
	  }
	}`)

	tools, err := DeriveTools(doc, policy.NewAllowlist())
	require.NoError(t, err)
	assert.Len(t, tools, 2)
	assert.Contains(t, tools, "hosts_head")
	require.Contains(t, tools, "hosts_list")
	assert.Equal(t, "GET", tools["hosts_list"].Method)
}

func TestDeriveToolsDuplicates(t *testing.T) {
	doc := mustParse(t, `{
	  "paths": {
	    "/a": {"get": {"operationId": "same"}},
	    "/b": {"post": {"operationId": "same"}}
	  }
	}`)

	t.Run("filtered operation does not collide", func(t *testing.T) {
		tools, err := DeriveTools(doc, policy.NewAllowlist())
		require.NoError(t, err)
		require.Len(t, tools, 1)
		assert.Equal(t, "GET", tools["same"].Method)
	})

	t.Run("two retained operations collide", func(t *testing.T) {
		_, err := DeriveTools(doc, policy.NewAllowlist("same"))
		var dup *DuplicateOperationError
		require.True(t, stderrors.As(err, &dup))
		assert.Equal(t, "same", dup.OperationID)
		assert.Equal(t, "/b", dup.Path)
		assert.Contains(t, err.Error(), "same")
		assert.Equal(t, errors.ErrorCategorySchema, errors.From(err).Category)
	})

	t.Run("two reads collide", func(t *testing.T) {
		_, err := DeriveTools(mustParse(t, `{
		  "paths": {
		    "/a": {"get": {"operationId": "twice"}},
		    "/b": {"head": {"operationId": "twice"}}
		  }
		}`), policy.NewAllowlist())
		var dup *DuplicateOperationError
		require.True(t, stderrors.As(err, &dup))
	})
}

func TestDeriveToolsFilterIsExhaustive(t *testing.T) {
	methods := []string{"get", "head", "post", "put", "patch", "delete"}

	doc := openapi.NewDocument()
	for _, m := range methods {
		item := &openapi.PathItem{Path: "/" + m}
		for _, suffix := range []string{"allowed", "blocked"} {
			item.Entries = append(item.Entries, openapi.Entry{
				Key:       m,
				Operation: &openapi.Operation{OperationID: m + "_" + suffix},
			})
		}
		doc.Paths = append(doc.Paths, item)
	}

	allow := policy.NewAllowlist("post_allowed", "put_allowed", "patch_allowed", "delete_allowed")
	tools, err := DeriveTools(doc, allow)
	require.NoError(t, err)

	for _, m := range methods {
		mutating := policy.IsMutating(m)
		for _, suffix := range []string{"allowed", "blocked"} {
			name := m + "_" + suffix
			if mutating && !allow.Contains(name) {
				assert.NotContains(t, tools, name)
			} else {
				assert.Contains(t, tools, name)
			}
		}
	}
}

func TestInputSchemaMerge(t *testing.T) {
	t.Run("operation parameters overwrite path parameters", func(t *testing.T) {
		doc := mustParse(t, `{
		  "paths": {
		    "/subnets/{id}": {
		      "parameters": [
		        {"name": "id", "in": "path", "schema": {"type": "string"}},
		        {"name": "verbose", "in": "query", "required": true, "schema": {"type": "boolean"}}
		      ],
		      "get": {
		        "operationId": "subnets.get",
		        "parameters": [
		          {"name": "id", "in": "path", "schema": {"type": "integer"}},
		          {"name": "verbose", "in": "query", "required": false, "schema": {"type": "boolean"}},
		          {"name": "limit", "in": "query", "schema": {"type": "integer"}}
		        ]
		      }
		    }
		  }
		}`)

		tools, err := DeriveTools(doc, policy.NewAllowlist())
		require.NoError(t, err)
		schema := tools["subnets.get"].InputSchema

		props := schema["properties"].(map[string]interface{})
		assert.Equal(t, map[string]interface{}{"type": "integer"}, props["id"])
		assert.Contains(t, props, "limit")
		assert.Equal(t, []string{"id"}, schema["required"])
	})

	t.Run("required is omitted when empty", func(t *testing.T) {
		doc := mustParse(t, `{"paths": {"/hosts": {"get": {"operationId": "hosts.list"}}}}`)
		tools, err := DeriveTools(doc, policy.NewAllowlist())
		require.NoError(t, err)

		schema := tools["hosts.list"].InputSchema
		assert.Equal(t, "object", schema["type"])
		assert.Equal(t, map[string]interface{}{}, schema["properties"])
		_, ok := schema["required"]
		assert.False(t, ok)
	})

	t.Run("required is sorted and unions body fields", func(t *testing.T) {
		doc := mustParse(t, `{
		  "paths": {
		    "/networks/{network_id}/hosts/{host_id}": {
		      "put": {
		        "operationId": "hosts.update",
		        "parameters": [
		          {"name": "network_id", "in": "path"},
		          {"name": "host_id", "in": "path"}
		        ],
		        "requestBody": {"$ref": "#/components/requestBodies/HostUpdate"}
		      }
		    }
		  },
		  "components": {
		    "requestBodies": {
		      "HostUpdate": {"content": {"application/json": {"schema": {"$ref": "#/components/schemas/HostUpdate"}}}}
		    },
		    "schemas": {
		      "HostUpdate": {"properties": {"label": {"type": "string"}}, "required": ["label"]}
		    }
		  }
		}`)
		tools, err := DeriveTools(doc, policy.NewAllowlist("hosts.update"))
		require.NoError(t, err)

		schema := tools["hosts.update"].InputSchema
		assert.Equal(t, []string{"host_id", "label", "network_id"}, schema["required"])
		props := schema["properties"].(map[string]interface{})
		assert.Equal(t, map[string]interface{}{}, props["network_id"])
	})

	t.Run("non-object body is a single field", func(t *testing.T) {
		doc := mustParse(t, `{
		  "paths": {
		    "/tags": {
		      "post": {
		        "operationId": "tags.create",
		        "requestBody": {"content": {"text/plain": {"schema": {"type": "string"}}}}
		      },
		      "put": {
		        "operationId": "tags.replace",
		        "requestBody": {"content": {"application/json": {"schema": {"type": "array", "items": {"type": "string"}}}}}
		      },
		      "patch": {
		        "operationId": "tags.touch",
		        "requestBody": {"content": {}}
		      }
		    }
		  }
		}`)
		tools, err := DeriveTools(doc, policy.NewAllowlist("tags.create", "tags.replace", "tags.touch"))
		require.NoError(t, err)

		props := tools["tags.create"].InputSchema["properties"].(map[string]interface{})
		assert.Equal(t, map[string]interface{}{"type": "string"}, props["body"])

		props = tools["tags.replace"].InputSchema["properties"].(map[string]interface{})
		assert.Equal(t, "array", props["body"].(map[string]interface{})["type"])

		assert.Empty(t, tools["tags.touch"].InputSchema["properties"])
	})

	t.Run("cyclic body reference becomes a body field with an empty schema", func(t *testing.T) {
		doc := mustParse(t, `{
		  "paths": {"/loops": {"post": {
		    "operationId": "loops.create",
		    "requestBody": {"content": {"application/json": {"schema": {"$ref": "#/definitions/A"}}}}
		  }}},
		  "definitions": {"A": {"$ref": "#/definitions/B"}, "B": {"$ref": "#/definitions/A"}}
		}`)
		tools, err := DeriveTools(doc, policy.NewAllowlist("loops.create"))
		require.NoError(t, err)

		props := tools["loops.create"].InputSchema["properties"].(map[string]interface{})
		assert.Equal(t, map[string]interface{}{}, props["body"])
	})
}

func TestReferenceAndInlineSchemasMatch(t *testing.T) {
	inline := mustParse(t, `{
	  "paths": {"/ports/{id}": {"get": {
	    "operationId": "ports.get",
	    "parameters": [{"name": "id", "in": "path", "schema": {"type": "integer", "format": "int64"}}]
	  }}}
	}`)
	viaRef := mustParse(t, `{
	  "paths": {"/ports/{id}": {"get": {
	    "operationId": "ports.get",
	    "parameters": [{"name": "id", "in": "path", "schema": {"$ref": "#/components/schemas/PortId"}}]
	  }}},
	  "components": {"schemas": {"PortId": {"$ref": "#/components/schemas/RawId"}, "RawId": {"type": "integer", "format": "int64"}}}
	}`)

	a, err := DeriveTools(inline, policy.NewAllowlist())
	require.NoError(t, err)
	b, err := DeriveTools(viaRef, policy.NewAllowlist())
	require.NoError(t, err)

	assert.Equal(t, a["ports.get"].InputSchema, b["ports.get"].InputSchema)
}

func TestDeriveToolsIsIdempotent(t *testing.T) {
	doc := mustParse(t, hostsDocument)
	allow := policy.NewAllowlist("create_host")

	first, err := DeriveTools(doc, allow)
	require.NoError(t, err)
	second, err := DeriveTools(doc, allow)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDeriveToolsEmptyDocument(t *testing.T) {
	tools, err := DeriveTools(openapi.NewDocument(), policy.NewAllowlist("x"))
	require.NoError(t, err)
	assert.Empty(t, tools)

	tools, err = DeriveTools(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, tools)
}

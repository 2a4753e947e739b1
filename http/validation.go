package http

import (
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xeipuuv/gojsonschema"
)

// requestSchemaFragment describes the wire form of one signed request; it is
// shared by the execute and batch schemas.
const requestSchemaFragment = `{
	"type": "object",
	"required": ["request", "signature"],
	"properties": {
		"request": {
			"type": "object",
			"required": ["from", "to", "nonce"],
			"properties": {
				"from": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
				"to": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
				"value": {"type": "string", "pattern": "^[0-9]+$"},
				"nonce": {"type": "integer", "minimum": 0},
				"data": {"type": "string", "pattern": "^0x([0-9a-fA-F]{2})*$"}
			}
		},
		"signature": {"type": "string", "pattern": "^0x([0-9a-fA-F]{2})+$"}
	}
}`

var executeSchema = mustCompileSchema(requestSchemaFragment)

var batchSchema = mustCompileSchema(fmt.Sprintf(`{
	"type": "object",
	"required": ["entries"],
	"properties": {
		"entries": {
			"type": "array",
			"minItems": 1,
			"items": %s
		},
		"failFast": {"type": "boolean"}
	}
}`, requestSchemaFragment))

func mustCompileSchema(schema string) *gojsonschema.Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(err)
	}
	return compiled
}

// readValidatedBody reads a request body and validates it against a schema
// before any decoding happens. Schema failures report every violation.
func readValidatedBody(c *gin.Context, schema *gojsonschema.Schema) ([]byte, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("request body is not valid JSON: %w", err)
	}
	if !result.Valid() {
		violations := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			violations[i] = desc.String()
		}
		return nil, fmt.Errorf("invalid request body: %s", strings.Join(violations, "; "))
	}
	return body, nil
}

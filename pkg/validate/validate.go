// Package validate compiles JSON Schemas for the API's request bodies
// and validates decoded payloads against them before a handler acts on
// them, surfacing failures as 400-class validation errors.
package validate

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// destination_country_code deliberately has no minLength: an empty
// string is a legal business state (the decision engine routes it to
// REVIEW), not a malformed request. Schema validation here only guards
// against wrong JSON types, not domain-meaningful emptiness.
const transferContextSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"destination_country_code": {"type": "string"},
		"destination_country": {"type": "string"},
		"data_categories": {"type": "array", "items": {"type": "string"}},
		"partner_name": {"type": "string"}
	}
}`

const erasureRequestSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["requestId", "userId", "confirmation"],
	"properties": {
		"requestId": {"type": "string", "minLength": 1},
		"userId": {"type": "string", "minLength": 1},
		"grounds": {"type": "string"},
		"confirmation": {"type": "string", "minLength": 1}
	}
}`

// Registry holds the compiled schemas used by the HTTP layer.
type Registry struct {
	TransferContext *jsonschema.Schema
	ErasureRequest  *jsonschema.Schema
}

// NewRegistry compiles every request schema the service validates
// against. A compile failure here is a programmer error, not a runtime
// condition, so it panics rather than returning an error.
func NewRegistry() *Registry {
	return &Registry{
		TransferContext: mustCompile("transfer_context", transferContextSchema),
		ErasureRequest:  mustCompile("erasure_request", erasureRequestSchema),
	}
}

func mustCompile(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://schemas.shield.meridiancompliance.com/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("validate: load schema %s: %v", name, err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("validate: compile schema %s: %v", name, err))
	}
	return compiled
}

// Against validates v (typically a map[string]interface{} decoded from
// a request body) against schema, returning a human-readable error on
// the first violation.
func Against(schema *jsonschema.Schema, v interface{}) error {
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

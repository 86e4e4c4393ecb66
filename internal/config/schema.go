package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://scanwedge.io/schema/config-v1.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// SchemaJSON returns the embedded JSON schema for config files.
func SchemaJSON() []byte {
	return append([]byte(nil), schemaJSON...)
}

// ValidateDocument checks a decoded config document (as produced by the
// TOML, JSON or YAML decoders) against the schema. Unknown keys and
// wrongly typed values are reported as ValidationErrors.
func ValidateDocument(doc map[string]interface{}) error {
	schema, err := configSchema()
	if err != nil {
		return err
	}

	// Normalize decoder-specific number and map types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("normalize document: %w", err)
	}
	var instance interface{}
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("normalize document: %w", err)
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}

	var errs ValidationErrors
	collectSchemaErrors(verr, &errs)
	if len(errs) == 0 {
		errs = append(errs, ValidationError{Field: "(root)", Message: verr.Message})
	}
	return errs
}

func collectSchemaErrors(e *jsonschema.ValidationError, out *ValidationErrors) {
	if len(e.Causes) == 0 {
		*out = append(*out, ValidationError{
			Field:   pointerToField(e.InstanceLocation),
			Message: e.Message,
		})
		return
	}
	for _, cause := range e.Causes {
		collectSchemaErrors(cause, out)
	}
}

// pointerToField turns "/scanner/min_length" into "scanner.min_length".
func pointerToField(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return "(root)"
	}
	return strings.ReplaceAll(ptr, "/", ".")
}

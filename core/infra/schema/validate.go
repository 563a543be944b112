// Package schema validates JSON payloads against JSON Schemas.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalid wraps every validation failure so handlers can map it to 400.
var ErrInvalid = errors.New("schema validation failed")

var compiled sync.Map // resource id -> *jsonschema.Schema

// Compile compiles schema under id. Compilations are cached by id, so an id
// must always name the same schema.
func Compile(id string, schema []byte) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	resourceID := schemaID(id)
	if cached, ok := compiled.Load(resourceID); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	actual, _ := compiled.LoadOrStore(resourceID, sch)
	return actual.(*jsonschema.Schema), nil
}

// ValidateSchema validates value against the schema payload. Value may be
// decoded JSON, raw JSON bytes or a json.RawMessage.
func ValidateSchema(id string, schema []byte, value any) error {
	sch, err := Compile(id, schema)
	if err != nil {
		return err
	}
	return validate(sch, value)
}

func validate(sch *jsonschema.Schema, value any) error {
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := sch.Validate(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return decode(v)
	case []byte:
		return decode(v)
	default:
		return value, nil
	}
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}

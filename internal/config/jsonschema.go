package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaSource string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", strings.NewReader(schemaSource)); err != nil {
			schemaErr = fmt.Errorf("invalid config schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("schema.json")
	})
	return compiledSchema, schemaErr
}

// ValidateSchema checks raw configuration data against the embedded JSON
// Schema. YAML documents are converted to JSON first. Schema violations are
// returned as ValidationErrors keyed by JSON pointer.
func ValidateSchema(data []byte, path string) error {
	schema, err := configSchema()
	if err != nil {
		return err
	}

	doc, err := decodeDocument(data, path)
	if err != nil {
		return err
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	errs := &ValidationErrors{}
	collectSchemaErrors(verr, errs)
	if !errs.HasErrors() {
		errs.Add("", verr.Error())
	}
	return errs
}

// decodeDocument decodes data into the generic form the schema validator
// expects: the values json.Unmarshal produces.
func decodeDocument(data []byte, path string) (any, error) {
	raw := data
	if strings.ToLower(filepath.Ext(path)) != ".json" {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML config: %w", err)
		}
		raw = converted
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}
	return doc, nil
}

// collectSchemaErrors flattens the leaf causes of a validation error.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		field := strings.TrimPrefix(err.InstanceLocation, "/")
		errs.Add(strings.ReplaceAll(field, "/", "."), err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}

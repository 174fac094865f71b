// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
)

var (
	schemaOnce  sync.Once
	schemaCache *jschema.Schema
	schemaErr   error
)

// GenerateSchema generates a JSON Schema from the Manifest struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(&Manifest{})

	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Extension Manifest"
	schema.Description = "Schema for extension package.json files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// SchemaID is the $id of the generated manifest schema.
const SchemaID = "https://holomush.dev/schemas/extension-manifest.schema.json"

// ValidateSchema validates package.json bytes against the manifest schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return oops.Code(CodeInvalidManifest).Errorf("package.json is empty")
	}

	doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return oops.Code(CodeInvalidManifest).Wrapf(err, "invalid JSON")
	}

	sch, err := compiledSchema()
	if err != nil {
		return oops.Code(CodeInvalidManifest).Wrapf(err, "compile manifest schema")
	}

	if err := sch.Validate(doc); err != nil {
		return oops.Code(CodeInvalidManifest).Wrapf(err, "schema validation failed")
	}
	return nil
}

func compiledSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		schemaBytes, err := GenerateSchema()
		if err != nil {
			schemaErr = err
			return
		}

		schemaData, err := jschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			schemaErr = fmt.Errorf("failed to parse schema JSON: %w", err)
			return
		}

		c := jschema.NewCompiler()
		if err := c.AddResource("manifest.json", schemaData); err != nil {
			schemaErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		schemaCache, schemaErr = c.Compile("manifest.json")
	})
	return schemaCache, schemaErr
}

// FormatSchemaError formats a schema validation error for display.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.Index(msg, "schema validation failed: "); i >= 0 {
		msg = msg[i+len("schema validation failed: "):]
	}
	return msg
}

package segments

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

var criteriaSchemas = mustCompileSchemas()

// mustCompileSchemas compiles one schema per criteria type; a broken embedded
// schema is a build defect, hence the panic.
func mustCompileSchemas() map[string]*jsonschema.Schema {
	entries, err := schemaFiles.ReadDir("schemas")
	if err != nil {
		panic(fmt.Sprintf("read embedded schemas: %v", err))
	}
	out := make(map[string]*jsonschema.Schema, len(entries))
	for _, e := range entries {
		data, err := schemaFiles.ReadFile("schemas/" + e.Name())
		if err != nil {
			panic(fmt.Sprintf("read schema %s: %v", e.Name(), err))
		}
		typ := strings.TrimSuffix(e.Name(), ".json")
		schema, err := jsonschema.CompileString("https://loyalty.local/schemas/criteria/"+typ, string(data))
		if err != nil {
			panic(fmt.Sprintf("compile schema %s: %v", typ, err))
		}
		out[typ] = schema
	}
	return out
}

// validateSchema checks raw against the schema of its declared type and
// returns that type.
func validateSchema(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", invalid("type", "criteria is required")
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", invalid("type", "invalid JSON: "+err.Error())
	}
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return "", invalid("type", "criteria must be an object")
	}
	typ, _ := obj["type"].(string)
	schema, ok := criteriaSchemas[typ]
	if !ok {
		return "", invalid("type", fmt.Sprintf("unknown criteria type %q", typ))
	}
	if err := schema.Validate(doc); err != nil {
		return "", invalid(typ, err.Error())
	}
	return typ, nil
}

package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://slotplan.ai/schemas/"

var (
	schemasOnce sync.Once
	schemasErr  error
	helloSchema *jsonschema.Schema
	inputSchema *jsonschema.Schema
)

func loadSchemas() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	compile := func(name string) *jsonschema.Schema {
		if schemasErr != nil {
			return nil
		}
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			schemasErr = err
			return nil
		}
		if err := c.AddResource(schemaBaseURL+name, bytes.NewReader(b)); err != nil {
			schemasErr = fmt.Errorf("%s: %w", name, err)
			return nil
		}
		s, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			schemasErr = fmt.Errorf("%s: %w", name, err)
			return nil
		}
		return s
	}
	helloSchema = compile("hello.schema.json")
	inputSchema = compile("input.schema.json")
}

func validateRaw(s **jsonschema.Schema, raw []byte) error {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return schemasErr
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return (*s).Validate(v)
}

func ValidateHello(raw []byte) error { return validateRaw(&helloSchema, raw) }

func ValidateInput(raw []byte) error { return validateRaw(&inputSchema, raw) }

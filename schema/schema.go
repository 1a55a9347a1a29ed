// Package schema validates untyped JSON crossing into the service (AI
// responses, database notifications) before it is decoded into typed structs.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const baseURL = "https://picture-library.local/schemas/"

type Validator struct {
	name   string
	schema *jsonschema.Schema
}

// Compile compiles a JSON schema document.
func Compile(name, source string) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}

	url := baseURL + name
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Validator{name: name, schema: sch}, nil
}

// MustCompile is Compile for package-level schemas.
func MustCompile(name, source string) *Validator {
	v, err := Compile(name, source)
	if err != nil {
		panic(err)
	}
	return v
}

// Decode validates data and unmarshals it into out.
func (v *Validator) Decode(data []byte, out any) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: invalid json: %w", v.name, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("%s: %w", v.name, err)
	}
	return json.Unmarshal(data, out)
}

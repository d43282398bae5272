package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ArgumentSchema validates raw tool-call arguments against the JSON Schema
// advertised in the tool definition.
type ArgumentSchema struct {
	schema *jsonschema.Schema
}

func CompileArgumentSchema(toolName string, params map[string]any) (*ArgumentSchema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", toolName, err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s schema: %w", toolName, err)
	}

	url := "umlgen://tools/" + toolName + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add %s schema resource: %w", toolName, err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", toolName, err)
	}
	return &ArgumentSchema{schema: compiled}, nil
}

// Validate checks args. Empty input is treated as an empty object.
func (s *ArgumentSchema) Validate(args json.RawMessage) error {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	if err := s.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParams, describeViolation(err))
	}
	return nil
}

func describeViolation(err error) string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	leaves := collectViolations(verr)
	if len(leaves) == 0 {
		return verr.Error()
	}
	return strings.Join(leaves, "; ")
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}

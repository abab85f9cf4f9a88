package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// resultSchemaJSON describes Result. The same document is sent to the API as
// the strict response format and used to validate what comes back.
const resultSchemaJSON = `{
  "type": "object",
  "properties": {
    "shouldRespond": {
      "type": "boolean",
      "description": "true when the persona replies to the conversation"
    },
    "response": {
      "type": "string",
      "description": "the reply, empty when shouldRespond is false"
    }
  },
  "required": ["shouldRespond", "response"],
  "additionalProperties": false
}`

var resultSchema = jsonschema.MustCompileString("result.json", resultSchemaJSON)

// resultSchemaMap returns a fresh decoded copy of the schema for request
// parameters.
func resultSchemaMap() map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(resultSchemaJSON), &m); err != nil {
		panic(fmt.Sprintf("llm: result schema: %v", err))
	}
	return m
}

// DecodeResult parses and validates raw model output.
func DecodeResult(raw string) (*Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedOutput)
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := resultSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return &res, nil
}

package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// ErrNoJSON is returned when a model response contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in model output")

// GenerateSchema reflects T into a strict JSON schema suitable for every
// backend: all properties required and no additional properties.
func GenerateSchema[T any](name string) *Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	def, err := schemaToMap(reflector.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("reflecting schema %s: %v", name, err))
	}
	delete(def, "$schema")
	delete(def, "$id")
	makeStrict(def)
	return &Schema{Name: name, Definition: def}
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func makeStrict(schema map[string]any) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]any); ok && len(props) > 0 {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			schema["required"] = required
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]any); ok {
				makeStrict(pm)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		makeStrict(items)
	}
}

// DecodeJSON unmarshals model output into v. Small local models often wrap
// the object in prose or code fences, so when the whole text is not valid
// JSON the outermost {...} span is tried instead.
func DecodeJSON(raw string, v any) error {
	s := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("decoding model JSON: %w", err)
	}
	return nil
}

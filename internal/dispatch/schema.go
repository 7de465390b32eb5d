package dispatch

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	ijsonschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// reflector builds a draft-07 JSON Schema from a Go argument struct's
// json/jsonschema tags, matching functiontool.generateSchema's settings
// (expand the struct inline, honour jsonschema:"required").
var reflector = &ijsonschema.Reflector{
	RequiredFromJSONSchemaTags: true,
	ExpandedStruct:             true,
	DoNotReference:             true,
}

// schemaCache holds one compiled *jsonschema.Schema per argument type,
// grounded on pluginsdk.ValidateConfig's sync.Map schema cache.
var schemaCache sync.Map // reflect.Type -> *jsonschema.Schema

func schemaFor[T any](name string) *jsonschema.Schema {
	var zero T
	t := reflect.TypeOf(zero)
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(*jsonschema.Schema)
	}

	raw := reflector.Reflect(&zero)
	data, err := json.Marshal(raw)
	if err != nil {
		panic(fmt.Sprintf("dispatch: marshal schema for %s: %v", name, err))
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(data))
	if err != nil {
		panic(fmt.Sprintf("dispatch: compile schema for %s: %v", name, err))
	}
	schemaCache.Store(t, compiled)
	return compiled
}

// SchemaFor exposes the compiled JSON Schema for T as a plain map, for
// tool registration (e.g. handing each tool's Schema() to the model
// client alongside its Name/Description).
func SchemaFor[T any](name string) map[string]any {
	var zero T
	raw := reflector.Reflect(&zero)
	data, err := json.Marshal(raw)
	if err != nil {
		panic(fmt.Sprintf("dispatch: marshal schema for %s: %v", name, err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("dispatch: decode schema for %s: %v", name, err))
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// validateArgs decodes rawArguments into T, validating it against T's
// compiled schema first so the model gets one actionable message rather
// than a raw Go unmarshal error for a malformed call.
func validateArgs[T any](name, rawArguments string) (T, error) {
	var zero T

	var decoded any
	if err := json.Unmarshal([]byte(rawArguments), &decoded); err != nil {
		return zero, fmt.Errorf("%s arguments are not valid JSON: %w", name, err)
	}
	if err := schemaFor[T](name).Validate(decoded); err != nil {
		return zero, fmt.Errorf("%s arguments invalid: %w", name, err)
	}

	var out T
	if err := json.Unmarshal([]byte(rawArguments), &out); err != nil {
		return zero, fmt.Errorf("%s arguments invalid: %w", name, err)
	}
	return out, nil
}

package collab

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	ijsonschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// reflector mirrors internal/dispatch's schema settings so both tool
// families render arguments the same way for the model.
var reflector = &ijsonschema.Reflector{
	RequiredFromJSONSchemaTags: true,
	ExpandedStruct:             true,
	DoNotReference:             true,
}

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
		panic(fmt.Sprintf("collab: marshal schema for %s: %v", name, err))
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(data))
	if err != nil {
		panic(fmt.Sprintf("collab: compile schema for %s: %v", name, err))
	}
	schemaCache.Store(t, compiled)
	return compiled
}

// SchemaFor exposes the compiled JSON Schema for T as a plain map, for
// tool registration.
func SchemaFor[T any](name string) map[string]any {
	var zero T
	raw := reflector.Reflect(&zero)
	data, err := json.Marshal(raw)
	if err != nil {
		panic(fmt.Sprintf("collab: marshal schema for %s: %v", name, err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("collab: decode schema for %s: %v", name, err))
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

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

package tool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

var reflector = jsonschema.Reflector{
	RequiredFromJSONSchemaTags: true,
	ExpandedStruct:             true,
	AllowAdditionalProperties:  true,
	DoNotReference:             true,
}

// SchemaFor reflects the JSON Schema of T's JSON shape. Fields tagged
// `jsonschema:"required"` become required properties.
func SchemaFor[T any]() json.RawMessage {
	var zero T
	s := reflector.Reflect(&zero)
	s.Version = ""
	b, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("SchemaFor: %v", err))
	}
	return b
}

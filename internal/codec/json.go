package codec

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"modelgate/internal/shared"
)

// JSON converts between JSON bytes and structured values, optionally
// validating the decoded value against a compiled JSON schema.
type JSON struct {
	schema *jsonschema.Schema
}

func NewJSON() *JSON { return &JSON{} }

// NewJSONWithSchema compiles the given schema document once at construction.
func NewJSONWithSchema(schemaDoc string) (*JSON, error) {
	schema, err := jsonschema.CompileString("contract.schema.json", schemaDoc)
	if err != nil {
		return nil, err
	}
	return &JSON{schema: schema}, nil
}

func (*JSON) Kind() Kind { return KindJSON }

func (j *JSON) Decode(p *Payload) (Value, error) {
	var v any
	if err := json.Unmarshal(p.Body, &v); err != nil {
		return Value{}, shared.WrapContractError(shared.KindDecode, err, "malformed JSON payload")
	}
	if j.schema != nil {
		if err := j.schema.Validate(v); err != nil {
			path, reason := firstViolation(err)
			return Value{}, shared.NewContractError(shared.KindSchemaValidation, "%s: %s", path, reason)
		}
	}
	return JSONValue(v), nil
}

func (*JSON) Encode(v Value) (*Payload, error) {
	if v.Kind != KindJSON {
		return nil, wrongValue(KindJSON, v.Kind)
	}
	body, err := json.Marshal(v.JSON)
	if err != nil {
		return nil, shared.WrapContractError(shared.KindEncode, err, "value is not JSON-serializable")
	}
	return &Payload{Body: body, ContentType: "application/json"}, nil
}

// firstViolation walks the validation error to its first leaf cause and
// reports its instance path and reason.
func firstViolation(err error) (string, string) {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return "", err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	path := ve.InstanceLocation
	if path == "" {
		path = "/"
	}
	return path, ve.Message
}

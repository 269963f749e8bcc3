package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FieldType is the JSON type a contract expects for a field.
type FieldType string

const (
	String FieldType = "string"
	Uint   FieldType = "uint" // non-negative integer
	Number FieldType = "number"
	Bool   FieldType = "boolean"
	Object FieldType = "object"
)

// Field is one top-level member of a contract.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	// NonNegative applies to Number fields; Uint fields are always non-negative.
	NonNegative bool
}

// Contract is the set of fields a response must carry for one call.
// It is compiled once to a JSON Schema on first use.
type Contract struct {
	Name   string
	Fields []Field

	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

// Contracts used by the provisioning endpoints.
var (
	// CreateContract is the create call's response.
	CreateContract = &Contract{
		Name: "create",
		Fields: []Field{
			{Name: "jobId", Type: String, Required: true},
		},
	}

	// StatusContract is the job-status call's response. The nested token is
	// checked separately against CreatedContract.
	StatusContract = &Contract{
		Name: "status",
		Fields: []Field{
			{Name: "status", Type: String, Required: true},
			{Name: "token", Type: Object},
			{Name: "error", Type: String},
			{Name: "message", Type: String},
		},
	}

	// CreatedContract is the resource returned by a successful job.
	CreatedContract = &Contract{
		Name:   "created",
		Fields: resourceFields("id", "address", "name", "symbol", "price"),
	}

	// ListContract is one entry of the list call. Price is optional here.
	ListContract = &Contract{
		Name:   "list",
		Fields: resourceFields("id", "address", "merchantAddress"),
	}

	// ActivateContract is the activation call's response.
	ActivateContract = &Contract{
		Name: "activate",
		Fields: []Field{
			{Name: "success", Type: Bool, Required: true},
		},
	}
)

// resourceFields returns the resource record fields with the named ones required.
func resourceFields(required ...string) []Field {
	fields := []Field{
		{Name: "id", Type: String},
		{Name: "address", Type: String},
		{Name: "name", Type: String},
		{Name: "symbol", Type: String},
		{Name: "totalSupply", Type: Uint},
		{Name: "startingAppSupply", Type: Uint},
		{Name: "remainingAppSupply", Type: Uint},
		{Name: "merchantSupply", Type: Uint},
		{Name: "price", Type: Number, NonNegative: true},
		{Name: "merchantAddress", Type: String},
	}
	for i := range fields {
		for _, name := range required {
			if fields[i].Name == name {
				fields[i].Required = true
			}
		}
	}
	return fields
}

// schemaDocument renders the contract as a JSON Schema document.
func (c *Contract) schemaDocument() map[string]any {
	properties := make(map[string]any, len(c.Fields))
	required := []string{}
	for _, f := range c.Fields {
		prop := map[string]any{}
		switch f.Type {
		case Uint:
			prop["type"] = "integer"
			prop["minimum"] = 0
		case Number:
			prop["type"] = "number"
			if f.NonNegative {
				prop["minimum"] = 0
			}
		default:
			prop["type"] = string(f.Type)
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func (c *Contract) compile() (*jsonschema.Schema, error) {
	c.once.Do(func() {
		b, err := json.Marshal(c.schemaDocument())
		if err != nil {
			c.err = fmt.Errorf("marshal %s schema: %w", c.Name, err)
			return
		}
		url := c.Name + ".json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
			c.err = fmt.Errorf("add %s schema: %w", c.Name, err)
			return
		}
		c.schema, c.err = compiler.Compile(url)
		if c.err != nil {
			c.err = fmt.Errorf("compile %s schema: %w", c.Name, c.err)
		}
	})
	return c.schema, c.err
}

// Check validates a parsed JSON value against the contract.
func (c *Contract) Check(v any) error {
	schema, err := c.compile()
	if err != nil {
		return err
	}
	err = schema.Validate(v)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &DecodeError{Kind: KindTypeMismatch, Contract: c.Name, Msg: err.Error(), Err: err}
	}
	return c.mapValidation(v, ve)
}

// mapValidation turns a schema failure into a DecodeError. When several
// fields fail, a missing required field wins, then fields in contract order.
func (c *Contract) mapValidation(v any, ve *jsonschema.ValidationError) error {
	obj, isObject := v.(map[string]any)
	if !isObject {
		return &DecodeError{Kind: KindTypeMismatch, Contract: c.Name, Msg: fmt.Sprintf("expected object, got %s", jsonType(v)), Err: ve}
	}

	for _, f := range c.Fields {
		if _, ok := obj[f.Name]; f.Required && !ok {
			return &DecodeError{Kind: KindMissingField, Contract: c.Name, Field: f.Name, Err: ve}
		}
	}

	var leaves []*jsonschema.ValidationError
	collectLeaves(ve, &leaves)

	order := make(map[string]int, len(c.Fields))
	for i, f := range c.Fields {
		order[f.Name] = i
	}
	sort.SliceStable(leaves, func(i, j int) bool {
		return rank(order, leaves[i]) < rank(order, leaves[j])
	})

	for _, leaf := range leaves {
		field := topField(leaf.InstanceLocation)
		if field == "" {
			continue
		}
		return &DecodeError{Kind: KindTypeMismatch, Contract: c.Name, Field: field, Msg: leaf.Message, Err: ve}
	}
	return &DecodeError{Kind: KindTypeMismatch, Contract: c.Name, Msg: ve.Message, Err: ve}
}

func collectLeaves(ve *jsonschema.ValidationError, out *[]*jsonschema.ValidationError) {
	if len(ve.Causes) == 0 {
		*out = append(*out, ve)
		return
	}
	for _, cause := range ve.Causes {
		collectLeaves(cause, out)
	}
}

// topField returns the first segment of an instance location such as "/price".
func topField(location string) string {
	field := strings.TrimLeft(location, "#/")
	if i := strings.IndexByte(field, '/'); i >= 0 {
		field = field[:i]
	}
	return field
}

func rank(order map[string]int, ve *jsonschema.ValidationError) int {
	if r, ok := order[topField(ve.InstanceLocation)]; ok {
		return r
	}
	return len(order)
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

package game

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

func idSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", MinLength: jsonschema.Ptr(1), MaxLength: jsonschema.Ptr(128)}
}

func coordSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Minimum: jsonschema.Ptr(0.0), Maximum: jsonschema.Ptr(255.0)}
}

func idListSchema(maxItems int) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Items: idSchema(), MaxItems: jsonschema.Ptr(maxItems), UniqueItems: true}
}

// object builds a closed object schema.
func object(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	if props == nil {
		props = map[string]*jsonschema.Schema{}
	}
	return &jsonschema.Schema{
		Type:                 "object",
		Required:             required,
		Properties:           props,
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

func commandSchemas() map[string]*jsonschema.Schema {
	empty := object(nil, nil)
	return map[string]*jsonschema.Schema{
		CmdMove: object([]string{"unitId", "x", "y"}, map[string]*jsonschema.Schema{
			"unitId": idSchema(), "x": coordSchema(), "y": coordSchema(),
		}),
		CmdAttack: object([]string{"unitId", "targetId"}, map[string]*jsonschema.Schema{
			"unitId": idSchema(), "targetId": idSchema(),
		}),
		CmdCapture:  object([]string{"unitId"}, map[string]*jsonschema.Schema{"unitId": idSchema()}),
		CmdPlayCard: object([]string{"cardId"}, map[string]*jsonschema.Schema{"cardId": idSchema()}),
		CmdSelectSpace: func() *jsonschema.Schema {
			s := object(nil, map[string]*jsonschema.Schema{
				"x": coordSchema(), "y": coordSchema(), "commit": {Type: "boolean"},
			})
			s.DependentRequired = map[string][]string{"x": {"y"}, "y": {"x"}}
			return s
		}(),
		CmdChooseCards: object([]string{"cardIds"}, map[string]*jsonschema.Schema{
			"cardIds": idListSchema(32), "commit": {Type: "boolean"},
		}),
		CmdReplaceCard:       object([]string{"cardId"}, map[string]*jsonschema.Schema{"cardId": idSchema()}),
		CmdMulligan:          object([]string{"cardIds"}, map[string]*jsonschema.Schema{"cardIds": idListSchema(16)}),
		CmdEndTurn:           empty,
		CmdCancelPlayCard:    empty,
		CmdUseResourceAction: empty,
		CmdForceEndTurn: object(nil, map[string]*jsonschema.Schema{
			"turn": {Type: "integer", Minimum: jsonschema.Ptr(1.0)},
		}),
	}
}

// Validator checks command payloads against their JSON schemas.
type Validator struct {
	resolved map[string]*jsonschema.Resolved
}

// NewValidator resolves the schema of every command.
func NewValidator() (*Validator, error) {
	v := &Validator{resolved: make(map[string]*jsonschema.Resolved)}
	for name, schema := range commandSchemas() {
		rs, err := schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("resolve %s schema: %w", name, err)
		}
		v.resolved[name] = rs
	}
	return v, nil
}

// Schema returns the JSON schema of a command, for clients.
func Schema(commandType string) (*jsonschema.Schema, bool) {
	s, ok := commandSchemas()[commandType]
	return s, ok
}

// Validate checks the command envelope and its payload.
func (v *Validator) Validate(cmd Command) error {
	rs, ok := v.resolved[cmd.Type]
	if !ok {
		return &rules.ValidationError{Command: cmd.Type, Reason: "unknown command type", Err: rules.ErrUnknownCommand}
	}
	if cmd.PlayerID == "" {
		return &rules.ValidationError{Command: cmd.Type, Reason: "missing player id"}
	}
	var instance any = map[string]any{}
	if raw := bytes.TrimSpace(cmd.Fields); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &instance); err != nil {
			return &rules.ValidationError{Command: cmd.Type, Reason: "fields are not valid JSON", Err: err}
		}
	}
	if err := rs.Validate(instance); err != nil {
		return &rules.ValidationError{Command: cmd.Type, Reason: err.Error(), Err: err}
	}
	return nil
}

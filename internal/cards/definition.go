// Package cards loads declarative card definitions from YAML and compiles them into
// game blueprints. Targeting, filters and aura membership are CEL expressions.
package cards

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the top level of a card definitions document.
type File struct {
	Cards []Definition `yaml:"cards"`
}

// Definition describes one card.
type Definition struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// Kind is "unit" or "spell".
	Kind string `yaml:"kind"`
	Cost int    `yaml:"cost"`

	// Units only.
	Attack int       `yaml:"attack,omitempty"`
	Health int       `yaml:"health,omitempty"`
	Auras  []AuraDef `yaml:"auras,omitempty"`

	// Spells only.
	Playable string      `yaml:"playable,omitempty"`
	Target   *TargetDef  `yaml:"target,omitempty"`
	Aoe      AoeDef      `yaml:"aoe,omitempty"`
	Effects  []EffectDef `yaml:"effects,omitempty"`
}

// TargetDef selects the cell a spell is cast on.
type TargetDef struct {
	Eligible string `yaml:"eligible"`
}

// Area shapes.
const (
	ShapeSingle = "single"
	ShapeCross  = "cross"
	ShapeRow    = "row"
	ShapeRadius = "radius"
	ShapeBoard  = "board"
)

// AoeDef maps the target cell to the affected cells.
type AoeDef struct {
	Shape  string `yaml:"shape,omitempty"`
	Radius int    `yaml:"radius,omitempty"`
}

// Effect ops.
const (
	OpDamage        = "damage"
	OpHeal          = "heal"
	OpBuff          = "buff"
	OpDraw          = "draw"
	OpDiscardChoice = "discard_choice"
	OpExtraTarget   = "extra_target"
)

// EffectDef is one step of a spell. Steps run in order.
type EffectDef struct {
	Op     string `yaml:"op"`
	Amount int    `yaml:"amount,omitempty"`
	// Filter restricts damage, heal and buff to matching units in the area.
	Filter string `yaml:"filter,omitempty"`

	// buff
	Stat  string `yaml:"stat,omitempty"`
	Turns int    `yaml:"turns,omitempty"`

	// discard_choice
	Min int `yaml:"min,omitempty"`
	Max int `yaml:"max,omitempty"`

	// extra_target: the player picks one more cell and Effects resolve on it.
	Eligible string      `yaml:"eligible,omitempty"`
	Effects  []EffectDef `yaml:"effects,omitempty"`
}

// AuraDef grants a stat bonus to every unit matching Eligible while the unit carrying
// the aura is on the board.
type AuraDef struct {
	ID       string `yaml:"id"`
	Eligible string `yaml:"eligible"`
	Stat     string `yaml:"stat"`
	Amount   int    `yaml:"amount"`
}

// Parse decodes a definitions document. Unknown fields are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("failed to decode card definitions: %w", err)
	}
	return &f, nil
}

// ParseBytes decodes a definitions document held in memory.
func ParseBytes(data []byte) (*File, error) {
	return Parse(bytes.NewReader(data))
}

// LoadFile reads and parses the definitions at path.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open card definitions %s: %w", path, err)
	}
	defer f.Close()

	file, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

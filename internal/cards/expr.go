package cards

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/duelforge/tactics-server-go/internal/game"
	"github.com/duelforge/tactics-server-go/internal/game/board"
)

// Scope names the situation an expression is evaluated in. Each scope declares its own
// variables, so an expression using a variable its scope lacks fails to compile.
type Scope string

const (
	// ScopeTarget: player, opponent, cell {x, y}, occupied, unit.
	ScopeTarget Scope = "target"
	// ScopeFilter: player, opponent, unit.
	ScopeFilter Scope = "filter"
	// ScopeAura: player, source, unit, distance.
	ScopeAura Scope = "aura"
	// ScopePlayable: player, mana, hand_size, turn.
	ScopePlayable Scope = "playable"
)

var unitMap = cel.MapType(cel.StringType, cel.DynType)

var scopeVars = map[Scope][]cel.EnvOption{
	ScopeTarget: {
		cel.Variable("player", cel.StringType),
		cel.Variable("opponent", cel.StringType),
		cel.Variable("cell", cel.MapType(cel.StringType, cel.IntType)),
		cel.Variable("occupied", cel.BoolType),
		cel.Variable("unit", unitMap),
	},
	ScopeFilter: {
		cel.Variable("player", cel.StringType),
		cel.Variable("opponent", cel.StringType),
		cel.Variable("unit", unitMap),
	},
	ScopeAura: {
		cel.Variable("player", cel.StringType),
		cel.Variable("source", unitMap),
		cel.Variable("unit", unitMap),
		cel.Variable("distance", cel.IntType),
	},
	ScopePlayable: {
		cel.Variable("player", cel.StringType),
		cel.Variable("mana", cel.IntType),
		cel.Variable("hand_size", cel.IntType),
		cel.Variable("turn", cel.IntType),
	},
}

// Registry holds one CEL environment per scope.
type Registry struct {
	envs map[Scope]*cel.Env
}

// NewRegistry builds the CEL environments.
func NewRegistry() (*Registry, error) {
	r := &Registry{envs: make(map[Scope]*cel.Env, len(scopeVars))}
	for scope, vars := range scopeVars {
		env, err := cel.NewEnv(vars...)
		if err != nil {
			return nil, fmt.Errorf("cel env %s: %w", scope, err)
		}
		r.envs[scope] = env
	}
	return r, nil
}

// Expr is a compiled boolean expression.
type Expr struct {
	Source string
	prg    cel.Program
}

// Compile parses and checks src in scope. The expression must evaluate to a bool; dyn
// results are checked at evaluation.
func (r *Registry) Compile(scope Scope, src string) (*Expr, error) {
	env, ok := r.envs[scope]
	if !ok {
		return nil, fmt.Errorf("unknown expression scope %q", scope)
	}
	ast, iss := env.Compile(src)
	if iss.Err() != nil {
		return nil, fmt.Errorf("%s expression %q: %w", scope, src, iss.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%s expression %q must be a bool, got %s", scope, src, out)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%s expression %q: %w", scope, src, err)
	}
	return &Expr{Source: src, prg: prg}, nil
}

// Eval runs the expression against vars.
func (e *Expr) Eval(vars map[string]any) (bool, error) {
	out, _, err := e.prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", e.Source, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval %q: result %v is not a bool", e.Source, out.Value())
	}
	return b, nil
}

// unitVars exposes a unit to expressions.
func unitVars(u *game.Unit) map[string]any {
	if u == nil {
		return map[string]any{}
	}
	return map[string]any{
		"id":        u.EntityID(),
		"owner":     u.Owner,
		"blueprint": u.BlueprintID,
		"name":      u.Name,
		"general":   u.General,
		"x":         int64(u.Pos.X),
		"y":         int64(u.Pos.Y),
		"attack":    int64(u.Attack()),
		"health":    int64(u.Health()),
		"damaged":   u.Damage > 0,
	}
}

func targetVars(s *game.State, playerID string, pos board.Position) map[string]any {
	u, occupied := s.UnitAt(pos)
	if !occupied {
		u = nil
	}
	return map[string]any{
		"player":   playerID,
		"opponent": s.Turn().Opponent(playerID),
		"cell":     map[string]int64{"x": int64(pos.X), "y": int64(pos.Y)},
		"occupied": occupied,
		"unit":     unitVars(u),
	}
}

func filterVars(s *game.State, playerID string, u *game.Unit) map[string]any {
	return map[string]any{
		"player":   playerID,
		"opponent": s.Turn().Opponent(playerID),
		"unit":     unitVars(u),
	}
}

func auraVars(source, candidate *game.Unit) map[string]any {
	return map[string]any{
		"player":   source.Owner,
		"source":   unitVars(source),
		"unit":     unitVars(candidate),
		"distance": int64(board.Chebyshev(source.Pos, candidate.Pos)),
	}
}

func playableVars(s *game.State, playerID string) map[string]any {
	vars := map[string]any{
		"player":    playerID,
		"mana":      int64(0),
		"hand_size": int64(0),
		"turn":      int64(s.Turn().TurnNumber()),
	}
	if p, ok := s.Player(playerID); ok {
		vars["mana"] = int64(p.Mana.Available())
		vars["hand_size"] = int64(len(p.Hand))
	}
	return vars
}

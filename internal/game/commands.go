package game

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

// Command names.
const (
	CmdAttack            = "attack"
	CmdMove              = "move"
	CmdCapture           = "capture"
	CmdEndTurn           = "end_turn"
	CmdPlayCard          = "play_card"
	CmdSelectSpace       = "select_space_on_board"
	CmdChooseCards       = "choose_cards"
	CmdCancelPlayCard    = "cancel_play_card"
	CmdUseResourceAction = "use_resource_action"
	CmdReplaceCard       = "replace_card"
	CmdMulligan          = "mulligan"
	CmdForceEndTurn      = "force_end_turn"
)

// SystemPlayer is the acting player of commands issued by the server itself.
const SystemPlayer = "system"

// Command is one immutable player input.
type Command struct {
	Type     string          `json:"type"`
	PlayerID string          `json:"playerId"`
	Fields   json.RawMessage `json:"fields,omitempty"`
}

// NewCommand builds a command, encoding fields as its payload.
func NewCommand(commandType, playerID string, fields any) (Command, error) {
	cmd := Command{Type: commandType, PlayerID: playerID}
	if fields == nil {
		return cmd, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return Command{}, fmt.Errorf("encode %s fields: %w", commandType, err)
	}
	cmd.Fields = raw
	return cmd, nil
}

// Result is the outcome of a dispatched command. Rejections carry the rule code and
// reason; accepted commands carry the omniscient sequence id after the command.
type Result struct {
	Accepted bool   `json:"accepted"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Seq      int64  `json:"seq"`
}

// Payloads.
type (
	MoveFields struct {
		UnitID string `json:"unitId"`
		X      int    `json:"x"`
		Y      int    `json:"y"`
	}
	AttackFields struct {
		UnitID   string `json:"unitId"`
		TargetID string `json:"targetId"`
	}
	CaptureFields struct {
		UnitID string `json:"unitId"`
	}
	PlayCardFields struct {
		CardID string `json:"cardId"`
	}
	SelectSpaceFields struct {
		X      *int `json:"x,omitempty"`
		Y      *int `json:"y,omitempty"`
		Commit bool `json:"commit,omitempty"`
	}
	ChooseCardsFields struct {
		CardIDs []string `json:"cardIds"`
		Commit  bool     `json:"commit,omitempty"`
	}
	ReplaceCardFields struct {
		CardID string `json:"cardId"`
	}
	MulliganFields struct {
		CardIDs []string `json:"cardIds"`
	}
)

type handlerFunc func(m *Match, ctx context.Context, cmd Command) error

// commandSpec declares how a command is checked and handled.
type commandSpec struct {
	phases rules.PhaseSet
	// duringInteraction allows the command while an interaction is pending.
	duringInteraction bool
	system            bool
	handle            handlerFunc
}

var commandSpecs = map[string]commandSpec{
	CmdMove:              {phases: rules.Phases(rules.PhaseMain), handle: (*Match).handleMove},
	CmdAttack:            {phases: rules.Phases(rules.PhaseMain), handle: (*Match).handleAttack},
	CmdCapture:           {phases: rules.Phases(rules.PhaseMain), handle: (*Match).handleCapture},
	CmdEndTurn:           {phases: rules.Phases(rules.PhaseMain), handle: (*Match).handleEndTurn},
	CmdPlayCard:          {phases: rules.Phases(rules.PhaseMain), handle: (*Match).handlePlayCard},
	CmdSelectSpace:       {phases: rules.Phases(rules.PhaseMain), duringInteraction: true, handle: (*Match).handleSelectSpace},
	CmdChooseCards:       {phases: rules.Phases(rules.PhaseMain), duringInteraction: true, handle: (*Match).handleChooseCards},
	CmdCancelPlayCard:    {phases: rules.Phases(rules.PhaseMain), duringInteraction: true, handle: (*Match).handleCancel},
	CmdUseResourceAction: {phases: rules.Phases(rules.PhaseMain), handle: (*Match).handleResourceAction},
	CmdReplaceCard:       {phases: rules.Phases(rules.PhaseMain), handle: (*Match).handleReplaceCard},
	CmdMulligan:          {phases: rules.Phases(rules.PhaseMulligan), handle: (*Match).handleMulligan},
	CmdForceEndTurn:      {phases: rules.Phases(rules.PhaseMain), duringInteraction: true, system: true, handle: (*Match).handleForceEndTurn},
}

// CommandTypes returns every command name.
func CommandTypes() []string {
	out := make([]string, 0, len(commandSpecs))
	for name := range commandSpecs {
		out = append(out, name)
	}
	return out
}

func decodeFields[T any](cmd Command) (T, error) {
	var v T
	if len(cmd.Fields) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(cmd.Fields, &v); err != nil {
		return v, &rules.ValidationError{Command: cmd.Type, Reason: err.Error(), Err: err}
	}
	return v, nil
}

package game

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/duelforge/tactics-server-go/internal/game/board"
	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

// step is what a card task hands back to the driver: either a pending request or its
// final result.
type step struct {
	request rules.InteractionContext
	err     error
}

func (s step) done() bool { return s.request == nil }

type resumeMsg struct {
	spaces []board.Position
	cards  []string
	err    error
}

// task runs card resolution on its own goroutine. Control passes back and forth over
// unbuffered channels, so exactly one of the driver and the task runs at any time and
// the task may touch match state freely while the driver waits.
type task struct {
	player  string
	source  string
	yield   chan step
	resume  chan resumeMsg
	aborted bool
}

// startTask launches fn and blocks until it either finishes or asks for input.
func startTask(ctx context.Context, player, source string, fn func(ctx context.Context, prompt Prompt) error) (*task, step) {
	t := &task{
		player: player,
		source: source,
		yield:  make(chan step),
		resume: make(chan resumeMsg),
	}
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = rules.Fatal("card.resolve", fmt.Errorf("panic in %s: %v", source, r))
			}
			t.yield <- step{err: err}
		}()
		err = fn(ctx, &taskPrompt{t: t})
	}()
	return t, <-t.yield
}

// answer resumes the suspended task with msg and blocks until it yields again.
func (t *task) answer(msg resumeMsg) step {
	t.resume <- msg
	return <-t.yield
}

// abort resumes the suspended task with ErrInteractionAborted; every later prompt fails
// the same way. It blocks until the task finishes.
func (t *task) abort() error {
	t.aborted = true
	st := t.answer(resumeMsg{err: rules.ErrInteractionAborted})
	for !st.done() {
		st = t.answer(resumeMsg{err: rules.ErrInteractionAborted})
	}
	if errors.Is(st.err, rules.ErrInteractionAborted) {
		return nil
	}
	return st.err
}

type taskPrompt struct {
	t *task
}

func (p *taskPrompt) suspend(ctx context.Context, req rules.InteractionContext) (resumeMsg, error) {
	if p.t.aborted {
		return resumeMsg{}, fmt.Errorf("%s: %w", p.t.source, rules.ErrInteractionAborted)
	}
	if err := ctx.Err(); err != nil {
		return resumeMsg{}, err
	}
	p.t.yield <- step{request: req}
	msg := <-p.t.resume
	if msg.err != nil {
		return resumeMsg{}, fmt.Errorf("%s: %w", p.t.source, msg.err)
	}
	return msg, nil
}

func (p *taskPrompt) SelectSpaces(ctx context.Context, req SpaceRequest) ([]board.Position, error) {
	if len(req.Candidates) == 0 {
		return nil, nil
	}
	player := req.Player
	if player == "" {
		player = p.t.player
	}
	sel := &rules.SpaceSelectionContext{
		Selection: rules.Selection[board.Position]{
			Player:     player,
			Source:     p.t.source,
			Candidates: slices.Clone(req.Candidates),
			Min:        req.Min,
			Max:        req.Max,
			Eligible:   req.Eligible,
		},
		Aoe: req.Aoe,
	}
	msg, err := p.suspend(ctx, sel)
	return msg.spaces, err
}

func (p *taskPrompt) ChooseCards(ctx context.Context, req CardRequest) ([]string, error) {
	if len(req.Candidates) == 0 {
		return nil, nil
	}
	player := req.Player
	if player == "" {
		player = p.t.player
	}
	sel := &rules.CardChoiceContext{
		Selection: rules.Selection[string]{
			Player:     player,
			Source:     p.t.source,
			Candidates: slices.Clone(req.Candidates),
			Min:        req.Min,
			Max:        req.Max,
			Eligible:   req.Eligible,
		},
	}
	msg, err := p.suspend(ctx, sel)
	return msg.cards, err
}

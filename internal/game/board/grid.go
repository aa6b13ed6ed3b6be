// Package board provides grid geometry for the tactics board.
package board

import (
	"fmt"
	"slices"
)

// Position is a cell coordinate. X grows east, Y grows south.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Pos is shorthand for Position{X: x, Y: y}.
func Pos(x, y int) Position {
	return Position{X: x, Y: y}
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// CellID returns the stable entity id of the cell at p.
func (p Position) CellID() string {
	return fmt.Sprintf("cell-%d-%d", p.X, p.Y)
}

// Add offsets p by d.
func (p Position) Add(d Position) Position {
	return Position{X: p.X + d.X, Y: p.Y + d.Y}
}

// Manhattan returns the taxicab distance between a and b.
func Manhattan(a, b Position) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

// Chebyshev returns the king-move distance between a and b.
func Chebyshev(a, b Position) int {
	return max(abs(a.X-b.X), abs(a.Y-b.Y))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var (
	orthogonal = []Position{{0, -1}, {1, 0}, {0, 1}, {-1, 0}}
	diagonal   = []Position{{1, -1}, {1, 1}, {-1, 1}, {-1, -1}}
)

// Grid is a rectangular board.
type Grid struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewGrid validates the dimensions.
func NewGrid(width, height int) (Grid, error) {
	if width <= 0 || height <= 0 {
		return Grid{}, fmt.Errorf("invalid board size %dx%d", width, height)
	}
	return Grid{Width: width, Height: height}, nil
}

// InBounds reports whether p lies on the board.
func (g Grid) InBounds(p Position) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.Width && p.Y < g.Height
}

// Cells returns every position in row-major order.
func (g Grid) Cells() []Position {
	cells := make([]Position, 0, g.Width*g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			cells = append(cells, Position{X: x, Y: y})
		}
	}
	return cells
}

// Neighbors returns the in-bounds orthogonal neighbours of p.
func (g Grid) Neighbors(p Position) []Position {
	return g.offsets(p, orthogonal)
}

// Adjacent returns the in-bounds cells surrounding p, diagonals included.
func (g Grid) Adjacent(p Position) []Position {
	out := g.offsets(p, orthogonal)
	out = append(out, g.offsets(p, diagonal)...)
	Sort(out)
	return out
}

func (g Grid) offsets(p Position, deltas []Position) []Position {
	out := make([]Position, 0, len(deltas))
	for _, d := range deltas {
		if n := p.Add(d); g.InBounds(n) {
			out = append(out, n)
		}
	}
	return out
}

// WithinChebyshev returns every in-bounds cell at Chebyshev distance 1..r from center.
func (g Grid) WithinChebyshev(center Position, r int) []Position {
	var out []Position
	for _, c := range g.Cells() {
		if d := Chebyshev(center, c); d > 0 && d <= r {
			out = append(out, c)
		}
	}
	return out
}

// Reachable runs a breadth-first walk over orthogonal steps from start, entering only
// cells for which passable holds, up to steps moves. The start cell is excluded. The
// result is sorted row-major.
func (g Grid) Reachable(start Position, steps int, passable func(Position) bool) []Position {
	if steps <= 0 || !g.InBounds(start) {
		return nil
	}
	dist := map[Position]int{start: 0}
	queue := []Position{start}
	var out []Position
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if dist[cur] == steps {
			continue
		}
		for _, n := range g.Neighbors(cur) {
			if _, seen := dist[n]; seen {
				continue
			}
			if passable != nil && !passable(n) {
				continue
			}
			dist[n] = dist[cur] + 1
			queue = append(queue, n)
			out = append(out, n)
		}
	}
	Sort(out)
	return out
}

// Cross returns center plus its orthogonal neighbours, clipped to the board.
func (g Grid) Cross(center Position) []Position {
	if !g.InBounds(center) {
		return nil
	}
	out := append([]Position{center}, g.Neighbors(center)...)
	Sort(out)
	return out
}

// Row returns every cell in row y.
func (g Grid) Row(y int) []Position {
	if y < 0 || y >= g.Height {
		return nil
	}
	out := make([]Position, 0, g.Width)
	for x := 0; x < g.Width; x++ {
		out = append(out, Position{X: x, Y: y})
	}
	return out
}

// Sort orders positions row-major in place.
func Sort(ps []Position) {
	slices.SortFunc(ps, func(a, b Position) int {
		if a.Y != b.Y {
			return a.Y - b.Y
		}
		return a.X - b.X
	})
}

// Contains reports whether p is in ps.
func Contains(ps []Position, p Position) bool {
	return slices.Contains(ps, p)
}

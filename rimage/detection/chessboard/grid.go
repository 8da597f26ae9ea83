package chessboard

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
)

// cell is a grid coordinate (column, row) relative to the seed.
type cell struct {
	X, Y int
}

func (c cell) add(o cell) cell { return cell{c.X + o.X, c.Y + o.Y} }

func (c cell) sub(o cell) cell { return cell{c.X - o.X, c.Y - o.Y} }

var axisSteps = []cell{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// ChessGrid is a rectangular set of corners grown from a seed. Points is indexed [row][column]
// in grid order, which is not yet the canonical board reading order.
type ChessGrid struct {
	Width  int
	Height int
	Points [][]r2.Point
}

// gridGrower assigns candidate corners to grid cells.
type gridGrower struct {
	candidates []r2.Point
	used       []bool
	cells      map[cell]int
	minX, maxX int
	minY, maxY int
	maxDim     int
	minDim     int
	tolerance  float64
}

func newGridGrower(candidates []r2.Point, spec PatternSpec, tolerance float64) *gridGrower {
	return &gridGrower{
		candidates: candidates,
		used:       make([]bool, len(candidates)),
		cells:      map[cell]int{},
		maxDim:     max(spec.Columns, spec.Rows),
		minDim:     min(spec.Columns, spec.Rows),
		tolerance:  tolerance,
	}
}

func (g *gridGrower) assign(c cell, idx int) {
	if len(g.cells) == 0 {
		g.minX, g.maxX, g.minY, g.maxY = c.X, c.X, c.Y, c.Y
	}
	g.cells[c] = idx
	g.used[idx] = true
	g.minX, g.maxX = min(g.minX, c.X), max(g.maxX, c.X)
	g.minY, g.maxY = min(g.minY, c.Y), max(g.maxY, c.Y)
}

func (g *gridGrower) point(c cell) (r2.Point, bool) {
	idx, ok := g.cells[c]
	if !ok {
		return r2.Point{}, false
	}
	return g.candidates[idx], true
}

// allowed reports whether adding c keeps the grid extent compatible with the pattern in either
// axis assignment.
func (g *gridGrower) allowed(c cell) bool {
	w := max(g.maxX, c.X) - min(g.minX, c.X) + 1
	h := max(g.maxY, c.Y) - min(g.minY, c.Y) + 1
	if w > g.maxDim || h > g.maxDim {
		return false
	}
	return !(w > g.minDim && h > g.minDim)
}

// predict extrapolates the position of c from the already assigned cells. It returns the mean
// of every available prediction and the smallest grid step those predictions relied on.
func (g *gridGrower) predict(c cell) (r2.Point, float64, bool) {
	var sum r2.Point
	count := 0
	step := math.Inf(1)
	for _, d := range axisSteps {
		a, okA := g.point(c.sub(d))
		b, okB := g.point(c.sub(d).sub(d))
		if !okA || !okB {
			continue
		}
		delta := a.Sub(b)
		sum = sum.Add(a.Add(delta))
		step = math.Min(step, delta.Norm())
		count++
	}
	// parallelogram completion from an adjacent corner of a grid square
	for _, dx := range []cell{{1, 0}, {-1, 0}} {
		for _, dy := range []cell{{0, 1}, {0, -1}} {
			a, okA := g.point(c.sub(dx))
			b, okB := g.point(c.sub(dy))
			o, okO := g.point(c.sub(dx).sub(dy))
			if !okA || !okB || !okO {
				continue
			}
			sum = sum.Add(a.Add(b).Sub(o))
			step = math.Min(step, math.Min(a.Sub(o).Norm(), b.Sub(o).Norm()))
			count++
		}
	}
	if count == 0 {
		return r2.Point{}, 0, false
	}
	return sum.Mul(1 / float64(count)), step, true
}

// nearestUnused returns the closest unused candidate to pt within maxDist.
func (g *gridGrower) nearestUnused(pt r2.Point, maxDist float64) (int, bool) {
	best, bestDist := -1, maxDist
	for i, cand := range g.candidates {
		if g.used[i] {
			continue
		}
		if d := cand.Sub(pt).Norm(); d <= bestDist {
			if d == bestDist && best >= 0 {
				continue
			}
			best, bestDist = i, d
		}
	}
	return best, best >= 0
}

// frontier returns the empty cells adjacent to the grid, in row-major order.
func (g *gridGrower) frontier() []cell {
	seen := map[cell]bool{}
	out := make([]cell, 0)
	for c := range g.cells {
		for _, d := range axisSteps {
			n := c.add(d)
			if _, taken := g.cells[n]; taken || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

// grow extends the grid until no frontier cell can be matched.
func (g *gridGrower) grow() {
	for round := 0; round < len(g.candidates); round++ {
		added := false
		for _, c := range g.frontier() {
			if !g.allowed(c) {
				continue
			}
			pred, step, ok := g.predict(c)
			if !ok || step == 0 {
				continue
			}
			if idx, found := g.nearestUnused(pred, g.tolerance*step); found {
				g.assign(c, idx)
				added = true
			}
		}
		if !added {
			return
		}
	}
}

func (g *gridGrower) toGrid() *ChessGrid {
	grid := &ChessGrid{
		Width:  g.maxX - g.minX + 1,
		Height: g.maxY - g.minY + 1,
	}
	grid.Points = make([][]r2.Point, grid.Height)
	for y := range grid.Points {
		grid.Points[y] = make([]r2.Point, grid.Width)
		for x := range grid.Points[y] {
			grid.Points[y][x], _ = g.point(cell{x + g.minX, y + g.minY})
		}
	}
	return grid
}

// seedOrder returns candidate indices sorted by distance to the candidates' centroid.
func seedOrder(candidates []r2.Point) []int {
	var centroid r2.Point
	for _, c := range candidates {
		centroid = centroid.Add(c)
	}
	centroid = centroid.Mul(1 / float64(len(candidates)))
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return candidates[order[a]].Sub(centroid).Norm() < candidates[order[b]].Sub(centroid).Norm()
	})
	return order
}

// seedAxes picks the nearest neighbour of the seed as the first axis and the nearest roughly
// perpendicular candidate as the second one.
func seedAxes(candidates []r2.Point, seed int) (int, int, bool) {
	origin := candidates[seed]
	first, firstDist := -1, math.Inf(1)
	for i, c := range candidates {
		if i == seed {
			continue
		}
		if d := c.Sub(origin).Norm(); d > 0 && d < firstDist {
			first, firstDist = i, d
		}
	}
	if first < 0 {
		return 0, 0, false
	}
	u := candidates[first].Sub(origin).Normalize()
	second, secondDist := -1, math.Inf(1)
	for i, c := range candidates {
		if i == seed || i == first {
			continue
		}
		v := c.Sub(origin)
		d := v.Norm()
		if d == 0 || math.Abs(u.Dot(v)/d) >= 0.5 {
			continue
		}
		if d < secondDist {
			second, secondDist = i, d
		}
	}
	if second < 0 {
		return 0, 0, false
	}
	return first, second, true
}

// GrowGrid tries successive seeds and returns the first fully populated grid matching the
// pattern dimensions in either axis assignment.
func GrowGrid(candidates []r2.Point, spec PatternSpec, cfg GridConfiguration) (*ChessGrid, bool) {
	if len(candidates) < spec.Size() {
		return nil, false
	}
	order := seedOrder(candidates)
	for n := 0; n < cfg.MaxSeeds && n < len(order); n++ {
		seed := order[n]
		first, second, ok := seedAxes(candidates, seed)
		if !ok {
			continue
		}
		g := newGridGrower(candidates, spec, cfg.Tolerance)
		g.assign(cell{0, 0}, seed)
		g.assign(cell{1, 0}, first)
		g.assign(cell{0, 1}, second)
		g.grow()

		grid := g.toGrid()
		dimsMatch := (grid.Width == spec.Columns && grid.Height == spec.Rows) ||
			(grid.Width == spec.Rows && grid.Height == spec.Columns)
		if dimsMatch && len(g.cells) == spec.Size() {
			return grid, true
		}
	}
	return nil, false
}

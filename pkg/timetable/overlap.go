package timetable

import "sort"

// OverlapGraph records which slots occupy simultaneous wall-clock time.
// It is built once per run and is read-only afterwards.
type OverlapGraph struct {
	adjacency map[string]map[string]struct{}
}

// NewOverlapGraph compares every unordered pair of slots. Pairs pinned to
// different explicit days never overlap; generic slots overlap by time alone.
func NewOverlapGraph(slots []TimeSlot) *OverlapGraph {
	g := &OverlapGraph{adjacency: make(map[string]map[string]struct{}, len(slots))}
	for i := range slots {
		a := slots[i]
		g.ensure(a.ID)
		for j := i + 1; j < len(slots); j++ {
			b := slots[j]
			if a.ID == b.ID {
				continue
			}
			if !a.IsGeneric() && !b.IsGeneric() && a.Day != b.Day {
				continue
			}
			if a.Start < b.End && b.Start < a.End {
				g.link(a.ID, b.ID)
			}
		}
	}
	return g
}

func (g *OverlapGraph) ensure(id string) {
	if _, ok := g.adjacency[id]; !ok {
		g.adjacency[id] = make(map[string]struct{})
	}
}

func (g *OverlapGraph) link(a, b string) {
	g.ensure(a)
	g.ensure(b)
	g.adjacency[a][b] = struct{}{}
	g.adjacency[b][a] = struct{}{}
}

// Overlaps is reflexive and symmetric.
func (g *OverlapGraph) Overlaps(a, b string) bool {
	if a == b {
		return true
	}
	if g == nil {
		return false
	}
	_, ok := g.adjacency[a][b]
	return ok
}

// OverlappingOf returns the other slots overlapping id, sorted. The slot itself is not included.
func (g *OverlapGraph) OverlappingOf(id string) []string {
	if g == nil {
		return nil
	}
	neighbours := g.adjacency[id]
	result := make([]string, 0, len(neighbours))
	for other := range neighbours {
		result = append(result, other)
	}
	sort.Strings(result)
	return result
}

func (g *OverlapGraph) neighbours(id string) map[string]struct{} {
	if g == nil {
		return nil
	}
	return g.adjacency[id]
}

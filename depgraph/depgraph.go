// Package depgraph builds and queries the Dependency Graph: a
// last-writer map over a notebook's cells, producing upstream/downstream
// edges that a state or orchestration layer can traverse.
package depgraph

import (
	"sort"
	"strings"

	"cellwright/cellparse"
	"cellwright/notebook"
)

// Node is one cell's position in the dependency graph.
type Node struct {
	Index       int
	Definitions map[string]struct{}
	References  map[string]struct{}
	Upstream    map[int]struct{}
	Downstream  map[int]struct{}
	Label       string
}

// Graph is the full dependency graph of a notebook's code cells.
type Graph struct {
	Nodes map[int]*Node
	order []int // code-cell indices in source order, for deterministic iteration
}

// Build runs the single-pass last-writer construction described in
// spec.md §4.3 over nb's code cells.
func Build(nb notebook.Notebook) *Graph {
	g := &Graph{Nodes: map[int]*Node{}}

	lastWriter := map[string]int{}

	cells := nb.Cells()
	for i, c := range cells {
		if c.Kind != notebook.KindCode {
			continue
		}
		analysis := cellparse.Analyze(c.Source)

		node := &Node{
			Index:       i,
			Definitions: analysis.Definitions,
			References:  analysis.References,
			Upstream:    map[int]struct{}{},
			Downstream:  map[int]struct{}{},
			Label:       label(c.Source),
		}
		g.Nodes[i] = node
		g.order = append(g.order, i)

		for r := range analysis.References {
			if writer, ok := lastWriter[r]; ok && writer != i {
				node.Upstream[writer] = struct{}{}
				g.Nodes[writer].Downstream[i] = struct{}{}
			}
		}
		for d := range analysis.Definitions {
			lastWriter[d] = i
		}
	}

	return g
}

// label extracts a short display label for a cell: the first non-blank
// line with a leading "# " stripped (so a comment line yields its text),
// truncated to 50 characters with an ellipsis.
func label(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		trimmed = strings.TrimPrefix(trimmed, "# ")
		if trimmed == "" {
			continue
		}
		if len(trimmed) > 50 {
			return trimmed[:50] + "..."
		}
		return trimmed
	}
	return ""
}

// Upstream returns the sorted indices of cells index depends on,
// computed by breadth-first traversal, excluding index itself.
func (g *Graph) Upstream(index int) []int {
	return g.bfs(index, func(n *Node) map[int]struct{} { return n.Upstream })
}

// Downstream returns the sorted indices of cells that depend on index.
func (g *Graph) Downstream(index int) []int {
	return g.bfs(index, func(n *Node) map[int]struct{} { return n.Downstream })
}

func (g *Graph) bfs(start int, edges func(*Node) map[int]struct{}) []int {
	visited := map[int]struct{}{start: {}}
	queue := []int{start}
	var result []int

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		node, ok := g.Nodes[cur]
		if !ok {
			continue
		}
		for next := range edges(node) {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			result = append(result, next)
			queue = append(queue, next)
		}
	}

	sort.Ints(result)
	return result
}

// IsDead reports the advisory dead-code heuristic: a node with
// non-empty references and empty downstream is dead unless it is the
// numerically last cell (assumed a terminal sink).
func (g *Graph) IsDead(index int) bool {
	node, ok := g.Nodes[index]
	if !ok || len(node.References) == 0 || len(node.Downstream) > 0 {
		return false
	}
	return index != g.lastIndex()
}

func (g *Graph) lastIndex() int {
	max := -1
	for idx := range g.Nodes {
		if idx > max {
			max = idx
		}
	}
	return max
}

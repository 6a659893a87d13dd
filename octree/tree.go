// Package octree reduces true-color images to at most 256 colors using
// octree color quantization.
//
// Colors are routed down an 8-ary tree on their most significant bits. The
// number of leaves is kept within the palette budget while colors are added,
// by collapsing the most populated reducible node at the deepest level that
// has one. Each leaf then becomes one palette entry: the mean of every pixel
// that reached it.
package octree

import "golang.org/x/exp/slices"

type handle int32

const noNode handle = -1

// samples summarizes the pixels routed through a node: how many, their
// channel sums, and each distinct color in the order first seen.
type samples struct {
	pixels  int
	r, g, b uint64
	colors  []Color
}

func (s *samples) add(c Color, distinct bool) {
	s.pixels++
	s.r += uint64(c.R)
	s.g += uint64(c.G)
	s.b += uint64(c.B)
	if distinct {
		s.colors = append(s.colors, c)
	}
}

func (s *samples) mean() Color {
	if s.pixels == 0 {
		return Color{}
	}
	n := uint64(s.pixels)
	return Color{uint8(s.r / n), uint8(s.g / n), uint8(s.b / n)}
}

type node struct {
	children   [8]handle
	childCount int
	level      int
	// reduced nodes have had their subtree collapsed into them and accept
	// no children.
	reduced bool
	samples samples
}

func emptyNode(level int) node {
	n := node{level: level}
	for i := range n.children {
		n.children[i] = noNode
	}
	return n
}

// handleSet is a set of node handles with constant time add and remove.
// Iteration order depends only on the sequence of operations.
type handleSet struct {
	items []handle
	pos   map[handle]int
}

func newHandleSet() handleSet {
	return handleSet{pos: make(map[handle]int)}
}

func (s *handleSet) add(h handle) {
	if _, ok := s.pos[h]; ok {
		return
	}
	s.pos[h] = len(s.items)
	s.items = append(s.items, h)
}

func (s *handleSet) remove(h handle) {
	i, ok := s.pos[h]
	if !ok {
		return
	}
	last := s.items[len(s.items)-1]
	s.items[i] = last
	s.pos[last] = i
	s.items = s.items[:len(s.items)-1]
	delete(s.pos, h)
}

func (s *handleSet) len() int {
	return len(s.items)
}

// Tree is an octree that accumulates the colors of one image. It must only
// be used from one goroutine at a time, and is meant to be discarded after
// its ColorIndexTable is built.
type Tree struct {
	nodes []node
	free  []handle
	root  handle

	leaves handleSet
	// levels[d] holds the nodes at depth d that have had at least two
	// children, which are the candidates for reduction.
	levels []handleSet

	// seen holds every color added so far, by Key.
	seen map[uint32]struct{}

	maxColors      int
	bits           int
	transparent    Color
	hasTransparent bool

	reductions int
}

// NewTree returns an empty tree that will produce at most maxColors palette
// entries, routing colors on their top bits bits per channel. If transparent
// is not nil that color is kept out of the tree and reserved as palette entry
// 0, which leaves maxColors-1 entries for the tree's leaves.
func NewTree(maxColors, bits int, transparent *Color) (*Tree, error) {
	if err := checkArgs(maxColors, bits); err != nil {
		return nil, err
	}
	t := &Tree{
		leaves:    newHandleSet(),
		levels:    make([]handleSet, bits-1),
		seen:      make(map[uint32]struct{}),
		maxColors: maxColors,
		bits:      bits,
	}
	for i := range t.levels {
		t.levels[i] = newHandleSet()
	}
	if transparent != nil {
		t.transparent = *transparent
		t.hasTransparent = true
		t.maxColors--
	}
	t.root = t.newNode(0)
	return t, nil
}

func (t *Tree) newNode(level int) handle {
	if n := len(t.free); n > 0 {
		h := t.free[n-1]
		t.free = t.free[:n-1]
		t.nodes[h] = emptyNode(level)
		return h
	}
	t.nodes = append(t.nodes, emptyNode(level))
	return handle(len(t.nodes) - 1)
}

// Leaves returns the current number of leaves, which is the number of
// opaque palette entries the tree would produce now.
func (t *Tree) Leaves() int {
	return t.leaves.len()
}

// Reductions returns how many times a subtree has been collapsed.
func (t *Tree) Reductions() int {
	return t.reductions
}

// AddColor routes c into the tree. The transparent color is ignored.
func (t *Tree) AddColor(c Color) {
	if t.hasTransparent && c == t.transparent {
		return
	}
	if t.leaves.len() >= t.maxColors && t.wouldGrow(c) {
		t.reduce()
	}

	key := c.Key()
	_, known := t.seen[key]
	if !known {
		t.seen[key] = struct{}{}
	}

	// A color seen before was recorded on every node of its path, and its
	// path can only have been shortened since, so it is new to a node only
	// if it is new to the tree.
	last := t.bits - 1
	h := t.root
	for level := 0; ; level++ {
		t.nodes[h].samples.add(c, !known)
		if level == last || t.nodes[h].reduced {
			return
		}
		i := c.childIndex(level)
		child := t.nodes[h].children[i]
		if child == noNode {
			child = t.newNode(level + 1)
			t.nodes[h].children[i] = child
			t.nodes[h].childCount++
			if t.nodes[h].childCount == 2 {
				t.levels[level].add(h)
			}
			if level+1 == last {
				t.leaves.add(child)
			}
		}
		h = child
	}
}

// wouldGrow reports whether adding c would create a new leaf.
func (t *Tree) wouldGrow(c Color) bool {
	h := t.root
	for level := 0; level < t.bits-1; level++ {
		if t.nodes[h].reduced {
			return false
		}
		h = t.nodes[h].children[c.childIndex(level)]
		if h == noNode {
			return true
		}
	}
	return false
}

// reduce collapses one node, chosen from the deepest non-empty level below
// the root as the one with the most pixels. Ties go to the lowest handle.
func (t *Tree) reduce() bool {
	for level := len(t.levels) - 1; level >= 1; level-- {
		set := &t.levels[level]
		if set.len() == 0 {
			continue
		}
		best := noNode
		for _, h := range set.items {
			if best == noNode {
				best = h
				continue
			}
			p, bp := t.nodes[h].samples.pixels, t.nodes[best].samples.pixels
			if p > bp || (p == bp && h < best) {
				best = h
			}
		}
		t.collapse(best)
		return true
	}
	Logger.Debug("tree full with nothing to reduce", "leaves", t.leaves.len(), "max", t.maxColors)
	return false
}

// collapse discards the subtree below h and turns h into a reduced leaf. The
// samples of h already include every pixel of the discarded subtree.
func (t *Tree) collapse(h handle) {
	n := &t.nodes[h]
	children := n.children
	for i := range n.children {
		n.children[i] = noNode
	}
	n.childCount = 0
	n.reduced = true
	level := n.level

	for _, c := range children {
		if c != noNode {
			t.discard(c)
		}
	}
	t.levels[level].remove(h)
	t.leaves.add(h)
	t.reductions++
}

func (t *Tree) discard(h handle) {
	for _, c := range t.nodes[h].children {
		if c != noNode {
			t.discard(c)
		}
	}
	t.leaves.remove(h)
	if level := t.nodes[h].level; level < len(t.levels) {
		t.levels[level].remove(h)
	}
	t.nodes[h] = emptyNode(0)
	t.free = append(t.free, h)
}

// ColorIndexTable builds the palette and the color to index mapping from
// the current leaves. Leaves are assigned indexes in ascending handle order.
func (t *Tree) ColorIndexTable() *ColorIndexTable {
	leaves := slices.Clone(t.leaves.items)
	slices.Sort(leaves)

	ct := &ColorIndexTable{
		palette:     make([]Color, 0, len(leaves)+1),
		index:       make(map[uint32]int, len(t.seen)+1),
		transparent: t.hasTransparent,
	}
	if t.hasTransparent {
		ct.palette = append(ct.palette, t.transparent)
		ct.index[t.transparent.Key()] = 0
	}
	for _, h := range leaves {
		s := &t.nodes[h].samples
		avg := s.mean()
		if t.hasTransparent && avg == t.transparent {
			avg.B ^= 1
		}
		i := len(ct.palette)
		ct.palette = append(ct.palette, avg)
		for _, c := range s.colors {
			ct.index[c.Key()] = i
		}
	}
	return ct
}

package slab

import (
	"fmt"

	"github.com/cloudx-io/batchauction/auctionerr"
)

// DefaultMaxTraversalDepth covers the deepest tree 128-bit keys can produce.
const DefaultMaxTraversalDepth = 130

// Iterator walks leaves in key order with an explicit stack. It is lazy, finite and
// single-use; query the slab again to restart.
type Iterator struct {
	s        *Slab
	desc     bool
	stack    []uint32
	maxDepth int
	err      error
}

// Ascending iterates from the smallest key. maxDepth bounds the traversal stack; zero
// selects DefaultMaxTraversalDepth.
func (s *Slab) Ascending(maxDepth int) *Iterator { return s.iter(false, maxDepth) }

// Descending iterates from the largest key.
func (s *Slab) Descending(maxDepth int) *Iterator { return s.iter(true, maxDepth) }

func (s *Slab) iter(desc bool, maxDepth int) *Iterator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxTraversalDepth
	}
	it := &Iterator{s: s, desc: desc, maxDepth: maxDepth}
	if s.root != nilIndex {
		it.stack = append(it.stack, s.root)
	}
	return it
}

// Next returns the next leaf. It returns false at the end or after an error.
func (it *Iterator) Next() (Leaf, bool) {
	for it.err == nil && len(it.stack) > 0 {
		idx := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]

		n := &it.s.nodes[idx]
		if n.tag == tagLeaf {
			return n.leaf, true
		}
		if len(it.stack)+2 > it.maxDepth {
			it.err = fmt.Errorf("traversal deeper than %d: %w", it.maxDepth, auctionerr.ErrSlabIteratorOverflow)
			return Leaf{}, false
		}
		first, second := n.children[0], n.children[1]
		if it.desc {
			first, second = second, first
		}
		it.stack = append(it.stack, second, first)
	}
	return Leaf{}, false
}

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Collect drains the iterator.
func (it *Iterator) Collect() ([]Leaf, error) {
	var out []Leaf
	for {
		l, ok := it.Next()
		if !ok {
			return out, it.Err()
		}
		out = append(out, l)
	}
}

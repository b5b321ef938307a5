// Package slab holds resting orders in a bounded, arena-allocated crit-bit tree.
//
// Nodes live in a fixed array and refer to each other by index, so a slab serialises to a
// constant-size record and never allocates after creation. Keys are 128-bit order ids;
// tree order is key order.
package slab

import (
	"fmt"
	"math/bits"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/auctionerr"
)

// Key is a 128-bit order id compared as an unsigned integer.
type Key struct {
	Hi uint64
	Lo uint64
}

// Less reports k < o.
func (k Key) Less(o Key) bool {
	if k.Hi != o.Hi {
		return k.Hi < o.Hi
	}
	return k.Lo < o.Lo
}

func (k Key) String() string {
	return fmt.Sprintf("%016x%016x", k.Hi, k.Lo)
}

// bit returns bit i counted from the most significant end.
func (k Key) bit(i uint8) uint32 {
	if i < 64 {
		return uint32(k.Hi>>(63-i)) & 1
	}
	return uint32(k.Lo>>(127-i)) & 1
}

// sharedPrefix returns the number of leading bits k and o have in common.
func sharedPrefix(k, o Key) uint8 {
	if x := k.Hi ^ o.Hi; x != 0 {
		return uint8(bits.LeadingZeros64(x))
	}
	if x := k.Lo ^ o.Lo; x != 0 {
		return 64 + uint8(bits.LeadingZeros64(x))
	}
	return 128
}

// Leaf is a resting order.
type Leaf struct {
	Key       Key
	Owner     address.Identity
	OwnerSlot uint8
	Qty       uint64
}

type nodeTag uint8

const (
	tagFree nodeTag = iota
	tagInner
	tagLeaf
)

const nilIndex = ^uint32(0)

type node struct {
	tag nodeTag
	// inner nodes: keys below share the first prefixLen bits of key.
	prefixLen uint8
	children  [2]uint32
	leaf      Leaf
	next      uint32
}

// Slab is a bounded crit-bit tree. The zero value is not usable; call New.
type Slab struct {
	nodes     []node
	root      uint32
	freeHead  uint32
	leafCount uint32
	capacity  uint32
}

// New returns an empty slab holding at most capacity leaves.
func New(capacity uint32) *Slab {
	if capacity == 0 {
		capacity = 1
	}
	s := &Slab{
		nodes:    make([]node, 2*capacity-1),
		capacity: capacity,
	}
	s.reset()
	return s
}

func (s *Slab) reset() {
	s.root = nilIndex
	s.leafCount = 0
	for i := range s.nodes {
		s.nodes[i] = node{tag: tagFree, next: uint32(i + 1)}
	}
	s.nodes[len(s.nodes)-1].next = nilIndex
	s.freeHead = 0
}

// Len returns the number of leaves.
func (s *Slab) Len() int { return int(s.leafCount) }

// Cap returns the leaf capacity.
func (s *Slab) Cap() int { return int(s.capacity) }

// Empty reports whether the slab has no leaves.
func (s *Slab) Empty() bool { return s.leafCount == 0 }

func (s *Slab) alloc(n node) uint32 {
	idx := s.freeHead
	s.freeHead = s.nodes[idx].next
	n.next = nilIndex
	s.nodes[idx] = n
	return idx
}

func (s *Slab) release(idx uint32) {
	s.nodes[idx] = node{tag: tagFree, next: s.freeHead}
	s.freeHead = idx
}

// keyOf returns the representative key of a node: the leaf key, or for inner nodes
// the key of any descendant, which carries the shared prefix.
func (s *Slab) keyOf(idx uint32) Key {
	for s.nodes[idx].tag == tagInner {
		idx = s.nodes[idx].children[0]
	}
	return s.nodes[idx].leaf.Key
}

// Insert adds leaf. It fails with ErrSlabFull at capacity and ErrDuplicateOrderKey if
// the key is already present.
func (s *Slab) Insert(leaf Leaf) error {
	if s.leafCount == s.capacity {
		return fmt.Errorf("insert %s: %w", leaf.Key, auctionerr.ErrSlabFull)
	}
	if s.root == nilIndex {
		s.root = s.alloc(node{tag: tagLeaf, leaf: leaf})
		s.leafCount++
		return nil
	}

	parent, side := nilIndex, uint32(0)
	cur := s.root
	for {
		n := &s.nodes[cur]
		nodeKey := s.keyOf(cur)
		shared := sharedPrefix(leaf.Key, nodeKey)
		if n.tag == tagLeaf && shared == 128 {
			return fmt.Errorf("insert %s: %w", leaf.Key, auctionerr.ErrDuplicateOrderKey)
		}
		if n.tag == tagLeaf || shared < n.prefixLen {
			newLeaf := s.alloc(node{tag: tagLeaf, leaf: leaf})
			inner := node{tag: tagInner, prefixLen: shared}
			dir := leaf.Key.bit(shared)
			inner.children[dir] = newLeaf
			inner.children[1-dir] = cur
			innerIdx := s.alloc(inner)
			if parent == nilIndex {
				s.root = innerIdx
			} else {
				s.nodes[parent].children[side] = innerIdx
			}
			s.leafCount++
			return nil
		}
		parent, side = cur, leaf.Key.bit(n.prefixLen)
		cur = n.children[side]
	}
}

// find returns the index of the leaf for key, with its parent and grandparent.
func (s *Slab) find(key Key) (leaf, parent, grand uint32, ok bool) {
	leaf, parent, grand = s.root, nilIndex, nilIndex
	if leaf == nilIndex {
		return leaf, parent, grand, false
	}
	for s.nodes[leaf].tag == tagInner {
		n := &s.nodes[leaf]
		grand, parent = parent, leaf
		leaf = n.children[key.bit(n.prefixLen)]
	}
	return leaf, parent, grand, s.nodes[leaf].leaf.Key == key
}

// Find returns the leaf stored under key.
func (s *Slab) Find(key Key) (Leaf, bool) {
	idx, _, _, ok := s.find(key)
	if !ok {
		return Leaf{}, false
	}
	return s.nodes[idx].leaf, true
}

// SetQty overwrites the remaining quantity of the leaf under key.
func (s *Slab) SetQty(key Key, qty uint64) error {
	idx, _, _, ok := s.find(key)
	if !ok {
		return fmt.Errorf("set qty %s: %w", key, auctionerr.ErrNodeKeyNotFound)
	}
	s.nodes[idx].leaf.Qty = qty
	return nil
}

// Remove deletes and returns the leaf under key. Absent keys return ErrOrderIDNotFound.
func (s *Slab) Remove(key Key) (Leaf, error) {
	idx, parent, grand, ok := s.find(key)
	if !ok {
		return Leaf{}, fmt.Errorf("remove %s: %w", key, auctionerr.ErrOrderIDNotFound)
	}
	removed := s.nodes[idx].leaf
	if parent == nilIndex {
		s.root = nilIndex
	} else {
		p := s.nodes[parent]
		sibling := p.children[0]
		if sibling == idx {
			sibling = p.children[1]
		}
		if grand == nilIndex {
			s.root = sibling
		} else {
			g := &s.nodes[grand]
			if g.children[0] == parent {
				g.children[0] = sibling
			} else {
				g.children[1] = sibling
			}
		}
		s.release(parent)
	}
	s.release(idx)
	s.leafCount--
	return removed, nil
}

func (s *Slab) edge(dir int) (Leaf, bool) {
	if s.root == nilIndex {
		return Leaf{}, false
	}
	idx := s.root
	for s.nodes[idx].tag == tagInner {
		idx = s.nodes[idx].children[dir]
	}
	return s.nodes[idx].leaf, true
}

// Min returns the leaf with the smallest key.
func (s *Slab) Min() (Leaf, bool) { return s.edge(0) }

// Max returns the leaf with the largest key.
func (s *Slab) Max() (Leaf, bool) { return s.edge(1) }

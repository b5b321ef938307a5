package slab

import (
	"fmt"

	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/layout"
)

const recordName = "Slab"

// MaxCapacity bounds the leaves a persisted slab may declare.
const MaxCapacity = 1 << 16

// MarshalBinary encodes the whole arena, so the size depends only on capacity.
func (s *Slab) MarshalBinary() ([]byte, error) {
	w := layout.NewWriter(recordName)
	w.U32(s.capacity)
	w.U32(s.root)
	w.U32(s.freeHead)
	w.U32(s.leafCount)
	for i := range s.nodes {
		n := &s.nodes[i]
		w.U8(uint8(n.tag))
		w.U8(n.prefixLen)
		w.U32(n.children[0])
		w.U32(n.children[1])
		w.U32(n.next)
		w.U64(n.leaf.Key.Hi)
		w.U64(n.leaf.Key.Lo)
		w.Fixed(n.leaf.Owner[:])
		w.U8(n.leaf.OwnerSlot)
		w.U64(n.leaf.Qty)
	}
	return w.Finish(), nil
}

// Unmarshal decodes a slab written by MarshalBinary.
func Unmarshal(b []byte) (*Slab, error) {
	r, err := layout.NewReader(recordName, b)
	if err != nil {
		return nil, err
	}
	capacity := r.U32()
	if r.Err() != nil || capacity == 0 || capacity > MaxCapacity {
		return nil, fmt.Errorf("slab capacity %d: %w", capacity, auctionerr.ErrCorruptRecord)
	}
	s := &Slab{
		capacity:  capacity,
		root:      r.U32(),
		freeHead:  r.U32(),
		leafCount: r.U32(),
		nodes:     make([]node, 2*capacity-1),
	}
	for i := range s.nodes {
		n := &s.nodes[i]
		n.tag = nodeTag(r.U8())
		n.prefixLen = r.U8()
		n.children[0] = r.U32()
		n.children[1] = r.U32()
		n.next = r.U32()
		n.leaf.Key.Hi = r.U64()
		n.leaf.Key.Lo = r.U64()
		r.Fixed(n.leaf.Owner[:])
		n.leaf.OwnerSlot = r.U8()
		n.leaf.Qty = r.U64()
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	if s.leafCount > s.capacity || (s.root != nilIndex && int(s.root) >= len(s.nodes)) {
		return nil, fmt.Errorf("slab header out of range: %w", auctionerr.ErrCorruptRecord)
	}
	return s, nil
}

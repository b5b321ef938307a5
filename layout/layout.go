// Package layout reads and writes the fixed-layout records persisted for an auction.
//
// Every record starts with an 8-byte discriminator derived from its type name. Integers
// are little-endian and fixed width, and variable-length byte fields carry a u32 length
// prefix.
package layout

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/cloudx-io/batchauction/auctionerr"
)

// DiscriminatorSize is the length of a record tag.
const DiscriminatorSize = 8

// Discriminator returns sha256("account:" + name)[:8].
func Discriminator(name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// Writer appends fields to a buffer.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter starts a record with the discriminator for name.
func NewWriter(name string) *Writer {
	w := &Writer{}
	d := Discriminator(name)
	w.buf.Write(d[:])
	return w
}

func (w *Writer) U8(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

func (w *Writer) U32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) U64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

// Fixed writes b verbatim.
func (w *Writer) Fixed(b []byte) { w.buf.Write(b) }

// Bytes writes a u32 length prefix followed by b.
func (w *Writer) Bytes(b []byte) {
	w.U32(uint32(len(b)))
	w.buf.Write(b)
}

// Finish returns the encoded record.
func (w *Writer) Finish() []byte { return w.buf.Bytes() }

// Reader consumes fields from a record. The first short read is sticky: later calls
// return zero values and Err reports the failure.
type Reader struct {
	b   []byte
	off int
	err error
}

// NewReader checks the discriminator for name and positions after it.
func NewReader(name string, b []byte) (*Reader, error) {
	d := Discriminator(name)
	if len(b) < DiscriminatorSize || !bytes.Equal(b[:DiscriminatorSize], d[:]) {
		return nil, fmt.Errorf("record is not a %s: %w", name, auctionerr.ErrCorruptRecord)
	}
	return &Reader{b: b, off: DiscriminatorSize}, nil
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.b) {
		r.err = fmt.Errorf("short record at offset %d: %w", r.off, auctionerr.ErrCorruptRecord)
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool { return r.U8() != 0 }

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) I64() int64 { return int64(r.U64()) }

// Fixed copies len(dst) bytes into dst.
func (r *Reader) Fixed(dst []byte) {
	b := r.take(len(dst))
	if b != nil {
		copy(dst, b)
	}
}

// Bytes reads a length-prefixed field, rejecting lengths above limit.
func (r *Reader) Bytes(limit int) []byte {
	n := int(r.U32())
	if r.err == nil && n > limit {
		r.err = fmt.Errorf("field of %d bytes exceeds %d: %w", n, limit, auctionerr.ErrCorruptRecord)
	}
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Err returns the first decoding failure.
func (r *Reader) Err() error { return r.err }

// Done returns Err, or an error if unread bytes remain.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.b) {
		return fmt.Errorf("%d trailing bytes: %w", len(r.b)-r.off, auctionerr.ErrCorruptRecord)
	}
	return nil
}

package layout

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/batchauction/auctionerr"
)

func TestRoundTrip(t *testing.T) {
	w := NewWriter("Sample")
	w.U8(7)
	w.Bool(true)
	w.U32(0xdeadbeef)
	w.U64(1 << 40)
	w.I64(-5)
	w.Fixed([]byte{1, 2, 3})
	w.Bytes([]byte("nonce"))
	rec := w.Finish()

	check.Equal(t, 8+1+1+4+8+8+3+4+5, len(rec))

	r, err := NewReader("Sample", rec)
	assert.NoError(t, err)
	check.Equal(t, uint8(7), r.U8())
	check.True(t, r.Bool())
	check.Equal(t, uint32(0xdeadbeef), r.U32())
	check.Equal(t, uint64(1<<40), r.U64())
	check.Equal(t, int64(-5), r.I64())
	fixed := make([]byte, 3)
	r.Fixed(fixed)
	check.Equal(t, []byte{1, 2, 3}, fixed)
	check.Equal(t, []byte("nonce"), r.Bytes(16))
	check.NoError(t, r.Done())
}

func TestLittleEndian(t *testing.T) {
	w := NewWriter("X")
	w.U32(1)
	rec := w.Finish()
	check.Equal(t, []byte{1, 0, 0, 0}, rec[DiscriminatorSize:])
}

func TestWrongDiscriminator(t *testing.T) {
	rec := NewWriter("Auction").Finish()
	_, err := NewReader("OpenOrders", rec)
	check.True(t, errors.Is(err, auctionerr.ErrCorruptRecord))

	_, err = NewReader("Auction", rec[:4])
	check.True(t, errors.Is(err, auctionerr.ErrCorruptRecord))
}

func TestShortAndOversizedReads(t *testing.T) {
	w := NewWriter("X")
	w.Bytes(make([]byte, 10))
	rec := w.Finish()

	r, err := NewReader("X", rec)
	assert.NoError(t, err)
	check.Equal(t, 0, len(r.Bytes(4)))
	check.True(t, errors.Is(r.Err(), auctionerr.ErrCorruptRecord))

	r, err = NewReader("X", rec[:DiscriminatorSize+2])
	assert.NoError(t, err)
	check.Equal(t, uint64(0), r.U64())
	check.Error(t, r.Done())

	r, err = NewReader("X", rec)
	assert.NoError(t, err)
	r.U32()
	check.True(t, errors.Is(r.Done(), auctionerr.ErrCorruptRecord))
}

func TestDiscriminatorsDiffer(t *testing.T) {
	check.NotEqual(t, Discriminator("Auction"), Discriminator("OpenOrders"))
}

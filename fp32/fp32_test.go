package fp32

import (
	"errors"
	"math"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/cloudx-io/batchauction/auctionerr"
)

func TestFromFloatFloors(t *testing.T) {
	tests := []struct {
		in   float64
		want uint64
	}{
		{0, 0},
		{1, 1 << 32},
		{1.5, 3 << 31},
		{0.1, 429496729},
		{10.03, 43078521978},
	}
	for _, tt := range tests {
		got, err := FromFloat(tt.in)
		assert.NoError(t, err)
		check.Equal(t, tt.want, got.Raw())
	}
}

func TestFromFloatRejectsOutOfRange(t *testing.T) {
	for _, x := range []float64{-1, math.NaN(), math.Ldexp(1, 32)} {
		_, err := FromFloat(x)
		check.True(t, errors.Is(err, auctionerr.ErrNumericalOverflow))
	}
}

func TestArithmetic(t *testing.T) {
	a := MustParse("1.5")
	b := MustFromInt(2)

	sum, err := a.Add(b)
	assert.NoError(t, err)
	check.Equal(t, "3.5", sum.String())

	diff, err := b.Sub(a)
	assert.NoError(t, err)
	check.Equal(t, "0.5", diff.String())

	prod, err := a.Mul(b)
	assert.NoError(t, err)
	check.Equal(t, MustFromInt(3), prod)

	quot, err := prod.Div(b)
	assert.NoError(t, err)
	check.Equal(t, a, quot)
}

func TestOverflow(t *testing.T) {
	_, err := Max.Add(1)
	check.True(t, errors.Is(err, auctionerr.ErrNumericalOverflow))

	_, err = One.Sub(MustFromInt(2))
	check.True(t, errors.Is(err, auctionerr.ErrNumericalOverflow))

	_, err = MustFromInt(1<<31).Mul(MustFromInt(2))
	check.True(t, errors.Is(err, auctionerr.ErrNumericalOverflow))

	_, err = One.Div(0)
	check.True(t, errors.Is(err, auctionerr.ErrNumericalOverflow))

	_, err = MustFromInt(1 << 31).Div(MustParse("0.5"))
	check.True(t, errors.Is(err, auctionerr.ErrNumericalOverflow))

	_, err = FromInt(1 << 32)
	check.True(t, errors.Is(err, auctionerr.ErrNumericalOverflow))

	_, err = Ticks(math.MaxUint64, 2)
	check.True(t, errors.Is(err, auctionerr.ErrNumericalOverflow))
}

func TestMulQty(t *testing.T) {
	price := MustParse("10.5")
	got, err := price.MulQty(100)
	assert.NoError(t, err)
	check.Equal(t, uint64(1050), got)

	// 0.1 is slightly below one tenth in Q32.32, so the product floors down.
	tenth := MustParse("0.1")
	got, err = tenth.MulQty(10)
	assert.NoError(t, err)
	check.Equal(t, uint64(0), got)

	_, err = Max.MulQty(math.MaxUint64)
	check.True(t, errors.Is(err, auctionerr.ErrNumericalOverflow))
}

func TestQuantize(t *testing.T) {
	tick := MustParse("0.1")
	ten, err := Ticks(100, tick)
	assert.NoError(t, err)

	check.True(t, ten.IsMultipleOf(tick))
	check.False(t, MustParse("10.03").IsMultipleOf(tick))
	check.Equal(t, ten, MustParse("10.03").Quantize(tick))
	check.False(t, Fixed(0).IsMultipleOf(tick))
	check.False(t, ten.IsMultipleOf(0))
	check.Equal(t, ten, ten.Quantize(0))
}

func TestMidpointAndClamp(t *testing.T) {
	check.Equal(t, MustParse("9.75"), Midpoint(MustParse("9.5"), MustFromInt(10)))
	check.Equal(t, Fixed(1), Midpoint(1, 2))
	check.Equal(t, Max, Midpoint(Max, Max))

	lo, hi := MustFromInt(2), MustFromInt(4)
	check.Equal(t, lo, One.Clamp(lo, hi))
	check.Equal(t, hi, MustFromInt(5).Clamp(lo, hi))
	check.Equal(t, MustFromInt(3), MustFromInt(3).Clamp(lo, hi))
}

func TestDecimalFormatting(t *testing.T) {
	check.Equal(t, "0.00000000023283064365386962890625", Fixed(1).String())
	check.Equal(t, "9.99", MustParse("9.999").StringFixed(2))

	_, err := FromDecimal(decimal.NewFromInt(-1))
	check.True(t, errors.Is(err, auctionerr.ErrNumericalOverflow))

	_, err = Parse("abc")
	check.Error(t, err)
}

func TestPropertyQuantizeIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := Fixed(rapid.Uint64().Draw(t, "price"))
		tick := Fixed(rapid.Uint64Range(1, math.MaxUint64).Draw(t, "tick"))

		q := p.Quantize(tick)
		if q.Quantize(tick) != q {
			t.Fatalf("quantize not idempotent: p=%d tick=%d q=%d", p, tick, q)
		}
		if q > p {
			t.Fatalf("quantize rounded up: p=%d q=%d", p, q)
		}
		if p-q >= tick {
			t.Fatalf("quantize dropped more than a tick: p=%d q=%d tick=%d", p, q, tick)
		}
	})
}

func TestPropertyFloatRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Float64Range(0, 4e9).Draw(t, "x")
		f, err := FromFloat(x)
		if err != nil {
			t.Fatalf("FromFloat(%v): %v", x, err)
		}
		diff := x - f.Float()
		if diff < 0 || diff > math.Ldexp(1, -FracBits) {
			t.Fatalf("round trip of %v lost %v", x, diff)
		}
	})
}

func TestPropertyDecimalRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := Fixed(rapid.Uint64().Draw(t, "raw"))
		back, err := FromDecimal(f.Decimal())
		if err != nil {
			t.Fatalf("FromDecimal(%s): %v", f, err)
		}
		if back != f {
			t.Fatalf("decimal round trip: %d -> %s -> %d", f, f, back)
		}
	})
}

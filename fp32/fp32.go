// Package fp32 implements Q32.32 fixed-point numbers: 32 integer bits and 32 fractional
// bits packed in a uint64. All prices and tick sizes in the auction use this type.
//
// Arithmetic is checked. Results that do not fit return auctionerr.ErrNumericalOverflow,
// and every conversion that loses precision floors toward zero.
package fp32

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/batchauction/auctionerr"
)

// Fixed is a Q32.32 fixed-point value.
type Fixed uint64

const (
	// FracBits is the number of fractional bits.
	FracBits = 32
	// One is 1.0.
	One Fixed = 1 << FracBits
	// Max is the largest representable value.
	Max Fixed = math.MaxUint64
)

var (
	scale    = decimal.NewFromInt(1 << FracBits)
	bigScale = new(big.Int).Lsh(big.NewInt(1), FracBits)
)

// Raw returns the underlying bits.
func (f Fixed) Raw() uint64 { return uint64(f) }

// FromInt returns n as a Fixed value.
func FromInt(n uint64) (Fixed, error) {
	if n>>(64-FracBits) != 0 {
		return 0, fmt.Errorf("fp32 from %d: %w", n, auctionerr.ErrNumericalOverflow)
	}
	return Fixed(n << FracBits), nil
}

// MustFromInt is FromInt for constants known to fit.
func MustFromInt(n uint64) Fixed {
	f, err := FromInt(n)
	if err != nil {
		panic(err)
	}
	return f
}

// FromFloat returns floor(x * 2^32).
func FromFloat(x float64) (Fixed, error) {
	if math.IsNaN(x) || x < 0 {
		return 0, fmt.Errorf("fp32 from %v: %w", x, auctionerr.ErrNumericalOverflow)
	}
	scaled := math.Floor(math.Ldexp(x, FracBits))
	if scaled >= math.Ldexp(1, 64) {
		return 0, fmt.Errorf("fp32 from %v: %w", x, auctionerr.ErrNumericalOverflow)
	}
	return Fixed(uint64(scaled)), nil
}

// Float returns the nearest float64. It is meant for display and tests only.
func (f Fixed) Float() float64 {
	return math.Ldexp(float64(f), -FracBits)
}

// FromDecimal returns floor(d * 2^32).
func FromDecimal(d decimal.Decimal) (Fixed, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("fp32 from %s: %w", d, auctionerr.ErrNumericalOverflow)
	}
	raw := d.Mul(scale).Floor().BigInt()
	if raw.BitLen() > 64 {
		return 0, fmt.Errorf("fp32 from %s: %w", d, auctionerr.ErrNumericalOverflow)
	}
	return Fixed(raw.Uint64()), nil
}

// Parse reads a decimal string such as "10.25".
func Parse(s string) (Fixed, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	return FromDecimal(d)
}

// MustParse is Parse for literals.
func MustParse(s string) Fixed {
	f, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return f
}

// Decimal returns the exact decimal value. Every Q32.32 value has at most 32
// fractional decimal digits, so the division is exact.
func (f Fixed) Decimal() decimal.Decimal {
	n := decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(f)), 0)
	return n.DivRound(decimal.NewFromBigInt(bigScale, 0), FracBits)
}

func (f Fixed) String() string {
	return f.Decimal().String()
}

// StringFixed formats with exactly places decimal places, truncating.
func (f Fixed) StringFixed(places int32) string {
	return f.Decimal().Truncate(places).StringFixed(places)
}

// Add returns a + b.
func (f Fixed) Add(o Fixed) (Fixed, error) {
	sum, carry := bits.Add64(uint64(f), uint64(o), 0)
	if carry != 0 {
		return 0, fmt.Errorf("fp32 %s + %s: %w", f, o, auctionerr.ErrNumericalOverflow)
	}
	return Fixed(sum), nil
}

// Sub returns a - b. Negative results overflow.
func (f Fixed) Sub(o Fixed) (Fixed, error) {
	diff, borrow := bits.Sub64(uint64(f), uint64(o), 0)
	if borrow != 0 {
		return 0, fmt.Errorf("fp32 %s - %s: %w", f, o, auctionerr.ErrNumericalOverflow)
	}
	return Fixed(diff), nil
}

// Mul widens to 128 bits, shifts right by 32 and narrows.
func (f Fixed) Mul(o Fixed) (Fixed, error) {
	hi, lo := bits.Mul64(uint64(f), uint64(o))
	if hi>>FracBits != 0 {
		return 0, fmt.Errorf("fp32 %s * %s: %w", f, o, auctionerr.ErrNumericalOverflow)
	}
	return Fixed(hi<<(64-FracBits) | lo>>FracBits), nil
}

// Div computes (a << 32) / b in 128 bits.
func (f Fixed) Div(o Fixed) (Fixed, error) {
	if o == 0 {
		return 0, fmt.Errorf("fp32 %s / 0: %w", f, auctionerr.ErrNumericalOverflow)
	}
	hi := uint64(f) >> (64 - FracBits)
	lo := uint64(f) << FracBits
	if hi >= uint64(o) {
		return 0, fmt.Errorf("fp32 %s / %s: %w", f, o, auctionerr.ErrNumericalOverflow)
	}
	q, _ := bits.Div64(hi, lo, uint64(o))
	return Fixed(q), nil
}

// MulQty returns floor(price * qty) as a plain integer, the quote amount owed for qty
// base units at this price.
func (f Fixed) MulQty(qty uint64) (uint64, error) {
	hi, lo := bits.Mul64(uint64(f), qty)
	if hi>>FracBits != 0 {
		return 0, fmt.Errorf("fp32 %s * qty %d: %w", f, qty, auctionerr.ErrNumericalOverflow)
	}
	return hi<<(64-FracBits) | lo>>FracBits, nil
}

// Ticks returns n * tick, the price n ticks above zero. Decimal prices such as 0.1 have
// no exact Q32.32 form, so clients build limit prices from tick counts.
func Ticks(n uint64, tick Fixed) (Fixed, error) {
	hi, lo := bits.Mul64(n, uint64(tick))
	if hi != 0 {
		return 0, fmt.Errorf("fp32 %d ticks of %s: %w", n, tick, auctionerr.ErrNumericalOverflow)
	}
	return Fixed(lo), nil
}

// Quantize floors f to a multiple of tick. A zero tick leaves f unchanged.
func (f Fixed) Quantize(tick Fixed) Fixed {
	if tick == 0 {
		return f
	}
	return f / tick * tick
}

// IsMultipleOf reports whether f is a positive exact multiple of tick.
func (f Fixed) IsMultipleOf(tick Fixed) bool {
	return tick != 0 && f != 0 && f%tick == 0
}

// Midpoint returns floor((a + b) / 2) without overflowing.
func Midpoint(a, b Fixed) Fixed {
	return a/2 + b/2 + (a & b & 1)
}

// Clamp limits f to [lo, hi].
func (f Fixed) Clamp(lo, hi Fixed) Fixed {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

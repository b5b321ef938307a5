package auctionerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestWrappedSentinelMatches(t *testing.T) {
	err := fmt.Errorf("insert bid: %w", ErrLimitPriceNotTickMultiple)

	check.True(t, errors.Is(err, ErrLimitPriceNotTickMultiple))
	check.False(t, errors.Is(err, ErrOrderBelowMinSize))
	check.Equal(t, uint32(6029), CodeOf(err))
	check.Equal(t, Validation, KindOf(err))
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err   error
		fatal bool
	}{
		{ErrNumericalOverflow, true},
		{ErrNodeKeyNotFound, true},
		{ErrUserSideDiffFromEventSide, true},
		{fmt.Errorf("consume: %w", ErrUserSideDiffFromEventSide), true},
		{ErrInvalidSharedKey, false},
		{ErrSlabFull, false},
		{errors.New("plain"), false},
		{nil, false},
	}
	for _, tt := range tests {
		check.Equal(t, tt.fatal, IsFatal(tt.err))
	}
}

func TestFromCode(t *testing.T) {
	e, ok := FromCode(6042)
	check.True(t, ok)
	check.Equal(t, "SlabIteratorOverflow", e.Name)

	_, ok = FromCode(1)
	check.False(t, ok)
}

func TestCodesAreUnique(t *testing.T) {
	seen := map[string]uint32{}
	for code, e := range byCode {
		prev, dup := seen[e.Name]
		check.False(t, dup)
		if dup {
			t.Logf("name %s used by %d and %d", e.Name, prev, code)
		}
		seen[e.Name] = code
	}
}

func TestKindString(t *testing.T) {
	check.Equal(t, "crypto", ErrInvalidSharedKey.Kind.String())
	check.Equal(t, "unknown", Kind(0).String())
}

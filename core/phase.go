package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/auctionerr"
)

// Phase is the lifecycle stage of an auction. It is never stored: it is derived from
// the clock and the auction record each time it is needed.
type Phase uint8

const (
	Uninitialized Phase = iota
	// Pending covers an initialized auction whose order phase has not started.
	Pending
	OrderPhase
	DecryptionPhase
	ClearingPriceCalculation
	MatchOrders
	Settlement
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Pending:
		return "pending"
	case OrderPhase:
		return "order"
	case DecryptionPhase:
		return "decryption"
	case ClearingPriceCalculation:
		return "clearing_price_calculation"
	case MatchOrders:
		return "match_orders"
	case Settlement:
		return "settlement"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// PhaseAt derives the phase of a at time now. A nil auction is Uninitialized.
func PhaseAt(a *Auction, now int64) Phase {
	switch {
	case a == nil:
		return Uninitialized
	case now < a.OrderPhaseStart:
		return Pending
	case now < a.OrderPhaseEnd:
		return OrderPhase
	case a.AnyEncrypted() && now < a.DecryptionPhaseEnd:
		return DecryptionPhase
	case !a.HasClearingPrice:
		return ClearingPriceCalculation
	case a.RemainingBidFills > 0 && a.RemainingAskFills > 0:
		return MatchOrders
	default:
		return Settlement
	}
}

// Phase reports the current phase of the auction at addr.
func (e *Engine) Phase(ctx context.Context, addr address.Identity) (Phase, error) {
	a, err := getAuction(ctx, e.store, addr)
	if errors.Is(err, auctionerr.ErrAuctionNotFound) {
		return Uninitialized, nil
	}
	if err != nil {
		return Uninitialized, err
	}
	return PhaseAt(a, e.clock.Now()), nil
}

func requireOrderPhase(a *Auction, now int64) error {
	if now < a.OrderPhaseStart {
		return fmt.Errorf("now %d, starts %d: %w", now, a.OrderPhaseStart, auctionerr.ErrOrderPhaseNotStarted)
	}
	if now >= a.OrderPhaseEnd {
		return fmt.Errorf("now %d, ended %d: %w", now, a.OrderPhaseEnd, auctionerr.ErrOrderPhaseIsOver)
	}
	return nil
}

func requireDecryptionPhase(a *Auction, now int64) error {
	if !a.AnyEncrypted() {
		return fmt.Errorf("no sealed side: %w", auctionerr.ErrDecryptionPhaseNotActive)
	}
	if now < a.OrderPhaseEnd {
		return fmt.Errorf("now %d, starts %d: %w", now, a.OrderPhaseEnd, auctionerr.ErrDecryptionPhaseNotStarted)
	}
	if now >= a.DecryptionPhaseEnd {
		return fmt.Errorf("now %d, ended %d: %w", now, a.DecryptionPhaseEnd, auctionerr.ErrDecryptionPhaseEnded)
	}
	return nil
}

func requireClearingPhase(a *Auction, now int64) error {
	if a.HasClearingPrice {
		return auctionerr.ErrClearingPriceAlreadyFound
	}
	if p := PhaseAt(a, now); p != ClearingPriceCalculation {
		return fmt.Errorf("phase %s: %w", p, auctionerr.ErrCalcClearingPricePhase)
	}
	return nil
}

func requireMatchPhase(a *Auction) error {
	if !a.HasClearingPrice {
		return auctionerr.ErrAuctionNotFinished
	}
	if a.RemainingBidFills == 0 || a.RemainingAskFills == 0 {
		return auctionerr.ErrMatchOrdersPhaseNotActive
	}
	return nil
}

func requireSettlement(a *Auction, now int64) error {
	if !a.HasClearingPrice {
		return auctionerr.ErrAuctionNotFinished
	}
	if p := PhaseAt(a, now); p != Settlement {
		return fmt.Errorf("phase %s: %w", p, auctionerr.ErrSettlementNotActive)
	}
	return nil
}

package core

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/ledger"
	"github.com/cloudx-io/batchauction/sealed"
	"github.com/cloudx-io/batchauction/slab"
)

// NewEncryptedOrder stores a sealed order and locks its plaintext deposit. The order
// stays hidden until DecryptOrder reveals it; it returns the order's index among the
// account's sealed orders.
func (e *Engine) NewEncryptedOrder(ctx context.Context, auctionAddr, user address.Identity, order sealed.Order, tokenQty uint64) (int, error) {
	defer e.lock(auctionAddr)()
	tx := ledger.Begin(e.store)
	a, err := getAuction(ctx, tx, auctionAddr)
	if err != nil {
		return 0, err
	}
	if err := requireOrderPhase(a, e.clock.Now()); err != nil {
		return 0, fmt.Errorf("new sealed order: %w", err)
	}
	oo, ooAddr, err := e.userAccount(ctx, tx, a, user)
	if err != nil {
		return 0, err
	}
	side := oo.Side
	switch {
	case !a.SideEncrypted(side):
		return 0, fmt.Errorf("new sealed %s order: %w", side, auctionerr.ErrUnencryptedOrdersOnly)
	case order.PublicKey != oo.EncryptionPubkey:
		return 0, fmt.Errorf("order key %s, account key %s: %w", order.PublicKey, oo.EncryptionPubkey, auctionerr.ErrEncryptionPubkeysMismatch)
	case len(order.Ciphertext) != sealed.CiphertextSize:
		return 0, fmt.Errorf("ciphertext of %d bytes: %w", len(order.Ciphertext), auctionerr.ErrInvalidSharedKey)
	case tokenQty == 0:
		return 0, fmt.Errorf("new sealed %s order without deposit: %w", side, auctionerr.ErrInsufficientTokens)
	}
	for _, existing := range oo.SealedOrders {
		if existing.SameCiphertext(order) {
			return 0, fmt.Errorf("new sealed %s order: %w", side, auctionerr.ErrIdenticalEncryptedOrder)
		}
	}
	if _, ok := oo.freeSlot(); !ok {
		return 0, fmt.Errorf("new sealed %s order: %w", side, auctionerr.ErrTooManyOrders)
	}
	if err := oo.lock(tokenQty); err != nil {
		return 0, err
	}
	oo.SealedOrders = append(oo.SealedOrders, SealedOrder{
		Order: sealed.Order{
			PublicKey:  order.PublicKey,
			Nonce:      order.Nonce,
			Ciphertext: append([]byte(nil), order.Ciphertext...),
		},
		TokenQty: tokenQty,
	})

	b := tx.Batch()
	deposit(b, a, side, user, tokenQty)
	if err := stage(b, ooAddr, oo); err != nil {
		return 0, err
	}
	if err := e.store.Apply(ctx, b); err != nil {
		return 0, fmt.Errorf("new sealed %s order: %w", side, depositErr(err))
	}
	return len(oo.SealedOrders) - 1, nil
}

// CancelEncryptedOrder withdraws the sealed order at index during the order phase and
// frees its deposit. Later orders shift down by one.
func (e *Engine) CancelEncryptedOrder(ctx context.Context, auctionAddr, user address.Identity, index int) error {
	defer e.lock(auctionAddr)()
	tx := ledger.Begin(e.store)
	a, err := getAuction(ctx, tx, auctionAddr)
	if err != nil {
		return err
	}
	if err := requireOrderPhase(a, e.clock.Now()); err != nil {
		return fmt.Errorf("cancel sealed order: %w", err)
	}
	oo, ooAddr, err := e.userAccount(ctx, tx, a, user)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(oo.SealedOrders) {
		return fmt.Errorf("sealed order %d of %d: %w", index, len(oo.SealedOrders), auctionerr.ErrOrderIdxNotValid)
	}
	if err := oo.unlock(oo.SealedOrders[index].TokenQty); err != nil {
		return err
	}
	oo.SealedOrders = append(oo.SealedOrders[:index], oo.SealedOrders[index+1:]...)

	b := tx.Batch()
	if err := stage(b, ooAddr, oo); err != nil {
		return err
	}
	if err := e.store.Apply(ctx, b); err != nil {
		return fmt.Errorf("cancel sealed order %d: %w", index, err)
	}
	return nil
}

// DecryptReport is the outcome of revealing one sealed order.
type DecryptReport struct {
	// Index is the order's position among the sealed orders before the call.
	Index int
	// Commitment is ComputeSealedOrderHash of the sealed payload.
	Commitment string
	Price      fp32.Fixed
	Qty        uint64
	// Accepted is set when the order entered the book as OrderID.
	Accepted bool
	OrderID  slab.Key
	// Err is why the order was not accepted. Orders failing authentication stay sealed;
	// orders that opened but break the book rules have their deposit freed.
	Err error
}

// DecryptResult lists the outcome of every sealed order of one account.
type DecryptResult struct {
	Reports  []DecryptReport
	Accepted int
	Rejected int
	Sealed   int
}

// DecryptOrder reveals the sealed orders of user with the shared key between the
// user's encryption key and the auction key. Opened orders enter the book as plain
// orders; each order is reported on its own. The call only fails as a whole when none
// of the orders could be opened, or on a state or invariant error.
func (e *Engine) DecryptOrder(ctx context.Context, auctionAddr, user address.Identity, sharedKey sealed.Key) (*DecryptResult, error) {
	defer e.lock(auctionAddr)()
	tx := ledger.Begin(e.store)
	st, err := e.loadState(ctx, tx, auctionAddr)
	if err != nil {
		return nil, err
	}
	a := st.auction
	if err := requireDecryptionPhase(a, e.clock.Now()); err != nil {
		return nil, fmt.Errorf("decrypt orders: %w", err)
	}
	oo, ooAddr, err := e.userAccount(ctx, tx, a, user)
	if err != nil {
		return nil, err
	}
	if len(oo.SealedOrders) == 0 {
		return nil, fmt.Errorf("decrypt orders of %s: %w", user, auctionerr.ErrNoSealedOrdersPending)
	}

	res := &DecryptResult{}
	pending := oo.SealedOrders
	oo.SealedOrders = nil
	for i, so := range pending {
		rep := DecryptReport{Index: i, Commitment: ComputeSealedOrderHash(so.Order)}
		plain, err := sealed.OpenWithSharedKey(so.Order, sharedKey)
		if err != nil {
			rep.Err = err
			oo.SealedOrders = append(oo.SealedOrders, so)
			res.Sealed++
			res.Reports = append(res.Reports, rep)
			continue
		}
		rep.Price, rep.Qty = plain.Price, plain.Qty

		key, err := st.reveal(oo, so, plain)
		switch {
		case err == nil:
			rep.Accepted, rep.OrderID = true, key
			res.Accepted++
		case auctionerr.KindOf(err) == auctionerr.Validation:
			rep.Err = err
			res.Rejected++
			log.Printf("WARNING: Rejected revealed %s order %d of %s at %s x %d: %v",
				oo.Side, i, user, plain.Price, plain.Qty, err)
			if err := oo.unlock(so.TokenQty); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("decrypt order %d of %s: %w", i, user, err)
		}
		res.Reports = append(res.Reports, rep)
	}
	if res.Accepted+res.Rejected == 0 {
		return res, fmt.Errorf("decrypt orders of %s: none of %d opened: %w", user, len(pending), auctionerr.ErrInvalidSharedKey)
	}

	b := tx.Batch()
	if err := stage(b, ooAddr, oo); err != nil {
		return nil, err
	}
	if res.Accepted > 0 {
		if err := stage(b, auctionAddr, a); err != nil {
			return nil, err
		}
		if err := st.stageBook(b, oo.Side); err != nil {
			return nil, err
		}
	}
	if err := e.store.Apply(ctx, b); err != nil {
		return nil, fmt.Errorf("decrypt orders of %s: %w", user, err)
	}
	log.Printf("INFO: Revealed %d sealed orders of %s: %d accepted, %d rejected, %d still sealed",
		len(pending), user, res.Accepted, res.Rejected, res.Sealed)
	return res, nil
}

// reveal rests an opened sealed order and frees the part of its deposit the order does
// not need.
func (st *auctionState) reveal(oo *OpenOrders, so SealedOrder, plain sealed.Plaintext) (slab.Key, error) {
	if err := st.book.Validate(plain.Price, plain.Qty); err != nil {
		return slab.Key{}, err
	}
	required, err := collateral(oo.Side, plain.Price, plain.Qty)
	if err != nil || required > so.TokenQty {
		return slab.Key{}, fmt.Errorf("order needs %d, deposit %d: %w", required, so.TokenQty, auctionerr.ErrInsufficientTokens)
	}
	slot, ok := oo.emptySlot()
	if !ok {
		return slab.Key{}, fmt.Errorf("reveal into full account: %w", auctionerr.ErrTooManyOrders)
	}
	a := st.auction
	key, err := st.book.Insert(oo.Side, plain.Price, plain.Qty, a.NextSeq, oo.Owner, slot)
	if err != nil {
		return slab.Key{}, err
	}
	a.NextSeq++
	oo.Orders[slot] = key
	return key, oo.unlock(so.TokenQty - required)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/core"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/ledger"
	"github.com/cloudx-io/batchauction/sealed"
)

// Store is what the simulator needs from a ledger backend.
type Store interface {
	ledger.Store
	ledger.Funder
}

// OrderSpec is one simulated trader placing a single order.
type OrderSpec struct {
	Side  core.Side
	Price fp32.Fixed
	Qty   uint64
}

// ParseOrders parses a comma separated list of price@qty pairs, e.g. "10.5@100,9@20".
func ParseOrders(side core.Side, s string) ([]OrderSpec, error) {
	var orders []OrderSpec
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		priceStr, qtyStr, ok := strings.Cut(item, "@")
		if !ok {
			return nil, fmt.Errorf("order %q: expected price@qty", item)
		}
		price, err := fp32.Parse(priceStr)
		if err != nil {
			return nil, fmt.Errorf("order %q: price: %w", item, err)
		}
		qty, err := strconv.ParseUint(qtyStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("order %q: quantity: %w", item, err)
		}
		orders = append(orders, OrderSpec{Side: side, Price: price, Qty: qty})
	}
	return orders, nil
}

// Scenario describes one auction run from initialisation to close.
type Scenario struct {
	AuctionID  []byte
	Tick       fp32.Fixed
	MinSize    uint64
	SealedBids bool
	SealedAsks bool
	Bids       []OrderSpec
	Asks       []OrderSpec
	// Duration is the length in seconds of the order and decryption phases.
	Duration int64
	// Rand feeds key generation and sealing; nil means crypto/rand.
	Rand io.Reader
}

// TraderReport is the settlement of one trader.
type TraderReport struct {
	Owner      address.Identity
	Order      OrderSpec
	Sealed     bool
	Settlement *core.SettlementResult
}

// Report is the outcome of a scenario.
type Report struct {
	Auction  address.Identity
	Clearing core.ClearingResult
	Matches  int
	Events   int
	Traders  []TraderReport
}

type trader struct {
	owner address.Identity
	order OrderSpec
	keys  *sealed.KeyPair
}

// identity derives a stable simulator identity from a label.
func identity(label string) address.Identity {
	return address.Identity(blake3.Sum256([]byte("batchauction/sim/" + label)))
}

var (
	simProgram   = identity("program")
	simAuthority = identity("authority")
	quoteMint    = identity("quote")
	baseMint     = identity("base")
)

// Simulator drives an engine through full auctions on a manual clock.
type Simulator struct {
	eng    *core.Engine
	store  Store
	clock  *ledger.ManualClock
	logger *slog.Logger
}

func NewSimulator(store Store, clock *ledger.ManualClock, cfg core.Config, logger *slog.Logger, opts ...core.Option) *Simulator {
	return &Simulator{
		eng:    core.NewEngine(store, clock, simProgram, cfg, opts...),
		store:  store,
		clock:  clock,
		logger: logger,
	}
}

// Run executes sc: it funds one trader per order, places plain or sealed orders,
// reveals the sealed ones with the auction key, clears, matches, consumes events,
// settles every trader and closes the auction.
func (s *Simulator) Run(ctx context.Context, sc Scenario) (*Report, error) {
	if sc.Duration <= 0 {
		sc.Duration = 60
	}
	var authKeys *sealed.KeyPair
	if sc.SealedBids || sc.SealedAsks {
		kp, err := sealed.GenerateKeyPair(sc.Rand)
		if err != nil {
			return nil, fmt.Errorf("auction key: %w", err)
		}
		authKeys = kp
	}

	start := s.clock.Now()
	params := core.InitAuctionParams{
		AuctionID:          sc.AuctionID,
		Authority:          simAuthority,
		QuoteMint:          quoteMint,
		BaseMint:           baseMint,
		QuoteDecimals:      6,
		BaseDecimals:       6,
		OrderPhaseStart:    start,
		OrderPhaseEnd:      start + sc.Duration,
		DecryptionPhaseEnd: start + 2*sc.Duration,
		AreBidsEncrypted:   sc.SealedBids,
		AreAsksEncrypted:   sc.SealedAsks,
		MinBaseOrderSize:   sc.MinSize,
		TickSize:           sc.Tick,
	}
	if authKeys != nil {
		params.EncryptionPubkey = authKeys.Public
	}
	auctionAddr, err := s.eng.InitAuction(ctx, params)
	if err != nil {
		return nil, err
	}
	s.logger.Info("auction initialised", "auction", auctionAddr.String(), "tick", sc.Tick.String())

	traders, err := s.placeOrders(ctx, auctionAddr, sc, authKeys)
	if err != nil {
		return nil, err
	}

	s.clock.Set(params.OrderPhaseEnd)
	if authKeys != nil {
		if err := s.reveal(ctx, auctionAddr, sc, traders, authKeys); err != nil {
			return nil, err
		}
	}
	s.clock.Set(params.DecryptionPhaseEnd)

	report := &Report{Auction: auctionAddr}
	report.Clearing, err = s.eng.CalculateClearingPrice(ctx, auctionAddr)
	if err != nil {
		return nil, err
	}
	s.logger.Info("clearing price found", "price", report.Clearing.Price.String(), "matched", report.Clearing.Matched)

	if err := s.matchAll(ctx, auctionAddr, report); err != nil {
		return nil, err
	}

	for _, t := range traders {
		res, err := s.eng.SettleAndCloseOpenOrders(ctx, auctionAddr, t.owner)
		if err != nil {
			return nil, fmt.Errorf("settle %s: %w", t.owner, err)
		}
		report.Traders = append(report.Traders, TraderReport{
			Owner:      t.owner,
			Order:      t.order,
			Sealed:     t.keys != nil,
			Settlement: res,
		})
		s.logger.Info("trader settled",
			"side", t.order.Side.String(),
			"price", t.order.Price.String(),
			"qty", t.order.Qty,
			"filled", res.QuantityFilled,
			"base_returned", res.BaseReturned,
			"quote_returned", res.QuoteReturned)
	}

	if err := s.eng.CloseAuction(ctx, auctionAddr); err != nil {
		return nil, err
	}
	s.logger.Info("auction closed", "auction", auctionAddr.String())
	return report, nil
}

func (s *Simulator) placeOrders(ctx context.Context, auctionAddr address.Identity, sc Scenario, authKeys *sealed.KeyPair) ([]trader, error) {
	var traders []trader
	specs := append(append([]OrderSpec(nil), sc.Bids...), sc.Asks...)
	for i, o := range specs {
		t := trader{owner: identity(fmt.Sprintf("trader-%d", i)), order: o}
		sealedSide := (o.Side == core.Bid && sc.SealedBids) || (o.Side == core.Ask && sc.SealedAsks)
		var userPub sealed.Key
		if sealedSide {
			kp, err := sealed.GenerateKeyPair(sc.Rand)
			if err != nil {
				return nil, fmt.Errorf("trader key: %w", err)
			}
			t.keys, userPub = kp, kp.Public
		}

		amount, mint := o.Qty, baseMint
		if o.Side == core.Bid {
			var err error
			if amount, err = o.Price.MulQty(o.Qty); err != nil {
				return nil, fmt.Errorf("bid %s x %d: %w", o.Price, o.Qty, err)
			}
			mint = quoteMint
		}
		if err := s.store.Credit(ctx, ledger.Account{Owner: t.owner, Mint: mint}, amount); err != nil {
			return nil, fmt.Errorf("fund trader %d: %w", i, err)
		}
		if _, err := s.eng.InitOpenOrders(ctx, auctionAddr, t.owner, o.Side, 1, userPub); err != nil {
			return nil, err
		}

		if sealedSide {
			order, err := sealed.Seal(sc.Rand, sealed.Plaintext{Price: o.Price, Qty: o.Qty}, authKeys.Public, t.keys)
			if err != nil {
				return nil, err
			}
			if _, err := s.eng.NewEncryptedOrder(ctx, auctionAddr, t.owner, order, amount); err != nil {
				return nil, fmt.Errorf("sealed %s order of trader %d: %w", o.Side, i, err)
			}
		} else if _, err := s.eng.NewOrder(ctx, auctionAddr, t.owner, o.Price, o.Qty); err != nil {
			return nil, fmt.Errorf("%s order of trader %d: %w", o.Side, i, err)
		}
		traders = append(traders, t)
	}
	s.logger.Info("orders placed", "bids", len(sc.Bids), "asks", len(sc.Asks))
	return traders, nil
}

func (s *Simulator) reveal(ctx context.Context, auctionAddr address.Identity, sc Scenario, traders []trader, authKeys *sealed.KeyPair) error {
	for _, t := range traders {
		if t.keys == nil {
			continue
		}
		shared := sealed.SharedKey(t.keys.Public, authKeys.Secret)
		res, err := s.eng.DecryptOrder(ctx, auctionAddr, t.owner, shared)
		if err != nil {
			return fmt.Errorf("reveal %s: %w", t.owner, err)
		}
		s.logger.Info("sealed order revealed", "owner", t.owner.String(), "accepted", res.Accepted, "rejected", res.Rejected)
	}
	return nil
}

// matchAll alternates matching and event consumption until matching is done and the
// event queue is drained.
func (s *Simulator) matchAll(ctx context.Context, auctionAddr address.Identity, report *Report) error {
	if report.Clearing.Matched == 0 {
		return nil
	}
	for {
		m, err := s.eng.MatchOrders(ctx, auctionAddr, 0)
		if err != nil && !errors.Is(err, auctionerr.ErrEventQueueFull) {
			return err
		}
		if m != nil {
			report.Matches += m.Matches
		}
		for {
			c, err := s.eng.ConsumeEvents(ctx, auctionAddr, 0)
			if errors.Is(err, auctionerr.ErrNoEventsProcessed) {
				break
			}
			if err != nil {
				return err
			}
			report.Events += len(c.Events)
			if c.Remaining == 0 {
				break
			}
		}
		if m != nil && m.Done() {
			return nil
		}
	}
}

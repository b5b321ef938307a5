package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cloudx-io/batchauction/core"
	"github.com/cloudx-io/batchauction/eventfeed"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/ledger"
	"github.com/cloudx-io/batchauction/ledger/pebblestore"
	"github.com/cloudx-io/batchauction/ledger/redisstore"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
		os.Exit(2)
	}

	var (
		bids       = flag.String("bids", "10@100,9.5@200", "Bid orders as price@qty, comma separated")
		asks       = flag.String("asks", "9@150,10.5@100", "Ask orders as price@qty, comma separated")
		tick       = flag.String("tick", "0.5", "Tick size")
		minSize    = flag.Uint64("min-size", 1, "Minimum base order size")
		sealedBids = flag.Bool("sealed-bids", false, "Submit bids as sealed orders")
		sealedAsks = flag.Bool("sealed-asks", false, "Submit asks as sealed orders")
		storeKind  = flag.String("store", envOr("AUCTION_STORE", "mem"), "Ledger backend: mem, pebble or redis")
		pebbleDir  = flag.String("pebble-dir", envOr("PEBBLE_DIR", "auction-data"), "Pebble data directory")
		verbose    = flag.Bool("v", false, "Log debug output")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *storeKind, *pebbleDir, *bids, *asks, *tick, *minSize, *sealedBids, *sealedAsks); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, storeKind, pebbleDir, bidSpec, askSpec, tickSpec string, minSize uint64, sealedBids, sealedAsks bool) error {
	tick, err := fp32.Parse(tickSpec)
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	bids, err := ParseOrders(core.Bid, bidSpec)
	if err != nil {
		return err
	}
	asks, err := ParseOrders(core.Ask, askSpec)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, storeKind, pebbleDir)
	if err != nil {
		return err
	}
	defer closeStore()

	var opts []core.Option
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		pub, err := eventfeed.NewPublisher(strings.Split(brokers, ","), envOr("KAFKA_TOPIC", "auction-events"))
		if err != nil {
			return err
		}
		defer pub.Close()
		opts = append(opts, core.WithEventSink(pub))
		logger.Info("publishing events", "brokers", brokers)
	}

	sim := NewSimulator(store, ledger.NewManualClock(time.Now().Unix()), core.DefaultConfig(), logger, opts...)
	id := uuid.New()
	report, err := sim.Run(ctx, Scenario{
		AuctionID:  id[:],
		Tick:       tick,
		MinSize:    minSize,
		SealedBids: sealedBids,
		SealedAsks: sealedAsks,
		Bids:       bids,
		Asks:       asks,
	})
	if err != nil {
		return fmt.Errorf("auction %s: %w", id, err)
	}

	logger.Info("simulation complete",
		"auction_id", id.String(),
		"price", report.Clearing.Price.String(),
		"matched", report.Clearing.Matched,
		"matches", report.Matches,
		"events", report.Events,
		"traders", len(report.Traders))
	return nil
}

func openStore(ctx context.Context, kind, pebbleDir string) (Store, func(), error) {
	switch kind {
	case "mem":
		return ledger.NewMemStore(), func() {}, nil
	case "pebble":
		s, err := pebblestore.Open(pebbleDir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "redis":
		s, err := redisstore.New(ctx, redisstore.Options{
			Addr:     envOr("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			Prefix:   envOr("REDIS_PREFIX", "batchauction:"),
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Command benchmark measures event application throughput against the
// in-memory store. It generates synthetic marketplace event streams and
// replays them through the applier, reporting per-kind latency and overall
// rate. Useful for sizing worker pools before touching Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/shopspring/decimal"

	"github.com/omnimart/marketplace-indexer/internal/applier"
	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/logger"
	"github.com/omnimart/marketplace-indexer/internal/store"
)

type Config struct {
	Listings    int
	BidsPerSale int
	Workers     int
	Seed        int64
	OutputFile  string
	Debug       bool
}

type kindStats struct {
	Count     int
	Failures  int
	Durations []time.Duration
}

// statsCollector aggregates per-kind apply latencies across workers
type statsCollector struct {
	mu    sync.Mutex
	kinds map[domain.EventKind]*kindStats
}

func newStatsCollector() *statsCollector {
	return &statsCollector{kinds: make(map[domain.EventKind]*kindStats)}
}

func (s *statsCollector) record(kind domain.EventKind, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ks := s.kinds[kind]
	if ks == nil {
		ks = &kindStats{}
		s.kinds[kind] = ks
	}
	ks.Count++
	ks.Durations = append(ks.Durations, d)
	if err != nil {
		ks.Failures++
	}
}

func main() {
	cfg := parseFlags()

	logger.Initialize(logger.Config{Debug: cfg.Debug})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.NewMemoryStore()
	ap := applier.NewApplier(st, applier.Config{})
	stats := newStatsCollector()

	fmt.Printf("Replaying %d listings x %d bids with %d workers\n\n",
		cfg.Listings, cfg.BidsPerSale, cfg.Workers)

	pool := pond.NewPool(cfg.Workers)
	start := time.Now()

	rng := rand.New(rand.NewSource(cfg.Seed))
	for i := 0; i < cfg.Listings; i++ {
		// Each listing gets its own stream so workers never contend on
		// the same row
		events := listingStream(i, cfg.BidsPerSale, rng.Int63())
		pool.Submit(func() {
			for j := range events {
				event := &events[j]
				began := time.Now()
				err := ap.ApplyEvent(ctx, event)
				stats.record(event.Kind, time.Since(began), err)
			}
		})
	}

	pool.StopAndWait()
	elapsed := time.Since(start)

	printReport(stats, elapsed)

	if cfg.OutputFile != "" {
		if err := writeMarkdownReport(cfg.OutputFile, stats, elapsed); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Report written to %s\n", cfg.OutputFile)
	}
}

func parseFlags() Config {
	var cfg Config
	flag.IntVar(&cfg.Listings, "listings", 200, "Number of synthetic listings to replay")
	flag.IntVar(&cfg.BidsPerSale, "bids", 20, "Bids placed on each listing before settlement")
	flag.IntVar(&cfg.Workers, "workers", 8, "Concurrent apply workers")
	flag.Int64Var(&cfg.Seed, "seed", 1, "Random seed for the event generator")
	flag.StringVar(&cfg.OutputFile, "output", "", "Optional markdown report path")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return cfg
}

// listingStream builds the event sequence of one listing lifecycle:
// creation, a run of increasing bids, then settlement.
func listingStream(ordinal, bids int, seed int64) []domain.MarketEvent {
	rng := rand.New(rand.NewSource(seed))

	contract := fmt.Sprintf("0x%040x", ordinal+1)
	seller := fmt.Sprintf("0x%040x", rng.Int63())
	txBase := fmt.Sprintf("0x%032x", ordinal)
	endTime := time.Now().Add(24 * time.Hour)

	price := decimal.NewFromFloat(rng.Float64() + 0.1).Round(6)
	events := []domain.MarketEvent{{
		Kind:          domain.EventKindListingCreated,
		Chain:         domain.ChainEthereumMainnet,
		TxHash:        txBase + "c",
		Position:      uint64(ordinal + 1),
		ListingID:     fmt.Sprintf("bench-%d", ordinal),
		ListingType:   domain.ListingTypeEnglish,
		Seller:        seller,
		TokenContract: contract,
		TokenNumber:   "1",
		Amount:        price,
		NewEndTime:    endTime,
	}}

	amount := price
	for i := 0; i < bids; i++ {
		amount = amount.Add(decimal.NewFromFloat(rng.Float64()*0.5 + 0.01).Round(6))
		events = append(events, domain.MarketEvent{
			Kind:          domain.EventKindBidPlaced,
			Chain:         domain.ChainEthereumMainnet,
			TxHash:        fmt.Sprintf("%sb%d", txBase, i),
			Position:      uint64(ordinal + i + 2),
			ListingID:     fmt.Sprintf("bench-%d", ordinal),
			Bidder:        fmt.Sprintf("0x%040x", rng.Int63()),
			Amount:        amount,
		})
	}

	winner := events[len(events)-1]
	events = append(events, domain.MarketEvent{
		Kind:         domain.EventKindSaleSettled,
		Chain:        domain.ChainEthereumMainnet,
		TxHash:       txBase + "s",
		Position:     uint64(ordinal + bids + 2),
		ListingID:    fmt.Sprintf("bench-%d", ordinal),
		Buyer:        winner.Bidder,
		Amount:       winner.Amount,
	})
	return events
}

func printReport(stats *statsCollector, elapsed time.Duration) {
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("%-18s %8s %8s %10s %10s %10s\n", "Kind", "Count", "Failed", "p50", "p95", "p99")
	fmt.Println(strings.Repeat("-", 72))

	total := 0
	for _, kind := range sortedKinds(stats) {
		ks := stats.kinds[kind]
		total += ks.Count
		fmt.Printf("%-18s %8d %8d %10s %10s %10s\n",
			kind, ks.Count, ks.Failures,
			formatDuration(percentile(ks.Durations, 50)),
			formatDuration(percentile(ks.Durations, 95)),
			formatDuration(percentile(ks.Durations, 99)))
	}

	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("Total: %d events in %s (%s)\n", total, formatDuration(elapsed), formatRate(total, elapsed))
}

func sortedKinds(stats *statsCollector) []domain.EventKind {
	kinds := make([]domain.EventKind, 0, len(stats.kinds))
	for kind := range stats.kinds {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// writeMarkdownReport writes the benchmark result as a markdown table
func writeMarkdownReport(path string, stats *statsCollector, elapsed time.Duration) error {
	file, err := os.Create(path) //nolint:gosec,G304 // operator-chosen output path
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()

	_, _ = fmt.Fprintf(file, "# Applier Benchmark Report\n\n")
	_, _ = fmt.Fprintf(file, "Generated: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(file, "| Kind | Count | Failed | p50 | p95 | p99 |\n")
	_, _ = fmt.Fprintf(file, "|------|-------|--------|-----|-----|-----|\n")

	total := 0
	for _, kind := range sortedKinds(stats) {
		ks := stats.kinds[kind]
		total += ks.Count
		_, _ = fmt.Fprintf(file, "| %s | %d | %d | %s | %s | %s |\n",
			kind, ks.Count, ks.Failures,
			formatDuration(percentile(ks.Durations, 50)),
			formatDuration(percentile(ks.Durations, 95)),
			formatDuration(percentile(ks.Durations, 99)))
	}

	_, _ = fmt.Fprintf(file, "\n**Total:** %d events in %s (%s)\n", total, formatDuration(elapsed), formatRate(total, elapsed))
	return nil
}

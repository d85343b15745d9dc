package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pairsbot-go/internal/config"
	"pairsbot-go/internal/exchange"
	"pairsbot-go/internal/paper"
)

func TestScheduleFirst(t *testing.T) {
	loc := time.UTC
	sc := Schedule{Interval: 24 * time.Hour, RunAt: "09:45"}

	before := time.Date(2026, 3, 2, 8, 0, 0, 0, loc)
	if got, _ := sc.First(before); !got.Equal(time.Date(2026, 3, 2, 9, 45, 0, 0, loc)) {
		t.Fatalf("expected same-day 09:45, got %v", got)
	}
	after := time.Date(2026, 3, 2, 10, 0, 0, 0, loc)
	if got, _ := sc.First(after); !got.Equal(time.Date(2026, 3, 3, 9, 45, 0, 0, loc)) {
		t.Fatalf("expected next-day 09:45, got %v", got)
	}
	if got, _ := (Schedule{Interval: time.Hour}).First(after); !got.Equal(after) {
		t.Fatalf("expected immediate start without run_at, got %v", got)
	}
	if _, err := (Schedule{Interval: time.Hour, RunAt: "9.45"}).First(after); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestScheduleNextSkipsMissedSlots(t *testing.T) {
	sc := Schedule{Interval: time.Hour}
	prev := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	now := prev.Add(150 * time.Minute)
	if got := sc.Next(prev, now); !got.Equal(prev.Add(3 * time.Hour)) {
		t.Fatalf("expected 12:00, got %v", got)
	}
}

func testSessionConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Strategy.Lookback = 120
	cfg.Exchange.Synthetic.Bars = 180
	cfg.Paper.JournalPath = filepath.Join(dir, "journal.jsonl")
	cfg.Paper.DBPath = filepath.Join(dir, "pairsbot.db")
	return cfg
}

func TestSessionReplaysSyntheticPair(t *testing.T) {
	cfg := testSessionConfig(t)
	s, err := NewSession(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Run(ctx, Schedule{Interval: time.Millisecond}, 0); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	decisions, err := s.Store().RecentDecisions("INFY/WIT", 1000)
	if err != nil {
		t.Fatalf("RecentDecisions error: %v", err)
	}
	// 180 bars with 120 of warmup leave 60 current bars
	if len(decisions) != 60 {
		t.Fatalf("expected 60 recorded ticks, got %d", len(decisions))
	}

	snap, err := s.Equity(ctx)
	if err != nil {
		t.Fatalf("Equity error: %v", err)
	}
	if snap.Equity <= 0 {
		t.Fatalf("expected positive equity, got %.2f", snap.Equity)
	}
	if n := len(snap.Positions); n != 0 && n != 2 {
		t.Fatalf("expected both legs or neither, got %v", snap.Positions)
	}
}

func TestSessionStepStopsAtEndOfData(t *testing.T) {
	cfg := testSessionConfig(t)
	cfg.Paper.JournalPath = ""
	cfg.Paper.DBPath = ""
	cfg.Exchange.Synthetic.Bars = 122
	s, err := NewSession(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}
	ctx := context.Background()
	if _, err := s.Step(ctx); err != nil {
		t.Fatalf("first step error: %v", err)
	}
	if _, err := s.Step(ctx); !errors.Is(err, exchange.ErrEndOfData) {
		t.Fatalf("expected ErrEndOfData, got %v", err)
	}
	if s.Store() != nil {
		t.Fatalf("expected no store without db_path")
	}
}

func TestSessionWritesJournal(t *testing.T) {
	cfg := testSessionConfig(t)
	cfg.Strategy.EntryThreshold = 0.01 // trade on almost any deviation
	s, err := NewSession(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Step(ctx); err != nil {
			t.Fatalf("step %d error: %v", i, err)
		}
	}
	stored, err := s.Store().Fills("")
	if err != nil {
		t.Fatalf("Fills error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	entries, err := paper.ReadJournal(cfg.Paper.JournalPath)
	if err != nil {
		t.Fatalf("ReadJournal error: %v", err)
	}
	kinds := map[string]int{}
	for _, e := range entries {
		kinds[e.Kind]++
	}
	if kinds[paper.EntryDecision] != 3 {
		t.Fatalf("expected 3 decisions in journal, got %d", kinds[paper.EntryDecision])
	}
	if kinds[paper.EntryFill] == 0 {
		t.Fatalf("expected fills in journal, got %v", kinds)
	}
	if len(stored) != kinds[paper.EntryFill] {
		t.Fatalf("journal and store disagree: %d vs %d fills", kinds[paper.EntryFill], len(stored))
	}
}

func TestNewSessionRejectsBadPairIndex(t *testing.T) {
	cfg := config.Default()
	cfg.Strategy.PairIndex = 7
	if _, err := NewSession(cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for out of range pair")
	}
}

func TestInspectFitsCurrentWindow(t *testing.T) {
	cfg := testSessionConfig(t)
	cfg.Paper.DBPath = ""
	cfg.Paper.JournalPath = ""
	s, err := NewSession(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}
	in, err := s.Inspect(context.Background())
	if err != nil {
		t.Fatalf("Inspect error: %v", err)
	}
	if in.Pair != "INFY/WIT" || in.Model == nil || in.ZErr != nil {
		t.Fatalf("unexpected inspection %+v", in)
	}
	if in.Model.Lookback != 120 || in.Model.Slope < 1.3 || in.Model.Slope > 1.7 {
		t.Fatalf("expected slope near 1.5 over 120 bars, got %+v", in.Model)
	}
	if len(s.Broker().Fills()) != 0 {
		t.Fatalf("inspect must not trade")
	}
}

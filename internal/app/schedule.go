package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairsbot-go/internal/exchange"
)

// Schedule decides when ticks fire.
type Schedule struct {
	Interval time.Duration
	RunAt    string // "15:04" wall-clock time of the first tick; empty fires immediately
}

// First returns the time of the first tick at or after now.
func (sc Schedule) First(now time.Time) (time.Time, error) {
	if sc.RunAt == "" {
		return now, nil
	}
	at, err := time.Parse("15:04", sc.RunAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("run_at %q: %w", sc.RunAt, err)
	}
	first := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	if first.Before(now) {
		first = first.AddDate(0, 0, 1)
	}
	return first, nil
}

// Next returns the tick after prev, skipping slots already in the past.
func (sc Schedule) Next(prev, now time.Time) time.Time {
	next := prev.Add(sc.Interval)
	for !next.After(now) {
		next = next.Add(sc.Interval)
	}
	return next
}

// Run steps the session on schedule until ctx is done, the synthetic replay ends or
// maxTicks ticks have run (no limit when maxTicks <= 0). A failed tick is logged and the
// next one runs normally.
func (s *Session) Run(ctx context.Context, sc Schedule, maxTicks int) error {
	if sc.Interval <= 0 {
		return errors.New("schedule interval must be positive")
	}
	next, err := sc.First(time.Now())
	if err != nil {
		return err
	}
	s.log.Info().Time("first", next).Dur("interval", sc.Interval).Msg("schedule armed")

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	for n := 0; maxTicks <= 0 || n < maxTicks; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		_, err := s.Step(ctx)
		switch {
		case errors.Is(err, exchange.ErrEndOfData):
			s.log.Info().Int("ticks", n+1).Msg("synthetic replay finished")
			s.logTurnover()
			return nil
		case err != nil:
			s.log.Error().Err(err).Msg("tick failed, waiting for next slot")
		}
		if snap, err := s.Equity(ctx); err == nil {
			s.log.Info().
				Float64("equity", snap.Equity).
				Float64("cash", snap.Cash).
				Float64("realized", snap.RealizedPnL).
				Int("positions", len(snap.Positions)).
				Msg("account")
		}

		now := time.Now()
		next = sc.Next(next, now)
		timer.Reset(next.Sub(now))
	}
	s.logTurnover()
	return nil
}

func (s *Session) logTurnover() {
	for _, t := range s.broker.Turnover() {
		s.log.Info().
			Str("sym", t.Symbol).
			Int("fills", t.Fills).
			Float64("bought", t.Bought).
			Float64("sold", t.Sold).
			Float64("notional", t.Notional).
			Float64("commission", t.Commission).
			Msg("turnover")
	}
}

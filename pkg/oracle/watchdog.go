package oracle

import (
	"context"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/hashlocklabs/slicefill/pkg/util"
)

// HealthSource reads the price-feed round-completion counter.
// answeredInRound of exactly zero means the feed is stale.
type HealthSource interface {
	LatestHealth(ctx context.Context) (*big.Int, error)
}

// Canceller is the watchdog's hook into the coordinator.
type Canceller interface {
	CancelAll(reason string)
}

// Watchdog polls the price-feed health on a fixed interval and mass-cancels
// every in-flight order when the feed goes stale. A poll failure is logged
// and does not trigger cancellation: absence of a signal is not evidence of
// staleness.
type Watchdog struct {
	Source   HealthSource
	Target   Canceller
	Interval time.Duration
	Clock    util.Clock
	Log      *zap.SugaredLogger
}

func (w *Watchdog) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.Clock.After(interval):
		}
		w.poll(ctx)
	}
}

func (w *Watchdog) poll(ctx context.Context) {
	health, err := w.Source.LatestHealth(ctx)
	if err != nil {
		w.Log.Errorw("oracle_poll_failed", "err", err)
		return
	}
	if health.Sign() != 0 {
		return
	}

	w.Log.Warnw("oracle_stale", "answered_in_round", health.String())
	w.Target.CancelAll("oracle_stale")
}

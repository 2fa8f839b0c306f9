// Package scheduler keeps the hot imagery queries warm in the cache.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/regatta-imagery/internal/domain"
	"github.com/couchcryptid/regatta-imagery/internal/imagery"
	"github.com/couchcryptid/regatta-imagery/internal/observability"
)

const runTimeout = 30 * time.Second

var errFallback = errors.New("served fallback")

// ImageryQuerier is the subset of imagery.Service the warmer drives.
type ImageryQuerier interface {
	GetRadarData(ctx context.Context, q imagery.RadarQuery) []domain.RadarFrame
	GetSatelliteData(ctx context.Context, kind domain.SatelliteType) []domain.SatelliteFrame
}

// Warmer periodically refreshes the default radar timeline, the default
// animation and every satellite type.
type Warmer struct {
	scheduler *gocron.Scheduler
	service   ImageryQuerier
	interval  time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewWarmer creates a Warmer. It does nothing until Start.
func NewWarmer(service ImageryQuerier, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Warmer {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Warmer{
		scheduler: s,
		service:   service,
		interval:  interval,
		logger:    logger,
		metrics:   metrics,
	}
}

// Start schedules the warm job, running it once immediately.
func (w *Warmer) Start() error {
	if w.interval <= 0 {
		return fmt.Errorf("warm interval must be positive, got %s", w.interval)
	}

	_, err := w.scheduler.Every(w.interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		_ = w.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule warm job: %w", err)
	}

	w.scheduler.StartAsync()
	w.logger.Info("cache warmer started", "interval", w.interval)
	return nil
}

// Stop cancels future runs. A run in progress finishes on its own.
func (w *Warmer) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}

// RunOnce refreshes every warm query concurrently. It returns an error if
// any query was answered with a fallback.
func (w *Warmer) RunOnce(ctx context.Context) error {
	start := time.Now()
	// A plain group: one query falling back must not cancel the others.
	var g errgroup.Group

	g.Go(func() error {
		return checkRadar("radar", w.service.GetRadarData(ctx, imagery.RadarQuery{}))
	})
	g.Go(func() error {
		q := imagery.RadarQuery{Frames: imagery.DefaultAnimationFrames, Animated: true}
		return checkRadar("animation", w.service.GetRadarData(ctx, q))
	})
	for _, kind := range domain.SatelliteTypes {
		g.Go(func() error {
			for _, f := range w.service.GetSatelliteData(ctx, kind) {
				if f.IsFallback {
					return fmt.Errorf("satellite %s: %w", kind, errFallback)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		w.metrics.WarmRuns.WithLabelValues("error").Inc()
		w.logger.Warn("cache warm run incomplete", "error", err, "duration", time.Since(start))
		return err
	}
	w.metrics.WarmRuns.WithLabelValues("success").Inc()
	w.logger.Debug("cache warm run completed", "duration", time.Since(start))
	return nil
}

func checkRadar(name string, frames []domain.RadarFrame) error {
	for _, f := range frames {
		if f.IsFallback {
			return fmt.Errorf("%s: %w", name, errFallback)
		}
	}
	return nil
}

// Package imagery is the weather imagery facade. It answers radar, satellite,
// animation and overlay queries for the regatta region from the cache, and
// falls back to synthetic frames when upstream data is unavailable.
package imagery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/regatta-imagery/internal/cache"
	"github.com/couchcryptid/regatta-imagery/internal/domain"
	"github.com/couchcryptid/regatta-imagery/internal/observability"
)

// Query defaults.
const (
	DefaultRadarFrames     = 6
	DefaultAnimationFrames = 10
	DefaultZoom            = 6

	// FrameInterval is the animation step in milliseconds.
	FrameInterval = 1000

	radarZoom           = 6
	availabilityTimeout = 5 * time.Second
	publishTimeout      = 5 * time.Second
	readinessTimeout    = 2 * time.Second

	// fetchTimeout bounds an upstream fetch once it no longer follows the
	// caller's context.
	fetchTimeout = 30 * time.Second
)

// FramePublisher announces freshly fetched radar timelines.
type FramePublisher interface {
	PublishFrameUpdate(ctx context.Context, update domain.FrameUpdate) error
}

// DependencyCheck reports whether a backing dependency is reachable.
type DependencyCheck interface {
	Ping(ctx context.Context) error
}

// RadarQuery selects a radar timeline. Zero values select the defaults.
type RadarQuery struct {
	Frames   int
	Animated bool
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher publishes a FrameUpdate after every live radar fetch.
func WithPublisher(p FramePublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithDependencyCheck makes readiness depend on the named dependency, such
// as the Redis cache store.
func WithDependencyCheck(name string, check DependencyCheck) Option {
	return func(s *Service) {
		s.checks = append(s.checks, namedCheck{name: name, check: check})
	}
}

type namedCheck struct {
	name  string
	check DependencyCheck
}

// WithRegion overrides the regatta region.
func WithRegion(r domain.Region) Option {
	return func(s *Service) { s.region = r }
}

// Service orchestrates cache lookup, source fetch, frame building and cache
// write. None of its query methods return an error.
type Service struct {
	radar     domain.RadarSource
	tiles     domain.TileSource
	builder   *domain.FrameBuilder
	cache     *cache.Cache
	publisher FramePublisher
	checks    []namedCheck
	region    domain.Region
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	inflight   singleflight.Group
	publishing sync.WaitGroup
	ready      atomic.Bool
}

// New creates a Service. Call Init before serving queries.
func New(
	radar domain.RadarSource,
	tiles domain.TileSource,
	builder *domain.FrameBuilder,
	c *cache.Cache,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts ...Option,
) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Service{
		radar:   radar,
		tiles:   tiles,
		builder: builder,
		cache:   c,
		region:  domain.RegattaRegion,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init loads the persisted cache.
func (s *Service) Init(ctx context.Context) {
	s.cache.Init(ctx)
	s.ready.Store(true)
	s.logger.Info("imagery service initialized", "region", s.region.ID)
}

// Dispose waits for pending frame updates, then stops background
// persistence and flushes the cache.
func (s *Service) Dispose(ctx context.Context) error {
	s.ready.Store(false)
	s.publishing.Wait()
	if err := s.cache.Close(ctx); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}

// CheckReadiness returns nil once Init has run and every dependency check
// passes.
func (s *Service) CheckReadiness(ctx context.Context) error {
	if !s.ready.Load() {
		return errors.New("imagery service not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()
	for _, c := range s.checks {
		if err := c.check.Ping(ctx); err != nil {
			return fmt.Errorf("%s not reachable: %w", c.name, err)
		}
	}
	return nil
}

// RadarKey is the cache key of a radar query.
func RadarKey(region string, frames int, animated bool, zoom int) string {
	return fmt.Sprintf("radar:%s:f%d:a%t:z%d", region, frames, animated, zoom)
}

// SatelliteKey is the cache key of a satellite query.
func SatelliteKey(region string, kind domain.SatelliteType) string {
	return fmt.Sprintf("satellite:%s:%s", region, kind)
}

// TilesKey is the cache key of an overlay layer query.
func TilesKey(region string, layer domain.Layer, zoom int) string {
	return fmt.Sprintf("tiles:%s:%s:z%d", region, layer, zoom)
}

// GetRadarData returns the radar timeline, oldest first. On upstream failure
// it returns a single fallback frame.
func (s *Service) GetRadarData(ctx context.Context, q RadarQuery) []domain.RadarFrame {
	if q.Frames <= 0 {
		q.Frames = DefaultRadarFrames
	}
	key := RadarKey(s.region.ID, q.Frames, q.Animated, radarZoom)

	var live bool
	frames, err := cachedOrLoad(s, key, func() ([]domain.RadarFrame, time.Duration, error) {
		fetchCtx, cancel := detach(ctx)
		defer cancel()
		var frames []domain.RadarFrame
		frames, live = s.fetchRadar(fetchCtx, key, q.Frames)
		return frames, cache.ShortTTL, nil
	})
	if err != nil {
		s.logger.Error("radar query failed", "key", key, "error", err)
		return []domain.RadarFrame{s.builder.FallbackRadarFrame(s.clock.Now(), s.grid(radarZoom))}
	}
	if live {
		s.publishing.Go(func() { s.publish(key, frames) })
	}
	return frames
}

// fetchRadar builds the live timeline, or a single fallback frame when the
// fetch fails. live is false for the fallback.
func (s *Service) fetchRadar(ctx context.Context, key string, count int) (frames []domain.RadarFrame, live bool) {
	grid := s.grid(radarZoom)

	snaps, err := s.radar.RadarSnapshots(ctx, count)
	if err != nil {
		s.logger.Warn("radar fetch failed, serving fallback", "key", key, "error", err)
		s.metrics.Fallbacks.WithLabelValues("radar").Inc()
		return []domain.RadarFrame{s.builder.FallbackRadarFrame(s.clock.Now(), grid)}, false
	}

	frames = make([]domain.RadarFrame, 0, len(snaps))
	for _, snap := range snaps {
		frames = append(frames, s.builder.RadarFrame(snap, grid))
	}
	return frames, true
}

// GetSatelliteData returns the satellite timeline for kind. On failure it
// returns a single fallback frame.
func (s *Service) GetSatelliteData(ctx context.Context, kind domain.SatelliteType) []domain.SatelliteFrame {
	key := SatelliteKey(s.region.ID, kind)

	frames, err := cachedOrLoad(s, key, func() ([]domain.SatelliteFrame, time.Duration, error) {
		fetchCtx, cancel := detach(ctx)
		defer cancel()
		return s.fetchSatellite(fetchCtx, key, kind)
	})
	if err != nil {
		s.logger.Error("satellite query failed", "key", key, "error", err)
		return []domain.SatelliteFrame{s.builder.FallbackSatelliteFrame(s.clock.Now(), kind, s.grid(radarZoom))}
	}
	return frames
}

// fetchSatellite builds the live timeline, cached for the long TTL. A
// fallback frame is cached for the short TTL so recovery is picked up sooner.
func (s *Service) fetchSatellite(ctx context.Context, key string, kind domain.SatelliteType) ([]domain.SatelliteFrame, time.Duration, error) {
	grid := s.grid(radarZoom)

	start := s.clock.Now()
	snaps, err := s.tiles.SatelliteSnapshots(ctx, kind)
	s.metrics.UpstreamDuration.WithLabelValues("satellite").Observe(s.clock.Since(start).Seconds())
	if err != nil {
		s.metrics.UpstreamRequests.WithLabelValues("satellite", "error").Inc()
		s.metrics.Fallbacks.WithLabelValues("satellite").Inc()
		s.logger.Warn("satellite fetch failed, serving fallback", "key", key, "error", err)
		return []domain.SatelliteFrame{s.builder.FallbackSatelliteFrame(s.clock.Now(), kind, grid)}, cache.ShortTTL, nil
	}
	s.metrics.UpstreamRequests.WithLabelValues("satellite", "success").Inc()

	frames := make([]domain.SatelliteFrame, 0, len(snaps))
	for _, snap := range snaps {
		frames = append(frames, s.builder.SatelliteFrame(snap, kind, grid))
	}
	return frames, cache.LongTTL, nil
}

// GetRadarAnimation wraps the animated radar timeline in a looping
// animation. It returns an empty, non-looping animation when there is
// nothing to play.
func (s *Service) GetRadarAnimation(ctx context.Context, frameCount int) domain.WeatherAnimation {
	if frameCount <= 0 {
		frameCount = DefaultAnimationFrames
	}
	if err := ctx.Err(); err != nil {
		s.logger.Warn("radar animation aborted", "error", err)
		s.metrics.Fallbacks.WithLabelValues("animation").Inc()
		return emptyAnimation()
	}

	frames := s.GetRadarData(ctx, RadarQuery{Frames: frameCount, Animated: true})
	if len(frames) == 0 {
		s.metrics.Fallbacks.WithLabelValues("animation").Inc()
		return emptyAnimation()
	}
	return domain.WeatherAnimation{
		Frames:        frames,
		Duration:      len(frames) * FrameInterval,
		FrameInterval: FrameInterval,
		Loop:          true,
	}
}

func emptyAnimation() domain.WeatherAnimation {
	return domain.WeatherAnimation{Frames: []domain.RadarFrame{}, FrameInterval: FrameInterval}
}

// GetWeatherTiles returns the overlay tiles of a layer. Zoom 0 is the whole
// world tile; a negative zoom selects DefaultZoom. Unlike the frame queries
// it returns an empty slice on failure.
func (s *Service) GetWeatherTiles(_ context.Context, layer domain.Layer, zoom int) []domain.TileDescriptor {
	if zoom < 0 {
		zoom = DefaultZoom
	}
	key := TilesKey(s.region.ID, layer, zoom)

	tiles, err := cachedOrLoad(s, key, func() ([]domain.TileDescriptor, time.Duration, error) {
		template, err := s.tiles.LayerTemplate(layer)
		if err != nil {
			return nil, 0, err
		}
		grid, err := domain.TileGrid(s.region.Bounds, zoom)
		if err != nil {
			return nil, 0, err
		}
		s.metrics.UpstreamRequests.WithLabelValues("layer", "success").Inc()
		return s.builder.LayerTiles(template, s.clock.Now(), grid), cache.ShortTTL, nil
	})
	if err != nil {
		s.logger.Warn("weather tiles unavailable", "key", key, "error", err)
		s.metrics.UpstreamRequests.WithLabelValues("layer", "error").Inc()
		s.metrics.Fallbacks.WithLabelValues("tiles").Inc()
		return []domain.TileDescriptor{}
	}
	return tiles
}

// ClearCache drops every cached query.
func (s *Service) ClearCache() {
	s.cache.Clear()
	s.logger.Info("imagery cache cleared")
}

// GetCacheStatus reports the cached keys and their freshness.
func (s *Service) GetCacheStatus() cache.Status {
	return s.cache.Status()
}

// IsServiceAvailable probes the radar upstream.
func (s *Service) IsServiceAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	if err := s.radar.Ping(ctx); err != nil {
		s.logger.Debug("radar upstream unavailable", "error", err)
		return false
	}
	return true
}

func (s *Service) grid(zoom int) []domain.GridTile {
	grid, err := domain.TileGrid(s.region.Bounds, zoom)
	if err != nil {
		s.logger.Error("invalid region grid", "region", s.region.ID, "zoom", zoom, "error", err)
		return nil
	}
	return grid
}

// publish runs outside the query path. Dispose waits for it.
func (s *Service) publish(key string, frames []domain.RadarFrame) {
	if s.publisher == nil || len(frames) == 0 {
		return
	}
	update := domain.FrameUpdate{
		ID:              uuid.NewString(),
		CacheKey:        key,
		FrameCount:      len(frames),
		LatestTimestamp: frames[len(frames)-1].Timestamp,
		PublishedAt:     s.clock.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.publisher.PublishFrameUpdate(ctx, update); err != nil {
		s.metrics.FrameUpdatesPublished.WithLabelValues("error").Inc()
		s.logger.Warn("publish frame update failed", "key", key, "error", err)
		return
	}
	s.metrics.FrameUpdatesPublished.WithLabelValues("success").Inc()
}

// detach returns a context that ignores the caller's cancellation and is
// bounded by fetchTimeout instead.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
}

// loader produces a query result and the TTL it should be cached for.
type loader[T any] func() (T, time.Duration, error)

// cachedOrLoad returns the fresh cached value for key, or runs load once per
// key across concurrent callers and caches its result.
func cachedOrLoad[T any](s *Service, key string, load loader[T]) (T, error) {
	if v, ok := s.decodeCached(key, new(T)); ok {
		return *v.(*T), nil
	}

	v, err, shared := s.inflight.Do(key, func() (any, error) {
		if v, ok := s.decodeCached(key, new(T)); ok {
			return *v.(*T), nil
		}
		v, ttl, err := load()
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		s.cache.Set(key, data, ttl)
		return v, nil
	})
	if shared {
		s.logger.Debug("coalesced imagery query", "key", key)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// decodeCached unmarshals the cached payload of key into dst. An undecodable
// payload is treated as a miss.
func (s *Service) decodeCached(key string, dst any) (any, bool) {
	data, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return nil, false
	}
	return dst, true
}

// Package http serves the imagery API alongside health, readiness and
// metrics endpoints.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/regatta-imagery/internal/cache"
	"github.com/couchcryptid/regatta-imagery/internal/domain"
	"github.com/couchcryptid/regatta-imagery/internal/imagery"
)

// ImageryService is the facade the API exposes.
type ImageryService interface {
	sharedobs.ReadinessChecker
	GetRadarData(ctx context.Context, q imagery.RadarQuery) []domain.RadarFrame
	GetRadarAnimation(ctx context.Context, frameCount int) domain.WeatherAnimation
	GetSatelliteData(ctx context.Context, kind domain.SatelliteType) []domain.SatelliteFrame
	GetWeatherTiles(ctx context.Context, layer domain.Layer, zoom int) []domain.TileDescriptor
	ClearCache()
	GetCacheStatus() cache.Status
	IsServiceAvailable(ctx context.Context) bool
}

// Server exposes the imagery API and the health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	service    ImageryService
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the /v1 imagery routes plus
// /healthz, /readyz, and /metrics.
func NewServer(addr string, service ImageryService, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		service: service,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(service))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/radar", s.handleRadar)
	mux.HandleFunc("GET /v1/radar/animation", s.handleAnimation)
	mux.HandleFunc("GET /v1/satellite/{type}", s.handleSatellite)
	mux.HandleFunc("GET /v1/tiles/{layer}", s.handleTiles)
	mux.HandleFunc("GET /v1/cache", s.handleCacheStatus)
	mux.HandleFunc("DELETE /v1/cache", s.handleCacheClear)
	mux.HandleFunc("GET /v1/status", s.handleStatus)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleRadar(w http.ResponseWriter, r *http.Request) {
	frames, err := queryInt(r, "frames", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	animated, err := queryBool(r, "animated")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, s.service.GetRadarData(r.Context(), imagery.RadarQuery{
		Frames:   frames,
		Animated: animated,
	}))
}

func (s *Server) handleAnimation(w http.ResponseWriter, r *http.Request) {
	frames, err := queryInt(r, "frames", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, s.service.GetRadarAnimation(r.Context(), frames))
}

func (s *Server) handleSatellite(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseSatelliteType(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, s.service.GetSatelliteData(r.Context(), kind))
}

func (s *Server) handleTiles(w http.ResponseWriter, r *http.Request) {
	layer, err := domain.ParseLayer(r.PathValue("layer"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	zoom, err := queryInt(r, "zoom", imagery.DefaultZoom)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if zoom < 0 || zoom > domain.MaxZoom {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %d", domain.ErrInvalidZoom, zoom))
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, s.service.GetWeatherTiles(r.Context(), layer, zoom))
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, s.service.GetCacheStatus())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.service.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, map[string]bool{
		"available": s.service.IsServiceAvailable(r.Context()),
	})
}

// queryInt parses an optional integer parameter, returning def when it is
// absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be an integer", name, v)
	}
	return n, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: must be true or false", name, v)
	}
	return b, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}

// Package tiles implements the satellite and overlay layer sources. Neither
// has a live index upstream: snapshot times follow a fixed cadence and URLs
// come from configured templates.
package tiles

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/regatta-imagery/internal/domain"
)

const (
	// DefaultSatelliteFrames is the number of satellite snapshots per type.
	DefaultSatelliteFrames = 4

	satelliteStep       = 30 * time.Minute
	satelliteResolution = 10 * time.Minute
)

// Options configures a Source.
type Options struct {
	SatelliteURL    string
	LayerURL        string
	SatelliteFrames int
}

// Source implements domain.TileSource from URL templates.
type Source struct {
	satelliteURL string
	layerURL     string
	frames       int
	clock        clockwork.Clock
}

// NewSource creates a template-based tile source.
func NewSource(opts Options, clock clockwork.Clock) *Source {
	if opts.SatelliteFrames <= 0 {
		opts.SatelliteFrames = DefaultSatelliteFrames
	}
	return &Source{
		satelliteURL: strings.TrimRight(opts.SatelliteURL, "/"),
		layerURL:     strings.TrimRight(opts.LayerURL, "/"),
		frames:       opts.SatelliteFrames,
		clock:        clock,
	}
}

// SatelliteSnapshots returns snapshots at 30-minute steps ending at the
// current time truncated to 10 minutes, oldest first.
func (s *Source) SatelliteSnapshots(ctx context.Context, kind domain.SatelliteType) ([]domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
	}
	if _, err := domain.ParseSatelliteType(string(kind)); err != nil {
		return nil, err
	}

	latest := s.clock.Now().UTC().Truncate(satelliteResolution)
	template := fmt.Sprintf("%s/%s/{z}/{x}/{y}.png", s.satelliteURL, kind)

	snaps := make([]domain.Snapshot, s.frames)
	for i := range s.frames {
		at := latest.Add(-time.Duration(s.frames-1-i) * satelliteStep)
		snaps[i] = domain.Snapshot{
			Time:         at,
			Path:         fmt.Sprintf("/satellite/%s/%d", kind, at.Unix()),
			TileTemplate: template,
		}
	}
	return snaps, nil
}

// LayerTemplate returns the {z}/{x}/{y} template of an overlay layer.
func (s *Source) LayerTemplate(layer domain.Layer) (string, error) {
	if _, err := domain.ParseLayer(string(layer)); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/{z}/{x}/{y}.png", s.layerURL, layer), nil
}

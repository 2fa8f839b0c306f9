package domain

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Per-kind tile styling.
const (
	radarOpacity     = 0.6
	radarZIndex      = 1
	satelliteOpacity = 0.8
	satelliteZIndex  = 0
	layerOpacity     = 0.7
	layerZIndex      = 2
)

// Fixed values of synthetic frames.
const (
	FallbackRadarCoverage = 10
	FallbackCloudCoverage = 25
)

// FrameBuilder turns snapshots and the region grid into frames.
type FrameBuilder struct {
	mu               sync.Mutex
	rng              *rand.Rand
	fallbackTemplate string
}

// NewFrameBuilder creates a builder. rng drives the coverage placeholder;
// pass nil for an unseeded source. fallbackTemplate is the {z}/{x}/{y} URL
// used for synthetic frames.
func NewFrameBuilder(rng *rand.Rand, fallbackTemplate string) *FrameBuilder {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &FrameBuilder{rng: rng, fallbackTemplate: fallbackTemplate}
}

// RadarFrame builds one radar frame. Coverage is a random placeholder, not a
// measurement.
func (b *FrameBuilder) RadarFrame(s Snapshot, grid []GridTile) RadarFrame {
	ts := FormatTimestamp(s.Time)
	return RadarFrame{
		Timestamp:              ts,
		Tiles:                  tiles(s.TileTemplate, ts, grid, radarOpacity, radarZIndex),
		PrecipitationIntensity: IntensityFor(s.Path),
		Coverage:               b.placeholderCoverage(),
		CoverageEstimated:      true,
	}
}

// SatelliteFrame builds one satellite frame. CloudCoverage is a random
// placeholder, not a measurement.
func (b *FrameBuilder) SatelliteFrame(s Snapshot, kind SatelliteType, grid []GridTile) SatelliteFrame {
	ts := FormatTimestamp(s.Time)
	return SatelliteFrame{
		Timestamp:         ts,
		Tiles:             tiles(s.TileTemplate, ts, grid, satelliteOpacity, satelliteZIndex),
		CloudCoverage:     b.placeholderCoverage(),
		Type:              kind,
		CoverageEstimated: true,
	}
}

// LayerTiles builds the frameless tiles of an overlay layer.
func (b *FrameBuilder) LayerTiles(template string, now time.Time, grid []GridTile) []TileDescriptor {
	return tiles(template, FormatTimestamp(now), grid, layerOpacity, layerZIndex)
}

// FallbackRadarFrame is the synthetic frame served when radar data is unavailable.
func (b *FrameBuilder) FallbackRadarFrame(now time.Time, grid []GridTile) RadarFrame {
	ts := FormatTimestamp(now)
	return RadarFrame{
		Timestamp:              ts,
		Tiles:                  tiles(b.fallbackTemplate, ts, grid, radarOpacity, radarZIndex),
		PrecipitationIntensity: IntensityLight,
		Coverage:               FallbackRadarCoverage,
		IsFallback:             true,
	}
}

// FallbackSatelliteFrame is the synthetic frame served when satellite data is unavailable.
func (b *FrameBuilder) FallbackSatelliteFrame(now time.Time, kind SatelliteType, grid []GridTile) SatelliteFrame {
	ts := FormatTimestamp(now)
	return SatelliteFrame{
		Timestamp:     ts,
		Tiles:         tiles(b.fallbackTemplate, ts, grid, satelliteOpacity, satelliteZIndex),
		CloudCoverage: FallbackCloudCoverage,
		Type:          kind,
		IsFallback:    true,
	}
}

func (b *FrameBuilder) placeholderCoverage() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64() * 100
}

// IntensityFor maps a provider path to a stable pseudo-random intensity bucket.
func IntensityFor(path string) PrecipitationIntensity {
	var h int32
	for i := 0; i < len(path); i++ {
		h = h*31 + int32(path[i])
	}
	n := int64(h)
	if n < 0 {
		n = -n
	}
	return intensityBuckets[n%4]
}

func tiles(template, ts string, grid []GridTile, opacity float64, z int) []TileDescriptor {
	out := make([]TileDescriptor, 0, len(grid))
	for _, g := range grid {
		out = append(out, TileDescriptor{
			URL:       FillTemplate(template, g),
			Bounds:    g.Bounds,
			Timestamp: ts,
			Opacity:   opacity,
			ZIndex:    z,
		})
	}
	return out
}

package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

var (
	// ErrFetchFailed is the single failure signal of every source adapter:
	// transport errors, non-2xx responses and malformed payloads all wrap it.
	ErrFetchFailed = errors.New("fetch failed")

	ErrInvalidBounds        = errors.New("invalid bounds")
	ErrInvalidZoom          = errors.New("invalid zoom level")
	ErrUnknownLayer         = errors.New("unknown weather layer")
	ErrUnknownSatelliteType = errors.New("unknown satellite imagery type")
)

// TimestampLayout formats frame and tile timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t as an ISO-8601 UTC string with milliseconds.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// GeoBounds is a WGS-84 bounding box in degrees.
type GeoBounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// RegattaRegion is the championship racing area.
var RegattaRegion = Region{
	ID:     "gulf-of-lion",
	Bounds: GeoBounds{North: 44.0, South: 42.0, East: 8.0, West: 4.0},
}

// Region names a fixed bounding box. The ID is part of every cache key.
type Region struct {
	ID     string
	Bounds GeoBounds
}

// Validate reports whether the box is well formed (north > south, east > west).
func (b GeoBounds) Validate() error {
	if b.North <= b.South {
		return fmt.Errorf("%w: north %.4f must exceed south %.4f", ErrInvalidBounds, b.North, b.South)
	}
	if b.East <= b.West {
		return fmt.Errorf("%w: east %.4f must exceed west %.4f", ErrInvalidBounds, b.East, b.West)
	}
	return nil
}

// Bound converts the box to an orb.Bound (points are lon,lat).
func (b GeoBounds) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.West, b.South},
		Max: orb.Point{b.East, b.North},
	}
}

func boundsFromOrb(b orb.Bound) GeoBounds {
	return GeoBounds{
		North: b.Max.Lat(),
		South: b.Min.Lat(),
		East:  b.Max.Lon(),
		West:  b.Min.Lon(),
	}
}

// TileDescriptor references one tile image. It is never mutated after creation.
type TileDescriptor struct {
	URL       string    `json:"url"`
	Bounds    GeoBounds `json:"bounds"`
	Timestamp string    `json:"timestamp"`
	Opacity   float64   `json:"opacity"`
	ZIndex    int       `json:"zIndex"`
}

// PrecipitationIntensity buckets radar frames.
type PrecipitationIntensity string

const (
	IntensityLight    PrecipitationIntensity = "light"
	IntensityModerate PrecipitationIntensity = "moderate"
	IntensityHeavy    PrecipitationIntensity = "heavy"
	IntensityExtreme  PrecipitationIntensity = "extreme"
)

var intensityBuckets = [4]PrecipitationIntensity{
	IntensityLight, IntensityModerate, IntensityHeavy, IntensityExtreme,
}

// SatelliteType is the satellite imagery channel.
type SatelliteType string

const (
	SatelliteVisible    SatelliteType = "visible"
	SatelliteInfrared   SatelliteType = "infrared"
	SatelliteWaterVapor SatelliteType = "water_vapor"
)

// SatelliteTypes lists every supported channel.
var SatelliteTypes = []SatelliteType{SatelliteVisible, SatelliteInfrared, SatelliteWaterVapor}

// ParseSatelliteType validates a channel name.
func ParseSatelliteType(s string) (SatelliteType, error) {
	for _, t := range SatelliteTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSatelliteType, s)
}

// Layer is a frameless weather overlay.
type Layer string

const (
	LayerPrecipitation Layer = "precipitation"
	LayerClouds        Layer = "clouds"
	LayerTemperature   Layer = "temperature"
	LayerWind          Layer = "wind"
	LayerPressure      Layer = "pressure"
)

// Layers lists every supported overlay.
var Layers = []Layer{LayerPrecipitation, LayerClouds, LayerTemperature, LayerWind, LayerPressure}

// ParseLayer validates a layer name.
func ParseLayer(s string) (Layer, error) {
	for _, l := range Layers {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLayer, s)
}

// RadarFrame is one moment of the radar timeline.
type RadarFrame struct {
	Timestamp              string                 `json:"timestamp"`
	Tiles                  []TileDescriptor       `json:"tiles"`
	PrecipitationIntensity PrecipitationIntensity `json:"precipitationIntensity"`
	Coverage               float64                `json:"coverage"`
	CoverageEstimated      bool                   `json:"coverageEstimated"`
	IsFallback             bool                   `json:"isFallback"`
}

// SatelliteFrame is one satellite snapshot.
type SatelliteFrame struct {
	Timestamp         string           `json:"timestamp"`
	Tiles             []TileDescriptor `json:"tiles"`
	CloudCoverage     float64          `json:"cloudCoverage"`
	Type              SatelliteType    `json:"type"`
	CoverageEstimated bool             `json:"coverageEstimated"`
	IsFallback        bool             `json:"isFallback"`
}

// WeatherAnimation plays radar frames at a fixed interval. It is derived from
// cached frames and never stored on its own.
type WeatherAnimation struct {
	Frames        []RadarFrame `json:"frames"`
	Duration      int          `json:"duration"`      // ms
	FrameInterval int          `json:"frameInterval"` // ms
	Loop          bool         `json:"loop"`
}

// Snapshot is what a source adapter hands the FrameBuilder: one moment in
// time plus a tile URL template containing {z}, {x} and {y}.
type Snapshot struct {
	Time         time.Time
	Path         string // provider path; seeds the intensity bucket
	TileTemplate string
}

package domain

import "context"

// RadarSource supplies the radar timeline.
type RadarSource interface {
	// RadarSnapshots returns up to count of the most recent snapshots,
	// oldest first. Every failure wraps ErrFetchFailed.
	RadarSnapshots(ctx context.Context, count int) ([]Snapshot, error)

	// Ping reports whether the upstream answers at all.
	Ping(ctx context.Context) error
}

// TileSource supplies satellite snapshots and overlay layer templates.
type TileSource interface {
	SatelliteSnapshots(ctx context.Context, kind SatelliteType) ([]Snapshot, error)
	LayerTemplate(layer Layer) (string, error)
}

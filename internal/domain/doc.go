// Package domain models weather imagery for the regatta region: radar and
// satellite frames, overlay tiles, and the animation built from them.
//
// # Region
//
// All imagery covers one fixed bounding box, RegattaRegion. It is split into a
// 2×2 grid of sub-tiles at the requested zoom. Tile indices follow the
// slippy-map (Web Mercator) convention and are taken at each sub-tile's
// north-west corner:
//
//	n = 2^zoom
//	x = floor((lon + 180) / 360 * n)
//	y = floor((1 - ln(tan(lat) + sec(lat)) / π) / 2 * n)
//
// The split is a coarse approximation, not recursive quad-tree tiling. It is
// good enough for a small region and is not a general slippy-map client.
//
// # Frames
//
// A frame is one timestamped snapshot of the region. The upstream provider
// supplies a snapshot (time, provider path, tile URL template). FrameBuilder
// fills the template once per grid tile.
//
// Radar precipitation intensity is a stable pseudo-random bucket derived from
// the provider path:
//
//	h = h*31 + c   (int32 wrap-around over the path bytes)
//	intensity = [light, moderate, heavy, extreme][|h| mod 4]
//
// It carries no physical meaning. Coverage and cloud coverage are random
// placeholders too, and frames flag them with CoverageEstimated.
//
// # Fallbacks
//
// When an upstream cannot be read, callers still get one renderable frame.
// Its values are fixed (radar: light / 10, satellite: 25) and it is marked
// IsFallback so clients can tell it apart from real data.
//
// # Timestamps
//
// Frame and tile timestamps are ISO-8601 UTC with millisecond precision, e.g.
// unix 1700000000 → "2023-11-14T22:13:20.000Z".
package domain

package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the deepest zoom the tile providers serve.
const MaxZoom = 20

// GridTile is one cell of the region grid.
type GridTile struct {
	Bounds GeoBounds
	X      uint32
	Y      uint32
	Zoom   int
}

// TileGrid splits bounds into a 2×2 grid (NW, NE, SW, SE) and indexes each
// cell at its north-west corner. Same input always yields the same grid.
func TileGrid(bounds GeoBounds, zoom int) ([]GridTile, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	if zoom < 0 || zoom > MaxZoom {
		return nil, fmt.Errorf("%w: %d", ErrInvalidZoom, zoom)
	}

	b := bounds.Bound()
	mid := b.Center()

	cells := []orb.Bound{
		{Min: orb.Point{b.Left(), mid.Lat()}, Max: orb.Point{mid.Lon(), b.Top()}},     // NW
		{Min: orb.Point{mid.Lon(), mid.Lat()}, Max: orb.Point{b.Right(), b.Top()}},    // NE
		{Min: orb.Point{b.Left(), b.Bottom()}, Max: orb.Point{mid.Lon(), mid.Lat()}},  // SW
		{Min: orb.Point{mid.Lon(), b.Bottom()}, Max: orb.Point{b.Right(), mid.Lat()}}, // SE
	}

	grid := make([]GridTile, 0, len(cells))
	for _, c := range cells {
		t := maptile.At(orb.Point{c.Left(), c.Top()}, maptile.Zoom(zoom))
		grid = append(grid, GridTile{
			Bounds: boundsFromOrb(c),
			X:      t.X,
			Y:      t.Y,
			Zoom:   zoom,
		})
	}
	return grid, nil
}

// FillTemplate substitutes {z}, {x} and {y} in a tile URL template.
func FillTemplate(template string, t GridTile) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(t.Zoom),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
	)
	return r.Replace(template)
}

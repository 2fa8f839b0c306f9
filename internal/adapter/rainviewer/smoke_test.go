//go:build rainviewer

package rainviewer

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/regatta-imagery/internal/observability"
)

// These tests hit the public RainViewer API.
// Run with: go test -tags=rainviewer ./internal/adapter/rainviewer/ -v -count=1

func smokeClient() *Client {
	return NewClient(Options{Timeout: 10 * time.Second},
		observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_RadarSnapshots(t *testing.T) {
	snaps, err := smokeClient().RadarSnapshots(context.Background(), 6)
	require.NoError(t, err)
	require.NotEmpty(t, snaps)
	assert.LessOrEqual(t, len(snaps), 6)

	for i, s := range snaps {
		assert.True(t, strings.HasPrefix(s.Path, "/"), "path %q", s.Path)
		assert.Contains(t, s.TileTemplate, "/256/{z}/{x}/{y}/2/1_1.png")
		if i > 0 {
			assert.False(t, s.Time.Before(snaps[i-1].Time), "snapshots must be chronological")
		}
	}
}

func TestSmoke_Ping(t *testing.T) {
	require.NoError(t, smokeClient().Ping(context.Background()))
}

package rainviewer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/regatta-imagery/internal/domain"
	"github.com/couchcryptid/regatta-imagery/internal/observability"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testClient(url string, retries int) *Client {
	return NewClient(Options{
		MetadataURL:    url,
		Timeout:        2 * time.Second,
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func indexHandler(t *testing.T, maps weatherMaps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, contentTypeJSON, r.Header.Get("Accept"))
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(maps))
	}
}

func TestClient_RadarSnapshots_Success(t *testing.T) {
	srv := httptest.NewServer(indexHandler(t, weatherMaps{
		Host: "https://tilecache.rainviewer.com",
		Radar: &radarSet{
			Past: []radarEntry{
				{Time: 1700000000, Path: "/v2/radar/1700000000"},
				{Time: 1700000600, Path: "/v2/radar/1700000600"},
			},
			Nowcast: []radarEntry{
				{Time: 1700001200, Path: "/v2/radar/nowcast_1700001200"},
			},
		},
	}))
	defer srv.Close()

	snaps, err := testClient(srv.URL, 0).RadarSnapshots(context.Background(), 6)
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	assert.Equal(t, time.Unix(1700000000, 0).UTC(), snaps[0].Time)
	assert.Equal(t, "/v2/radar/1700000000", snaps[0].Path)
	assert.Equal(t,
		"https://tilecache.rainviewer.com/v2/radar/1700000000/256/{z}/{x}/{y}/2/1_1.png",
		snaps[0].TileTemplate)
	assert.Equal(t, "/v2/radar/nowcast_1700001200", snaps[2].Path, "nowcast follows past")
}

func TestClient_RadarSnapshots_TakesLastN(t *testing.T) {
	srv := httptest.NewServer(indexHandler(t, weatherMaps{
		Radar: &radarSet{
			Past: []radarEntry{
				{Time: 1, Path: "/a"},
				{Time: 2, Path: "/b"},
			},
			Nowcast: []radarEntry{
				{Time: 3, Path: "/c"},
			},
		},
	}))
	defer srv.Close()

	snaps, err := testClient(srv.URL, 0).RadarSnapshots(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "/b", snaps[0].Path)
	assert.Equal(t, "/c", snaps[1].Path)
	assert.Contains(t, snaps[0].TileTemplate, DefaultHost, "missing host falls back to the default")
}

func TestClient_RadarSnapshots_EmptyIndex(t *testing.T) {
	srv := httptest.NewServer(indexHandler(t, weatherMaps{
		Radar: &radarSet{Past: []radarEntry{}, Nowcast: []radarEntry{}},
	}))
	defer srv.Close()

	snaps, err := testClient(srv.URL, 0).RadarSnapshots(context.Background(), 6)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestClient_RadarSnapshots_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("boom"))
			},
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"radar":`))
			},
		},
		{
			name: "wrong types",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"radar":{"past":"nope"}}`))
			},
		},
		{
			name: "entry without path",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"radar":{"past":[{"time":1700000000}],"nowcast":[]}}`))
			},
		},
		{
			name: "entry without time",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"radar":{"past":[{"path":"/v2/radar/x"}],"nowcast":[]}}`))
			},
		},
		{
			name: "empty object",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{}`))
			},
		},
		{
			name: "null radar",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"radar":null}`))
			},
		},
		{
			name: "unrelated shape",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"maps":[1,2]}`))
			},
		},
		{
			name: "null past",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"radar":{"past":null,"nowcast":[]}}`))
			},
		},
		{
			name: "missing nowcast",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"radar":{"past":[{"time":1700000000,"path":"/v2/radar/1700000000"}]}}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := testClient(srv.URL, 0).RadarSnapshots(context.Background(), 6)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrFetchFailed)
		})
	}
}

func TestClient_RadarSnapshots_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := testClient(srv.URL, 0)
	c.httpClient.Timeout = 50 * time.Millisecond

	_, err := c.RadarSnapshots(context.Background(), 6)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFetchFailed)
}

func TestClient_RadarSnapshots_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(indexHandler(t, weatherMaps{}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(srv.URL, 3).RadarSnapshots(ctx, 6)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFetchFailed)
}

func TestClient_RadarSnapshots_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"radar":{"past":[{"time":1700000000,"path":"/v2/radar/1700000000"}],"nowcast":[]}}`))
	}))
	defer srv.Close()

	snaps, err := testClient(srv.URL, 2).RadarSnapshots(context.Background(), 6)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_RadarSnapshots_NoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 0).RadarSnapshots(context.Background(), 6)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RadarSnapshots_DoesNotRetryMalformed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 3).RadarSnapshots(context.Background(), 6)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 0)
	for range 5 {
		_, err := c.RadarSnapshots(context.Background(), 6)
		require.Error(t, err)
	}
	require.Equal(t, int32(5), calls.Load())

	_, err := c.RadarSnapshots(context.Background(), 6)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFetchFailed)
	assert.Equal(t, int32(5), calls.Load(), "open breaker must short-circuit")
}

func TestClient_RadarSnapshots_InvalidCount(t *testing.T) {
	c := testClient("http://127.0.0.1:1", 0)
	_, err := c.RadarSnapshots(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrFetchFailed)
}

func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer(indexHandler(t, weatherMaps{}))
	defer srv.Close()

	require.NoError(t, testClient(srv.URL, 0).Ping(context.Background()))
}

func TestClient_Ping_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	require.Error(t, testClient(srv.URL, 0).Ping(context.Background()))

	srv.Close()
	require.Error(t, testClient(srv.URL, 0).Ping(context.Background()))
}

func TestTileTemplate(t *testing.T) {
	assert.Equal(t,
		"https://host/v2/radar/abc/256/{z}/{x}/{y}/2/1_1.png",
		TileTemplate("https://host", "/v2/radar/abc"))
}

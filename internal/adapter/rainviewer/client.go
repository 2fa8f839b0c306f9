package rainviewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"

	"github.com/couchcryptid/regatta-imagery/internal/domain"
	"github.com/couchcryptid/regatta-imagery/internal/observability"
)

const (
	// DefaultMetadataURL is the public RainViewer weather-maps index.
	DefaultMetadataURL = "https://api.rainviewer.com/public/weather-maps.json"
	// DefaultHost serves radar tiles when the index omits a host.
	DefaultHost = "https://tilecache.rainviewer.com"

	tileSize    = 256
	colorScheme = 2
	tileOptions = "1_1" // smoothed, snow shown

	maxErrorBody = 512
)

var (
	errServerError = errors.New("server error")
	errClientError = errors.New("client error")
	errMalformed   = errors.New("malformed radar index")
)

// Options configures a Client.
type Options struct {
	MetadataURL string
	Timeout     time.Duration

	// MaxRetries is how many times a failed fetch is repeated. Zero means a
	// single attempt.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client implements domain.RadarSource against the RainViewer API.
type Client struct {
	metadataURL string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	validate    *validator.Validate
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewClient creates a RainViewer radar client.
func NewClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if opts.MetadataURL == "" {
		opts.MetadataURL = DefaultMetadataURL
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 2 * time.Second
	}
	return &Client{
		metadataURL: opts.MetadataURL,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "rainviewer",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		validate:   validator.New(),
		maxRetries: max(opts.MaxRetries, 0),
		backoff:    opts.InitialBackoff,
		maxBackoff: opts.MaxBackoff,
		metrics:    metrics,
		logger:     logger,
	}
}

// RadarSnapshots fetches the radar index and returns the last count entries
// of past+nowcast, oldest first.
func (c *Client) RadarSnapshots(ctx context.Context, count int) ([]domain.Snapshot, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: frame count must be positive, got %d", domain.ErrFetchFailed, count)
	}

	start := time.Now()
	maps, err := c.fetchWithRetry(ctx)
	c.metrics.UpstreamDuration.WithLabelValues("radar").Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues("radar", "error").Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
	}
	c.metrics.UpstreamRequests.WithLabelValues("radar", "success").Inc()

	host := strings.TrimRight(maps.Host, "/")
	if host == "" {
		host = DefaultHost
	}

	radar := maps.Radar
	entries := make([]radarEntry, 0, len(radar.Past)+len(radar.Nowcast))
	entries = append(entries, radar.Past...)
	entries = append(entries, radar.Nowcast...)
	if len(entries) > count {
		entries = entries[len(entries)-count:]
	}

	snaps := make([]domain.Snapshot, 0, len(entries))
	for _, e := range entries {
		snaps = append(snaps, domain.Snapshot{
			Time:         time.Unix(e.Time, 0).UTC(),
			Path:         e.Path,
			TileTemplate: TileTemplate(host, e.Path),
		})
	}
	return snaps, nil
}

// TileTemplate is the radar tile URL for a provider path, with {z}/{x}/{y}
// left for the frame builder.
func TileTemplate(host, path string) string {
	return fmt.Sprintf("%s%s/%d/{z}/{x}/{y}/%d/%s.png", host, path, tileSize, colorScheme, tileOptions)
}

// Ping checks that the metadata endpoint answers with a 2xx status.
// It bypasses retries but not the circuit breaker.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.get(ctx)
		if err != nil {
			return nil, err
		}
		drain(resp)
		return nil, nil
	})
	return err
}

func (c *Client) fetchWithRetry(ctx context.Context) (weatherMaps, error) {
	delay := c.backoff
	for attempt := 0; ; attempt++ {
		maps, err := c.fetch(ctx)
		if err == nil {
			return maps, nil
		}
		if attempt >= c.maxRetries || !retryable(err) || ctx.Err() != nil {
			return weatherMaps{}, err
		}

		c.logger.Debug("radar fetch failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		if !sharedretry.SleepWithContext(ctx, delay) {
			return weatherMaps{}, ctx.Err()
		}
		delay = sharedretry.NextBackoff(delay, c.maxBackoff)
	}
}

func (c *Client) fetch(ctx context.Context) (weatherMaps, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.get(ctx)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var maps weatherMaps
		if err := json.NewDecoder(resp.Body).Decode(&maps); err != nil {
			return nil, fmt.Errorf("%w: decode response: %w", errMalformed, err)
		}
		if err := c.validate.Struct(maps); err != nil {
			return nil, fmt.Errorf("%w: %w", errMalformed, err)
		}
		return maps, nil
	})
	if err != nil {
		return weatherMaps{}, err
	}
	return result.(weatherMaps), nil
}

func (c *Client) get(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("radar metadata request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		kind := errClientError
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = errServerError
		}
		return nil, fmt.Errorf("%w: rainviewer API error: status %d: %s", kind, resp.StatusCode, body)
	}
	return resp, nil
}

// retryable reports whether another attempt could succeed. Transport
// failures and 5xx/429 responses are retried; 4xx, malformed payloads and
// an open breaker are final.
func retryable(err error) bool {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	case errors.Is(err, errServerError):
		return true
	case errors.Is(err, errClientError), errors.Is(err, errMalformed):
		return false
	}
	return true
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

// RainViewer API response types.

// A missing or null radar object or frame list is malformed; empty lists are
// a valid index with no frames.
type weatherMaps struct {
	Host  string    `json:"host" validate:"omitempty,url"`
	Radar *radarSet `json:"radar" validate:"required"`
}

type radarSet struct {
	Past    []radarEntry `json:"past" validate:"required,dive"`
	Nowcast []radarEntry `json:"nowcast" validate:"required,dive"`
}

type radarEntry struct {
	Time int64  `json:"time" validate:"gt=0"`
	Path string `json:"path" validate:"required,startswith=/"`
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Storage backends for the persisted cache blob.
const (
	StorageFile  = "file"
	StorageRedis = "redis"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Radar upstream.
	RadarMetadataURL string
	RadarTimeout     time.Duration
	RadarMaxRetries  int

	// Tile templates.
	SatelliteTileURL string
	SatelliteFrames  int
	LayerTileURL     string
	FallbackTileURL  string

	// Cache persistence.
	StorageBackend  string
	CacheFile       string
	CacheStorageKey string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	// Frame update publishing.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	// Background cache warming.
	WarmEnabled  bool
	WarmInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	radarTimeout, err := parsePositiveDuration("RADAR_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	radarRetries, err := parseIntInRange("RADAR_MAX_RETRIES", 0, 0, 10)
	if err != nil {
		return nil, err
	}
	satelliteFrames, err := parseIntInRange("SATELLITE_FRAMES", 4, 1, 24)
	if err != nil {
		return nil, err
	}
	redisDB, err := parseIntInRange("REDIS_DB", 0, 0, 15)
	if err != nil {
		return nil, err
	}
	warmInterval, err := parsePositiveDuration("WARM_INTERVAL", "4m")
	if err != nil {
		return nil, err
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", false)
	if err != nil {
		return nil, err
	}
	warmEnabled, err := parseBool("WARM_ENABLED", true)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		RadarMetadataURL: sharedcfg.EnvOrDefault("RADAR_METADATA_URL", "https://api.rainviewer.com/public/weather-maps.json"),
		RadarTimeout:     radarTimeout,
		RadarMaxRetries:  radarRetries,

		SatelliteTileURL: sharedcfg.EnvOrDefault("SATELLITE_TILE_URL", "https://tiles.regatta-weather.example/satellite"),
		SatelliteFrames:  satelliteFrames,
		LayerTileURL:     sharedcfg.EnvOrDefault("LAYER_TILE_URL", "https://tiles.regatta-weather.example/layers"),
		FallbackTileURL:  sharedcfg.EnvOrDefault("FALLBACK_TILE_URL", "https://tiles.regatta-weather.example/fallback"),

		StorageBackend:  sharedcfg.EnvOrDefault("STORAGE_BACKEND", StorageFile),
		CacheFile:       sharedcfg.EnvOrDefault("CACHE_FILE", "data/weather_imagery_cache.json"),
		CacheStorageKey: sharedcfg.EnvOrDefault("CACHE_STORAGE_KEY", "weather_imagery_cache"),
		RedisAddr:       sharedcfg.EnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         redisDB,

		KafkaEnabled: kafkaEnabled,
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "radar-frame-updates"),

		WarmEnabled:  warmEnabled,
		WarmInterval: warmInterval,
	}

	switch cfg.StorageBackend {
	case StorageFile:
		if cfg.CacheFile == "" {
			return nil, fmt.Errorf("CACHE_FILE is required when STORAGE_BACKEND=%s", StorageFile)
		}
	case StorageRedis:
		if cfg.CacheStorageKey == "" {
			return nil, fmt.Errorf("CACHE_STORAGE_KEY is required when STORAGE_BACKEND=%s", StorageRedis)
		}
	default:
		return nil, fmt.Errorf("invalid STORAGE_BACKEND %q: must be %s or %s", cfg.StorageBackend, StorageFile, StorageRedis)
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
		}
		if cfg.KafkaTopic == "" {
			return nil, fmt.Errorf("KAFKA_TOPIC is required when KAFKA_ENABLED=true")
		}
	}

	return cfg, nil
}

func parsePositiveDuration(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", name)
	}
	return d, nil
}

func parseIntInRange(name string, def, lo, hi int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer in [%d, %d]", name, lo, hi)
	}
	return n, nil
}

func parseBool(name string, def bool) (bool, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: must be true or false", name)
	}
	return b, nil
}

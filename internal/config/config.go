package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultBootstrapAddons are installed the first time the registry starts without persisted state.
var DefaultBootstrapAddons = []string{
	"https://v3-cinemeta.strem.io/manifest.json",
	"https://opensubtitles-v3.strem.io/manifest.json",
	"https://torrentio.strem.fun/manifest.json",
}

// Config holds the process configuration, read from the environment.
type Config struct {
	// ServerListenAddr specifies the network address that the HTTP server will listen on.
	ServerListenAddr string `env:"SERVER_LISTEN_ADDR" envDefault:":3593"`
	// DataDir is where badger keeps installed addons, catalog preferences and cached metadata.
	DataDir string `env:"DATA_DIR" envDefault:".data"`

	ServiceName        string `env:"SERVICE_NAME" envDefault:"stremio-addonhub"`
	ServiceVersion     string `env:"SERVICE_VERSION" envDefault:"dev"`
	ServiceEnvironment string `env:"SERVICE_ENVIRONMENT" envDefault:"lcl"`
	// OTLPEndpoint disables log, metric and trace exporters when empty.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	BootstrapAddons []string `env:"BOOTSTRAP_ADDONS" envSeparator:","`

	AddonUserAgent      string        `env:"ADDON_USER_AGENT" envDefault:"stremio-addonhub/1.0"`
	AddonTimeout        time.Duration `env:"ADDON_TIMEOUT" envDefault:"15s"`
	AddonMaxAttempts    int           `env:"ADDON_MAX_ATTEMPTS" envDefault:"3"`
	AddonRetryBaseDelay time.Duration `env:"ADDON_RETRY_BASE_DELAY" envDefault:"500ms"`
	AddonMaxBodyBytes   int64         `env:"ADDON_MAX_BODY_BYTES" envDefault:"4194304"`

	StreamCacheTTL      time.Duration `env:"STREAM_CACHE_TTL" envDefault:"1m"`
	StreamCacheErrorTTL time.Duration `env:"STREAM_CACHE_ERROR_TTL" envDefault:"10s"`
	MetadataCacheTTL    time.Duration `env:"METADATA_CACHE_TTL" envDefault:"48h"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to godotenv.Load: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to env.ParseAs: %w", err)
	}

	if len(cfg.BootstrapAddons) == 0 {
		cfg.BootstrapAddons = DefaultBootstrapAddons
	}
	if cfg.AddonMaxAttempts < 1 {
		return nil, fmt.Errorf("ADDON_MAX_ATTEMPTS must be at least 1, got %d", cfg.AddonMaxAttempts)
	}

	return &cfg, nil
}

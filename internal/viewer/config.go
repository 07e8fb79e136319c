package viewer

import (
	"path/filepath"
	"time"

	"github.com/penaltyvision/overlay-server/internal/backend"
	"github.com/penaltyvision/overlay-server/internal/overlay"
	"github.com/penaltyvision/overlay-server/internal/session"
	"github.com/penaltyvision/overlay-server/pkg/types"
)

// Config defines the runtime configuration for the overlay server.
type Config struct {
	Addr                string        `json:"addr" validate:"required"`
	BackendURL          string        `json:"backend_url" validate:"required,url"`
	BackendTimeout      time.Duration `json:"backend_timeout" validate:"gt=0"`
	AssetsDir           string        `json:"assets_dir"`
	BuildAssetsDir      string        `json:"build_assets_dir"`
	RedisAddr           string        `json:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword       string        `json:"-"`
	RedisDB             int           `json:"redis_db" validate:"gte=0"`
	CacheTTL            time.Duration `json:"cache_ttl" validate:"gt=0"`
	MaxSessions         int           `json:"max_sessions" validate:"gte=0"`
	MaxClients          int           `json:"max_clients" validate:"gte=0"`
	STUNServers         []string      `json:"stun_servers" validate:"dive,required"`
	JPEGQuality         int           `json:"jpeg_quality" validate:"min=1,max=100"`
	RefreshInterval     time.Duration `json:"refresh_interval" validate:"gt=0"`
	KeepaliveInterval   time.Duration `json:"keepalive_interval" validate:"gt=0"`
	RecordingOutputPath string        `json:"recording_output_path" validate:"required"`
	MetricsAddr         string        `json:"metrics_addr"`
}

// DefaultConfig returns a config for a backend running on the same host.
func DefaultConfig() Config {
	return Config{
		Addr:                ":8080",
		BackendURL:          backend.DefaultBaseURL,
		BackendTimeout:      backend.DefaultTimeout,
		AssetsDir:           filepath.Clean("./web/assets"),
		BuildAssetsDir:      filepath.Clean("./build/web"),
		CacheTTL:            session.DefaultCacheTTL,
		MaxSessions:         16,
		MaxClients:          8,
		STUNServers:         []string{"stun:stun.l.google.com:19302"},
		JPEGQuality:         session.DefaultJPEGQuality,
		RefreshInterval:     overlay.DefaultRefreshInterval,
		KeepaliveInterval:   5 * time.Second,
		RecordingOutputPath: "./recordings",
	}
}

// Validate checks the config against its struct tags.
func (c Config) Validate() error {
	if errs, ok := NewValidator().Validate(c); !ok {
		return &ValidationErrors{Errors: errs}
	}
	return nil
}

// OverlayConfig derives the session publishing settings.
func (c Config) OverlayConfig() types.OverlayConfig {
	return types.OverlayConfig{
		JPEGQuality:     c.JPEGQuality,
		RefreshInterval: c.RefreshInterval,
	}
}

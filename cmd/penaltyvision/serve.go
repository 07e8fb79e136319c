package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/penaltyvision/overlay-server/internal/backend"
	"github.com/penaltyvision/overlay-server/internal/logger"
	"github.com/penaltyvision/overlay-server/internal/metrics"
	"github.com/penaltyvision/overlay-server/internal/session"
	"github.com/penaltyvision/overlay-server/internal/viewer"
)

const (
	envPrefix       = "PENALTYVISION_"
	shutdownTimeout = 30 * time.Second
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

func newVar[T any](flagKey, envSuffix string, def T) configVar[T] {
	return configVar[T]{envKey: envPrefix + envSuffix, flagKey: flagKey, defaultValue: def}
}

func (c configVar[T]) bind(v *viper.Viper) {
	_ = v.BindEnv(c.flagKey, c.envKey)
	v.SetDefault(c.flagKey, c.defaultValue)
}

var defaults = viewer.DefaultConfig()

var (
	addr              = newVar("addr", "ADDR", defaults.Addr)
	backendURL        = newVar("backend-url", "BACKEND_URL", defaults.BackendURL)
	backendTimeout    = newVar("backend-timeout", "BACKEND_TIMEOUT", defaults.BackendTimeout)
	assetsDir         = newVar("assets", "ASSETS", defaults.AssetsDir)
	buildAssetsDir    = newVar("assets-build", "ASSETS_BUILD", defaults.BuildAssetsDir)
	redisAddr         = newVar("redis-addr", "REDIS_ADDR", defaults.RedisAddr)
	redisPassword     = newVar("redis-password", "REDIS_PASSWORD", defaults.RedisPassword)
	redisDB           = newVar("redis-db", "REDIS_DB", defaults.RedisDB)
	cacheTTL          = newVar("cache-ttl", "CACHE_TTL", defaults.CacheTTL)
	maxSessions       = newVar("max-sessions", "MAX_SESSIONS", defaults.MaxSessions)
	maxClients        = newVar("max-clients", "MAX_CLIENTS", defaults.MaxClients)
	stunServers       = newVar("stun", "STUN", defaults.STUNServers)
	jpegQuality       = newVar("jpeg-quality", "JPEG_QUALITY", defaults.JPEGQuality)
	refreshInterval   = newVar("refresh-interval", "REFRESH_INTERVAL", defaults.RefreshInterval)
	keepaliveInterval = newVar("keepalive", "KEEPALIVE", defaults.KeepaliveInterval)
	recordingPath     = newVar("recordings", "RECORDINGS", defaults.RecordingOutputPath)
	metricsAddr       = newVar("metrics-addr", "METRICS_ADDR", defaults.MetricsAddr)
)

func newServeCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the overlay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(v)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	registerServeFlags(cmd.Flags(), v)
	return cmd
}

func registerServeFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.String(addr.flagKey, addr.defaultValue, "HTTP server address")
	fs.String(backendURL.flagKey, backendURL.defaultValue, "Penalty API base URL")
	fs.Duration(backendTimeout.flagKey, backendTimeout.defaultValue, "Penalty API request timeout")
	fs.String(assetsDir.flagKey, assetsDir.defaultValue, "Web assets directory")
	fs.String(buildAssetsDir.flagKey, buildAssetsDir.defaultValue, "Build assets directory")
	fs.String(redisAddr.flagKey, redisAddr.defaultValue, "Redis address for the posture cache (empty keeps it in memory)")
	fs.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	fs.Int(redisDB.flagKey, redisDB.defaultValue, "Redis database")
	fs.Duration(cacheTTL.flagKey, cacheTTL.defaultValue, "Posture cache TTL")
	fs.Int(maxSessions.flagKey, maxSessions.defaultValue, "Maximum open player sessions (0 = unlimited)")
	fs.Int(maxClients.flagKey, maxClients.defaultValue, "Maximum WebRTC clients (0 = unlimited)")
	fs.StringSlice(stunServers.flagKey, stunServers.defaultValue, "STUN server URLs")
	fs.Int(jpegQuality.flagKey, jpegQuality.defaultValue, "JPEG quality of streamed and recorded overlays")
	fs.Duration(refreshInterval.flagKey, refreshInterval.defaultValue, "Render loop tick interval")
	fs.Duration(keepaliveInterval.flagKey, keepaliveInterval.defaultValue, "Stream keepalive interval")
	fs.String(recordingPath.flagKey, recordingPath.defaultValue, "Overlay recording directory")
	fs.String(metricsAddr.flagKey, metricsAddr.defaultValue, "Dedicated Prometheus listener (empty serves /metrics on the main address)")

	_ = v.BindPFlags(fs)

	addr.bind(v)
	backendURL.bind(v)
	backendTimeout.bind(v)
	assetsDir.bind(v)
	buildAssetsDir.bind(v)
	redisAddr.bind(v)
	redisPassword.bind(v)
	redisDB.bind(v)
	cacheTTL.bind(v)
	maxSessions.bind(v)
	maxClients.bind(v)
	stunServers.bind(v)
	jpegQuality.bind(v)
	refreshInterval.bind(v)
	keepaliveInterval.bind(v)
	recordingPath.bind(v)
	metricsAddr.bind(v)
}

func loadServeConfig(v *viper.Viper) (viewer.Config, error) {
	cfg := viewer.Config{
		Addr:                v.GetString(addr.flagKey),
		BackendURL:          v.GetString(backendURL.flagKey),
		BackendTimeout:      v.GetDuration(backendTimeout.flagKey),
		AssetsDir:           v.GetString(assetsDir.flagKey),
		BuildAssetsDir:      v.GetString(buildAssetsDir.flagKey),
		RedisAddr:           v.GetString(redisAddr.flagKey),
		RedisPassword:       v.GetString(redisPassword.flagKey),
		RedisDB:             v.GetInt(redisDB.flagKey),
		CacheTTL:            v.GetDuration(cacheTTL.flagKey),
		MaxSessions:         v.GetInt(maxSessions.flagKey),
		MaxClients:          v.GetInt(maxClients.flagKey),
		STUNServers:         v.GetStringSlice(stunServers.flagKey),
		JPEGQuality:         v.GetInt(jpegQuality.flagKey),
		RefreshInterval:     v.GetDuration(refreshInterval.flagKey),
		KeepaliveInterval:   v.GetDuration(keepaliveInterval.flagKey),
		RecordingOutputPath: v.GetString(recordingPath.flagKey),
		MetricsAddr:         v.GetString(metricsAddr.flagKey),
	}
	if err := cfg.Validate(); err != nil {
		return viewer.Config{}, err
	}
	return cfg, nil
}

func newPostureCache(ctx context.Context, cfg viewer.Config) (session.PostureCache, func(), error) {
	if cfg.RedisAddr == "" {
		return session.NewMemoryCache(cfg.CacheTTL), func() {}, nil
	}
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return session.NewRedisCache(rc, cfg.CacheTTL), func() { _ = rc.Close() }, nil
}

func runServe(ctx context.Context, cfg viewer.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jsonConfig, _ := json.MarshalIndent(cfg, "", "  ")
	logger.Debug("Main", "Starting with config: %s", jsonConfig)

	m := metrics.New()
	client, err := backend.New(backend.Config{
		BaseURL:    cfg.BackendURL,
		HTTPClient: &http.Client{Timeout: cfg.BackendTimeout},
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	cache, closeCache, err := newPostureCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	loader := session.NewLoader(client, cache, m)
	sessions := session.NewManager(loader, cfg.OverlayConfig(), m, session.WithMaxSessions(cfg.MaxSessions))
	server := viewer.NewServer(cfg, client, sessions, m)

	if cfg.MetricsAddr != "" {
		go func() {
			logger.Info("Main", "Prometheus metrics on %s/metrics", cfg.MetricsAddr)
			if err := m.StartServer(cfg.MetricsAddr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Main", "Overlay server listening on %s", cfg.Addr)
		logger.Info("Main", "Backend: %s, posture cache: %s", cfg.BackendURL, cacheName(cfg))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		_ = server.Close()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Main", "Shutting down")
	// Sessions close first so streaming handlers return.
	if err := server.Close(); err != nil {
		logger.Warn("Main", "Closing sessions: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func cacheName(cfg viewer.Config) string {
	if cfg.RedisAddr == "" {
		return "memory"
	}
	return "redis " + cfg.RedisAddr
}

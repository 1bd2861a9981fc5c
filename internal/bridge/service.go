package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/glasswire/e2ebind/internal/auth"
	"github.com/glasswire/e2ebind/internal/channel"
	"github.com/glasswire/e2ebind/internal/directory"
	"github.com/glasswire/e2ebind/internal/glass"
	"github.com/glasswire/e2ebind/internal/keyring"
	"github.com/glasswire/e2ebind/internal/observability"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("bridge: invalid heartbeat interval")
	ErrNoPrivateIdentities      = errors.New("bridge: at least one private identity required")
)

// ServiceConfig configures the standalone bridge daemon.
type ServiceConfig struct {
	BridgeID          string
	Version           string
	AdminAddr         string
	AdminToken        string
	CorsOrigins       []string
	HeartbeatInterval time.Duration

	ChannelURL    string
	ChannelOrigin string

	PrivateIdentities []string
	PublicIdentities  []string

	DirectoryURL     string
	DirectoryTimeout time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		BridgeID:          "bridge.local",
		Version:           "0.0.1",
		HeartbeatInterval: 5 * time.Second,
		DirectoryTimeout:  3 * time.Second,
	}
}

// Service runs the bridge lifecycle as a standalone process: host channel
// attachment, an optional admin HTTP surface, and heartbeat logging.
type Service struct {
	cfg      ServiceConfig
	bridge   *Bridge
	keyring  *keyring.Static
	ws       *channel.WS
	bus      *glass.Bus
	appeared time.Time
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.BridgeID) == "" {
		cfg.BridgeID = "bridge.local"
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.DirectoryTimeout <= 0 {
		cfg.DirectoryTimeout = 3 * time.Second
	}
	return &Service{cfg: cfg}
}

// Run blocks until a process signal or a fatal runtime error.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	return s.serve(ctx)
}

// Bridge exposes the running bridge, for the admin surface and tests.
func (s *Service) Bridge() *Bridge {
	return s.bridge
}

// ControlBus exposes the overlay control bus so an embedding process can
// publish resize and removal events.
func (s *Service) ControlBus() *glass.Bus {
	return s.bus
}

func (s *Service) bootstrap(ctx context.Context) error {
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if len(s.cfg.PrivateIdentities) == 0 {
		return ErrNoPrivateIdentities
	}

	s.keyring = keyring.NewStatic(s.cfg.PrivateIdentities, s.cfg.PublicIdentities)

	var dir directory.Client = directory.Disabled{}
	if url := strings.TrimSpace(s.cfg.DirectoryURL); url != "" {
		dir = directory.NewHTTP(url, s.cfg.DirectoryTimeout, s.keyring)
	}

	var ch channel.Channel
	if url := strings.TrimSpace(s.cfg.ChannelURL); url != "" {
		ws, err := channel.Dial(ctx, url, s.cfg.ChannelOrigin)
		if err != nil {
			return fmt.Errorf("bridge: dial host channel: %w", err)
		}
		s.ws = ws
		ch = ws
	} else {
		log.Warn().Msg("no channel url configured, using in-process loopback")
		ch = channel.NewLoopback()
	}

	renderer := glass.NewMemoryRenderer()
	s.bus = glass.NewBus()
	b, err := New(Options{
		BridgeID:     s.cfg.BridgeID,
		Channel:      ch,
		Keyring:      s.keyring,
		Directory:    dir,
		ReadGlass:    renderer,
		ComposeGlass: renderer,
		ControlBus:   s.bus,
	})
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	s.bridge = b
	s.appeared = time.Now()
	log.Info().
		Str("bridge", s.cfg.BridgeID).
		Str("version", s.cfg.Version).
		Bool("channel_remote", s.ws != nil).
		Msg("bridge service ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	defer s.shutdown()

	adminErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.AdminAddr) != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx)
		}()
	}

	channelDone := make(chan struct{})
	if s.ws != nil {
		go func() {
			<-s.ws.Done()
			close(channelDone)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("bridge", s.cfg.BridgeID).Msg("bridge service shutdown")
			return nil
		case err := <-adminErr:
			if err != nil {
				return err
			}
		case <-channelDone:
			return errors.New("bridge: host channel closed")
		case <-ticker.C:
			cfg := s.bridge.SessionConfig()
			log.Info().
				Str("bridge", s.cfg.BridgeID).
				Bool("started", s.bridge.Started()).
				Bool("signer_valid", cfg.SignerValid).
				Int("pending", s.bridge.PendingLive()).
				Msg("bridge heartbeat")
		}
	}
}

func (s *Service) shutdown() {
	if s.bridge != nil {
		s.bridge.Stop()
	}
	if s.ws != nil {
		_ = s.ws.Close()
	}
}

func (s *Service) serveAdmin(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.AdminAddr,
		Handler: s.adminRouter(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", s.cfg.AdminAddr).Msg("admin surface listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) adminRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.BridgeID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"bridge":  s.cfg.BridgeID,
			"version": s.cfg.Version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   s.bridge != nil,
			"uptime":  time.Since(s.appeared).String(),
			"bridge":  s.cfg.BridgeID,
			"version": s.cfg.Version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	status := r.Group("/")
	if strings.TrimSpace(s.cfg.AdminToken) != "" {
		status.Use(auth.RequireToken(auth.StaticToken{Token: s.cfg.AdminToken}))
	}
	status.GET("/status", func(c *gin.Context) {
		cfg := s.bridge.SessionConfig()
		c.JSON(http.StatusOK, gin.H{
			"bridge":                s.cfg.BridgeID,
			"started":               s.bridge.Started(),
			"signer":                cfg.Signer,
			"signer_valid":          cfg.SignerValid,
			"read_glass_enabled":    cfg.ReadGlassEnabled,
			"compose_glass_enabled": cfg.ComposeGlassEnabled,
			"host_version":          cfg.Version,
			"pending":               s.bridge.PendingLive(),
		})
	})

	return r
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

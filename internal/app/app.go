package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/ratelimitd/internal/config"
	"github.com/router-for-me/ratelimitd/internal/db"
	"github.com/router-for-me/ratelimitd/internal/http/api/admin"
	"github.com/router-for-me/ratelimitd/internal/http/api/front"
	"github.com/router-for-me/ratelimitd/internal/http/middleware"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
	"github.com/router-for-me/ratelimitd/internal/security"
	"github.com/router-for-me/ratelimitd/internal/store"
	"github.com/router-for-me/ratelimitd/internal/watcher"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Server bundles the components of one ratelimitd process.
type Server struct {
	cfg      *config.File
	engine   *gin.Engine
	limiter  *ratelimit.Limiter
	state    *store.StateStore
	sweeper  *ratelimit.Sweeper
	watcher  *watcher.ConfigWatcher
	registry *prometheus.Registry
	conn     *gorm.DB
	redis    *ratelimit.RedisStore
}

// NewServer opens the state database, builds the counter store and limiter, and restores persisted state.
func NewServer(ctx context.Context, cfg *config.File, configPath string) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		secret, errSecret := security.GenerateSecret(32)
		if errSecret != nil {
			return nil, errSecret
		}
		cfg.JWT.Secret = secret
		log.Warn("jwt secret not configured; admin tokens will not survive a restart")
	}

	dsn := ResolveDSN(cfg)
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return nil, errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		closeDB(conn)
		return nil, errMigrate
	}
	log.Infof("state database ready (%s)", describeDSN(dsn))

	s := &Server{
		cfg:      cfg,
		state:    store.NewStateStore(conn),
		registry: prometheus.NewRegistry(),
		conn:     conn,
	}
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, errMetrics := ratelimit.NewMetrics(s.registry)
	if errMetrics != nil {
		closeDB(conn)
		return nil, errMetrics
	}

	thresholds := cfg.Limits.Anomaly
	defaults := ratelimit.DefaultAnomalyThresholds()
	if thresholds.RequestsPerMinute <= 0 {
		thresholds.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if thresholds.BlocksPerHour <= 0 {
		thresholds.BlocksPerHour = defaults.BlocksPerHour
	}

	s.limiter = ratelimit.NewLimiter(s.buildCounterStore(ctx),
		ratelimit.WithRegistry(ratelimit.NewRegistry(cfg.Limits.Services, cfg.Limits.IPTiers)),
		ratelimit.WithMetrics(metrics),
		ratelimit.WithAnomalyThresholds(thresholds),
		ratelimit.WithRetention(cfg.Limits.Retention),
	)

	summary, errRestore := RestoreState(ctx, s.state, s.limiter)
	if errRestore != nil {
		_ = s.Close()
		return nil, fmt.Errorf("app: restore state: %w", errRestore)
	}
	log.WithFields(log.Fields{
		"blocks":    summary.Blocks,
		"penalties": summary.Penalties,
		"trusted":   summary.Trusted,
		"overrides": summary.Overrides,
	}).Info("restored limiter state")

	s.sweeper = ratelimit.NewSweeper(s.limiter, cfg.Limits.CleanupInterval, s.purgeState)
	if configPath != "" {
		s.watcher = watcher.NewConfigWatcher(configPath, s.limiter)
		// cfg.Limits already came from this file; restored overrides stay until it is edited.
		if errPrime := s.watcher.Prime(); errPrime != nil {
			log.WithError(errPrime).Warn("config watcher: prime failed")
		}
	}
	engine, errEngine := s.buildEngine()
	if errEngine != nil {
		_ = s.Close()
		return nil, errEngine
	}
	s.engine = engine
	return s, nil
}

func closeDB(conn *gorm.DB) {
	if sqlDB, errDB := conn.DB(); errDB == nil {
		_ = sqlDB.Close()
	}
}

// buildCounterStore returns a Redis-backed failover store when Redis is enabled, otherwise nil for memory.
func (s *Server) buildCounterStore(ctx context.Context) ratelimit.CounterStore {
	redisCfg := s.cfg.Redis
	if !redisCfg.Enabled {
		log.Info("counter store: memory")
		return nil
	}
	options := &redis.Options{Addr: redisCfg.Addr, Password: redisCfg.Password, DB: redisCfg.DB}
	client, errDial := ratelimit.DialRedis(ctx, options)
	if errDial != nil {
		// Start degraded; the failover breaker retries the primary.
		log.WithError(errDial).Warn("counter store: redis unreachable at startup, serving from memory")
		client = redis.NewClient(options)
	}
	s.redis = ratelimit.NewRedisStore(client, redisCfg.Prefix, redisCfg.Timeout)
	log.Infof("counter store: redis %s (prefix=%s)", redisCfg.Addr, redisCfg.Prefix)
	return ratelimit.NewFailoverStore(s.redis, ratelimit.NewMemoryStore(), time.Now, redisCfg.Breaker)
}

func (s *Server) buildEngine() (*gin.Engine, error) {
	engine := gin.New()
	if errProxies := engine.SetTrustedProxies(s.cfg.Server.TrustedProxies); errProxies != nil {
		return nil, fmt.Errorf("app: trusted proxies: %w", errProxies)
	}
	engine.Use(gin.Recovery(), middleware.RequestLogger())
	admin.RegisterAdminRoutes(engine, s.limiter, s.state, s.cfg.JWT, s.cfg.Admin)
	front.RegisterFrontRoutes(engine, s.limiter)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})))
	return engine, nil
}

func (s *Server) purgeState(ctx context.Context, report ratelimit.CleanupReport) {
	purged, errPurge := s.state.PurgeExpired(ctx, report.RanAt)
	if errPurge != nil {
		log.WithError(errPurge).Warn("sweeper: purge expired state failed")
		return
	}
	if purged > 0 {
		log.WithField("rows", purged).Debug("sweeper: purged expired state")
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Limiter returns the admission controller.
func (s *Server) Limiter() *ratelimit.Limiter {
	return s.limiter
}

// Run serves HTTP and runs the sweeper and config watcher until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort("", strconv.Itoa(s.cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Infof("ratelimitd listening on %s", addr)
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", errServe)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		return s.sweeper.Run(groupCtx)
	})
	if s.watcher != nil {
		group.Go(func() error {
			return s.watcher.Run(groupCtx)
		})
	}
	errRun := group.Wait()
	if errClose := s.Close(); errClose != nil {
		log.WithError(errClose).Warn("app: close failed")
	}
	return errRun
}

// Close releases the Redis client and the database pool.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		if errRedis := s.redis.Close(); errRedis != nil {
			errs = append(errs, errRedis)
		}
	}
	if s.conn != nil {
		if sqlDB, errDB := s.conn.DB(); errDB == nil {
			if errSQL := sqlDB.Close(); errSQL != nil {
				errs = append(errs, errSQL)
			}
		}
	}
	return errors.Join(errs...)
}

// RunServer configures logging, builds the server and runs it until ctx is canceled.
func RunServer(ctx context.Context, cfg *config.File, configPath string) error {
	if errLogging := ConfigureLogging(cfg.Logging); errLogging != nil {
		return errLogging
	}
	gin.SetMode(gin.ReleaseMode)
	server, errServer := NewServer(ctx, cfg, configPath)
	if errServer != nil {
		return errServer
	}
	return server.Run(ctx)
}

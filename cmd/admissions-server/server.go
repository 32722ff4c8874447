package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/admissions/internal/config"
	"github.com/ehr/admissions/internal/domain/admission"
	"github.com/ehr/admissions/internal/domain/patient"
	"github.com/ehr/admissions/internal/domain/treatment"
	"github.com/ehr/admissions/internal/platform/auth"
	"github.com/ehr/admissions/internal/platform/blobstore"
	"github.com/ehr/admissions/internal/platform/codec"
	"github.com/ehr/admissions/internal/platform/db"
	"github.com/ehr/admissions/internal/platform/events"
	"github.com/ehr/admissions/internal/platform/idempotency"
	"github.com/ehr/admissions/internal/platform/memdb"
	"github.com/ehr/admissions/internal/platform/metrics"
	"github.com/ehr/admissions/internal/platform/middleware"
)

const version = "0.1.0"

// server is the assembled HTTP surface plus whatever must be closed on exit.
type server struct {
	Echo    *echo.Echo
	closers []func() error
}

func (s *server) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// stores is the storage wiring for one STORE_DRIVER.
type stores struct {
	admissions admission.Repository
	patients   patient.Repository
	treatments treatment.Repository
	tx         admission.TxRunner
	health     db.Pinger
	facility   echo.MiddlewareFunc
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	srv := &server{}
	fail := func(err error) (*server, error) {
		srv.Close()
		return nil, err
	}

	st, err := openStores(ctx, cfg, srv)
	if err != nil {
		return fail(err)
	}
	pub, err := openPublisher(cfg, logger, srv)
	if err != nil {
		return fail(err)
	}
	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	idem, err := openIdempotencyStore(ctx, cfg, srv)
	if err != nil {
		return fail(err)
	}

	m := metrics.New()

	lifecycle := admission.NewLifecycle(st.admissions, st.tx, pub)
	patients := patient.NewService(st.patients, lifecycle, st.tx)
	treatments := treatment.NewService(st.treatments, st.admissions, st.tx, blobs)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = codec.JSONSerializer{}

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(m.Middleware())
	e.Use(echomw.Secure())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{
			echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader,
			idempotency.HeaderKey, "X-Facility-ID",
		},
		ExposeHeaders: []string{middleware.RequestIDHeader, idempotency.HeaderReplayed},
	}))
	e.Use(middleware.BodyLimit(middleware.ParseLimit(cfg.BodyLimit), cfg.AttachmentMaxSize+(1<<20)))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", db.HealthHandler(st.health, cfg.StoreDriver))
	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"version": version})
	})
	e.GET("/metrics", m.Handler())

	authMW, err := authMiddleware(cfg)
	if err != nil {
		return fail(err)
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	api := e.Group("/api/v1", authMW)
	if st.facility != nil {
		api.Use(st.facility)
	}
	api.Use(middleware.RateLimit(rateLimitCfg))
	api.Use(middleware.Audit(logger))

	writeMW := idempotency.Middleware(idem, cfg.IdempotencyTTL)
	patient.NewHandler(patients).RegisterRoutes(api, writeMW)
	admission.NewHandler(lifecycle, m).RegisterRoutes(api, writeMW)
	treatment.NewHandler(treatments).RegisterRoutes(api, writeMW)

	srv.Echo = e
	return srv, nil
}

func openStores(ctx context.Context, cfg *config.Config, srv *server) (*stores, error) {
	if cfg.StoreDriver == "memory" {
		mem := memdb.New()
		return &stores{
			admissions: admission.NewMemoryRepo(mem),
			patients:   patient.NewMemoryRepo(mem),
			treatments: treatment.NewMemoryRepo(mem),
			tx:         mem,
			health:     mem,
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	srv.closers = append(srv.closers, func() error { pool.Close(); return nil })

	return &stores{
		admissions: admission.NewRepo(pool),
		patients:   patient.NewRepo(pool),
		treatments: treatment.NewRepo(pool),
		tx:         db.NewTxManager(pool),
		health:     pool,
		facility:   db.FacilityMiddleware(pool, cfg.DefaultFacility),
	}, nil
}

// openPublisher picks the event sink. Broker failures are logged and never
// fail a committed transition.
func openPublisher(cfg *config.Config, logger zerolog.Logger, srv *server) (events.Publisher, error) {
	var sink events.Publisher
	switch cfg.EventSink {
	case "kafka":
		p := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		srv.closers = append(srv.closers, p.Close)
		sink = p
	case "amqp":
		p, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, err
		}
		srv.closers = append(srv.closers, p.Close)
		sink = p
	default:
		return events.NewLogPublisher(logger), nil
	}
	return events.Logged{Publisher: sink, Logger: logger}, nil
}

func openBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.S3Bucket == "" {
		return blobstore.NewMemory(cfg.AttachmentMaxSize), nil
	}
	return blobstore.NewS3(ctx, blobstore.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		PathStyle:       cfg.S3PathStyle,
		MaxBytes:        cfg.AttachmentMaxSize,
	})
}

func openIdempotencyStore(ctx context.Context, cfg *config.Config, srv *server) (idempotency.Store, error) {
	if cfg.RedisURL == "" {
		return idempotency.NewMemory(), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	srv.closers = append(srv.closers, client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return idempotency.NewRedis(client, ""), nil
}

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	if cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware(), nil
	}
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	if cfg.AuthPublicKey != "" {
		key, err := auth.LoadPublicKey(cfg.AuthPublicKey)
		if err != nil {
			return nil, err
		}
		jwtCfg.PublicKey = key
	}
	return auth.JWTMiddleware(jwtCfg), nil
}

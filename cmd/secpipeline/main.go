package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/secpipeline/internal/api/handler"
	"github.com/jmerrifield20/secpipeline/internal/auditlog"
	"github.com/jmerrifield20/secpipeline/internal/auth"
	"github.com/jmerrifield20/secpipeline/internal/collector"
	"github.com/jmerrifield20/secpipeline/internal/delivery"
	"github.com/jmerrifield20/secpipeline/internal/email"
	"github.com/jmerrifield20/secpipeline/internal/enricher"
	"github.com/jmerrifield20/secpipeline/internal/health"
	"github.com/jmerrifield20/secpipeline/internal/metrics"
	"github.com/jmerrifield20/secpipeline/internal/notify"
	"github.com/jmerrifield20/secpipeline/internal/pipeline"
	"github.com/jmerrifield20/secpipeline/internal/reporter"
	"github.com/jmerrifield20/secpipeline/internal/responder"
	"github.com/jmerrifield20/secpipeline/internal/telemetry"
	"github.com/jmerrifield20/secpipeline/internal/threat"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const healthService = "secpipeline.Pipeline"

func main() {
	found, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := newLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if !found {
		logger.Warn("no config file found, using defaults and env vars")
	}

	if err := run(logger); err != nil {
		logger.Fatal("secpipeline exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	startCtx := context.Background()

	// ── Tracing ──────────────────────────────────────────────────────────────
	tp, err := telemetry.Init(startCtx, telemetry.Config{
		Enabled:        viper.GetBool("tracing.enabled"),
		Endpoint:       viper.GetString("tracing.endpoint"),
		ServiceName:    "secpipeline",
		ServiceVersion: version,
		Environment:    viper.GetString("tracing.environment"),
		SampleRatio:    viper.GetFloat64("tracing.sample_ratio"),
		Insecure:       viper.GetBool("tracing.insecure"),
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	// ── Database (optional) ──────────────────────────────────────────────────
	var db *pgxpool.Pool
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err = pgxpool.New(startCtx, dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(startCtx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
	} else {
		logger.Info("database.url not set, using in-memory stores")
	}

	// ── Audit ledger ─────────────────────────────────────────────────────────
	var ledger auditlog.Ledger
	if db != nil {
		ledger = auditlog.NewPostgres(db, logger)
	} else {
		ledger = auditlog.NewMemory()
	}
	if err := ledger.Verify(startCtx); err != nil {
		logger.Warn("audit ledger integrity check FAILED", zap.Error(err))
	} else {
		n, _ := ledger.Len(startCtx)
		root, _ := ledger.Root(startCtx)
		logger.Info("audit ledger verified",
			zap.Int("entries", n),
			zap.String("root", root),
		)
	}

	// ── Oracles ──────────────────────────────────────────────────────────────
	baseline, reputation, err := buildOracles(db, logger)
	if err != nil {
		return err
	}
	engine := threat.NewEngine(scoringWeights(), viper.GetStringSlice("scoring.privileged_actions"))

	// ── Findings store ───────────────────────────────────────────────────────
	var (
		store     reporter.Store
		incidents reporter.IncidentRecorder
	)
	if db != nil {
		s := reporter.NewPostgresStore(db)
		store, incidents = s, s
	} else {
		s := reporter.NewMemoryStore()
		store, incidents = s, s
	}

	// ── Notification sinks ───────────────────────────────────────────────────
	var sinks notify.Multi
	if url := viper.GetString("notify.webhook_url"); url != "" {
		ws := notify.NewWebhookSink(notify.WebhookConfig{
			URL:     url,
			Secret:  viper.GetString("notify.webhook_secret"),
			Timeout: viper.GetDuration("notify.timeout"),
		}, logger)
		defer ws.Close()
		sinks = append(sinks, ws)
		logger.Info("webhook notifications configured", zap.String("url", url))
	}
	if host := viper.GetString("notify.email.smtp_host"); host != "" {
		es := notify.NewEmailSink(email.NewSMTPSender(email.SMTPConfig{
			Host:     host,
			Port:     viper.GetInt("notify.email.smtp_port"),
			Username: viper.GetString("notify.email.username"),
			Password: viper.GetString("notify.email.password"),
			From:     viper.GetString("notify.email.from"),
		}), viper.GetStringSlice("notify.email.to"), logger)
		defer es.Close()
		sinks = append(sinks, es)
		logger.Info("email notifications configured", zap.String("smtp_host", host))
	}
	var sink notify.Sink = sinks
	if len(sinks) == 0 {
		sink = notify.NewNoopSink(logger)
		logger.Info("notification sink: noop (set notify.webhook_url or notify.email.smtp_host to enable)")
	}

	// ── Wire up stages ───────────────────────────────────────────────────────
	enr := enricher.New(engine, baseline, reputation, logger)
	gate := responder.NewThresholdGate(viper.GetInt("responder.auto_approve_threshold"))
	dispatcher := responder.NewDispatcher(gate, responder.NewLogRemediator(logger), logger)

	pipe := pipeline.New(pipeline.Config{
		Normalizer: collector.NewNormalizer(collector.DefaultSource),
		Enricher:   enr,
		Dispatcher: dispatcher,
		Ledger:     ledger,
		Sink:       sink,
		Incidents:  incidents,
	}, logger)

	rep := reporter.New(store, reporter.Standard{
		Name:    viper.GetString("reporter.standard"),
		Version: viper.GetString("reporter.version"),
	}, viper.GetDuration("reporter.window"), logger)

	var tokens *auth.TokenIssuer
	if secret := viper.GetString("auth.token_secret"); secret != "" {
		tokens, err = auth.NewTokenIssuer(secret, viper.GetString("auth.issuer"), 0)
		if err != nil {
			return fmt.Errorf("token issuer: %w", err)
		}
	} else {
		logger.Warn("auth.token_secret not set, API is unauthenticated; do not use in production")
	}

	// ── Background workers ───────────────────────────────────────────────────
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	src, err := buildSource(logger)
	if err != nil {
		return err
	}
	pipeDone := make(chan struct{})
	if src != nil {
		go func() {
			defer close(pipeDone)
			pipe.Run(runCtx, src, viper.GetInt("pipeline.workers"))
		}()
	} else {
		close(pipeDone)
		logger.Info("delivery.kind is none, accepting events over HTTP only")
	}

	sched := reporter.NewScheduler(rep,
		viper.GetDuration("reporter.interval"),
		viper.GetDuration("reporter.check_interval"),
		logger,
	)
	go sched.Run(runCtx)

	checker := health.New(dependencyProbes(db, ledger), health.Config{
		CheckInterval: viper.GetDuration("health.check_interval"),
		ProbeTimeout:  viper.GetDuration("health.probe_timeout"),
		FailThreshold: viper.GetInt("health.fail_threshold"),
	}, logger)
	checker.SetMetricsRecord(metrics.SetDependencyUp)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	if rps := viper.GetInt("server.rate_limit_rps"); rps > 0 {
		router.Use(handler.NewRateLimiter(runCtx, rps, rps*2).Middleware())
	}
	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	})
	router.GET("/readyz", func(c *gin.Context) {
		status := http.StatusOK
		if !checker.Healthy() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"dependencies": checker.Snapshot()})
	})
	router.GET("/metrics", handler.MetricsHandler())

	// Authenticated routes are additionally limited per token subject.
	var subjectLimit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if rps := viper.GetInt("server.rate_limit_rps"); rps > 0 && tokens != nil {
		subjectLimit = handler.NewRateLimiter(runCtx, rps, rps*2).Middleware()
	}
	v1 := router.Group("/api/v1")
	handler.NewEventHandler(pipe, enr, logger).Register(v1.Group("", auth.Require(tokens, auth.RoleOperator), subjectLimit))
	handler.NewReportHandler(rep, logger).Register(v1.Group("", auth.Require(tokens, auth.RoleOperator), subjectLimit))
	handler.NewAuditHandler(ledger, logger).Register(v1.Group("", auth.Require(tokens, auth.RoleAdmin), subjectLimit))

	httpPort := viper.GetInt("server.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("secpipeline HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── gRPC health ──────────────────────────────────────────────────────────
	grpcPort := viper.GetInt("server.grpc_port")
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", grpcPort, err)
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor(logger)),
	)
	healthSvc := grpchealth.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSvc)
	healthSvc.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	// Each dependency is also reported as its own gRPC health service.
	for name := range checker.Snapshot() {
		healthSvc.SetServingStatus(healthService+"."+name, grpc_health_v1.HealthCheckResponse_SERVING)
	}
	checker.SetTransition(func(name string, status health.Status) {
		serving := grpc_health_v1.HealthCheckResponse_SERVING
		if status == health.StatusDegraded {
			serving = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		healthSvc.SetServingStatus(healthService+"."+name, serving)
	})
	go checker.Run(runCtx)

	go func() {
		logger.Info("secpipeline gRPC health listening", zap.Int("port", grpcPort))
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("gRPC serve error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down secpipeline...")

	healthSvc.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// Stop pulling; in-flight records finish on their own context.
	stop()
	<-pipeDone
	if src != nil {
		if err := src.Close(); err != nil {
			logger.Warn("close delivery source", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()

	if err := tp.Shutdown(ctx); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}

	logger.Info("secpipeline stopped")
	return nil
}

// buildOracles picks the baseline and reputation oracles. A baseline file
// supplies both tables; otherwise the baseline comes from Postgres when a
// database is configured. An intel URL overrides the static reputation
// table.
func buildOracles(db *pgxpool.Pool, logger *zap.Logger) (threat.BaselineOracle, threat.ReputationOracle, error) {
	var (
		baseline   threat.BaselineOracle
		reputation threat.ReputationOracle
	)

	switch path := viper.GetString("baseline.file"); {
	case path != "":
		b, r, err := threat.LoadTables(path)
		if err != nil {
			return nil, nil, fmt.Errorf("load baseline file: %w", err)
		}
		baseline, reputation = b, r
		logger.Info("baseline: static tables", zap.String("file", path))
	case db != nil:
		baseline = threat.NewPostgresBaseline(db, viper.GetStringSlice("baseline.default_geos"))
		reputation = threat.DefaultReputation()
		logger.Info("baseline: postgres")
	default:
		baseline, reputation = threat.DefaultBaseline(), threat.DefaultReputation()
		logger.Info("baseline: built-in demo tables")
	}

	if url := viper.GetString("intel.url"); url != "" {
		reputation = threat.NewHTTPReputation(threat.HTTPReputationConfig{
			BaseURL:   url,
			APIKey:    viper.GetString("intel.api_key"),
			Timeout:   viper.GetDuration("intel.timeout"),
			CacheSize: viper.GetInt("intel.cache_size"),
			CacheTTL:  viper.GetDuration("intel.cache_ttl"),
			RPS:       viper.GetFloat64("intel.rps"),
		}, logger)
		logger.Info("reputation: http intel", zap.String("url", url))
	}
	return baseline, reputation, nil
}

// dependencyProbes lists the upstream dependencies the health checker
// watches. The audit chain is always probed.
func dependencyProbes(db *pgxpool.Pool, ledger auditlog.Ledger) []health.Probe {
	probes := []health.Probe{health.NewProbe("audit_chain", ledger.Verify)}
	if db != nil {
		probes = append(probes, health.NewProbe("database", db.Ping))
	}
	if url := viper.GetString("intel.url"); url != "" {
		probes = append(probes, health.NewHTTPProbe("intel", url, nil))
	}
	return probes
}

// buildSource connects the configured delivery layer and wraps it with
// de-duplication. It returns nil when delivery.kind is "none".
func buildSource(logger *zap.Logger) (delivery.Source, error) {
	var src delivery.Source
	switch kind := viper.GetString("delivery.kind"); kind {
	case "none", "":
		return nil, nil
	case "nats":
		s, err := delivery.NewNATSSource(delivery.NATSConfig{
			URL:               viper.GetString("nats.url"),
			Subject:           viper.GetString("nats.subject"),
			Queue:             viper.GetString("nats.queue"),
			DeadLetterSubject: viper.GetString("nats.deadletter_subject"),
		}, logger)
		if err != nil {
			return nil, err
		}
		src = s
	case "kafka":
		src = delivery.NewKafkaSource(delivery.KafkaConfig{
			Brokers:         viper.GetStringSlice("kafka.brokers"),
			Topic:           viper.GetString("kafka.topic"),
			GroupID:         viper.GetString("kafka.group_id"),
			DeadLetterTopic: viper.GetString("kafka.deadletter_topic"),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown delivery.kind %q", kind)
	}

	var deduper delivery.Deduper
	switch kind := viper.GetString("dedupe.kind"); kind {
	case "none", "":
		return src, nil
	case "lru":
		deduper = delivery.NewLRUDeduper(viper.GetInt("dedupe.size"), viper.GetDuration("dedupe.ttl"))
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, dedupe will fail open", zap.Error(err))
		}
		deduper = delivery.NewRedisDeduper(rdb, "secpipeline:seen:", viper.GetDuration("dedupe.ttl"))
	default:
		return nil, fmt.Errorf("unknown dedupe.kind %q", kind)
	}
	return delivery.NewDeduplicated(src, deduper, logger), nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := "OK"
		if err != nil {
			code = grpc.Code(err).String() //nolint:staticcheck
		}
		logger.Debug("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}

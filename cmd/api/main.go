package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/vaayugo-api/internal/app"
	"github.com/noah-isme/vaayugo-api/internal/auth"
	"github.com/noah-isme/vaayugo-api/internal/cart"
	"github.com/noah-isme/vaayugo-api/internal/common"
	"github.com/noah-isme/vaayugo-api/internal/config"
	"github.com/noah-isme/vaayugo-api/internal/db"
	"github.com/noah-isme/vaayugo-api/internal/events"
	"github.com/noah-isme/vaayugo-api/internal/health"
	"github.com/noah-isme/vaayugo-api/internal/lock"
	"github.com/noah-isme/vaayugo-api/internal/obs"
	"github.com/noah-isme/vaayugo-api/internal/order"
	"github.com/noah-isme/vaayugo-api/internal/ratelimit"
	"github.com/noah-isme/vaayugo-api/internal/resilience"
	"github.com/noah-isme/vaayugo-api/internal/rules"
	"github.com/noah-isme/vaayugo-api/internal/security"
	"github.com/noah-isme/vaayugo-api/internal/shop"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("service", "vaayugo-api").Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "vaayugo")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:    "vaayugo-api",
			ServiceVersion: envOrDefault("APP_VERSION", "dev"),
			Endpoint:       cfg.OTLPEndpoint,
			Exporter:       envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio:  envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:    cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.MigrateOnStart {
		if err := db.Up(cfg.DatabaseURL, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrate database")
		}
	}

	deps, err := app.Open(context.Background(), cfg, logger, app.Options{ApplicationName: "vaayugo-api", Metrics: metricsEnabled})
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close(logger)

	directory := shop.NewDirectory(deps.DB)
	ruleStore := rules.NewStore(deps.DB)
	ruleCache := rules.NewCachedReader(ruleStore, deps.Redis, cfg.RuleCacheTTL)
	ruleSvc := rules.NewService(ruleStore, ruleCache)

	breaker := resilience.NewBreaker(10, 0.5, 15*time.Second).WithTarget("rule_store").WithLogger(logger)
	cartSvc := &cart.Service{
		Shops: directory,
		Rules: ruleCache,
		Retry: resilience.Retry{Breaker: breaker, BaseBackoff: 50 * time.Millisecond, MaxAttempts: 2},
	}

	bus := &events.Bus{
		Store:     events.PGStore{DB: deps.DB},
		Notifiers: []events.Notifier{events.TaskNotifier{Client: deps.Tasks, MaxRetry: 10, Retention: 24 * time.Hour}},
	}
	orderSvc := &order.Service{
		Pricer:  cartSvc,
		Store:   order.Store{DB: deps.DB},
		Events:  bus,
		Locker:  lock.Locker{R: deps.Redis, MaxWait: cfg.OrderLockTTL},
		LockTTL: cfg.OrderLockTTL,
	}

	authSvc, err := auth.NewService(auth.Config{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ClockSkew: 30 * time.Second,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}

	globalLimit, err := ratelimit.Global(deps.LimiterStore, cfg.APIRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure api rate limit")
	}

	rt := routes{
		Logger:         logger,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Tracing:        tracingEnabled,
		GlobalLimit:    globalLimit,
		CalcLimit: ratelimit.Handler{
			Limiter: ratelimit.SlidingWindow{Client: deps.Redis, Prefix: "ratelimit:calc:"},
			Config:  ratelimit.Config{Key: ratelimit.CallerOrIP, Window: cfg.CalcRateWindow, Max: cfg.CalcRateLimit},
		},
		BodyLimit: cfg.BodyLimitBytes,
		Headers:   security.Headers{Enable: true, EnableHSTS: cfg.IsProduction(), NoStore: true},
		Idem:      common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL},
		Auth:      auth.Middleware{Service: authSvc, Roles: directory},
		Health:    health.Handler{Checker: deps},
		Cart:      &cart.Handler{Svc: cartSvc, Currency: cfg.CurrencyCode},
		Orders:    &order.Handler{Svc: orderSvc},
		Rules:     &rules.Handler{Svc: ruleSvc, Owners: directory},
	}
	if metricsEnabled {
		rt.HTTPMetrics = obs.NewHTTPMetrics(metricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)
		rt.Metrics = promhttp.Handler()
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		rt.Pprof = protectPprof(newPprofMux(), envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", ""), envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", ""))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           rt.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		health.SetReady(false)
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

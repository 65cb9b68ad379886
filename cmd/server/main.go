package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chargegate/chargegate/middleware"
	"github.com/chargegate/chargegate/pkg/chargegate"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg := chargegate.NewConfig()
	if *configPath != "" {
		loaded, err := chargegate.LoadConfigFromFile(*configPath)
		if err != nil {
			bootLogger := zerolog.New(os.Stderr)
			bootLogger.Fatal().Err(err).Msg("load config")
		}
		cfg = loaded
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}

	logger := setupLogger(cfg.Observability.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	recorder := chargegate.NewPrometheusRecorder(reg)

	// Pick the charge backend: Redis when configured, in-process otherwise.
	var charger chargegate.Charger
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(ctx).Err(); err != nil {
			cancel()
			logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable")
		}
		cancel()

		limiter, err := chargegate.New(client,
			chargegate.WithLogger(logger),
			chargegate.WithRecorder(recorder),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("create limiter")
		}
		charger = limiter
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using redis backend")
	} else {
		limiter, err := chargegate.NewMemoryLimiter(
			chargegate.WithLogger(logger),
			chargegate.WithRecorder(recorder),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("create limiter")
		}
		charger = limiter
		logger.Warn().Msg("no redis address configured, using in-process backend")
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	for _, rp := range routePolicies(cfg, logger) {
		rl := middleware.NewRateLimiter(middleware.Config{
			Charger: charger,
			Bucket:  rp.bucket,
			Cost:    rp.cost,
			Logger:  logger,
		})
		mux.Handle(rp.route, rl.Middleware(okHandler()))
		logger.Info().
			Str("route", rp.route).
			Str("bucket", rp.bucket.Key).
			Float64("rate", rp.bucket.Rate).
			Float64("size", rp.bucket.Size).
			Float64("cost", rp.cost).
			Msg("route registered")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	logger.Info().Msg("stopped")
}

type routePolicy struct {
	route  string
	bucket chargegate.Bucket
	cost   float64
}

// routePolicies resolves the configured routes to concrete buckets, falling
// back to a single default route when none are configured.
func routePolicies(cfg *chargegate.Config, logger zerolog.Logger) []routePolicy {
	if len(cfg.Routes) == 0 {
		return []routePolicy{{
			route:  "/",
			bucket: chargegate.Bucket{Key: "requests", Rate: 10, Size: 100},
			cost:   1,
		}}
	}

	policies := make([]routePolicy, 0, len(cfg.Routes))
	for route, policy := range cfg.Routes {
		bucket, ok := cfg.Bucket(policy.Bucket)
		if !ok {
			logger.Warn().Str("route", route).Str("bucket", policy.Bucket).Msg("skipping route with unknown bucket")
			continue
		}
		policies = append(policies, routePolicy{route: route, bucket: bucket, cost: policy.Cost})
	}
	return policies
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "path": r.URL.Path})
	})
}

func setupLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}

// Command fourlimit-demo runs a self-contained demonstration: a stub API
// server that enforces its own rate limit and advertises it through
// X-RateLimit-* headers, and a client that calls it through the fourlimit
// middleware, showing pre-admission, header reconciliation and 429 backoff.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"fourlimit/config"
	"fourlimit/internal/logger"
	"fourlimit/internal/version"
	"fourlimit/limiter"
	"fourlimit/middleware"
	"fourlimit/observability"
	"fourlimit/statestore"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	listenAddr  = flag.String("listen", "127.0.0.1:8080", "Stub API server listen address")
	metricsPort = flag.Int("metrics-port", 9090, "Prometheus metrics port")
	requests    = flag.Int("requests", 30, "Number of client requests to issue")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log, closer, err := logger.Setup(cfg.Logging, version.GetInfo())
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	otelProvider, err := observability.Setup(
		observability.MetricsConfig{Enabled: true, Path: "/metrics", Port: *metricsPort},
		observability.TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 0},
		version.GetInfo(),
	)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	metricsServer := observability.NewMetricsServer(*metricsPort, "/metrics")
	go func() {
		if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	server, err := startStubServer(*listenAddr)
	if err != nil {
		slog.Error("Failed to start stub server", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := runClient(cfg, *listenAddr, *requests); err != nil {
		slog.Error("Client run failed", "error", err)
		os.Exit(1)
	}
}

// clientConfig returns the "demo" profile from the config file, or a default
// token bucket tuned to trip the stub server's limit now and then.
func clientConfig(cfg *config.Config) limiter.Config {
	if profile, ok := cfg.Limiters["demo"]; ok {
		return profile.Limiter()
	}
	return limiter.Config{
		Algorithm:      limiter.TokenBucket,
		RatePerSecond:  10,
		BurstCapacity:  5,
		SafetyBuffer:   1.0,
		HeaderMappings: limiter.DefaultHeaderMappings(),
	}
}

func runClient(cfg *config.Config, addr string, n int) error {
	recorder := observability.NewRecorder(prometheus.DefaultRegisterer)
	opts := []limiter.Option{limiter.WithMetrics(recorder)}

	if cfg.Store != nil {
		store, err := statestore.Create(context.Background(), *cfg.Store, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to create state store: %w", err)
		}
		instrumented, err := statestore.NewInstrumented(store)
		if err != nil {
			return fmt.Errorf("failed to instrument state store: %w", err)
		}
		opts = append(opts, limiter.WithStore(instrumented))
	}

	lim, err := limiter.New(clientConfig(cfg), opts...)
	if err != nil {
		return fmt.Errorf("failed to create limiter: %w", err)
	}
	defer lim.Close()

	mw := middleware.New(lim, "demo-api",
		middleware.WithMaxRetries(3),
		middleware.WithMaxWait(5*time.Second),
	)

	url := "http://" + addr + "/api/data"
	for i := 0; i < n; i++ {
		resp, err := mw.Execute(func() (*http.Response, error) {
			return http.Get(url)
		})
		if err != nil {
			slog.Warn("request failed", "n", i, "error", err)
			continue
		}
		resp.Body.Close()
		status := lim.Status("demo-api")
		slog.Info("request completed",
			"n", i,
			"status", resp.StatusCode,
			"usage_percent", fmt.Sprintf("%.0f", status.UsagePercent),
			"limited", status.Limited,
		)
	}
	return nil
}

// startStubServer serves /api/data behind its own server-side limiter and
// advertises the quota through response headers.
func startStubServer(addr string) (*http.Server, error) {
	serverLim, err := limiter.New(limiter.Config{
		Algorithm:     limiter.FixedWindow,
		RatePerSecond: 5,
		BurstCapacity: 5,
		SafetyBuffer:  1.0,
		WindowSize:    time.Second,
	})
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	router.Use(otelmux.Middleware("fourlimit-demo-server"))
	router.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		status := serverLim.Status("global")
		limit, _ := status.Raw["limit"].(int)
		count, _ := status.Raw["count"].(int)
		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !serverLim.Allow("global") {
			retryAfter := int(serverLim.WaitTime("global").Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"ok":true}`)
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Stub server failed", "error", err)
		}
	}()
	return server, nil
}

package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"convod/internal/janitor"
	"convod/pkg/api"
	"convod/pkg/auth"
	"convod/pkg/banner"
	"convod/pkg/config"
	"convod/pkg/logger"
	"convod/pkg/notify"
	"convod/pkg/outbox"
	"convod/pkg/search"
	"convod/pkg/store"
)

func main() {
	// build metadata - set via ldflags during build/release
	var (
		version   = "dev"
		commit    = "none"
		buildDate = "unknown"
	)
	_ = godotenv.Load(".env")
	flags := config.ParseConfigFlags()

	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	envCfg, envRes := config.ParseConfigEnvs()
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg, envRes)
	if err != nil {
		log.Fatalf("failed to resolve config: %v", err)
	}
	cfg := eff.Config

	logger.InitWithLevel(cfg.Logging.Level)

	if err := store.Open(eff.DBPath); err != nil {
		log.Fatalf("failed to open pebble at %s: %v", eff.DBPath, err)
	}

	// Populate the global runtime config with backend and signing keys.
	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, SigningKeys: map[string]struct{}{}}
	for _, k := range cfg.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	for k := range envRes.BackendKeys {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	for k := range envRes.SigningKeys {
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	// Push gateway: real HTTP delivery only when configured.
	var gateway notify.Gateway = notify.LogGateway{}
	if cfg.Push.Enabled && cfg.Push.Endpoint != "" {
		gateway = notify.NewHTTPGateway(cfg.Push.Endpoint, cfg.Push.APIKey, cfg.Push.Timeout.Duration())
	}
	engine := notify.NewEngine(notify.NewStoreResolver(), gateway)

	// Search collaborator: an empty endpoint disables syncing.
	searchEndpoint := ""
	if cfg.Search.Enabled {
		searchEndpoint = cfg.Search.Endpoint
	}
	searchClient := search.NewClient(searchEndpoint, cfg.Search.IndexPrefix, cfg.Search.Timeout.Duration())

	// Outbox queue and task handlers.
	queue := outbox.NewQueue(outbox.Options{
		Capacity:    cfg.Outbox.Capacity,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		Backoff:     cfg.Outbox.RetryBackoff.Duration(),
	})
	outbox.SetDefault(queue)
	outbox.Register(outbox.KindMessageFanout, func(_ string, payload []byte) error {
		var t outbox.MessageFanout
		if err := json.Unmarshal(payload, &t); err != nil {
			return err
		}
		return engine.MessageFanout(t.ConversationID, t.MessageID)
	})
	outbox.Register(outbox.KindNotification, func(_ string, payload []byte) error {
		var ev notify.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		return engine.Create(ev)
	})
	outbox.Register(outbox.KindBooking, func(_ string, payload []byte) error {
		var ev notify.BookingEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		return engine.CreateBookingNotification(ev)
	})
	outbox.Register(outbox.KindSearchSync, func(_ string, payload []byte) error {
		var t outbox.SearchSync
		if err := json.Unmarshal(payload, &t); err != nil {
			return err
		}
		return search.SyncConversation(searchClient, t.ConversationID)
	})

	workers := cfg.Outbox.Workers
	if workers <= 0 {
		workers = 4
	}
	stop := make(chan struct{})
	queue.RunWorkers(workers, stop, outbox.Dispatch)

	janitorCancel, err := janitor.Start(context.Background(), cfg.Janitor)
	if err != nil {
		log.Fatalf("failed to start janitor: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", "signal", s.String())
		janitorCancel()
		close(stop)
		queue.CloseAndDrain()
		if err := store.Close(); err != nil {
			logger.Error("store_close_failed", "error", err)
		}
		os.Exit(0)
	}()

	verStr := version
	if commit != "none" {
		verStr += " (" + commit + ")"
	}
	if buildDate != "unknown" {
		verStr += " @ " + buildDate
	}
	banner.PrintWithEff(eff, verStr)

	mux := http.NewServeMux()

	// Liveness probe used by deployment systems and CI
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"status\":\"ok\"}"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !store.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("{\"status\":\"not ready\"}"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"status\":\"ok\",\"version\":\"" + version + "\"}"))
	})

	// API handler (catch-all under /)
	mux.Handle("/", api.Handler())

	// Serve Swagger UI at /docs and the OpenAPI spec at /openapi.yaml
	mux.Handle("/docs/", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	mux.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))
	mux.Handle("/metrics", promhttp.Handler())

	// Build security middleware from config/env
	secCfg := auth.SecConfig{
		BackendKeys:  map[string]struct{}{},
		FrontendKeys: map[string]struct{}{},
		AdminKeys:    map[string]struct{}{},
	}
	secCfg.AllowedOrigins = append(secCfg.AllowedOrigins, cfg.Security.CORS.AllowedOrigins...)
	if cfg.Security.RateLimit.RPS > 0 {
		secCfg.RPS = cfg.Security.RateLimit.RPS
	}
	if cfg.Security.RateLimit.Burst > 0 {
		secCfg.Burst = cfg.Security.RateLimit.Burst
	}
	if len(cfg.Security.IPWhitelist) > 0 {
		secCfg.IPWhitelist = append(secCfg.IPWhitelist, cfg.Security.IPWhitelist...)
	}
	// API access always requires keys; no allow-unauth option.
	for k := range runtimeCfg.BackendKeys {
		secCfg.BackendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Frontend {
		secCfg.FrontendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Admin {
		secCfg.AdminKeys[k] = struct{}{}
	}

	wrapped := auth.AuthenticateRequestMiddleware(secCfg)(mux)

	srv := &http.Server{
		Addr:              eff.Addr,
		Handler:           wrapped,
		ReadHeaderTimeout: 10 * time.Second,
	}
	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	var errServe error
	if cert != "" && key != "" {
		errServe = srv.ListenAndServeTLS(cert, key)
	} else {
		errServe = srv.ListenAndServe()
	}
	if errServe != nil {
		log.Fatal(errServe)
	}
}

package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"reslock/pkg/config"
	"reslock/pkg/contracts"
	"reslock/pkg/middleware"

	"github.com/benbjohnson/clock"
	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
)

var healthPaths = []string{"/health", "/ready"}

type Application struct {
	cfg              *config.Config
	server           *http.Server
	idempotencyStore middleware.IdempotencyStore
	rateLimiter      middleware.RateLimiter
	workers          []contracts.Worker
	healthHandler    http.Handler
	appHttpHandler   http.Handler
	workersWG        sync.WaitGroup
}

func NewApplication(cfg *config.Config) *Application {
	return &Application{cfg: cfg}
}

// SetApp builds both routers. Health endpoints get Recovery and Logging only, so probes
// never need a holder identity or count against a rate limit.
func (a *Application) SetApp(appHandler, healthHandler contracts.Handler, holderValidator middleware.HolderValidator) {
	a.setHealthHandler(healthHandler)
	a.setAppHandler(appHandler, holderValidator)
	a.setAppServer()
}

// AddWorker registers a background loop started by Run and stopped on shutdown.
func (a *Application) AddWorker(w contracts.Worker) {
	a.workers = append(a.workers, w)
}

// Handler is the full HTTP stack, exposed for in-process tests.
func (a *Application) Handler() http.Handler {
	return a.server.Handler
}

func (a *Application) setHealthHandler(healthHandler contracts.Handler) {
	healthRouter := httprouter.New()
	healthHandler.RegisterRoutes(healthRouter)

	var healthHTTPHandler http.Handler = healthRouter
	healthHTTPHandler = middleware.RequestLogging(a.cfg.Log)(healthHTTPHandler)
	healthHTTPHandler = middleware.Recovery(a.cfg.Log)(healthHTTPHandler)
	a.healthHandler = healthHTTPHandler
	a.cfg.Log.Info("Health endpoints configured with minimal middleware (Recovery + Logging only)")
}

func (a *Application) setAppHandler(appHandler contracts.Handler, holderValidator middleware.HolderValidator) {
	appRouter := httprouter.New()
	appHandler.RegisterRoutes(appRouter)

	if redisClient := a.redis(); redisClient != nil {
		a.idempotencyStore = middleware.NewRedisIdempotencyStore(redisClient, a.cfg.IdempotencyTTL)
		a.rateLimiter = middleware.NewRedisRateLimiter(redisClient, a.cfg.RateLimitRequests, a.cfg.RateLimitWindow)
		a.cfg.Log.Info("Idempotency and rate limiting backed by Redis")
	} else {
		a.idempotencyStore = middleware.NewInMemoryIdempotencyStore(a.cfg.IdempotencyTTL, clock.New())
		a.rateLimiter = middleware.NewHolderRateLimiter(a.cfg.RateLimitRequests, a.cfg.RateLimitWindow, clock.New())
	}

	var appHttpHandler http.Handler = appRouter
	appHttpHandler = middleware.Idempotency(a.idempotencyStore, middleware.DefaultIdempotencyHeader, a.cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.RequestTimeout(a.cfg.RequestTimeout)(appHttpHandler)
	appHttpHandler = middleware.HolderRateLimit(a.rateLimiter, a.cfg.RateLimitWindow, a.cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.HolderIdentity(a.cfg.Log, holderValidator)(appHttpHandler)
	appHttpHandler = middleware.ContentTypeValidation(a.cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.MaxRequestSize(a.cfg.MaxRequestSize)(appHttpHandler)
	appHttpHandler = middleware.RequestLogging(a.cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.Recovery(a.cfg.Log)(appHttpHandler)
	a.appHttpHandler = appHttpHandler
	a.cfg.Log.Info("Application endpoints configured with full middleware stack")
}

func (a *Application) redis() *redis.Client {
	if a.cfg.Client == nil {
		return nil
	}
	return a.cfg.Client.Redis
}

func (a *Application) setAppServer() {
	mux := http.NewServeMux()
	for _, path := range healthPaths {
		mux.Handle(path, a.healthHandler)
	}
	mux.Handle("/", a.appHttpHandler)

	a.server = &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      mux,
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
		IdleTimeout:  a.cfg.IdleTimeout,
	}

	a.cfg.Log.Info("HTTP server configured", "port", a.cfg.Port)
}

func (a *Application) startWorkers(ctx context.Context) {
	for _, w := range a.workers {
		a.workersWG.Add(1)
		go func(w contracts.Worker) {
			defer a.workersWG.Done()
			w.Run(ctx)
		}(w)
	}
}

func (a *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.startWorkers(ctx)

	serverErrors := make(chan error, 1)

	go func() {
		a.cfg.Log.Info("Starting HTTP server", "address", a.server.Addr)
		serverErrors <- a.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			a.stopBackground()
			a.cfg.Log.Fatal("HTTP server failed", "error", err)
		}

	case sig := <-shutdown:
		a.cfg.Log.Info("Shutdown signal received", "signal", sig)
		a.gracefulShutdown()
	}
}

func (a *Application) stopBackground() {
	a.cfg.Log.Info("Stopping background workers...")
	for _, w := range a.workers {
		w.Stop()
	}
	a.workersWG.Wait()
	if a.idempotencyStore != nil {
		a.idempotencyStore.Stop()
	}
	if a.rateLimiter != nil {
		a.rateLimiter.Stop()
	}
	a.cfg.Log.Info("Background workers stopped")
}

func (a *Application) gracefulShutdown() {
	a.cfg.Log.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.cfg.Log.Error("Server shutdown failed", "error", err)
		if err := a.server.Close(); err != nil {
			a.cfg.Log.Error("Could not stop server gracefully", "error", err)
		}
	}

	a.stopBackground()
	a.cfg.Log.Info("Server stopped gracefully")
}

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"seller-gateway/internal/auth"
	"seller-gateway/internal/cache"
	"seller-gateway/internal/checkpoint"
	"seller-gateway/internal/events"
	"seller-gateway/internal/handlers/sessions"
	"seller-gateway/internal/idempotency"
	"seller-gateway/internal/telemetry"
	"seller-gateway/internal/wizard"
)

const (
	purgeInterval = time.Hour
	sweepInterval = 10 * time.Minute
)

type application struct {
	config         Config
	conn           *pgxpool.Pool
	cache          *cache.RedisClient
	authenticator  *auth.Authenticator
	eventBus       *events.NATSBus
	manager        *wizard.Manager
	purger         *checkpoint.PostgresStore
	logger         *slog.Logger
	shutdownTracer func(context.Context) error
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(telemetry.Middleware(serviceName))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{app.config.Frontend},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", idempotency.HeaderKey},
		ExposedHeaders:   []string{"Link", idempotency.HeaderHit},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	slog.Info("Allowed origins", "origin", app.config.Frontend)

	// Uploads of a full batch can take a while on slow connections
	r.Use(middleware.Timeout(2 * app.config.RequestTimeout))

	r.Get("/health", app.health)

	idempotencyStore := idempotency.NewStore(app.cache)
	sessionsHandler := sessions.NewSessionsHandler(app.manager, app.logger)

	r.Group(func(r chi.Router) {
		// Public routes
		r.Use(middleware.Recoverer)

		r.Get("/wizard/policy", sessionsHandler.GetPolicy)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Recoverer)

		// Authenticated routes
		r.Use(app.authenticator.Middleware)
		r.Use(auth.RequireRole(app.config.Authorization.SellerRole))

		r.Post("/wizard/sessions", sessionsHandler.StartSession)
		r.Route("/wizard/sessions/{id}", func(r chi.Router) {
			r.Get("/", sessionsHandler.GetSession)
			r.Delete("/", sessionsHandler.Abandon)
			r.Patch("/fields", sessionsHandler.ChangeFields)
			r.Post("/advance", sessionsHandler.Advance)
			r.Post("/retreat", sessionsHandler.Retreat)
			r.Post("/images", sessionsHandler.UploadImages)
			r.Delete("/images/{index}", sessionsHandler.RemoveImage)
			r.Post("/images/{index}/primary", sessionsHandler.SetPrimaryImage)

			// Terminal operations; replays must not create or submit twice
			r.With(idempotency.Idempotency(idempotencyStore)).Post("/save-draft", sessionsHandler.SaveDraft)
			r.With(idempotency.Idempotency(idempotencyStore)).Post("/submit", sessionsHandler.Submit)
		})
	})

	return r
}

func (app *application) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := app.cache.Ping(ctx); err != nil {
		http.Error(w, "Cache unavailable", http.StatusServiceUnavailable)
		return
	}
	if app.conn != nil {
		if err := app.conn.Ping(ctx); err != nil {
			http.Error(w, "Database unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.Write([]byte("OK"))
}

// purgeCheckpoints removes expired Postgres checkpoints until ctx ends.
func (app *application) purgeCheckpoints(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.purger.Purge(ctx)
			if err != nil {
				app.logger.WarnContext(ctx, "Failed to purge expired checkpoints", "error", err)
				continue
			}
			if n > 0 {
				app.logger.InfoContext(ctx, "Purged expired checkpoints", "count", n)
			}
		}
	}
}

// sweepSessions closes sessions left idle in memory until ctx ends. They
// resume from their checkpoints if the seller comes back.
func (app *application) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := app.manager.Sweep(); n > 0 {
				app.logger.InfoContext(ctx, "Closed idle wizard sessions", "count", n, "live", app.manager.Len())
			}
		}
	}
}

func (app *application) run(h http.Handler) error {
	svr := &http.Server{
		Addr:         app.config.Addr,
		Handler:      h,
		WriteTimeout: 3 * app.config.RequestTimeout,
		ReadTimeout:  time.Minute,
		IdleTimeout:  time.Minute * 1,
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go app.sweepSessions(bgCtx)
	if app.purger != nil {
		go app.purgeCheckpoints(bgCtx)
	}

	slog.Info("Starting server on " + app.config.Addr)
	go func() {
		if err := svr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Listen: %s\n", err)
		}
	}()

	// Wait for Interrupt Signal (Ctrl+C or Docker Stop)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Create a deadline to wait for active requests (e.g. 10 seconds)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP
	if err := svr.Shutdown(ctx); err != nil {
		log.Println("Server Forced to Shutdown:", err)
		return err
	}
	stopBackground()

	// Close live wizard sessions; their checkpoints stay for the next process
	app.manager.Shutdown()

	// Shutdown NATS (Drain is better than Close)
	// Drain allows in-flight messages to finish processing
	if app.eventBus != nil {
		if err := app.eventBus.Drain(); err != nil {
			log.Println("NATS Drain failed:", err)
			return err
		}
	}

	// Close DB Connection Pool
	if app.conn != nil {
		app.conn.Close()
	}

	// Close Redis Client
	if err := app.cache.Close(); err != nil {
		log.Println("Redis Close failed:", err)
		return err
	}

	if err := app.shutdownTracer(ctx); err != nil {
		log.Println("Tracer shutdown failed:", err)
	}

	log.Println("Server Exited Properly")
	return nil
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/commitcast/commitcast/backend/internal/handlers"
	"github.com/commitcast/commitcast/backend/internal/middleware"
	"github.com/commitcast/commitcast/backend/internal/store"
	"github.com/commitcast/commitcast/backend/internal/workers"
)

func main() {
	if err := run(defaultDeps()); err != nil {
		log.Fatal(err)
	}
}

// config is everything the server reads from the environment.
type config struct {
	Port               string        `env:"PORT" envDefault:"18911"`
	DatabaseURL        string        `env:"DATABASE_URL"`
	AuthSecret         string        `env:"AUTH_JWT_SECRET"`
	AuthDisabled       bool          `env:"AUTH_DISABLED"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	SchedulerEnabled   bool          `env:"SCHEDULED_POSTS_WORKER" envDefault:"true"`
	SchedulerInterval  time.Duration `env:"SCHEDULED_POSTS_INTERVAL" envDefault:"1m"`
	OAuthStateMaxAge   time.Duration `env:"OAUTH_STATE_MAX_AGE" envDefault:"30m"`
	OAuthStateSweep    time.Duration `env:"OAUTH_STATE_SWEEP_INTERVAL" envDefault:"10m"`
}

// loadConfig parses config from the given environment map, or from the
// process environment when the map is nil.
func loadConfig(environment map[string]string) (config, error) {
	var cfg config
	if environment != nil {
		err := env.ParseWithOptions(&cfg, env.Options{Environment: environment})
		return cfg, err
	}
	err := env.Parse(&cfg)
	return cfg, err
}

// deps carries the process-boundary dependencies so run can be exercised
// in tests without a real database or listener.
type deps struct {
	loadEnv        func(...string) error
	environ        map[string]string
	openDB         func(databaseURL string) (*sql.DB, string, error)
	migrateUp      func(db *sql.DB, driver string) error
	listenAndServe func(*http.Server) error
	stopCh         chan os.Signal
	notify         func(chan<- os.Signal, ...os.Signal)
}

func defaultDeps() deps {
	return deps{
		loadEnv:        godotenv.Load,
		openDB:         store.Open,
		migrateUp:      migrateUp,
		listenAndServe: func(srv *http.Server) error { return srv.ListenAndServe() },
		notify:         signal.Notify,
	}
}

// migrateUp applies all pending migrations for the connected engine.
func migrateUp(db *sql.DB, driver string) error {
	if db == nil {
		return errors.New("migrateUp requires an open database")
	}
	drv, name, err := store.MigrationDriver(db, driver)
	if err != nil {
		return fmt.Errorf("Failed to init migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(store.MigrationsSource(driver), name, drv)
	if err != nil {
		return fmt.Errorf("Failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// buildRouter assembles the handler chain. Auth runs before the rate
// limiter so limits key on the authenticated user rather than the IP.
func buildRouter(h *handlers.Handler, cfg config) http.Handler {
	r := mux.NewRouter()
	handlers.RegisterRoutes(h, r)

	limiter := middleware.NewRateLimiter()
	auth := middleware.NewAuthenticator(cfg.AuthSecret, cfg.AuthDisabled || cfg.AuthSecret == "")
	if auth.Disabled {
		log.Println("[Auth] token verification disabled")
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(auth.Middleware(limiter.Middleware(r)))
}

func run(d deps) error {
	// Load .env file if it exists
	if d.loadEnv != nil {
		_ = d.loadEnv()
	}

	cfg, err := loadConfig(d.environ)
	if err != nil {
		return fmt.Errorf("Failed to parse configuration: %w", err)
	}

	if d.openDB == nil {
		return errors.New("openDB dependency is required")
	}
	db, driver, err := d.openDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("Failed to connect to database: %w", err)
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(); err != nil {
		return fmt.Errorf("Failed to ping database: %w", err)
	}

	// Run migrations on startup
	if d.migrateUp != nil {
		if err := d.migrateUp(db, driver); err != nil {
			return fmt.Errorf("Database migration failed: %w", err)
		}
		log.Println("Database is up-to-date")
	}

	h := handlers.New(db)

	srv := &http.Server{
		Handler:      buildRouter(h, cfg),
		Addr:         ":" + cfg.Port,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	// Root context for background workers and graceful shutdown
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.SchedulerEnabled {
		go h.StartScheduledPostsWorker(rootCtx, cfg.SchedulerInterval)
	} else {
		log.Println("[ScheduledPosts] worker disabled via SCHEDULED_POSTS_WORKER=false")
	}
	janitor := &workers.OAuthStateCleanupWorker{
		DB:       db,
		MaxAge:   cfg.OAuthStateMaxAge,
		Interval: cfg.OAuthStateSweep,
	}
	go janitor.Start(rootCtx)

	// Handle graceful shutdown on SIGINT/SIGTERM
	stop := d.stopCh
	if stop == nil {
		stop = make(chan os.Signal, 1)
	}
	if d.notify != nil {
		d.notify(stop, os.Interrupt, syscall.SIGTERM)
	}

	go func() {
		<-stop
		log.Println("Shutting down server...")
		cancel()
		ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s", cfg.Port)
	if d.listenAndServe == nil {
		return errors.New("listenAndServe dependency is required")
	}
	if err := d.listenAndServe(srv); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Println("Server stopped")
	return nil
}

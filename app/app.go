package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deemkeen/fedigraph/db"
	"github.com/deemkeen/fedigraph/pubsub"
	"github.com/deemkeen/fedigraph/util"
	"github.com/deemkeen/fedigraph/web"
)

// App wires the database, the pub/sub bus and the HTTP proxy together and
// owns their startup and shutdown order. Outbound delivery is a separate
// process (cmd/fediworker); this binary only ever serves inbound requests.
type App struct {
	config     *util.AppConfig
	database   *db.DB
	httpServer *http.Server
	done       chan os.Signal
}

// New creates a new App instance with the given configuration.
func New(conf *util.AppConfig) (*App, error) {
	return &App{
		config: conf,
		done:   make(chan os.Signal, 1),
	}, nil
}

// Initialize opens the database, builds the pub/sub bus and constructs the
// HTTP server. It does not start listening.
func (a *App) Initialize() error {
	bus := pubsub.NewBus()
	a.database = db.GetDB(a.config.DbPath, bus)

	router, err := web.Router(a.config, a.database, bus)
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP router: %w", err)
	}

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.HttpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

// Start begins serving HTTP requests and blocks until a shutdown signal is
// received.
func (a *App) Start() error {
	signal.Notify(a.done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("Starting HTTP server on %s", a.httpServer.Addr)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-a.done
	log.Println("Shutdown signal received")

	return a.Shutdown()
}

// Shutdown gracefully stops the HTTP server with a 30 second timeout.
func (a *App) Shutdown() error {
	log.Println("Initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		return err
	}

	log.Println("HTTP server stopped gracefully")
	return nil
}

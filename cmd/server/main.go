/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tab billing engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Configure structured logging
  3. Initialize SQLite store (billing + rules + audit)
  4. Wire the balance tracker, rule applier and allocation engine
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: tabs.db)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/tabs.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

ENVIRONMENT:
  LOG_LEVEL: debug, info, warn, error (default: info)

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/tab-engine/allocation"
	"github.com/warp/tab-engine/api"
	"github.com/warp/tab-engine/audit"
	"github.com/warp/tab-engine/billing"
	"github.com/warp/tab-engine/logging"
	"github.com/warp/tab-engine/rules"
	"github.com/warp/tab-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "tabs.db", "SQLite database path")
	flag.Parse()

	logging.Setup()
	logger := slog.Default()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Error("failed to initialize database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	clock := billing.SystemClock{}
	tracker := billing.NewBalanceTracker(logger)
	recorder := audit.NewRecorder(store, clock)
	notifier := rules.LogNotifier{Logger: logger}
	applier := rules.NewApplier(store, store, tracker, recorder, notifier, clock, logger)
	engine := allocation.NewEngine(store, tracker, recorder, clock, logger)

	handler := api.NewHandler(store, store, tracker, applier, engine, recorder, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", fmt.Sprintf("http://localhost:%d", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

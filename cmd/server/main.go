/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the credit & settlement engine server:
  configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Wire processor, orchestrator, dispatcher
  4. Configure HTTP router and start the in-process scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port         HTTP server port (default: 8080)
  -db           SQLite database path (default: credit.db, ":memory:" ok)
  -cron-secret  Shared secret for the cron trigger endpoint
                (falls back to CRON_SECRET env var)
  -scheduler    Run the in-process daily scheduler (default: true)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop the scheduler, drain active requests
  (30s timeout), close the database, exit.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hearth/credit-engine/api"
	"github.com/hearth/credit-engine/credit"
	"github.com/hearth/credit-engine/notify"
	"github.com/hearth/credit-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "credit.db", "SQLite database path")
	cronSecret := flag.String("cron-secret", os.Getenv("CRON_SECRET"), "shared secret for the cron trigger")
	runScheduler := flag.Bool("scheduler", true, "run the in-process daily scheduler")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	processor := credit.NewProcessor(store, store, store, store)
	orchestrator := &credit.Orchestrator{
		Families:   store,
		Audit:      store,
		Processor:  processor,
		Dispatcher: notify.LogDispatcher{},
		Reports:    notify.Builder{},
	}

	handler := api.NewHandler(store, orchestrator, *cronSecret)
	if *cronSecret == "" {
		log.Println("Warning: no cron secret configured, trigger endpoint disabled")
	}

	scheduler := api.NewSettlementScheduler(orchestrator)
	scheduler.Enabled = *runScheduler
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: api.NewRouter(handler),
	}

	go func() {
		log.Printf("Settlement engine listening on :%d (db: %s)", *port, *dbPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
}

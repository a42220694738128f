/*
main.go - Application entry point

PURPOSE:
  Starts the warehouse allocation server: configuration, SQLite store,
  engine, HTTP router, graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Open the SQLite store (auto-migrates the schema)
  3. Seed folio series labels when configured and not yet set
  4. Wire engine and HTTP handlers
  5. Serve with graceful shutdown on SIGINT/SIGTERM

EXAMPLES:
  # File database on the default port
  DB_PATH=./data/warehouse.db ./server

  # In-memory database for a throwaway run
  DB_PATH=":memory:" PORT=3000 ./server

SEE ALSO:
  - config/config.go: The environment surface
  - api/server.go: Route configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/warehouse-engine/api"
	"github.com/warp/warehouse-engine/config"
	"github.com/warp/warehouse-engine/engine"
	"github.com/warp/warehouse-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("configuration: %v", err)
	}

	log := logrus.New()
	log.SetLevel(cfg.LogLevel)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	if err := seedSeries(store, cfg); err != nil {
		log.Fatalf("seed folio series: %v", err)
	}

	eng := engine.New(store, log)
	handler := api.NewHandler(eng, store, log)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Info("server stopped")
}

// seedSeries applies configured series labels to sequences that still
// carry the empty default. A sequence whose series was already set, by a
// previous run or by an operator, is never overwritten.
func seedSeries(store *sqlite.Store, cfg *config.Config) error {
	ctx := context.Background()
	for _, s := range []struct {
		direction engine.Direction
		series    string
	}{
		{engine.DirectionOutbound, cfg.OutboundSeries},
		{engine.DirectionInbound, cfg.InboundSeries},
	} {
		if s.series == "" {
			continue
		}
		seq, err := store.GetSequence(ctx, s.direction)
		if err != nil {
			return err
		}
		if seq.Series != "" {
			continue
		}
		seq.Series = s.series
		if err := store.SaveSequence(ctx, seq); err != nil {
			return err
		}
	}
	return nil
}

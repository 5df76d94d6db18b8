package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := LoadConfig()

	// Lightweight migrate command: `./facturo migrate` runs the schema
	// migration and exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if cfg.DatabaseDSN == "" {
			log.Fatal("DB_DSN is not set")
		}
		cfg.AutoMigrate = true
		if _, err := initDB(cfg); err != nil {
			log.Fatal(err)
		}
		fmt.Println("migration completed")
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	db, err := initDB(cfg)
	if err != nil {
		log.Fatal(err)
	}

	store := NewStore(db)
	app := &App{
		cfg:        cfg,
		store:      store,
		ingestor:   NewIngestor(store, NewWorkerDispatcher(cfg.WorkerURL, &http.Client{})),
		reconciler: NewReconciler(store),
	}

	if _, err := startReaper(cfg, store); err != nil {
		log.Fatal(err)
	}

	r := gin.Default()
	setupRoutes(r, app)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		return r.Run(cfg.ListenAddr)
	})
	if cfg.WatchDir != "" {
		g.Go(func() error {
			return runWatcher(ctx, cfg, app.ingestor)
		})
	}
	log.Fatal(g.Wait())
}

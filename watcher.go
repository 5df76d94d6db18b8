package main

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// runWatcher ingests PDFs dropped into cfg.WatchDir through the same
// orchestrator as HTTP uploads. Content-hash dedup makes re-delivered events
// harmless: a file seen twice simply resolves to a duplicate.
func runWatcher(ctx context.Context, cfg Config, ing *Ingestor) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(cfg.WatchDir); err != nil {
		return err
	}
	log.Printf("watching %s for dropped PDFs", cfg.WatchDir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-w.Events:
			if !ok {
				return nil
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if strings.ToLower(filepath.Ext(e.Name)) != ".pdf" {
				continue
			}
			// Wait out the debounce off the event loop, so a burst of drops
			// is not serialized. Re-delivered events for the same file just
			// resolve as content-hash duplicates.
			name := e.Name
			go func() {
				time.Sleep(cfg.WatchDebounce)
				ingestDropped(ctx, ing, name)
			}()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("watcher error: %v", err)
		}
	}
}

func ingestDropped(ctx context.Context, ing *Ingestor, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("drop-folder read %s: %v", path, err)
		return
	}
	res, err := ing.Ingest(ctx, filepath.Base(path), data)
	if err != nil {
		var de *DispatchError
		if errors.As(err, &de) {
			log.Printf("drop-folder dispatch %s: %v", path, de.Err)
		} else {
			log.Printf("drop-folder ingest %s: %v", path, err)
		}
		return
	}
	if res.Duplicate {
		log.Printf("drop-folder %s: already ingested as %s", path, res.ExistingID)
		return
	}
	log.Printf("drop-folder %s: ingested as %s", path, res.Invoice.ID)
}

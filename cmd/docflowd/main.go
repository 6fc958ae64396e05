// Command docflowd runs the document processing daemon: it watches the queue
// and drives every ingested document through extraction, embedding, structured
// extraction, validation, and persistence.
package main

import (
	"context"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"

	"docflow/internal/blobstore"
	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/metastore"
	"docflow/internal/queue"
	"docflow/internal/stages/chunkembed"
	"docflow/internal/stages/persist"
	"docflow/internal/stages/structured"
	"docflow/internal/stages/textextract"
	"docflow/internal/stages/validate"
	"docflow/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "docflowd.log")},
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	lock := flock.New(cfg.LockFilePath())
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("acquire daemon lock: %v", err)
	}
	if !locked {
		log.Fatalf("another docflowd instance holds %s", cfg.LockFilePath())
	}
	defer lock.Unlock() //nolint:errcheck

	store, err := queue.Open(cfg)
	if err != nil {
		log.Fatalf("open queue store: %v", err)
	}
	defer store.Close()

	meta, err := metastore.Open(cfg)
	if err != nil {
		log.Fatalf("open metadata store: %v", err)
	}
	defer meta.Close()

	blobs, err := blobstore.NewFileStore(cfg.Paths.BlobDir)
	if err != nil {
		log.Fatalf("open blob store: %v", err)
	}

	manager := workflow.NewManager(cfg, store, logger)
	manager.ConfigureStages(workflow.Stages{
		TextExtract: textextract.New(cfg, store, blobs, logger),
		ChunkEmbed:  chunkembed.New(cfg, store, blobs, logger),
		Structured:  structured.New(cfg, store, blobs, logger),
		Validate:    validate.New(cfg, store, logger),
		Persist:     persist.New(cfg, store, blobs, meta, logger),
	})

	for _, health := range manager.Health(ctx) {
		if health.Ready {
			logger.Info("stage ready", logging.String(logging.FieldStage, health.Name))
		} else {
			logger.Warn("stage not ready",
				logging.String(logging.FieldStage, health.Name),
				logging.String("detail", health.Detail),
			)
		}
	}

	if err := manager.Start(ctx); err != nil {
		log.Fatalf("start workflow: %v", err)
	}
	logger.Info("docflowd started",
		logging.String("queue_db", cfg.QueueDatabasePath()),
		logging.String("blob_dir", cfg.Paths.BlobDir),
	)

	<-ctx.Done()
	logger.Info("docflowd shutting down")
	manager.Stop()
}

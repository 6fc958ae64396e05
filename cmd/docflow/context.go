package main

import (
	"fmt"

	"docflow/internal/blobstore"
	"docflow/internal/config"
	"docflow/internal/metastore"
	"docflow/internal/queue"
)

// commandContext lazily loads configuration and opens stores for subcommands.
type commandContext struct {
	configFlag *string
	cfg        *config.Config
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := ""
	if c.configFlag != nil {
		path = *c.configFlag
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) withQueueStore(fn func(*config.Config, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}

func (c *commandContext) withMetastore(fn func(*config.Config, *metastore.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := metastore.Open(cfg)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}

func (c *commandContext) openBlobStore(cfg *config.Config) (blobstore.Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return blobstore.NewFileStore(cfg.Paths.BlobDir)
}

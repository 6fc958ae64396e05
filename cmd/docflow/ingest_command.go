package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"docflow/internal/config"
	"docflow/internal/envelope"
	"docflow/internal/queue"
)

var ingestFileExtensions = map[string]struct{}{
	".txt": {},
	".md":  {},
	".pdf": {},
}

func newIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <path>",
		Short: "Upload a contract document and queue it for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}

			info, err := os.Stat(absPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("file does not exist: %s", absPath)
				}
				return fmt.Errorf("inspect file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", absPath)
			}
			ext := strings.ToLower(filepath.Ext(info.Name()))
			if _, ok := ingestFileExtensions[ext]; !ok {
				return fmt.Errorf("unsupported file extension %q", ext)
			}

			return ctx.withQueueStore(func(cfg *config.Config, store *queue.Store) error {
				blobs, err := ctx.openBlobStore(cfg)
				if err != nil {
					return err
				}

				data, err := os.ReadFile(absPath)
				if err != nil {
					return fmt.Errorf("read document: %w", err)
				}

				documentID := "DOC-" + uuid.NewString()
				sourceKey := fmt.Sprintf("uploads/%s/%s", documentID, filepath.Base(absPath))
				if err := blobs.Put(cmd.Context(), sourceKey, data); err != nil {
					return fmt.Errorf("upload document: %w", err)
				}

				env := envelope.New(documentID)
				env.Set("source_key", sourceKey)
				env.Set("source_filename", filepath.Base(absPath))
				encoded, err := env.Encode()
				if err != nil {
					return fmt.Errorf("encode envelope: %w", err)
				}

				item, err := store.NewDocument(cmd.Context(), documentID, sourceKey, encoded)
				if err != nil {
					return fmt.Errorf("queue document: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s as item #%d (%s)\n",
					filepath.Base(absPath), item.ID, documentID)
				return nil
			})
		},
	}
}

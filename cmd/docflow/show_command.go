package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"docflow/internal/config"
	"docflow/internal/envelope"
	"docflow/internal/metastore"
	"docflow/internal/queue"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var showData bool

	cmd := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show pipeline state and persisted results for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			documentID := args[0]
			out := cmd.OutOrStdout()

			err := ctx.withQueueStore(func(_ *config.Config, store *queue.Store) error {
				item, err := store.GetByDocumentID(cmd.Context(), documentID)
				if err != nil {
					return fmt.Errorf("fetch queue item: %w", err)
				}
				if item == nil {
					fmt.Fprintln(out, "No queue item for this document")
					return nil
				}
				printQueueItem(out, item)
				return nil
			})
			if err != nil {
				return err
			}

			return ctx.withMetastore(func(_ *config.Config, meta *metastore.Store) error {
				versions, err := meta.Versions(cmd.Context(), documentID)
				if err != nil {
					return fmt.Errorf("fetch versions: %w", err)
				}
				if len(versions) == 0 {
					fmt.Fprintln(out, "\nNo persisted versions yet")
					return nil
				}

				latest, err := meta.Latest(cmd.Context(), documentID)
				if err != nil {
					return fmt.Errorf("fetch latest: %w", err)
				}

				rows := make([][]string, 0, len(versions))
				for _, v := range versions {
					marker := ""
					if latest != nil && v.Version == latest.Version {
						marker = "latest"
					}
					passed := "no"
					if v.ValidationPassed {
						passed = "yes"
					}
					rows = append(rows, []string{
						strconv.Itoa(v.Version),
						v.ClientName,
						passed,
						strconv.Itoa(v.ChunksCreated),
						v.CreatedAt.Local().Format(time.DateTime),
						marker,
					})
				}
				fmt.Fprintln(out, "\nPersisted versions:")
				fmt.Fprintln(out, renderTable(
					[]string{"Version", "Client", "Valid", "Chunks", "Created", ""},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))

				if showData && latest != nil && latest.DataJSON != "" {
					var pretty map[string]any
					if err := json.Unmarshal([]byte(latest.DataJSON), &pretty); err == nil {
						formatted, _ := json.MarshalIndent(pretty, "", "  ")
						fmt.Fprintf(out, "\nExtracted data (v%d):\n%s\n", latest.Version, formatted)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showData, "data", false, "Print the latest extracted data as JSON")
	return cmd
}

func printQueueItem(out interface{ Write([]byte) (int, error) }, item *queue.Item) {
	fmt.Fprintf(out, "Document: %s\n", item.DocumentID)
	fmt.Fprintf(out, "Status:   %s\n", item.Status)
	if item.ProgressMessage != "" {
		fmt.Fprintf(out, "Progress: %.0f%% (%s)\n", item.ProgressPercent, item.ProgressMessage)
	}
	if item.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:    %s\n", item.ErrorMessage)
	}
	if item.NeedsReview {
		fmt.Fprintf(out, "Review:   %s\n", item.ReviewReason)
	}

	if env, err := envelope.Parse(item.EnvelopeJSON); err == nil {
		if history := env.Errors(); len(history) > 0 {
			fmt.Fprintln(out, "Failure history:")
			for _, entry := range history {
				fmt.Fprintf(out, "  %s  %s: %s\n", entry.Timestamp, entry.Stage, entry.Error)
			}
		}
	}
}

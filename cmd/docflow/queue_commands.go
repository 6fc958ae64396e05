package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docflow/internal/config"
	"docflow/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the processing queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueueStore(func(_ *config.Config, store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return fmt.Errorf("queue stats: %w", err)
				}

				rows := make([][]string, 0, len(stats))
				total := 0
				for _, status := range queue.AllStatuses() {
					count, ok := stats[status]
					if !ok || count == 0 {
						continue
					}
					rows = append(rows, []string{string(status), strconv.Itoa(count)})
					total += count
				}
				if total == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows = append(rows, []string{"total", strconv.Itoa(total)})
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Items"}, rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueueStore(func(_ *config.Config, store *queue.Store) error {
				var statuses []queue.Status
				if trimmed := strings.TrimSpace(statusFilter); trimmed != "" {
					status, ok := queue.ParseStatus(trimmed)
					if !ok {
						return fmt.Errorf("unknown status %q", trimmed)
					}
					statuses = append(statuses, status)
				}

				items, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return fmt.Errorf("list queue: %w", err)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No matching queue items")
					return nil
				}

				rows := make([][]string, 0, len(items))
				for _, item := range items {
					detail := item.ProgressMessage
					if item.ErrorMessage != "" {
						detail = item.ErrorMessage
					}
					rows = append(rows, []string{
						strconv.FormatInt(item.ID, 10),
						item.DocumentID,
						string(item.Status),
						fmt.Sprintf("%.0f%%", item.ProgressPercent),
						item.UpdatedAt.Local().Format(time.DateTime),
						detail,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Document", "Status", "Progress", "Updated", "Detail"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&statusFilter, "status", "s", "", "Only show items with this status")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [item-id]",
		Short: "Requeue failed and review items",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueueStore(func(_ *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					id, err := strconv.ParseInt(args[0], 10, 64)
					if err != nil {
						return fmt.Errorf("invalid item id %q", args[0])
					}
					retried, err := store.RetryItem(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("retry item: %w", err)
					}
					if !retried {
						return fmt.Errorf("item %d is not in a retryable state", id)
					}
					fmt.Fprintf(out, "Requeued item #%d\n", id)
					return nil
				}

				count, err := store.RetryFailed(cmd.Context())
				if err != nil {
					return fmt.Errorf("retry failed items: %w", err)
				}
				fmt.Fprintf(out, "Requeued %d items\n", count)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool
	var clearFailed bool
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !clearCompleted && !clearFailed && !clearAll {
				return fmt.Errorf("specify --completed, --failed, or --all")
			}
			return ctx.withQueueStore(func(_ *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()
				var removed int64
				var err error
				switch {
				case clearAll:
					removed, err = store.Clear(cmd.Context())
				case clearCompleted:
					removed, err = store.ClearCompleted(cmd.Context())
				case clearFailed:
					removed, err = store.ClearFailed(cmd.Context())
				}
				if err != nil {
					return fmt.Errorf("clear queue: %w", err)
				}
				fmt.Fprintf(out, "Removed %d items\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove completed items")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove failed items")
	cmd.Flags().BoolVar(&clearAll, "all", false, "Remove every item")
	return cmd
}

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"docflow/internal/config"
	"docflow/internal/metastore"
)

func newClientCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "client <name>",
		Short: "List the latest persisted version of every document for a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withMetastore(func(_ *config.Config, meta *metastore.Store) error {
				versions, err := meta.ByClient(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("lookup client documents: %w", err)
				}
				if len(versions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No documents for this client")
					return nil
				}

				rows := make([][]string, 0, len(versions))
				for _, v := range versions {
					passed := "no"
					if v.ValidationPassed {
						passed = "yes"
					}
					rows = append(rows, []string{
						v.DocumentID,
						strconv.Itoa(v.Version),
						passed,
						v.CreatedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Document", "Version", "Valid", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

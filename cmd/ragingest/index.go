package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the search index",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, _ []string) error {
			report := c.app.writer.CheckHealth(cmd.Context())
			w := cmd.OutOrStdout()

			fmt.Fprintf(w, "Index %s (%s): %s\n", report.IndexName, c.app.writer.Backend(), report.Status)
			if report.Exists {
				fmt.Fprintf(w, "  Documents: %d\n", report.DocumentCount)
			}
			for _, issue := range report.Issues {
				fmt.Fprintf(w, "  issue: %s\n", issue)
			}
			for _, warning := range report.Warnings {
				fmt.Fprintf(w, "  warning: %s\n", warning)
			}
			if report.Status == types.HealthUnhealthy {
				return errors.New("index is unhealthy")
			}
			return nil
		}),
	}
}

func (c *cli) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every document from the search index",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the index without --yes")
			}
			if _, err := c.app.writer.ClearIndex(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared index %s\n", c.app.writer.IndexName())
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <chunk-id>...",
		Short: "Delete chunks from the search index by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, ids []string) error {
			res := c.app.writer.DeleteDocuments(cmd.Context(), ids)
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Deleted %d of %d\n", res.Processed, len(ids))
			for _, e := range res.Errors {
				fmt.Fprintf(w, "  - %s: %s\n", e.ID, e.Message)
			}
			if res.Failed > 0 {
				return fmt.Errorf("failed to delete %d documents", res.Failed)
			}
			return nil
		}),
	}
}

/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tieubaoca/paperflow/database"
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <query> [query...]",
	Short: "Search indexed papers",
	Long:  `Runs a near-text query against papers indexed with --index.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := context.Background()
		store, err := database.NewWeaviateStore(ctx, cfg.Index.WeaviateStoreConfig, logger)
		if err != nil {
			return err
		}
		chunks, err := store.SearchSimilar(ctx, args, limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, ch := range chunks {
			fmt.Fprintf(out, "%d. %s (%s #%d)\n%s\n\n", i+1, ch.Metadata.Title, ch.Metadata.Source, ch.Index, ch.Content)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntP("limit", "n", 5, "number of chunks to return")
}

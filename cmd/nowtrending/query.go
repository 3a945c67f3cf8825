package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nowtrending/nowtrending/internal/search"
)

var (
	searchLimit  int
	searchMinSim float64
	outputJSON   bool
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed every topic that has no vector yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		provider, ok := a.provider()
		if !ok {
			return errors.New("embedding provider not configured")
		}
		res, err := a.pipeline(provider).Run(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("Embedded %d of %d pending topics in %d batches (%d failed)\n",
			res.Embedded, res.Pending, res.Batches, res.FailedBatches)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Semantic search over stored topics",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show document statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		stats := a.docs.Load(cmd.Context()).Stats()
		if outputJSON {
			return printJSON(cmd, stats)
		}
		cmd.Printf("Topics:          %d\n", stats.TotalTopics)
		cmd.Printf("With embeddings: %d\n", stats.TopicsWithEmbeddings)
		cmd.Printf("Scrapes:         %d\n", stats.TotalScrapes)
		cmd.Printf("Last scrape:     %s\n", orNone(stats.LastScrape))
		cmd.Printf("Oldest topic:    %s\n", orNone(stats.OldestTopic))
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", search.DefaultLimit, "maximum number of results")
	searchCmd.Flags().Float64Var(&searchMinSim, "min-sim", search.DefaultMinSimilarity, "minimum cosine similarity")
	searchCmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	statsCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(embedCmd, searchCmd, statsCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	provider, _ := a.provider()
	searcher, err := a.searcher(provider)
	if err != nil {
		return err
	}
	query := strings.Join(args, " ")
	results, err := searcher.Search(cmd.Context(), query, search.Options{
		Limit:         searchLimit,
		MinSimilarity: searchMinSim,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if outputJSON {
		return printJSON(cmd, results)
	}
	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, r := range results {
		cmd.Printf("  [%d] %s (%.2f)  %d searches, %dd ago\n", i+1, r.Query, r.Similarity, r.SearchVolume, r.DaysAgo)
		if len(r.TrendBreakdown) > 0 {
			cmd.Printf("      %s\n", strings.Join(r.TrendBreakdown[:min(5, len(r.TrendBreakdown))], ", "))
		}
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func orNone(s *string) string {
	if s == nil {
		return "never"
	}
	return *s
}

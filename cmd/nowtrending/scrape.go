package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nowtrending/nowtrending/internal/scraper"
	"github.com/nowtrending/nowtrending/internal/trends"
)

var skipEmbed bool

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape all sources once and store the topics",
	RunE:  runScrape,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|->",
	Short: "Store topics from a JSON file or stdin",
	Long: `Reads an ingest payload: a JSON array of topics, or an object with a
"topics" or "data" array, and merges it into the trends document.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	scrapeCmd.Flags().BoolVar(&skipEmbed, "no-embed", false, "skip embedding new topics")
	ingestCmd.Flags().BoolVar(&skipEmbed, "no-embed", false, "skip embedding new topics")
	rootCmd.AddCommand(scrapeCmd, ingestCmd)
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	collected, err := scraper.NewDefaultCollector(a.cfg.Scraper, a.log).Collect(ctx)
	if err != nil {
		return err
	}
	for _, rep := range collected.Reports {
		status := "ok"
		if rep.Err != nil {
			status = rep.Err.Error()
		}
		cmd.Printf("  %-8s %4d  %s\n", rep.Name, rep.Count, status)
	}

	return store(cmd, a, collected.Topics)
}

func runIngest(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	payload, err := trends.ParsePayload(data)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	return store(cmd, a, payload.Observations)
}

func store(cmd *cobra.Command, a *app, batch []trends.Observation) error {
	ctx := cmd.Context()
	res, err := a.merger.AddTopics(ctx, batch, uuid.NewString())
	if err != nil {
		return err
	}
	cmd.Printf("Stored %d topics (%d total)\n", res.Added, res.TotalTopics)

	if skipEmbed {
		return nil
	}
	provider, ok := a.provider()
	if !ok {
		cmd.Println("Embedding skipped: provider not configured")
		return nil
	}
	run, err := a.pipeline(provider).Run(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("Embedded %d of %d pending topics (%d failed batches)\n", run.Embedded, run.Pending, run.FailedBatches)
	return nil
}

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nowtrending/nowtrending/internal/api"
	"github.com/nowtrending/nowtrending/internal/config"
	"github.com/nowtrending/nowtrending/internal/logging"
	"github.com/nowtrending/nowtrending/internal/scraper"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if servePort > 0 {
		a.cfg.Server.Port = servePort
	}

	if a.loader.ConfigFileUsed() != "" {
		a.loader.Watch(func(cfg *config.Config, err error) {
			if err != nil {
				a.log.Error("config reload failed", "error", err)
				return
			}
			if logLevel == "" {
				a.level.Set(logging.ParseLevel(cfg.Log.Level))
			}
			a.log.Info("config reloaded", "file", a.loader.ConfigFileUsed(), "log_level", a.level.Level())
		})
	}

	provider, ok := a.provider()
	searcher, err := a.searcher(provider)
	if err != nil {
		return err
	}
	deps := api.Deps{
		Docs:      a.docs,
		Merger:    a.merger,
		Search:    searcher,
		Collector: scraper.NewDefaultCollector(a.cfg.Scraper, a.log),
		Health:    provider,
		Logger:    a.log,
	}
	if ok {
		deps.Embedder = a.pipeline(provider)
	}

	return api.NewServer(a.cfg, deps).Run(ctx)
}

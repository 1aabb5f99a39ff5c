package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/korahq/kora/internal/studio"
)

var studioAddr string

var studioCmd = &cobra.Command{
	Use:   "studio",
	Short: "Serve the execution-viewer HTTP backend",
	Long: `studio serves the web viewer API: demo report and trace endpoints,
run launching with SSE replay, recent history, archive browsing, and
Prometheus metrics. Runs until interrupted.`,
	RunE: runStudio,
}

func init() {
	studioCmd.Flags().StringVar(&studioAddr, "addr", "", "listen address (default from config)")
}

func runStudio(cmd *cobra.Command, args []string) error {
	addr := studioAddr
	if addr == "" {
		addr = cfg.Studio.Addr
	}

	arch := openArchive()
	defer arch.Close()

	srv := studio.New(studio.Options{
		Engine:  buildEngine(cfg.Log.Dir),
		Archive: arch,
		Origins: cfg.Studio.Origins,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

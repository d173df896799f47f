package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/roundtablehq/roundtable-backend/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer a.Close(context.Background())

	if err := a.StartBackground(ctx); err != nil {
		a.Log.Error("background startup failed", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Log.Info("http server listening", "addr", a.Cfg.HTTPAddr)
		return a.Server.Run(gctx, a.Cfg.HTTPAddr)
	})

	if a.Services.Runner != nil {
		g.Go(func() error {
			return a.Services.Runner.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		a.Log.Error("server exited", "error", err)
		os.Exit(1)
	}
	a.Log.Info("shutdown complete")
}

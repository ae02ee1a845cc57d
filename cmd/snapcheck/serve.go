package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/snapcheck/internal/api"
	"github.com/dgnsrekt/snapcheck/internal/netutil"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API, docs and the live event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.loadSuite()
			if err != nil {
				return err
			}
			rt, err := a.newStack(ctx, s)
			if err != nil {
				return err
			}
			defer rt.close()

			ln, err := netutil.Listen(a.cfg.BindAddr, a.cfg.PortCandidates, a.cfg.PortAutoFallback)
			if err != nil {
				slog.Error("failed to select bind address", "preferred", a.cfg.BindAddr, "error", err)
				return err
			}
			addr := ln.Addr().String()
			srv := &http.Server{
				Handler:           api.NewServer(rt.svc, rt.store, rt.broker),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("snapcheck listening", "addr", addr, "docs", "http://"+addr+"/docs")
				errCh <- srv.Serve(ln)
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("snapcheck server failed", "error", err)
					return err
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("snapcheck shutdown failed", "error", err)
			}
			return nil
		},
	}
}

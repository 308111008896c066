package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/systemshift/diffsync/internal/diffsync"
	viewfs "github.com/systemshift/diffsync/internal/fuse"
	"github.com/systemshift/diffsync/internal/peers"
	"github.com/systemshift/diffsync/internal/perspective"
)

func newPullCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Bring the current revision up to the shared latest one",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			diff, err := a.node.Pull(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d additions, %d removals\n", len(diff.Additions), len(diff.Removals))
			return nil
		}),
	}
}

func newRevisionsCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "revisions",
		Short: "List the first-parent history of the current revision",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			history, err := diffsync.History(a.node.Retriever(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range history {
				var flags []string
				if e.Reference.IsMerge() {
					flags = append(flags, "merge")
				}
				if e.Snapshot {
					flags = append(flags, "snapshot")
				}
				if len(e.Reference.Chunks) > 0 {
					flags = append(flags, fmt.Sprintf("%d chunks", len(e.Reference.Chunks)))
				}
				line := e.Hash.String()
				if len(flags) > 0 {
					line += " (" + strings.Join(flags, ", ") + ")"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum revisions to list")
	return cmd
}

func logDiff(logger *slog.Logger) func(perspective.PerspectiveDiff) {
	return func(d perspective.PerspectiveDiff) {
		logger.Info("perspective changed",
			slog.Int("additions", len(d.Additions)),
			slog.Int("removals", len(d.Removals)))
	}
}

// newSyncer builds the background puller. With signals enabled every tick
// also announces presence to the roster.
func (a *app) newSyncer() *diffsync.Syncer {
	s := diffsync.NewSyncer(a.node, a.cfg.SyncInterval, logDiff(a.logger))
	if a.notifier != nil {
		s.OnTick(func(ctx context.Context) {
			if err := a.notifier.Announce(ctx); err != nil {
				a.logger.Debug("presence announcement incomplete", slog.Any("error", err))
			}
		})
	}
	return s
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var listen, metrics string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Sync in the background and accept signals from peers",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			if cmd.Flags().Changed("listen") {
				a.cfg.ListenAddr = listen
			}
			if cmd.Flags().Changed("metrics") {
				a.cfg.MetricsAddr = metrics
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mux := http.NewServeMux()
			if a.cfg.EnableSignals {
				mux.Handle("/signals", peers.NewReceiver(a.node, a.roster, a.logger, logDiff(a.logger)))
			}
			if a.cfg.MetricsAddr == "" || a.cfg.MetricsAddr == a.cfg.ListenAddr {
				mux.Handle("/metrics", promhttp.Handler())
			}
			servers := []*http.Server{{Addr: a.cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}}
			if a.cfg.MetricsAddr != "" && a.cfg.MetricsAddr != a.cfg.ListenAddr {
				mm := http.NewServeMux()
				mm.Handle("/metrics", promhttp.Handler())
				servers = append(servers, &http.Server{Addr: a.cfg.MetricsAddr, Handler: mm, ReadHeaderTimeout: 10 * time.Second})
			}

			errCh := make(chan error, len(servers))
			for _, srv := range servers {
				a.logger.Info("listening", slog.String("addr", srv.Addr))
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- fmt.Errorf("serve %s: %w", srv.Addr, err)
					}
				}()
			}

			syncer := a.newSyncer()
			syncer.SyncOnce(ctx)
			syncer.Start()
			a.logger.Info("syncer started", slog.Duration("interval", a.cfg.SyncInterval))

			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-errCh:
			}
			a.logger.Info("shutting down")
			syncer.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for _, srv := range servers {
				_ = srv.Shutdown(shutdownCtx)
			}
			return runErr
		}),
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address for peer signals (overrides listen_addr)")
	cmd.Flags().StringVar(&metrics, "metrics", "", "address for Prometheus metrics (overrides metrics_addr)")
	return cmd
}

func newMountCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mount DIR",
		Short: "Mount a read-only view of the replica and keep it synced",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			mountpoint := args[0]
			if err := os.MkdirAll(mountpoint, 0755); err != nil {
				return fmt.Errorf("create mountpoint: %w", err)
			}
			server, err := viewfs.MountFS(mountpoint, a.node, g.verbose)
			if err != nil {
				return fmt.Errorf("mount: %w", err)
			}

			syncer := a.newSyncer()
			syncer.Start()

			done := make(chan os.Signal, 1)
			signal.Notify(done, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-done
				a.logger.Info("unmounting", slog.String("dir", mountpoint))
				syncer.Stop()
				if err := server.Unmount(); err != nil {
					a.logger.Error("unmount failed", slog.Any("error", err))
				}
			}()

			a.logger.Info("mounted", slog.String("dir", mountpoint), slog.Int("pid", os.Getpid()))
			server.Wait()
			return nil
		}),
	}
}

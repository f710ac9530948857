package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/class-scheduler/internal/auth"
	"github.com/example/class-scheduler/internal/scheduler"
	"github.com/example/class-scheduler/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the JSON API and the job sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, appOptions{migrate: migrateUp})
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.RequireSecrets(); err != nil {
				return err
			}
			a.withMetrics()

			canceller := a.canceller()
			ws := &web.Server{
				Auth:          auth.NewStore(a.users, a.cfg.CookieHashKey, a.cfg.CookieBlockKey),
				Booking:       a.booking(),
				Resolver:      a.resolver(),
				Canceller:     canceller,
				AutoCancel:    a.autoCanceller(),
				Metrics:       a.metrics,
				Log:           a.log.Named("http"),
				LookupTimeout: a.cfg.LookupTimeout,
			}
			sweeper := &scheduler.Sweeper{
				Store:    a.store,
				Metrics:  a.metrics,
				Log:      a.log.Named("sweep"),
				Schedule: a.cfg.SweepSchedule,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := sweeper.Run(gctx); err != nil && gctx.Err() == nil {
					return err
				}
				return nil
			})
			g.Go(func() error {
				defer cancel()
				return web.Start(gctx, a.cfg.ListenAddr, ws.Routes(), a.log)
			})
			err = g.Wait()
			a.log.Info("server stopped", zap.Error(err))
			return err
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/wlproto/internal/observability"
	"github.com/danmuck/wlproto/internal/protocol/session"
)

func watchCmd(flags *rootFlags) *cobra.Command {
	var (
		duration    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream global announcements and removals until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			if metricsAddr != "" {
				ln, err := net.Listen("tcp", metricsAddr)
				if err != nil {
					return err
				}
				go func() {
					if err := observability.ServeMetrics(ctx, ln); err != nil {
						log.Warn().Err(err).Msg("wlinfo watch metrics stopped")
					}
				}()
			}

			w := cmd.OutOrStdout()
			conn, err := flags.connect(ctx,
				session.OnGlobal(func(g session.Global) {
					fmt.Fprintf(w, "+ %d %s v%d\n", g.Name, g.Interface, g.Version)
				}),
				session.OnGlobalRemove(func(g session.Global) {
					fmt.Fprintf(w, "- %d %s\n", g.Name, g.Interface)
				}),
			)
			if err != nil {
				return err
			}
			defer conn.Close()

			select {
			case <-ctx.Done():
				return nil
			case <-conn.Done():
				return conn.Err()
			}
		},
	}
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while watching")
	return cmd
}

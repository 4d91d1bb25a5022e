package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kyleking/ragsql/internal/cache"
	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/logging"
	"github.com/kyleking/ragsql/internal/metrics"
)

func ServeMetricsCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve-metrics",
		Usage: "Expose Prometheus metrics until interrupted",
		Description: `Serve /metrics and /healthz. The index is loaded first so the index gauges
are populated, and expired result cache entries are removed periodically.`,
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Listen port (defaults to debug.metrics_port)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc, err := servicesFromContext(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			port := cmd.Int("port")
			if port <= 0 {
				port = svc.cfg.Debug.MetricsPort
			}

			if _, err := svc.Index(ctx, true); err != nil {
				logging.Debugf("Serving metrics without a loaded index: %v", err)
			}

			results, err := svc.ResultCache(ctx)
			if err != nil {
				return err
			}

			return runServeMetrics(ctx, fmt.Sprintf(":%d", port), results,
				config.Duration(svc.cfg.Cache.CleanupFreq, 10*time.Minute))
		},
	}
}

func runServeMetrics(ctx context.Context, addr string, results cache.Cache, cleanupEvery time.Duration) error {
	logging.WithFields(map[string]interface{}{"addr": addr}).Info("Serving metrics")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return metrics.Serve(ctx, addr)
	})

	if results != nil && cleanupEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cleanupEvery)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := results.Cleanup(ctx); err != nil {
						logging.Debugf("Result cache cleanup failed: %v", err)
					}
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return errors.Wrapf(err, errors.ErrTypeInternal, "metrics server on %s failed", addr)
	}

	return nil
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/ragsql/internal/cache"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/formatter"
	"github.com/kyleking/ragsql/internal/monitor"
	"github.com/kyleking/ragsql/internal/storage"
)

func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:        "stats",
		Usage:       "Display index and result cache statistics",
		Description: `Show statistics about the example index (examples, version, last build, size and most referenced tables) and the result cache.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "memory", Usage: "Also show process memory statistics"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc, err := servicesFromContext(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			store, err := svc.Store(ctx, true)
			if err != nil {
				return err
			}

			results, err := svc.ResultCache(ctx)
			if err != nil {
				return err
			}

			if err := runStatsWithStorage(ctx, store, results, os.Stdout); err != nil {
				return err
			}

			if cmd.Bool("memory") {
				fmt.Fprintf(os.Stdout, "\n%s\n", monitor.FormatStats(monitor.Sample()))
			}

			return nil
		},
	}
}

func runStatsWithStorage(ctx context.Context, store storage.ExampleStore, results cache.Cache, w io.Writer) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to get statistics")
	}

	f := formatter.NewFormatter()

	fmt.Fprintf(w, "Index Statistics\n")
	fmt.Fprintf(w, "================\n\n")

	fmt.Fprintf(w, "Total Examples: %d\n", stats.TotalExamples)
	fmt.Fprintf(w, "Index Version: %d\n", stats.IndexVersion)
	fmt.Fprintf(w, "Dimensions: %d\n", stats.Dimensions)
	fmt.Fprintf(w, "Database Size: %.2f MB\n", stats.DatabaseSizeMB)

	if !stats.LastBuiltAt.IsZero() {
		fmt.Fprintf(w, "Last Built: %s (%s)\n", stats.LastBuiltAt.Format("2006-01-02 15:04:05"), f.HumanizeAge(stats.LastBuiltAt))
	} else {
		fmt.Fprintf(w, "Last Built: Never\n")
	}

	if len(stats.TableBreakdown) > 0 {
		fmt.Fprintf(w, "\nMost Referenced Tables:\n")

		type tableCount struct {
			table string
			count int
		}

		tables := make([]tableCount, 0, len(stats.TableBreakdown))
		for table, count := range stats.TableBreakdown {
			tables = append(tables, tableCount{table, count})
		}

		sort.Slice(tables, func(i, j int) bool {
			if tables[i].count != tables[j].count {
				return tables[i].count > tables[j].count
			}

			return tables[i].table < tables[j].table
		})

		maxShow := min(10, len(tables))

		for _, t := range tables[:maxShow] {
			percentage := float64(t.count) / float64(max(stats.TotalExamples, 1)) * 100
			fmt.Fprintf(w, "  %-30s %3d examples (%.1f%%)\n", t.table, t.count, percentage)
		}

		if len(tables) > maxShow {
			fmt.Fprintf(w, "  ... and %d more tables\n", len(tables)-maxShow)
		}
	}

	if results == nil {
		return nil
	}

	cacheStats, err := results.GetStats(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to get cache statistics")
	}

	fmt.Fprintf(w, "\nResult Cache (%s):\n", cacheStats.Backend)
	fmt.Fprintf(w, "  Entries: %d\n", cacheStats.TotalEntries)
	fmt.Fprintf(w, "  Size: %s\n", f.FormatBytes(cacheStats.TotalSize))
	fmt.Fprintf(w, "  Hits: %d, Misses: %d (hit rate %.1f%%)\n", cacheStats.Hits, cacheStats.Misses, cacheStats.HitRate*100)

	return nil
}

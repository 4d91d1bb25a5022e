package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/ragsql/internal/corpus"
	"github.com/kyleking/ragsql/internal/logging"
	"github.com/kyleking/ragsql/internal/monitor"
)

// indexOptions controls one index build
type indexOptions struct {
	CorpusPath   string
	ForceEmbed   bool
	ShowProgress bool
}

func IndexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Build the example index from a corpus of worked SQL examples",
		Description: `Load the example corpus (a JSON or YAML file, a directory of them, or an
s3://bucket/prefix location), embed every example that lacks a vector of the
configured width, and atomically replace the persisted index.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "corpus", Aliases: []string{"c"}, Usage: "Corpus file, directory or s3:// URL (overrides corpus.path)"},
			&cli.BoolFlag{Name: "force-embed", Usage: "Re-embed every example even if it already has a vector"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc, err := servicesFromContext(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			return runIndex(ctx, svc, indexOptions{
				CorpusPath:   cmd.String("corpus"),
				ForceEmbed:   cmd.Bool("force-embed"),
				ShowProgress: true,
			}, os.Stdout)
		},
	}
}

func runIndex(ctx context.Context, svc *services, opts indexOptions, w io.Writer) error {
	corpusCfg := svc.cfg.Corpus
	if opts.CorpusPath != "" {
		corpusCfg.Path = opts.CorpusPath
	}

	progress := newProgress(opts.ShowProgress)
	defer progress.Stop()

	progress.Update("Loading corpus")

	records, err := corpus.Load(ctx, corpusCfg)
	if err != nil {
		return err
	}

	ix, err := svc.Index(ctx, false)
	if err != nil {
		return err
	}

	// continue the version sequence of an existing build
	if err := ix.Load(ctx); err != nil {
		logging.Debugf("no previous index loaded: %v", err)
	}

	embedder, err := svc.Embedder()
	if err != nil {
		return err
	}

	restore := monitor.TuneForBatch(len(records))
	defer restore()

	mem := monitor.NewMemoryMonitor(0, 0)
	mem.Start(ctx, time.Second)

	progress.Update(fmt.Sprintf("Embedding %d examples with %s", len(records), embedder.Provider().Name()))

	embedded, count, err := corpus.Embed(ctx, embedder, records, opts.ForceEmbed)
	if err != nil {
		mem.Stop()
		return err
	}

	progress.Update("Writing index")

	err = ix.Rebuild(ctx, embedded)

	mem.Stop()

	if err != nil {
		return err
	}

	progress.Stop()

	stats := ix.Stats()

	logging.WithFields(map[string]interface{}{
		"records":      stats.Records,
		"embedded":     count,
		"peak_heap_mb": fmt.Sprintf("%.1f", mem.PeakAllocMB()),
	}).Debug("index build finished")

	fmt.Fprintln(w, "Index built")
	fmt.Fprintln(w, strings.Repeat("=", 11))
	fmt.Fprintf(w, "Examples: %d\n", stats.Records)
	fmt.Fprintf(w, "Embedded this run: %d\n", count)
	fmt.Fprintf(w, "Dimensions: %d\n", stats.Dimensions)
	fmt.Fprintf(w, "Version: %d\n", stats.Version)
	fmt.Fprintf(w, "Distance: %s (hybrid: %t)\n", stats.Distance, stats.Hybrid)

	return nil
}

// progress shows a terminal spinner; a disabled progress does nothing
type progress struct {
	s *spinner.Spinner
}

func newProgress(enabled bool) *progress {
	if !enabled {
		return &progress{}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Start()

	return &progress{s: s}
}

func (p *progress) Update(msg string) {
	if p.s == nil {
		return
	}

	p.s.Lock()
	p.s.Suffix = " " + msg
	p.s.Unlock()
}

func (p *progress) Stop() {
	if p.s != nil {
		p.s.Stop()
	}
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	stdsync "sync"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/aurmirror/aurmeta/index"
	"github.com/aurmirror/aurmeta/log"
	"github.com/aurmirror/aurmeta/protocol/client"
	"github.com/aurmirror/aurmeta/sync"
)

func newSyncCmd() *cobra.Command {
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the index with the upstream",
		Long: `Synchronize the metadata index with the upstream monorepo.

Changed branches are detected by diffing ls-refs output against the
stored branch state; only those branches are fetched, in two passes
(blobless commits and trees, then the .SRCINFO blobs), parsed, and
written transactionally.

Exit codes: 0 when every branch reached a terminal state, 1 when any
batch failed, 2 when the refs diff or the supplement stage failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := newLogger()
			ctx = log.ToContext(ctx, logger)

			cfg, err := loadConfig()
			if err != nil {
				return &exitCodeError{code: 2, err: err}
			}

			ix, err := index.Open(cfg.IndexPath, true)
			if err != nil {
				return &exitCodeError{code: 2, err: err}
			}
			defer ix.Close()

			upstream, err := client.New(cfg.Upstream,
				client.WithBearerToken(cfg.Token),
				client.WithUserAgent("git/aur-mirror"),
			)
			if err != nil {
				return &exitCodeError{code: 2, err: err}
			}

			opts := sync.Options{
				FetchBatchSize:    cfg.FetchBatchSize,
				WriteBatchSize:    cfg.WriteBatchSize,
				Concurrency:       cfg.Concurrency,
				SupplementSources: cfg.SupplementSources,
			}

			var wait func()
			if !noProgress && isatty.IsTerminal(os.Stderr.Fd()) {
				opts.Progress, wait = newProgressRenderer()
			}

			report, err := sync.New(upstream, ix, opts).Run(ctx)
			if wait != nil {
				wait()
			}
			if err != nil {
				logger.Error("Sync aborted", "error", err)
				return &exitCodeError{code: 2, err: err}
			}

			for _, f := range report.Failures {
				logger.Error("Batch failed", "phase", f.Phase, "branches", len(f.Branches), "error", f.Err)
			}
			logger.Info("Sync summary",
				"branches", report.Branches,
				"changed", report.Changed,
				"removed", report.Removed,
				"unchanged", report.Unchanged,
				"packages", report.Packages,
				"noSrcinfo", report.NoSrcinfo,
				"warnings", len(report.Warnings),
				"supplement", report.SupplementApplied)

			if code := report.ExitCode(); code != 0 {
				return &exitCodeError{code: code, err: fmt.Errorf("%d batch(es) failed", len(report.Failures))}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress display")
	return cmd
}

// newProgressRenderer maps the syncer's phase callbacks onto mpb bars,
// one per phase, created on first sight.
func newProgressRenderer() (sync.ProgressFunc, func()) {
	p := mpb.New(mpb.WithOutput(os.Stderr), mpb.WithWidth(48))

	var mu stdsync.Mutex
	bars := make(map[string]*mpb.Bar)

	progress := func(phase string, completed, total int) {
		mu.Lock()
		defer mu.Unlock()

		bar, ok := bars[phase]
		if !ok {
			bar = p.AddBar(int64(total),
				mpb.PrependDecorators(
					decor.Name(phase, decor.WCSyncSpaceR),
					decor.CountersNoUnit("%d / %d"),
				),
				mpb.AppendDecorators(decor.Percentage()),
			)
			bars[phase] = bar
		}
		bar.SetTotal(int64(total), false)
		bar.SetCurrent(int64(completed))
	}

	wait := func() {
		mu.Lock()
		for _, bar := range bars {
			// A negative total completes the bar at its current count.
			bar.SetTotal(-1, true)
		}
		mu.Unlock()
		p.Wait()
	}
	return progress, wait
}

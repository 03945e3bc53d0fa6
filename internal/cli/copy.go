package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/eunmann/batchio/internal/logctx"
	"github.com/eunmann/batchio/pkg/batch"
	"github.com/eunmann/batchio/pkg/batch/sqlitestate"
	"github.com/eunmann/batchio/pkg/humanfmt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type copyFlags struct {
	from            string
	to              string
	fromCompression string
	compression     string
	blockSize       int
	syncInterval    int
	rowGroupRows    int

	job            string
	step           string
	commitInterval int
	maxItems       int
	rotate         bool
	state          string
	metricsAddr    string
}

func newCopyCommand(g *globalFlags) *cobra.Command {
	f := &copyFlags{}
	cmd := &cobra.Command{
		Use:   "copy <source-pattern> <destination>",
		Short: "Copy records between formats and locations",
		Long: `Copy reads every resource matching the source pattern and writes the
records to the destination in chunks. With --state the progress of every
committed chunk is kept in a SQLite file, and running the same command again
after a failure resumes after the last committed chunk. A single destination
cannot be reopened for append, so --state requires --rotate: every chunk is
written to <destination>.<n>.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return errors.New("copy requires <source-pattern> and <destination>")
			}
			return runCopy(cmd, g, f, args[0], args[1])
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.from, "from", formatRaw, "source format: raw, seq, or parquet")
	fl.StringVar(&f.to, "to", formatSeq, "destination format: raw, seq, or parquet")
	fl.StringVar(&f.fromCompression, "from-compression", "", "compression of raw sources")
	fl.StringVar(&f.compression, "compression", "", "destination compression (gzip, deflate, zstd, snappy, s2, lz4, brotli)")
	fl.IntVar(&f.blockSize, "block-size", 64*1024, "bytes per record when reading raw sources")
	fl.IntVar(&f.syncInterval, "sync-interval", 2000, "bytes per seq block")
	fl.IntVar(&f.rowGroupRows, "row-group-rows", 10000, "rows per parquet row group")
	fl.StringVar(&f.job, "job", "copy", "job name used for restart state")
	fl.StringVar(&f.step, "step", "copy", "step name used for restart state")
	fl.IntVar(&f.commitInterval, "commit-interval", 100, "records per chunk")
	fl.IntVar(&f.maxItems, "max-items", 0, "stop after this many records per resource (0 = no limit)")
	fl.BoolVar(&f.rotate, "rotate", false, "write every chunk to its own destination <destination>.<n>")
	fl.StringVar(&f.state, "state", "", "SQLite file keeping restart state")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while copying")
	return cmd
}

func runCopy(cmd *cobra.Command, g *globalFlags, f *copyFlags, source, dest string) error {
	ctx := cmd.Context()
	log := logctx.FromContext(ctx)

	if f.commitInterval <= 0 {
		return fmt.Errorf("--commit-interval must be positive, got %d", f.commitInterval)
	}
	if f.maxItems < 0 {
		return fmt.Errorf("--max-items must not be negative, got %d", f.maxItems)
	}
	if f.state != "" && !f.rotate {
		return errors.New("--state requires --rotate: a single destination cannot be resumed")
	}

	in, err := newFormat(f.from, formatOptions{compression: f.fromCompression, blockSize: f.blockSize})
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	out, err := newFormat(f.to, formatOptions{
		compression:  f.compression,
		syncInterval: f.syncInterval,
		rowGroupRows: f.rowGroupRows,
	})
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	loader, cleanup, err := g.loader(ctx, f.to == formatSeq, source, dest)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := prometheus.NewRegistry()
	metrics := batch.NewMetrics(reg)
	if f.metricsAddr != "" {
		stop := serveMetrics(ctx, f.metricsAddr, reg)
		defer stop()
	}

	repo, closeRepo, err := openRepository(f.state)
	if err != nil {
		return err
	}
	defer closeRepo()

	reader, err := batch.NewMultiResourceReader[[]byte](in, loader, source,
		batch.DefaultMultiResourceOptions("source").
			WithStrict(true).
			WithMaxItemCount(f.maxItems).
			WithMetrics(metrics))
	if err != nil {
		return err
	}

	writerOpts := batch.DefaultWriterOptions("destination").WithMetrics(metrics)
	var writer batch.StreamWriter[[]byte]
	if f.rotate {
		writer, err = batch.NewRotatingWriter[[]byte](out, loader, dest, writerOpts)
	} else {
		writer, err = batch.NewAggregatingWriter[[]byte](out, loader, dest, writerOpts)
	}
	if err != nil {
		return err
	}

	step, err := batch.NewStep[[]byte, []byte](reader, batch.Identity[[]byte](), writer,
		batch.DefaultStepOptions(f.job, f.step).
			WithCommitInterval(f.commitInterval).
			WithRepository(repo).
			WithMetrics(metrics))
	if err != nil {
		return err
	}

	start := time.Now()
	exec, err := step.Run(ctx)
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", source, dest, err)
	}
	log.Debug().Str("elapsed", humanfmt.Duration(time.Since(start))).Msg("copy finished")

	fmt.Fprintf(cmd.OutOrStdout(), "%s/%s %s: read %s, wrote %s in %d commits\n",
		exec.Job, exec.Step, exec.Status,
		humanfmt.Count(exec.ReadCount), humanfmt.Count(exec.WriteCount), exec.CommitCount)
	return nil
}

func openRepository(path string) (batch.Repository, func(), error) {
	if path == "" {
		return batch.NewMemoryRepository(), func() {}, nil
	}
	repo, err := sqlitestate.Open(sqlitestate.DefaultConfig(path))
	if err != nil {
		return nil, nil, fmt.Errorf("--state: %w", err)
	}
	return repo, func() { repo.Close() }, nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) func() {
	log := logctx.FromContext(ctx)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
}

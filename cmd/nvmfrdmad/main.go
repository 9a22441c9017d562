// Command nvmfrdmad is a small demonstration binary wiring
// transport.Config from flags and running the acceptor and
// per-connection poll loops; it supplies the executor loop the
// transport library leaves to its caller.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvmeof-rdma/target/rdma"
	"github.com/nvmeof-rdma/target/transport"
)

type flags struct {
	address           string
	maxQueueDepth     uint16
	maxIOSize         uint32
	inCapsuleDataSize uint32
	executors         int
	metricsAddr       string
	debug             bool
}

func main() {
	f := &flags{}

	root := &cobra.Command{
		Use:   "nvmfrdmad",
		Short: "NVMe-oF RDMA target transport daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	root.Flags().StringVar(&f.address, "address", "0.0.0.0:4420", "listen address for the RDMA CM listener")
	root.Flags().Uint16Var(&f.maxQueueDepth, "max-queue-depth", 128, "target default max_queue_depth")
	root.Flags().Uint32Var(&f.maxIOSize, "max-io-size", 128*1024, "target default max_io_size in bytes")
	root.Flags().Uint32Var(&f.inCapsuleDataSize, "in-capsule-data-size", 8192, "in-capsule data size in bytes")
	root.Flags().IntVar(&f.executors, "executors", 1, "number of poll-loop executor goroutines")
	root.Flags().StringVar(&f.metricsAddr, "metrics-address", ":9420", "Prometheus /metrics listen address")
	root.Flags().BoolVar(&f.debug, "debug", false, "enable debug-level logging")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f *flags) error {
	logger, err := newZapLogger(f.debug)
	if err != nil {
		return fmt.Errorf("nvmfrdmad: build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	metrics, err := transport.NewPrometheusMetrics(transport.PrometheusMetricsOptions{})
	if err != nil {
		return fmt.Errorf("nvmfrdmad: build metrics: %w", err)
	}

	cfg := transport.Config{
		Defaults: transport.Defaults{
			MaxQueueDepth:     f.maxQueueDepth,
			MaxIOSize:         f.maxIOSize,
			InCapsuleDataSize: f.inCapsuleDataSize,
		},
		Address:          f.address,
		Logger:           transport.ZapLogger{S: sugar},
		StructuredLogger: transport.ZapLogger{S: sugar},
		Metrics:          metrics,
	}
	t := transport.New(cfg)

	n, err := t.Init()
	if err != nil {
		return fmt.Errorf("nvmfrdmad: init: %w", err)
	}
	sugar.Infow("rdma devices discovered", "count", n)
	if n == 0 {
		sugar.Warnw("no RDMA devices discovered; running with a software loopback listener for demonstration",
			"address", f.address)
	}

	// internal/verbs only implements device enumeration today (see its
	// package doc); a real rdma_cm listener would extend that binding
	// the same way. Until then the acceptor runs against an in-process
	// loopback listener so the binary is runnable end to end.
	listener := rdma.NewLoopbackListener(rdma.NewLoopbackEventChannel())
	if err := t.AcceptorInit(listener); err != nil {
		return fmt.Errorf("nvmfrdmad: acceptor init: %w", err)
	}
	defer func() {
		if err := t.AcceptorFini(); err != nil {
			sugar.Errorw("acceptor shutdown error", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: f.metricsAddr, Handler: mux}
	g.Go(func() error {
		sugar.Infow("metrics server listening", "address", f.metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("nvmfrdmad: metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	executors := f.executors
	if executors < 1 {
		executors = 1
	}
	for i := 0; i < executors; i++ {
		executorID := i
		g.Go(func() error {
			return runExecutor(gctx, t, executorID)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	sugar.Infow("nvmfrdmad shutdown complete")
	return nil
}

// runExecutor is one concrete executor poll loop: it alternates
// AcceptorPoll (only executor 0 owns the acceptor in this demonstration
// binary) with ConnPoll over whatever connections this executor has
// been handed.
func runExecutor(ctx context.Context, t *transport.Transport, id int) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if id == 0 {
				if err := t.AcceptorPoll(); err != nil {
					return fmt.Errorf("nvmfrdmad: acceptor poll: %w", err)
				}
			}
			// A production executor would range over the connections it
			// owns here and call t.ConnPoll(conn) for each, calling
			// t.ConnFini(conn) on a negative return. This demonstration
			// binary accepts no real host connections without a wired
			// rdma_cm listener, so there is nothing yet to poll.
		}
	}
}

func newZapLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

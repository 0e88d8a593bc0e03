package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/checkpoint"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/config"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/dlq"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/health"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/input"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/logging"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/output"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/parser"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/profiling"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/resolver"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/server"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/tailer"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/tracing"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/worker"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file, defaults to stdin to stdout")
	readStdin   = flag.Bool("stdin", false, "Also read lines from stdin")
	showVersion = flag.Bool("version", false, "Print the version and exit")
	version     = "0.1.0"
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// source is a started input and the parser for its lines. A nil parser
// falls back to the top-level one.
type source struct {
	in     input.Input
	parser parser.Parser
}

func run() error {
	cfg, err := config.LoadOrDefault(*configFile, config.WithStdin(*readStdin))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.SetGlobal(logger)

	logger.Info().Str("version", version).Msg("Starting jsonmessage")

	ctx := context.Background()

	collector := metrics.NewCollector()
	collector.Start()

	traces, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to create tracing provider: %w", err)
	}

	res, err := resolver.New(cfg.Resolver.ResolverOptions(), logger)
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}

	defaultParser, err := parser.New(cfg.Parser)
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}

	out, err := output.New(cfg.Output)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := collector.TrackOutputBytes(out.Name(), cfg.Output.Type, func() float64 {
		return float64(out.Metrics().BytesSent)
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to export output byte counter")
	}
	reliable := output.NewReliableOutput(out, cfg.Output.Retry, cfg.Output.CircuitBreaker, logger)

	var deadLetters *dlq.DeadLetterQueue
	if cfg.DLQ.Enabled {
		deadLetters, err = dlq.New(cfg.DLQ, logger)
		if err != nil {
			return fmt.Errorf("failed to create dead letter queue: %w", err)
		}
	}

	p, err := pipeline.New(pipeline.Config{
		Parser:     defaultParser,
		Resolver:   res,
		Output:     reliable,
		OutputType: cfg.Output.Type,
		DLQ:        deadLetters,
		Pool: worker.PoolConfig{
			NumWorkers: cfg.WorkerPool.NumWorkers,
			QueueSize:  cfg.WorkerPool.QueueSize,
			JobTimeout: cfg.WorkerPool.JobTimeout,
		},
		Metrics: collector,
		Tracer:  traces.Tracer(),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	p.Start()

	if deadLetters != nil && deadLetters.Size() > 0 {
		n, err := p.ReplayDeadLetters(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Dead letter replay stopped early")
		}
		logger.Info().Int("replayed", n).Int("remaining", deadLetters.Size()).Msg("Replayed dead letters")
	}

	profiler := profiling.New(cfg.Profiling, func() interface{} { return p.Stats() }, logger)
	if err := profiler.Start(); err != nil {
		return fmt.Errorf("failed to start profiler: %w", err)
	}

	checker := health.NewChecker(0)
	p.RegisterHealthChecks(checker)

	sources, checkpoints, err := buildInputs(cfg, collector, logger)
	if err != nil {
		return err
	}

	var servers []*server.Server
	if h := cfg.Inputs.HTTP; h != nil {
		srvCfg := server.Config{
			Address:       h.Address,
			APIKeys:       h.APIKeys,
			RateLimit:     h.RateLimit,
			MaxBodySize:   h.MaxBodySize,
			MaxBatchSize:  h.MaxBatchSize,
			TLSCert:       h.TLSCert,
			TLSKey:        h.TLSKey,
			ReadTimeout:   h.ReadTimeout,
			WriteTimeout:  h.WriteTimeout,
			MetricsPath:   cfg.Metrics.Path,
			Resolver:      res,
			Metrics:       collector,
			HealthChecker: checker,
			Logger:        logger,
		}
		if cfg.Metrics.Enabled {
			srvCfg.MetricsRegistry = collector.Registry()
		}
		servers = append(servers, server.New(srvCfg))
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		servers = append(servers, server.New(server.Config{
			Address:         cfg.Metrics.Address,
			MetricsPath:     cfg.Metrics.Path,
			MetricsRegistry: collector.Registry(),
			HealthChecker:   checker,
			Logger:          logger,
		}))
	}
	for _, s := range servers {
		if err := s.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	var runs sync.WaitGroup
	for _, src := range sources {
		if err := src.in.Start(); err != nil {
			return fmt.Errorf("failed to start input %s: %w", src.in.Name(), err)
		}
		logger.Info().Str("input", src.in.Name()).Str("type", src.in.Type()).Msg("Input started")

		runCtx := ctx
		if r, ok := src.in.(*input.ReaderInput); ok {
			// A stdin read can block forever, so stopping it ends the run
			var cancel context.CancelFunc
			runCtx, cancel = context.WithCancel(ctx)
			context.AfterFunc(r.Context(), cancel)
		}

		errCh := p.Go(runCtx, src.in, src.parser)
		runs.Add(1)
		go func(name string) {
			defer runs.Done()
			if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("input", name).Msg("Input run failed")
			}
		}(src.in.Name())
	}

	mgr := shutdown.New(shutdown.Config{Timeout: cfg.Shutdown.Timeout, Logger: logger})
	mgr.Register("inputs", func(context.Context) error {
		var errs []error
		for _, src := range sources {
			if err := src.in.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", src.in.Name(), err))
			}
		}
		return errors.Join(errs...)
	})
	mgr.Register("pipeline", func(ctx context.Context) error {
		done := make(chan error, 1)
		go func() { done <- p.Stop() }()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return fmt.Errorf("queued events not drained: %w", ctx.Err())
		}
	})
	mgr.RegisterCloser("output", reliable.Close)
	if deadLetters != nil {
		mgr.RegisterCloser("dlq", deadLetters.Close)
	}
	mgr.RegisterCloser("checkpoints", func() error {
		for _, c := range checkpoints {
			c.Stop()
		}
		return nil
	})
	for _, s := range servers {
		mgr.Register("server", s.Stop)
	}
	mgr.Register("profiling", profiler.Stop)
	mgr.Register("tracing", traces.Shutdown)
	mgr.RegisterCloser("metrics", func() error {
		collector.Stop()
		return nil
	})

	// Without a server to keep up, the process ends once every input is
	// exhausted, as with a finite stdin
	if len(sources) > 0 && len(servers) == 0 {
		go func() {
			runs.Wait()
			logger.Info().Msg("All inputs drained")
			mgr.Shutdown()
		}()
	}

	return mgr.Wait(ctx)
}

// buildInputs creates every configured line input. File inputs get their
// own checkpoint manager, which the caller stops on shutdown.
func buildInputs(cfg *config.Config, collector *metrics.Collector, logger *logging.Logger) ([]source, []*checkpoint.Manager, error) {
	var (
		sources     []source
		checkpoints []*checkpoint.Manager
	)

	for i, fc := range cfg.Inputs.Files {
		lp, err := inputParser(fc.Parser)
		if err != nil {
			return nil, nil, err
		}

		ckpt, err := checkpoint.NewManager(fc.CheckpointPath, fc.CheckpointInterval, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create checkpoint manager: %w", err)
		}
		if err := ckpt.Load(); err != nil {
			logger.Warn().Err(err).Msg("Failed to load checkpoints, starting fresh")
		}
		ckpt.Start()
		checkpoints = append(checkpoints, ckpt)

		t, err := tailer.New(tailer.Config{
			Name:          fmt.Sprintf("file-%d", i),
			Paths:         fc.Paths,
			FromBeginning: fc.FromBeginning,
		}, ckpt, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create tailer: %w", err)
		}
		sources = append(sources, source{in: t, parser: lp})
	}

	for _, nc := range cfg.Inputs.Network {
		lp, err := inputParser(nc.Parser)
		if err != nil {
			return nil, nil, err
		}
		n, err := input.NewNetworkInput(nc.Name, nc.NetworkConfig, logger, collector)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create network input %s: %w", nc.Name, err)
		}
		sources = append(sources, source{in: n, parser: lp})
	}

	if cfg.Inputs.Stdin {
		sources = append(sources, source{in: input.NewReaderInput("stdin", os.Stdin, logger)})
	}

	return sources, checkpoints, nil
}

func inputParser(cfg *parser.ParserConfig) (parser.Parser, error) {
	if cfg == nil {
		return nil, nil
	}
	lp, err := parser.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create parser: %w", err)
	}
	return lp, nil
}

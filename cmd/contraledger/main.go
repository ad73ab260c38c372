package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ContraLedger/internal/config"
	"ContraLedger/internal/core"
	"ContraLedger/internal/ingestion"
	"ContraLedger/internal/observability"
	"ContraLedger/internal/persistence"
	"ContraLedger/internal/query"
	"ContraLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	logger := observability.NewLoggerWithLevel("main", zerolog.InfoLevel)
	logger.Info().Msg("ContraLedger starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	level := observability.ParseLogLevel(cfg.LogLevel)
	logger = logger.Level(level)

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("Postgres connected")

	// --- Run SQL migrations ---
	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLoggerWithLevel("migrator", level))
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Msg("migrations applied")

	// --- Recovery: resume the hash chain from the command log ---
	store := persistence.NewSettlementStore(db)
	procCfg := core.ProcessorConfig{
		LRUCapacity:  cfg.IdempotencyLRUCapacity,
		HistoryLimit: cfg.HistoryLimit,
		InboxSize:    cfg.InboxSize,
		Policies:     cfg.Policies,
		Loader:       store,
	}

	tip, err := store.LoadChainTip(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load chain tip")
	}
	if tip != nil {
		procCfg.StartSequence = tip.Sequence + 1
		procCfg.PrevHash = &tip.StateHash
		logger.Info().Int64("sequence", tip.Sequence).Msg("resuming after last applied command")
	} else {
		logger.Info().Msg("empty command log, cold start from sequence 0")
	}

	// --- Observability ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)
	healthChecker := observability.NewHealthChecker()
	procLogger := observability.NewLoggerWithLevel("processor", level)

	// --- Postgres idempotency checker ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	procCfg.DBChecker = dbChecker
	procCfg.Metrics = metrics
	procCfg.Logger = &procLogger

	// --- Channels ---
	// Persist channel blocks (backpressure), publish channel drops
	persistCoreChan := make(chan core.Output, cfg.PersistChanSize)
	publishCoreChan := make(chan core.Output, cfg.PublishChanSize)

	// Bridge channels (avoids import cycles between core and persistence/ingestion)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)

	// --- Processor ---
	processor := core.NewProcessor(persistCoreChan, publishCoreChan, procCfg)

	// --- LRU Warming ---
	if cfg.WarmKeys > 0 {
		keys, err := dbChecker.RecentKeys(ctx, cfg.WarmKeys)
		if err != nil {
			logger.Warn().Err(err).Msg("LRU warm failed")
		} else if len(keys) > 0 {
			processor.WarmLRU(keys)
			logger.Info().Int("keys", len(keys)).Msg("warmed LRU")
		}
	}

	// --- NATS ---
	ingestLogger := observability.NewLoggerWithLevel("ingestion", level)
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, ingestLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	logger.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js, ingestLogger); err != nil {
		logger.Fatal().Err(err).Msg("ensure NATS streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, ingestLogger); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	rawChan := make(chan ingestion.RawMessage, cfg.IngestChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawChan, ingestLogger)
	dispatcher := ingestion.NewDispatcher(processor, metrics, ingestLogger)
	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLoggerWithLevel("publisher", level))

	// --- Readiness probes ---
	healthChecker.AddCheck("postgres", db.PingContext)
	healthChecker.AddCheck("nats", func(context.Context) error {
		if status := nc.Status(); status != nats.CONNECTED {
			return fmt.Errorf("nats status %s", status)
		}
		return nil
	})

	// --- gRPC + HTTP gateway ---
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Submit:        ingestion.NewSubmitService(processor),
		Settlements:   processor,
		Queries:       query.NewQueryService(db),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        observability.NewLoggerWithLevel("server", level),
	})

	// --- Start goroutines ---
	errChan := make(chan error, 10)

	// 1. Processor (single writer of all settlement state)
	procDone := make(chan struct{})
	go func() {
		defer close(procDone)
		if err := processor.Run(ctx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("processor: %w", err)
		}
	}()

	// 2. Persistence worker. Runs on its own context so it can drain after
	// the processor stops.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
		metrics, observability.NewLoggerWithLevel("persistence", level))
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := persistWorker.Run(workerCtx); err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("persistence worker")
		}
	}()

	// 3. Outbound publisher
	go func() {
		if err := outboundPublisher.Run(workerCtx); err != nil && err != context.Canceled {
			logger.Warn().Err(err).Msg("outbound publisher")
		}
	}()

	// 4. Core output bridge
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		bridgeCoreOutputs(persistCoreChan, publishCoreChan, persistWorkerChan, publishChan, metrics)
	}()

	// 5. NATS -> processor
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}
	go func() {
		if err := dispatcher.Run(ctx, rawChan); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	// 6. gRPC server
	go func() {
		errChan <- grpcServer.StartGRPC(ctx)
	}()

	// 7. HTTP/JSON gateway
	go func() {
		errChan <- grpcServer.StartHTTPGateway(ctx)
	}()

	// 8. Channel gauges
	go reportChannels(ctx, metrics, persistCoreChan, publishCoreChan)

	// 9. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// Mark service as ready after all goroutines started
	healthChecker.SetReady(true)

	logger.Info().
		Int64("sequence", procCfg.StartSequence).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("ContraLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, let the processor finish its current command, then drain
	// every applied command to Postgres before exit.
	healthChecker.SetReady(false)
	cancel()
	natsSubscriber.Stop()
	<-procDone

	close(persistCoreChan)
	close(publishCoreChan)
	<-bridgeDone

	select {
	case <-workerDone:
		logger.Info().Msg("persistence drained")
	case <-time.After(30 * time.Second):
		logger.Error().Msg("persistence drain timed out")
		workerCancel()
		<-workerDone
	}

	logger.Info().Int64("next_sequence", processor.GetSequence()).Msg("ContraLedger shutdown complete")
}

// bridgeCoreOutputs converts core.Output to the persistence and publish
// formats until both inputs are closed, then closes both outputs.
func bridgeCoreOutputs(
	persistIn <-chan core.Output,
	publishIn <-chan core.Output,
	persistOut chan<- persistence.CoreOutput,
	publishOut chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
) {
	defer close(persistOut)
	defer close(publishOut)

	for persistIn != nil || publishIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			persistOut <- persistence.NewCoreOutput(output.Envelope, output.Snapshot)

		case output, ok := <-publishIn:
			if !ok {
				publishIn = nil
				continue
			}
			select {
			case publishOut <- toPublishable(output):
			default:
				// Drop if publish channel is full
				metrics.PublishDrops.Inc()
			}
		}
	}
}

func toPublishable(output core.Output) ingestion.PublishableEvent {
	env := output.Envelope
	return ingestion.PublishableEvent{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		SettlementID:   env.SettlementID,
		Module:         output.Snapshot.Kind.String(),
		Version:        env.Version,
		AutoZeroed:     env.Outcome.AutoZeroed,
		Header:         output.Snapshot.Header,
		Lines:          output.Snapshot.Lines,
		StateHash:      env.StateHash[:],
		Timestamp:      env.Timestamp,
	}
}

func reportChannels(ctx context.Context, metrics *observability.Metrics, persist, publish chan core.Output) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChannelMetrics("persist", len(persist), cap(persist))
			metrics.SetChannelMetrics("publish", len(publish), cap(publish))
		}
	}
}

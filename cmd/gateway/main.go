package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ssvlabs/chain-task-gateway/config"
	"github.com/ssvlabs/chain-task-gateway/log"
	"github.com/ssvlabs/chain-task-gateway/metrics"
	"github.com/ssvlabs/chain-task-gateway/x/api"
	"github.com/ssvlabs/chain-task-gateway/x/chain"
	"github.com/ssvlabs/chain-task-gateway/x/contracts"
	"github.com/ssvlabs/chain-task-gateway/x/crosschain"
	"github.com/ssvlabs/chain-task-gateway/x/ops"
	"github.com/ssvlabs/chain-task-gateway/x/task"
	"github.com/ssvlabs/chain-task-gateway/x/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	modeAll    = "all"
	modeAPI    = "api"
	modeWorker = "worker"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	mode := flag.String("mode", modeAll, "components to run: all, api or worker")
	printConfig := flag.Bool("print-config", false, "print the effective config (secrets redacted) and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		_, _ = os.Stdout.Write(out)
		return
	}

	logger := log.New(cfg.Log.Level, cfg.Log.Pretty)

	switch *mode {
	case modeAll, modeAPI, modeWorker:
	default:
		logger.Fatal().Str("mode", *mode).Msg("Unknown mode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mode, logger); err != nil {
		logger.Fatal().Err(err).Msg("Gateway stopped with error")
	}
	logger.Info().Msg("Gateway stopped")
}

func run(ctx context.Context, cfg *config.Config, mode string, logger log.Logger) error {
	start := time.Now()
	metrics.SetBuildInfo(version, mode)
	taskMetrics := task.NewMetrics(nil)

	backend, err := openBackend(ctx, cfg.Task, logger.Component("task-backend"))
	if err != nil {
		return err
	}
	defer backend.close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		metrics.StartPeriodicCollection(ctx, cfg.Metrics.CollectInterval, start)
		return nil
	})

	if mode == modeAll || mode == modeWorker {
		consumer, closeChains, err := newConsumer(ctx, cfg, backend, logger, taskMetrics)
		if err != nil {
			return err
		}
		defer closeChains()
		g.Go(func() error { return consumer.Run(ctx) })
	}

	if mode == modeAll || mode == modeAPI {
		resolver := task.NewResolver(backend.records, backend.events, taskMetrics)
		submitter := task.NewSubmitter(backend.events, resolver, cfg.Task.Wait, logger.Component("task"), taskMetrics)
		httpCfg := cfg.HTTP
		httpCfg.HomeChain = cfg.Chain.DefaultChain
		server := api.New(httpCfg, submitter, resolver, logger.Module("api").Logger, api.NewMetrics(nil))
		g.Go(func() error { return server.Run(ctx) })
	}

	logger.Info().
		Str("version", version).
		Str("mode", mode).
		Str("backend", cfg.Task.Backend).
		Str("default_chain", cfg.Chain.DefaultChain).
		Msg("Gateway started")

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newConsumer wires the broadcast engine, the cross-chain resolver and the
// task handlers into a queue consumer.
func newConsumer(
	ctx context.Context,
	cfg *config.Config,
	backend *taskBackend,
	logger log.Logger,
	taskMetrics *task.Metrics,
) (*worker.Consumer, func(), error) {
	chains, err := chain.NewMultiChain(ctx, cfg.Chain, nil, logger.Module("chain").Logger, chain.NewMetrics(nil))
	if err != nil {
		return nil, nil, fmt.Errorf("connect chains: %w", err)
	}

	cross, err := newCrossChain(cfg.CrossChain, chains, logger.Component("crosschain"))
	if err != nil {
		chains.Close()
		return nil, nil, err
	}

	operations, err := ops.New(cfg.Ops, chains, cross, logger.Module("ops").Logger)
	if err != nil {
		chains.Close()
		return nil, nil, fmt.Errorf("configure operations: %w", err)
	}

	consumer := worker.NewConsumer(cfg.Worker, backend.events, backend.records,
		logger.Module("worker").Logger, worker.NewMetrics(nil), taskMetrics)
	operations.Register(consumer)

	logger.Info().
		Strs("chains", chains.Tags()).
		Str("from", chains.Default().From().Hex()).
		Str("consumer", consumer.Name()).
		Msg("Worker configured")

	return consumer, chains.Close, nil
}

// newCrossChain returns nil when no indexer is configured; config validation
// rejects NFT bridges without one.
func newCrossChain(cfg crosschain.Config, chains *chain.MultiChain, logger zerolog.Logger) (ops.CrossChain, error) {
	if cfg.IndexerURL == "" {
		logger.Info().Msg("No message indexer configured, cross-chain operations disabled")
		return nil, nil
	}

	event, err := contracts.ParseMessageSentEvent()
	if err != nil {
		return nil, err
	}
	indexer, err := crosschain.NewIndexerClient(cfg.IndexerURL, cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("configure message indexer: %w", err)
	}

	resolver, err := crosschain.NewResolver(cfg, indexer, chains, event, logger, crosschain.NewMetrics(nil))
	if err != nil {
		return nil, fmt.Errorf("configure cross-chain resolver: %w", err)
	}
	return resolver, nil
}

type taskBackend struct {
	events  task.ConsumerLog
	records task.RecordStore
	closers []func()
}

func (b *taskBackend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend connects the task event log and record store.
func openBackend(ctx context.Context, cfg task.Config, logger zerolog.Logger) (*taskBackend, error) {
	if cfg.Backend == "memory" {
		logger.Warn().Msg("Using in-memory task backend; tasks do not survive a restart")
		return &taskBackend{events: task.NewMemoryEventLog(), records: task.NewMemoryRecordStore()}, nil
	}

	b := &taskBackend{}

	rdb, err := task.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, func() { _ = rdb.Close() })

	events, err := task.NewRedisEventLog(rdb, cfg.Redis)
	if err != nil {
		b.close()
		return nil, err
	}
	b.events = events

	mc, err := task.ConnectMongo(ctx, cfg.Mongo)
	if err != nil {
		b.close()
		return nil, err
	}
	b.closers = append(b.closers, func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mc.Disconnect(disconnectCtx)
	})

	records, err := task.NewMongoRecordStore(ctx, mc.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
	if err != nil {
		b.close()
		return nil, err
	}
	b.records = records

	logger.Info().
		Str("redis", cfg.Redis.Addr).
		Str("stream", cfg.Redis.Stream).
		Str("mongo_db", cfg.Mongo.Database).
		Msg("Task backend connected")
	return b, nil
}

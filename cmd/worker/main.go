// Command worker runs the volume campaign job runners, the status
// aggregator and the ops server in one process.
//
// Usage:
//
//	worker --config config.yaml --migrate
//	worker --use-memory
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"solana-volume-engine/internal/config"
	"solana-volume-engine/internal/executor"
	"solana-volume-engine/internal/jobs"
	"solana-volume-engine/internal/keys"
	"solana-volume-engine/internal/notify"
	"solana-volume-engine/internal/observability"
	"solana-volume-engine/internal/ops"
	"solana-volume-engine/internal/queue"
	"solana-volume-engine/internal/solana"
	"solana-volume-engine/internal/storage"
	chstore "solana-volume-engine/internal/storage/clickhouse"
	"solana-volume-engine/internal/storage/memory"
	"solana-volume-engine/internal/storage/migrations"
	pgstore "solana-volume-engine/internal/storage/postgres"
	"solana-volume-engine/internal/swap"
	"solana-volume-engine/internal/workers"
)

func main() {
	os.Exit(runWorker(os.Args[1:]))
}

// runWorker returns the process exit code. Deferred cleanup runs before it is used.
func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath, "Path to the YAML config file")
	useMemory := fs.Bool("use-memory", false, "Use in-memory storage and broker instead of PostgreSQL and RabbitMQ")
	migrate := fs.Bool("migrate", false, "Apply database migrations on startup")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath, func(c *config.Config) {
		if *useMemory {
			c.UseMemory = true
		}
		if *migrate {
			c.Postgres.Migrate = true
		}
	})
	if err != nil {
		logrus.WithError(err).Error("invalid configuration")
		return 1
	}

	logger := cfg.Logger()
	log := logrus.NewEntry(logger).WithField("component", "worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, cleanup, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("startup failed")
		return 1
	}
	defer cleanup()

	finished := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig.String()).Info("shutting down, waiting for in-flight jobs")
			cancel()
		case <-finished:
			return
		}

		select {
		case sig := <-sigCh:
			log.WithField("signal", sig.String()).Warn("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-finished:
		}
	}()

	err = app.run(ctx)
	close(finished)
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("worker stopped")
		return 1
	}
	log.Info("shutdown complete")
	return 0
}

type app struct {
	runners    []*jobs.Runner
	aggregator *workers.Aggregator
	ops        *ops.Server
	log        *logrus.Entry
}

// run blocks until ctx is done or a component fails.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(a.runners)+2)

	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	for _, r := range a.runners {
		start("runner "+r.Queue(), r.Run)
	}
	start("aggregator", a.aggregator.Run)
	start("ops server", a.ops.Run)

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		a.log.WithError(err).Error("component failed, stopping")
	}
	cancel()
	wg.Wait()
	return err
}

// buildApp is build; tests wrap it.
var buildApp = build

// build wires every component. The returned cleanup closes connections in
// reverse order of creation.
func build(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*app, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*app, func(), error) {
		cleanup()
		return nil, nil, err
	}

	server := ops.NewServer(cfg.Ops.Addr, logrus.NewEntry(log.Logger))

	stores, archive, err := createStores(ctx, cfg, server, log, &closers)
	if err != nil {
		return fail(err)
	}

	broker, err := createBroker(cfg, log)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { _ = broker.Close() })

	rpc := solana.NewHTTPClient(cfg.Solana.RPCEndpoint,
		solana.WithMaxRetries(cfg.Solana.MaxRetries),
		solana.WithObserver(observability.RecordRPCCall),
	)
	server.AddCheck("rpc", func(ctx context.Context) error {
		_, err := rpc.GetLatestBlockhash(ctx)
		return err
	})

	execCfg := executor.Config{
		Commitment:     cfg.Solana.Commitment,
		ConfirmTimeout: time.Duration(cfg.Solana.ConfirmTimeoutSec) * time.Second,
	}
	directOpts := []executor.DirectOption{executor.WithDirectLogger(log.Logger.WithField("component", "executor"))}
	if cfg.Solana.WSEndpoint != "" {
		wsCfg := solana.DefaultWSConfig()
		ws, err := solana.NewWSClient(ctx, cfg.Solana.WSEndpoint, &wsCfg, log.Logger.WithField("component", "ws"))
		if err != nil {
			return fail(fmt.Errorf("connect websocket: %w", err))
		}
		closers = append(closers, func() { _ = ws.Close() })
		directOpts = append(directOpts, executor.WithWebsocket(ws))
	}
	direct := executor.NewDirect(rpc, execCfg, directOpts...)

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	newRelay := func(relayURL, authKey string) solana.BundleClient {
		return solana.NewJitoClient(relayURL, authKey, solana.WithObserver(observability.RecordRPCCall))
	}
	selector := executor.NewSelector(rpc, direct, execCfg, newRelay, rng, log.Logger.WithField("component", "executor"))

	keyring, err := createKeyring(cfg)
	if err != nil {
		return fail(err)
	}

	defaults, err := cfg.TradingDefaults()
	if err != nil {
		return fail(err)
	}

	dispatcherOpts := []jobs.DispatcherOption{jobs.WithDispatcherLogger(log.Logger.WithField("component", "dispatcher"))}
	for q, n := range cfg.Workers.MaxAttempts {
		dispatcherOpts = append(dispatcherOpts, jobs.WithMaxAttempts(q, n))
	}
	dispatcher := jobs.NewDispatcher(broker, stores.Jobs, dispatcherOpts...)

	ledger, err := jobs.NewLedger(cfg.Workers.IdempotencyCacheSize, stores.Executions)
	if err != nil {
		return fail(err)
	}

	deps := &workers.Deps{
		Stores:     stores,
		Dispatcher: dispatcher,
		RPC:        rpc,
		Executors:  selector,
		Transfers:  direct,
		Keyring:    keyring,
		Swap:       swap.NewHTTPBuilder(cfg.Swap.ServiceURL, cfg.Swap.APIKey, time.Duration(cfg.Swap.TimeoutSec)*time.Second),
		Defaults:   defaults,
		Timing:     cfg.Timing(),
		Rand:       rng,
		Log:        logrus.NewEntry(log.Logger),
	}
	if archive != nil {
		deps.Archive = archive
	}

	notifier, err := createNotifier(cfg, log, &closers)
	if err != nil {
		return fail(err)
	}

	var hook jobs.DeadLetterHook
	if cfg.Sentry.DSN != "" {
		flush, err := ops.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, flush)
		hook = ops.SentryDeadLetterHook(sentry.CurrentHub())
	}

	ws := []jobs.Worker{
		workers.NewBuyWorker(deps),
		workers.NewSellWorker(deps),
		workers.NewDistributeWorker(deps),
		workers.NewGatherWorker(deps),
		workers.NewStatusWorker(deps, notifier),
	}
	runners := make([]*jobs.Runner, 0, len(ws))
	for _, w := range ws {
		n := cfg.Concurrency(w.Queue())
		opts := []jobs.RunnerOption{
			jobs.WithConcurrency(n),
			jobs.WithLogger(log.Logger.WithField("component", "runner")),
		}
		if hook != nil {
			opts = append(opts, jobs.WithDeadLetterHook(hook))
		}
		runners = append(runners, jobs.NewRunner(broker, w, stores.Jobs, ledger, opts...))
		server.AddQueue(w.Queue(), n)
	}

	aggregator := workers.NewAggregator(stores.Runs, dispatcher, cfg.AggregatorInterval(),
		log.Logger.WithField("component", "aggregator"))

	log.WithFields(logrus.Fields{
		"memory":  cfg.UseMemory,
		"archive": archive != nil,
		"kms":     cfg.Keys.KMSServiceURL != "",
		"nats":    cfg.NATS.URL != "",
		"queues":  len(runners),
	}).Info("worker configured")

	return &app{runners: runners, aggregator: aggregator, ops: server, log: log}, cleanup, nil
}

func createStores(ctx context.Context, cfg *config.Config, server *ops.Server, log *logrus.Entry, closers *[]func()) (storage.Stores, *chstore.ExecutionArchive, error) {
	var stores storage.Stores
	if cfg.UseMemory {
		stores = memory.NewStores()
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return storage.Stores{}, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		*closers = append(*closers, pool.Close)

		if cfg.Postgres.Migrate {
			applied, err := migrations.RunPostgresMigrations(ctx, pool)
			if err != nil {
				return storage.Stores{}, nil, fmt.Errorf("postgres migrations: %w", err)
			}
			log.WithField("applied", applied).Info("postgres migrations done")
		}
		server.AddCheck("postgres", func(ctx context.Context) error { return pool.Ping(ctx) })
		stores = pgstore.NewStores(pool)
	}

	if cfg.Clickhouse.DSN == "" {
		return stores, nil, nil
	}

	var (
		conn *chstore.Conn
		err  error
	)
	if cfg.Postgres.Migrate {
		conn, err = migrations.RunClickhouseMigrations(ctx, cfg.Clickhouse.DSN)
	} else {
		conn, err = chstore.NewConn(ctx, cfg.Clickhouse.DSN)
	}
	if err != nil {
		return storage.Stores{}, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	*closers = append(*closers, func() { _ = conn.Close() })
	server.AddCheck("clickhouse", func(ctx context.Context) error { return conn.Ping(ctx) })

	return stores, chstore.NewExecutionArchive(conn), nil
}

func createBroker(cfg *config.Config, log *logrus.Entry) (queue.Broker, error) {
	if cfg.UseMemory {
		return queue.NewMemoryBroker(), nil
	}
	broker, err := queue.NewAMQPBroker(cfg.RabbitMQ.URL, log.Logger.WithField("component", "broker"))
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return broker, nil
}

func createKeyring(cfg *config.Config) (keys.Keyring, error) {
	if cfg.Keys.KMSServiceURL != "" {
		return keys.NewKMSKeyring(keys.KMSConfig{
			ServiceURL: cfg.Keys.KMSServiceURL,
			AuthToken:  cfg.Keys.KMSAuthToken,
			KeyAlias:   cfg.Keys.KMSKeyAlias,
		}), nil
	}
	master, err := cfg.MasterKey()
	if err != nil {
		return nil, err
	}
	return keys.NewSecretboxKeyring(master)
}

func createNotifier(cfg *config.Config, log *logrus.Entry, closers *[]func()) (notify.Notifier, error) {
	if cfg.NATS.URL == "" {
		return notify.Noop{}, nil
	}
	n, err := notify.NewNATSNotifier(cfg.NATS.URL, cfg.NATS.SubjectPrefix,
		time.Duration(cfg.NATS.TimeoutSec)*time.Second, log.Logger.WithField("component", "notify"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	*closers = append(*closers, func() { _ = n.Close() })
	return n, nil
}

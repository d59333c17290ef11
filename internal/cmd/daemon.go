package cmd

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/quorum/internal/api"
	"github.com/Iron-Ham/quorum/internal/audit"
	"github.com/Iron-Ham/quorum/internal/config"
	"github.com/Iron-Ham/quorum/internal/coordination"
	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/executor"
	"github.com/Iron-Ham/quorum/internal/ledger"
	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/Iron-Ham/quorum/internal/proof"
	"github.com/Iron-Ham/quorum/internal/quorum"
	"github.com/Iron-Ham/quorum/internal/registry"
	"github.com/Iron-Ham/quorum/internal/task"
	"github.com/Iron-Ham/quorum/internal/taskqueue"
	"github.com/Iron-Ham/quorum/internal/validators"
)

// daemon is a fully wired coordinator: engine, local executor, validator
// pool, heartbeater and API server.
type daemon struct {
	cfg    *config.Config
	logger *logging.Logger

	bus    *event.Bus
	engine *coordination.Engine
	local  *executor.Local
	pool   *validators.Pool
	beats  *executor.Heartbeater
	server *api.Server
	store  *audit.Store
}

func newDaemon(cfg *config.Config, logger *logging.Logger) (*daemon, error) {
	d := &daemon{cfg: cfg, logger: logger}
	bus := event.NewBus()
	d.bus = bus

	strategy, err := registry.ParseStrategy(cfg.Registry.Strategy)
	if err != nil {
		return nil, err
	}
	validator, err := proof.ByName(cfg.Engine.ProofValidator)
	if err != nil {
		return nil, err
	}

	q, err := quorum.New(quorum.Config{
		Validators: cfg.Quorum.Validators,
		Threshold:  cfg.Quorum.Threshold,
		Timeout:    cfg.Quorum.VoteTimeout,
	}, quorum.WithBus(bus), quorum.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create quorum: %w", err)
	}

	var handler executor.Handler = executor.Echo
	if cfg.Executor.Handler == "sleep" {
		handler = executor.Sleep(cfg.Executor.Sleep)
	}
	var execOpts []executor.Option
	execOpts = append(execOpts, executor.WithMaxConcurrent(cfg.Executor.MaxConcurrent), executor.WithLogger(logger))
	if ids := cfg.WorkerIDs(); len(ids) > 0 {
		execOpts = append(execOpts, executor.WithWorkers(ids...))
	}
	d.local = executor.NewLocal(nil, handler, execOpts...)

	engineOpts := []coordination.Option{
		coordination.WithSchedulerWorkers(cfg.Engine.SchedulerWorkers),
		coordination.WithPollInterval(cfg.Engine.PollInterval),
		coordination.WithMaxExecutionTime(cfg.Engine.MaxExecutionTime),
		coordination.WithCancelTimeout(cfg.Engine.CancelTimeout),
		coordination.WithReserveWait(cfg.Ledger.ReserveWait),
		coordination.WithProposalRetention(cfg.Engine.ProposalRetention),
		coordination.WithProofGatedTypes(cfg.Engine.ProofGatedTypes...),
		coordination.WithValidator(validator),
		coordination.WithLogger(logger),
	}
	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.AuditDBPath())
		if err != nil {
			d.local.Close()
			return nil, fmt.Errorf("failed to open audit journal: %w", err)
		}
		d.store = store
		engineOpts = append(engineOpts, coordination.WithRecorder(store))
	}

	d.engine, err = coordination.NewEngine(coordination.Config{
		Bus:   bus,
		Queue: taskqueue.NewEventQueue(taskqueue.New(taskqueue.WithCapacity(cfg.Queue.Capacity), taskqueue.WithMaxRetries(cfg.Queue.MaxRetries)), bus),
		Ledger: ledger.New(
			ledger.WithLeaseTTL(cfg.Ledger.LeaseTTL),
			ledger.WithSweepInterval(cfg.Ledger.SweepInterval),
			ledger.WithBus(bus),
			ledger.WithLogger(logger),
		),
		Registry: registry.New(
			registry.WithHeartbeatTimeout(cfg.Registry.HeartbeatTimeout),
			registry.WithSweepInterval(cfg.Registry.SweepInterval),
			registry.WithStrategy(strategy),
			registry.WithBus(bus),
			registry.WithLogger(logger),
		),
		Quorum:   q,
		Executor: d.local,
	}, engineOpts...)
	if err != nil {
		_ = d.close()
		return nil, err
	}
	d.local.SetSink(d.engine)

	if err := d.registerStatic(); err != nil {
		_ = d.close()
		return nil, err
	}

	if cfg.Quorum.AutoVote {
		d.pool = validators.NewPool(bus, d.engine, d.engine.Registry(), cfg.Quorum.Validators, validators.WithLogger(logger))
	}
	if ids := cfg.WorkerIDs(); len(ids) > 0 {
		d.beats = executor.NewHeartbeater(d.engine, cfg.Executor.HeartbeatInterval, ids...).
			WithLoad(d.local.Load).
			WithLogger(logger)
	}

	var serverOpts []api.Option
	serverOpts = append(serverOpts, api.WithLogger(logger))
	if d.store != nil {
		serverOpts = append(serverOpts, api.WithAudit(d.store))
	}
	d.server = api.NewServer(d.engine, cfg.API.Listen, serverOpts...)
	return d, nil
}

// registerStatic registers the resources and workers named in the config.
func (d *daemon) registerStatic() error {
	for _, r := range d.cfg.Resources {
		err := d.engine.RegisterResource(ledger.Resource{
			ID:       r.ID,
			Type:     task.ResourceType(r.Type),
			Capacity: r.Capacity,
		})
		if err != nil {
			return fmt.Errorf("resource %s: %w", r.ID, err)
		}
	}
	for _, w := range d.cfg.Workers {
		capacity := make(map[task.ResourceType]uint64, len(w.Capacity))
		for rt, n := range w.Capacity {
			capacity[task.ResourceType(rt)] = n
		}
		err := d.engine.RegisterWorker(registry.Worker{
			ID:           w.ID,
			Capabilities: w.Capabilities,
			Capacity:     capacity,
			Endpoint:     w.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("worker %s: %w", w.ID, err)
		}
	}
	return nil
}

// run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (d *daemon) run(ctx context.Context) error {
	if err := d.engine.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := d.engine.Stop(); err != nil {
			d.logger.Warn("engine stopped with error", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.server.Run(gctx) })
	if d.pool != nil {
		g.Go(func() error {
			d.pool.Start(gctx)
			return nil
		})
	}
	if d.beats != nil {
		g.Go(func() error { return d.beats.Run(gctx) })
	}

	d.logger.Info("coordinator started",
		"listen", d.cfg.API.Listen,
		"resources", len(d.cfg.Resources),
		"workers", len(d.cfg.Workers),
		"auto_vote", d.pool != nil,
	)
	return g.Wait()
}

func (d *daemon) close() error {
	d.local.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/trainyard/pkg/config"
	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/health"
	"github.com/cuemby/trainyard/pkg/lock"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/manager"
	"github.com/cuemby/trainyard/pkg/monitor"
	"github.com/cuemby/trainyard/pkg/postgres"
	"github.com/cuemby/trainyard/pkg/processor"
	"github.com/cuemby/trainyard/pkg/reconciler"
	"github.com/cuemby/trainyard/pkg/redis"
	"github.com/cuemby/trainyard/pkg/registry"
	"github.com/cuemby/trainyard/pkg/remote"
	"github.com/cuemby/trainyard/pkg/rollback"
	"github.com/cuemby/trainyard/pkg/scheduler"
	"github.com/cuemby/trainyard/pkg/security"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/taskstore"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/cuemby/trainyard/pkg/workspace"
	goredis "github.com/redis/go-redis/v9"
)

// stack is every long-lived component of a server process
type stack struct {
	store      storage.Store
	broker     *events.Broker
	tasks      *taskstore.Store
	monitor    *monitor.Monitor
	scheduler  *scheduler.Scheduler
	reconciler *reconciler.Reconciler
	manager    *manager.Manager
	redis      *goredis.Client
}

func newStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	st := &stack{broker: events.NewBroker()}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	st.store = store

	ws, err := workspace.New(cfg.Workspace.BasePath)
	if err != nil {
		st.close()
		return nil, err
	}

	strategy, err := registry.StrategyByName(cfg.Scheduler.Strategy)
	if err != nil {
		st.close()
		return nil, err
	}

	locks := map[types.Capability]lock.Locker{}
	if cfg.Redis.Enabled {
		st.redis, err = redis.NewClient(ctx, cfg.Redis.Conn)
		if err != nil {
			st.close()
			return nil, err
		}
		for _, c := range types.Capabilities {
			locks[c] = lock.NewRedis(st.redis, "trainyard:reserve:"+string(c), cfg.Redis.LockTTL)
		}
	}

	var sealer *security.Sealer
	if cfg.Security.Passphrase != "" {
		if sealer, err = security.NewSealerFromPassphrase(cfg.Security.Passphrase); err != nil {
			st.close()
			return nil, err
		}
	} else {
		log.Logger.Warn().Msg("security.passphrase not set; assets cannot store SSH passwords")
	}

	opts := cfg.RemoteOptions()
	clients := map[types.Capability]remote.Client{
		types.CapabilityLabeling: remote.NewLabelingClient(opts),
		types.CapabilityTraining: remote.NewTrainingClient(opts),
	}

	st.tasks = taskstore.New(store, st.broker)
	reg := registry.New(store, strategy, st.broker)
	rb := rollback.New(st.tasks, ws, clients)
	proc := processor.New(st.tasks, ws, clients)

	st.monitor = monitor.New(st.tasks, clients, cfg.MonitorConfig())
	st.scheduler = scheduler.NewScheduler(st.tasks, reg, proc, st.monitor, locks, cfg.SchedulerConfig())

	// A finished job frees a slot, and a marked task is ready for training
	st.monitor.OnFinish(func(job monitor.Job, success bool) {
		st.scheduler.Kick(job.Capability)
		if success && job.Capability == types.CapabilityLabeling {
			st.scheduler.Kick(types.CapabilityTraining)
		}
	})

	var verifier *health.Verifier
	var auditVerifier reconciler.Verifier
	if cfg.Health.Enabled {
		verifier = health.NewVerifier(store, st.broker, cfg.HealthConfig())
		auditVerifier = verifier
	}
	st.reconciler = reconciler.NewReconciler(st.tasks, reg, rb, ws, st.monitor, auditVerifier, cfg.Reconciler.Interval)

	st.manager = manager.NewManager(manager.Deps{
		Store:     store,
		Tasks:     st.tasks,
		Workspace: ws,
		Rollback:  rb,
		Verifier:  verifier,
		Sealer:    sealer,
		Events:    st.broker,
	})
	st.manager.SetKicker(st.scheduler.Kick)

	return st, nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := postgres.Open(cfg.Storage.Postgres)
		if err != nil {
			return nil, err
		}
		return storage.NewGormStore(db)
	default:
		if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		return storage.NewBoltStore(cfg.Storage.DataDir)
	}
}

func (st *stack) close() {
	if st.redis != nil {
		_ = st.redis.Close()
	}
	if st.store != nil {
		if err := st.store.Close(); err != nil {
			log.Logger.Warn().Err(err).Msg("Failed to close store")
		}
	}
}

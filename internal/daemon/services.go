package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/buildgraph/internal/config"
	"git.home.luguber.info/inful/buildgraph/internal/definitions"
	"git.home.luguber.info/inful/buildgraph/internal/dispatch"
	"git.home.luguber.info/inful/buildgraph/internal/eventstore"
	"git.home.luguber.info/inful/buildgraph/internal/logfields"
	"git.home.luguber.info/inful/buildgraph/internal/metrics"
	"git.home.luguber.info/inful/buildgraph/internal/natsbus"
	"git.home.luguber.info/inful/buildgraph/internal/ordercache"
	"git.home.luguber.info/inful/buildgraph/internal/orchestrator"
	"git.home.luguber.info/inful/buildgraph/internal/registry"
	"git.home.luguber.info/inful/buildgraph/internal/retry"
	"git.home.luguber.info/inful/buildgraph/internal/runner"
	"git.home.luguber.info/inful/buildgraph/internal/status"
	"git.home.luguber.info/inful/buildgraph/internal/statestore"
	"git.home.luguber.info/inful/buildgraph/internal/topo"
)

const historySize = 100

// Services is the wired engine shared by the CLI commands and the daemon.
type Services struct {
	Config       *config.Config
	Registry     *registry.Registry
	Tracker      *status.Tracker
	Orchestrator *orchestrator.Orchestrator
	Events       *eventstore.SQLiteStore
	History      *eventstore.RunHistoryProjection
	Metrics      *prom.Registry
	Cache        ordercache.Cache

	states *statestore.SQLiteStore
	bus    *natsbus.Bus
	pool   *dispatch.LocalPool
	remote *dispatch.NATSDispatcher
}

// NewServices loads the definitions, opens storage, recovers persisted
// statuses and connects the configured dispatcher. The caller must Close it.
func NewServices(ctx context.Context, cfg *config.Config) (svc *Services, err error) {
	s := &Services{Config: cfg, Registry: registry.New()}
	defer func() {
		if err != nil {
			_ = s.Close(context.WithoutCancel(ctx))
		}
	}()

	if cfg.Definitions != "" {
		set, lerr := definitions.Load(cfg.Definitions)
		if lerr != nil {
			return nil, lerr
		}
		if aerr := set.Apply(s.Registry); aerr != nil {
			return nil, aerr
		}
		slog.Info("Definitions loaded", logfields.Path(set.Path),
			slog.Int("tasks", len(set.Tasks)), slog.Int("builds", len(set.Builds)))
	}

	if s.states, err = statestore.Open(cfg.Storage.Path); err != nil {
		return nil, err
	}
	if s.Events, err = eventstore.NewSQLiteStoreFromDB(s.states.DB()); err != nil {
		return nil, err
	}
	s.History = eventstore.NewRunHistoryProjection(s.Events, historySize)
	if err = s.History.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("rebuild run history: %w", err)
	}

	s.Metrics = prom.NewRegistry()
	s.Metrics.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(s.Metrics)

	s.Tracker = status.New(s.states, retry.FromConfig(cfg.Persistence), recorder)
	if _, err = s.Tracker.Recover(ctx); err != nil {
		return nil, err
	}

	if cfg.Dispatch.Mode == config.DispatchNATS || cfg.Orchestrator.Cache == config.CacheNATS {
		if s.bus, err = natsbus.Connect(cfg.NATS, "buildgraph-orchestrator"); err != nil {
			return nil, err
		}
	}

	if s.Cache, err = s.newCache(ctx); err != nil {
		return nil, err
	}
	dispatcher, err := s.newDispatcher(ctx)
	if err != nil {
		return nil, err
	}

	strategy, err := topo.ByName(string(cfg.Orchestrator.Strategy))
	if err != nil {
		return nil, err
	}
	s.Orchestrator = orchestrator.New(s.Registry, s.Tracker, dispatcher, orchestrator.Options{
		Strategy:    strategy,
		Cache:       s.Cache,
		Recorder:    recorder,
		Emitter:     eventstore.NewEmitter(s.Events, s.History),
		TaskTimeout: cfg.TaskTimeout(),
	})
	return s, nil
}

func (s *Services) newCache(ctx context.Context) (ordercache.Cache, error) {
	switch s.Config.Orchestrator.Cache {
	case config.CacheNone:
		return ordercache.None{}, nil
	case config.CacheNATS:
		kv, err := s.bus.KeyValue(ctx, s.Config.NATS.KVBucket, s.Config.CacheTTL())
		if err != nil {
			return nil, err
		}
		return ordercache.NewNATS(kv), nil
	default:
		return ordercache.NewMemory(), nil
	}
}

func (s *Services) newDispatcher(ctx context.Context) (dispatch.Dispatcher, error) {
	if s.Config.Dispatch.Mode == config.DispatchNATS {
		d, err := dispatch.NewNATSDispatcher(s.bus.Conn, s.Config.NATS.Subject)
		if err != nil {
			return nil, err
		}
		s.remote = d
		return d, nil
	}

	s.pool = dispatch.NewLocalPool(s.Config.Dispatch.QueueSize, s.Config.Dispatch.Workers, runner.NewShell())
	s.pool.Start(ctx)
	s.Metrics.MustRegister(prom.NewGaugeFunc(prom.GaugeOpts{
		Namespace: "buildgraph", Name: "dispatch_queue_length", Help: "Tasks waiting for a local worker",
	}, func() float64 { return float64(s.pool.Length()) }))
	return s.pool, nil
}

// Reload re-reads the definitions file and atomically replaces the registry
// contents. On error the current definitions stay in place.
func (s *Services) Reload(_ context.Context) error {
	set, err := definitions.Load(s.Config.Definitions)
	if err != nil {
		return err
	}
	return set.Apply(s.Registry)
}

// Close cancels active runs and releases every resource in reverse order.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.Orchestrator != nil {
		if err := s.Orchestrator.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.pool != nil {
		s.pool.Stop(ctx)
	}
	if s.remote != nil {
		if err := s.remote.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Events != nil {
		if err := s.Events.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.states != nil {
		if err := s.states.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

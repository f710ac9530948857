package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/example/class-scheduler/internal/auth"
	"github.com/example/class-scheduler/internal/booking"
	"github.com/example/class-scheduler/internal/config"
	"github.com/example/class-scheduler/internal/credentials"
	"github.com/example/class-scheduler/internal/crypto"
	"github.com/example/class-scheduler/internal/db"
	"github.com/example/class-scheduler/internal/dispatch"
	"github.com/example/class-scheduler/internal/jobs"
	"github.com/example/class-scheduler/internal/logging"
	"github.com/example/class-scheduler/internal/metrics"
	"github.com/example/class-scheduler/internal/migrate"
	"github.com/example/class-scheduler/internal/taskqueue"
)

// app holds the wired components shared by the server and job commands.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	db      *db.DB
	store   jobs.Store
	users   auth.Users
	creds   credentials.Provider
	backend taskqueue.Backend
	metrics *metrics.Metrics

	closers []func()
}

type appOptions struct {
	migrate bool
	// jobsOnly skips the task backend for commands that only read jobs.
	jobsOnly bool
}

func newApp(ctx context.Context, o appOptions) (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, func() { _ = log.Sync() })

	if err := a.openDatabase(ctx, o.migrate); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if !o.jobsOnly {
		if err := a.openBackend(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// openDatabase connects Postgres, which holds users and credentials for
// every store driver except memory.
func (a *app) openDatabase(ctx context.Context, runMigrations bool) error {
	if a.cfg.StoreDriver == "memory" {
		a.users = auth.NewMemoryUsers()
		a.creds = credentials.Static{}
		return nil
	}
	d, err := db.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, d.Close)
	if err := d.Ping(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	if runMigrations {
		if err := migrate.Up(ctx, d, a.log); err != nil {
			return err
		}
	}
	a.db = d
	a.users = auth.NewPGUsers(d)
	if len(a.cfg.CredEncKey) > 0 {
		aead, err := crypto.New(a.cfg.CredEncKey)
		if err != nil {
			return fmt.Errorf("cred_enc_key: %w", err)
		}
		a.creds = credentials.NewRepo(d, aead)
	} else {
		a.log.Warn("cred_enc_key not set; every user will be reported as missing credentials")
		a.creds = credentials.Static{}
	}
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	var (
		s   jobs.Store
		err error
	)
	switch a.cfg.StoreDriver {
	case "postgres":
		s = jobs.NewRepo(a.db)
	case "sqlite":
		s, err = jobs.OpenSQLite(ctx, a.cfg.SQLitePath)
	case "redis":
		s, err = jobs.OpenRedis(ctx, a.cfg.RedisURL, a.cfg.RedisPrefix)
	case "memory":
		s = jobs.NewMemoryStore()
	}
	if err != nil {
		return fmt.Errorf("open %s job store: %w", a.cfg.StoreDriver, err)
	}
	a.store = s
	a.closers = append(a.closers, func() { _ = s.Close() })
	a.log.Info("job store ready", zap.String("driver", a.cfg.StoreDriver))
	return nil
}

func (a *app) openBackend(ctx context.Context) error {
	switch a.cfg.TaskBackend {
	case "cloudtasks":
		ct, err := taskqueue.NewCloudTasks(ctx, a.cfg.GCPProject, a.cfg.GCPLocation, a.cfg.GCPQueue)
		if err != nil {
			return fmt.Errorf("cloud tasks: %w", err)
		}
		a.closers = append(a.closers, func() { _ = ct.Close() })
		a.backend = ct
	default:
		a.backend = taskqueue.NewHTTPBackend(a.cfg.TaskServiceURL, a.cfg.TaskAuthToken)
	}
	a.log.Info("task backend ready", zap.String("backend", a.cfg.TaskBackend))
	return nil
}

func (a *app) withMetrics() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(reg)
	return reg
}

func (a *app) options() []dispatch.Option {
	return []dispatch.Option{dispatch.WithLogger(a.log), dispatch.WithMetrics(a.metrics)}
}

func (a *app) dispatcher() *dispatch.Dispatcher {
	policy := a.cfg.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		a.log.Warn("task backend call failed; retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	return dispatch.NewDispatcher(a.store, a.backend, policy, dispatch.Config{
		Namespace:      a.cfg.JobNamespace,
		Location:       a.cfg.Location,
		DispatchOffset: a.cfg.DispatchOffset,
		OpeningOffset:  a.cfg.OpeningOffset,
		BotURL:         a.cfg.BotURL,
		EnqueueTimeout: a.cfg.EnqueueTimeout,
	}, a.options()...)
}

func (a *app) booking() *booking.Service {
	return booking.NewService(a.creds, a.dispatcher(), a.cfg.Location, a.log.Named("booking"))
}

func (a *app) resolver() *dispatch.Resolver {
	return dispatch.NewResolver(a.store, a.cfg.JobNamespace, a.options()...)
}

func (a *app) canceller() *dispatch.Canceller {
	return dispatch.NewCanceller(a.store, a.backend, a.cfg.JobNamespace, a.cfg.DeleteTimeout, a.options()...)
}

func (a *app) autoCanceller() *dispatch.AutoCanceller {
	return dispatch.NewAutoCanceller(dispatch.DefaultAutoCancelRule(a.cfg.Location), a.canceller(), a.options()...)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

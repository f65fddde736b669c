package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/paw2paw/hf-behavior/go-controller/internal/adapt"
	"github.com/paw2paw/hf-behavior/go-controller/internal/cascade"
	"github.com/paw2paw/hf-behavior/go-controller/internal/config"
	"github.com/paw2paw/hf-behavior/go-controller/internal/lock"
	"github.com/paw2paw/hf-behavior/go-controller/internal/logging"
	"github.com/paw2paw/hf-behavior/go-controller/internal/playbook"
	"github.com/paw2paw/hf-behavior/go-controller/internal/profile"
	"github.com/paw2paw/hf-behavior/go-controller/internal/rpc"
	"github.com/paw2paw/hf-behavior/go-controller/internal/specs"
	"github.com/paw2paw/hf-behavior/go-controller/internal/targets"
)

// #region app
// app is the fully wired local controller.
type app struct {
	store     *targets.Store
	specs     *specs.Store
	profiles  profile.Provider
	local     *profile.SQLProvider
	resolver  *cascade.Resolver
	engine    *adapt.Engine
	playbooks *playbook.Service
	closers   []func() error
}

// openApp opens the database and wires every component from cfg.
func openApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	store, err := targets.NewStore(cfg.Database.Path, targets.WithLegacyCallerScope(cfg.Cascade.LegacyCallerScope))
	if err != nil {
		return nil, err
	}
	a := &app{store: store, closers: []func() error{store.Close}}

	if a.specs, err = specs.NewStore(store.DB()); err != nil {
		a.Close()
		return nil, err
	}
	if a.local, err = profile.NewSQLProvider(store.DB()); err != nil {
		a.Close()
		return nil, err
	}
	if err := logging.EnsureSchema(store.DB()); err != nil {
		a.Close()
		return nil, err
	}

	a.profiles = a.local
	if cfg.Profile.Addr != "" {
		timeout, _ := cfg.ProfileTimeout()
		remote, err := profile.NewRemoteProvider(cfg.Profile.Addr, timeout)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, remote.Close)
		a.profiles = remote
		logger.Info("Using remote profile service", zap.String("addr", cfg.Profile.Addr))
	}

	locker, err := a.locker(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.resolver = cascade.NewResolver(store, cascade.Config{
		DefaultValue:      cfg.Cascade.DefaultValue,
		DefaultConfidence: cfg.Cascade.DefaultConfidence,
		LegacyCallerScope: cfg.Cascade.LegacyCallerScope,
	}, logger.Named("cascade"))
	a.engine = adapt.NewEngine(store, a.specs, a.profiles, adapt.Config{
		DefaultConfidence: cfg.Adaptation.DefaultConfidence,
		DefaultDelta:      cfg.Adaptation.DefaultDelta,
		DefaultSetValue:   cfg.Adaptation.DefaultSetValue,
		DefaultCurrent:    cfg.Cascade.DefaultValue,
		MaxWriteAttempts:  cfg.Adaptation.MaxWriteAttempts,
	},
		adapt.WithLocker(locker),
		adapt.WithAuditLog(store.DB()),
		adapt.WithLogger(logger.Named("adapt")),
	)
	a.playbooks = playbook.NewService(store, a.resolver, nil, logger.Named("playbook"))
	return a, nil
}

// locker picks a Redis lease when redis.addr is set, otherwise an in-process mutex.
func (a *app) locker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (lock.Locker, error) {
	if cfg.Redis.Addr == "" {
		return lock.NewLocalLocker(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	a.closers = append(a.closers, client.Close)
	ttl, _ := cfg.LockTTL()
	logger.Info("Using redis caller locks", zap.String("addr", cfg.Redis.Addr))
	return lock.NewRedisLocker(client, lock.RedisConfig{Prefix: cfg.Redis.KeyPrefix, TTL: ttl, Logger: logger.Named("lock")}), nil
}

// Close releases everything openApp acquired, newest first.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// #endregion app

// #region backend
// backend is the command surface shared by local and remote execution.
type backend interface {
	RunAdaptation(ctx context.Context, callerID string) (adapt.Result, error)
	ResolveTargets(ctx context.Context, callerID string) (*cascade.Resolution, error)
	ResolveCallTargets(ctx context.Context, callID string) (*cascade.Resolution, error)
	PlaybookTargets(ctx context.Context, playbookID string) ([]playbook.Row, error)
	PatchPlaybookTargets(ctx context.Context, playbookID string, changes []playbook.Change) (playbook.PatchResult, error)
}

type localBackend struct{ *app }

func (b localBackend) RunAdaptation(ctx context.Context, callerID string) (adapt.Result, error) {
	return b.engine.Run(ctx, callerID), nil
}

func (b localBackend) ResolveTargets(ctx context.Context, callerID string) (*cascade.Resolution, error) {
	return b.resolver.Resolve(ctx, callerID)
}

func (b localBackend) ResolveCallTargets(ctx context.Context, callID string) (*cascade.Resolution, error) {
	return b.resolver.ResolveCall(ctx, callID)
}

func (b localBackend) PlaybookTargets(ctx context.Context, playbookID string) ([]playbook.Row, error) {
	return b.playbooks.Targets(ctx, playbookID)
}

func (b localBackend) PatchPlaybookTargets(ctx context.Context, playbookID string, changes []playbook.Change) (playbook.PatchResult, error) {
	return b.playbooks.Patch(ctx, playbookID, changes)
}

// openBackend returns a remote client when --server is set, otherwise the local app.
// The returned func releases it.
func openBackend(ctx context.Context) (backend, func(), error) {
	if serverAddr != "" {
		conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("grpc dial %s: %w", serverAddr, err)
		}
		return rpc.NewClient(conn), func() { conn.Close() }, nil
	}
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return localBackend{a}, func() { a.Close() }, nil
}

// #endregion backend

// ABOUTME: Process runtime shared by every CLI command
// ABOUTME: Builds gateway, replica store, bus and metrics from config and mounts named surfaces

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/harperreed/embudo/bus"
	"github.com/harperreed/embudo/charm"
	"github.com/harperreed/embudo/config"
	"github.com/harperreed/embudo/db"
	"github.com/harperreed/embudo/gateway"
	"github.com/harperreed/embudo/metrics"
	"github.com/harperreed/embudo/replica"
	"github.com/harperreed/embudo/surface"
)

// Options tunes Open. The zero value writes to stdout and registers metrics
// on a private registry.
type Options struct {
	Registerer prometheus.Registerer
	Out        io.Writer
}

// App is everything one embudo process shares between its surfaces.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Gateway *gateway.Gateway
	Store   *replica.Store
	Bus     *bus.Bus
	// Charm is set when the replica lives in charm KV.
	Charm *charm.Client
	Out   io.Writer

	gatherer prometheus.Gatherer

	mu        sync.Mutex
	surfaces  []*surface.Controller
	server    *http.Server
	closeOnce sync.Once
	closeErr  error
}

// Open wires the runtime. Unreachable optional backends (database, Redis,
// badger directory) are logged and replaced by their in-process fallback.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(opts.Registerer),
		Out:     opts.Out,
	}
	if g, ok := opts.Registerer.(prometheus.Gatherer); ok {
		app.gatherer = g
	}

	var primary db.Backend
	if cfg.DatabaseURL != "" {
		backend, err := db.OpenSQLBackend(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn("database unavailable, using in-memory tables", zap.Error(err))
		} else {
			primary = backend
		}
	}
	app.Gateway = gateway.New(primary, gateway.Options{
		Logger:     logger.Named("gateway"),
		Metrics:    app.Metrics,
		SalesOwner: cfg.SalesOwner,
	})

	kv, err := app.openKV()
	if err != nil {
		_ = app.Gateway.Close()
		return nil, err
	}
	app.Store = replica.NewStore(kv,
		replica.WithLogger(logger.Named("replica")),
		replica.WithMetrics(app.Metrics))

	var client *redis.Client
	if cfg.RedisURL != "" {
		client, err = bus.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, surfaces sync in-process only", zap.Error(err))
			client = nil
		}
	}
	app.Bus = bus.New(bus.Options{
		Redis:   client,
		Channel: cfg.Channel,
		Logger:  logger.Named("bus"),
		Metrics: app.Metrics,
	})

	return app, nil
}

func (a *App) openKV() (replica.KV, error) {
	cfg := a.Config
	switch cfg.ReplicaBackend {
	case config.ReplicaMemory:
		return replica.NewMemoryKV(), nil
	case config.ReplicaCharm:
		c, err := charm.NewClient(cfg.CharmConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to open charm replica: %w", err)
		}
		a.Charm = c
		return c, nil
	default:
		dir := filepath.Join(cfg.ReplicaDir, originDir(cfg.Origin))
		kv, err := replica.OpenBadger(dir)
		if err != nil {
			// Badger holds a directory lock; a second process on the same
			// origin gets a private replica instead.
			a.Logger.Warn("replica directory unavailable, using a non-durable replica",
				zap.String("dir", dir), zap.Error(err))
			return replica.NewMemoryKV(), nil
		}
		return kv, nil
	}
}

func originDir(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "default"
	}
	return strings.NewReplacer("/", "-", "\\", "-", "..", "-").Replace(origin)
}

// Mount starts a surface called name. Its bus source is unique per call so
// two surfaces with the same name still hear each other.
func (a *App) Mount(ctx context.Context, name string) (*surface.Controller, error) {
	source := fmt.Sprintf("%s/%s/%s", a.Config.Origin, name, uuid.NewString())
	logger := a.Logger.Named("surface")
	c := surface.New(a.Gateway, a.Store, a.Bus.Endpoint(source), surface.Options{
		Name:    name,
		Logger:  logger,
		Metrics: a.Metrics,
		OnError: func(err error) {
			logger.Info("mutation failed", zap.String("surface", name), zap.Error(err))
		},
	})
	if err := c.Mount(ctx); err != nil {
		return nil, fmt.Errorf("failed to mount %s: %w", name, err)
	}

	a.mu.Lock()
	a.surfaces = append(a.surfaces, c)
	a.mu.Unlock()
	return c, nil
}

// ServeMetrics exposes /metrics on the configured address until Close.
func (a *App) ServeMetrics() {
	addr := a.Config.MetricsAddr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	handler := metrics.Handler()
	if a.gatherer != nil {
		handler = metrics.HandlerFor(a.gatherer)
	}
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
}

// Close unmounts every surface and releases the backends. Later calls
// return the first result.
func (a *App) Close() error {
	a.closeOnce.Do(func() { a.closeErr = a.close() })
	return a.closeErr
}

func (a *App) close() error {
	a.mu.Lock()
	surfaces := a.surfaces
	a.surfaces = nil
	srv := a.server
	a.server = nil
	a.mu.Unlock()

	for _, c := range surfaces {
		c.Unmount()
	}

	var errs []error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, srv.Shutdown(ctx))
		cancel()
	}
	errs = append(errs,
		a.Bus.Close(),
		a.Store.Close(),
		a.Gateway.Close(),
	)
	return errors.Join(errs...)
}

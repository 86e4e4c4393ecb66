// Package daemon wires configuration, capture, classification and the
// scan sinks into one long-running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"scanwedge/internal/api"
	"scanwedge/internal/config"
	"scanwedge/internal/dbusapi"
	"scanwedge/internal/dispatch"
	"scanwedge/internal/health"
	"scanwedge/internal/keystroke"
	"scanwedge/internal/logging"
	"scanwedge/internal/metrics"
	"scanwedge/internal/scanner"
	"scanwedge/internal/store"
)

// PruneInterval is how often expired scans are deleted.
const PruneInterval = time.Hour

// Options configures a Daemon.
type Options struct {
	// Source replaces the keystroke source the config would build.
	Source keystroke.Source

	// Watcher delivers hot reloads. Nil disables reloading.
	Watcher *config.ConfigWatcher

	// Sinks are added after the configured ones.
	Sinks []dispatch.Sink

	Logger   *logging.Logger
	Registry *metrics.Registry
	Clock    scanner.Clock
	Now      func() time.Time
}

// Daemon owns every long-lived component.
type Daemon struct {
	log      *logging.Logger
	registry *metrics.Registry
	metrics  *metrics.ScannerMetrics
	now      func() time.Time

	src     keystroke.Source
	ctrl    *scanner.Controller
	disp    *dispatch.Dispatcher
	store   *store.Store
	redis   *dispatch.RedisSink
	health  *health.Checker
	dbus    *dbusapi.Service
	api     *api.Server
	apiAddr net.Addr
	watcher *config.ConfigWatcher

	mu      sync.Mutex
	cfg     *config.Config
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New builds the components cfg enables. Nothing listens until Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	terminators, err := cfg.Terminators()
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		log:      opts.Logger,
		registry: opts.Registry,
		now:      opts.Now,
		watcher:  opts.Watcher,
	}
	if d.log == nil {
		d.log = logging.Default()
	}
	if d.registry == nil {
		d.registry = metrics.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.metrics = metrics.NewScannerMetrics(d.registry)

	d.src = opts.Source
	if d.src == nil {
		d.src = newSource(cfg, d.log)
	}

	d.disp = dispatch.New(dispatch.Options{
		DedupeWindow: cfg.DedupeWindow(),
		Now:          d.now,
		Logger:       d.log.Logger,
		Metrics:      d.metrics,
	})

	if err := d.openSinks(cfg); err != nil {
		d.disp.Close()
		return nil, err
	}
	for _, s := range opts.Sinks {
		d.disp.Add(s)
	}

	d.ctrl, err = scanner.New(d.src, scanner.Options{
		OnScan:      d.disp.OnScan,
		Enabled:     false,
		Thresholds:  cfg.Thresholds(),
		Terminators: terminators,
		Clock:       opts.Clock,
		Logger:      d.log.Logger,
		Metrics:     d.metrics,
	})
	if err != nil {
		d.disp.Close()
		return nil, err
	}

	if cfg.DBus.Enabled {
		d.dbus = dbusapi.New(d.ctrl, d.log.Logger)
	}
	if cfg.HTTP.Enabled {
		var history api.History
		if d.store != nil {
			history = d.store
		}
		d.api = api.NewServer(d.ctrl, history, d.registry, d.log.WithComponent("http"))
		d.health = d.newHealth()
		d.api.SetHealth(d.health)
	}
	return d, nil
}

// newHealth registers a check per enabled component. Capture and storage
// are critical; redis only degrades.
func (d *Daemon) newHealth() *health.Checker {
	c := health.NewChecker()
	c.RegisterFunc("capture", true, health.CaptureCheck(d.ctrl.Status))
	if d.store != nil {
		c.RegisterFunc("store", true, health.PingCheck("store", d.store.Ping))
	}
	if d.redis != nil {
		c.RegisterFunc("redis", false, health.PingCheck("redis", d.redis.Ping))
	}
	return c
}

func newSource(cfg *config.Config, log *logging.Logger) keystroke.Source {
	if cfg.Capture.Source == "terminal" {
		return keystroke.NewTerminalSource(os.Stdin, log.Logger)
	}
	var focus keystroke.FocusProvider
	if cfg.Capture.Focus == "window" {
		focus = keystroke.NewWindowFocus(cfg.WindowFocus())
	}
	return keystroke.NewPlatformSource(cfg.Capture.Devices, focus, log.Logger)
}

// openSinks attaches the storage and redis sinks. An unreachable redis
// only warns; go-redis reconnects on the next delivery.
func (d *Daemon) openSinks(cfg *config.Config) error {
	if cfg.Storage.Enabled {
		st, err := store.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open scan store: %w", err)
		}
		d.store = st
		d.disp.Add(dispatch.NewStoreSink(st))
	}

	if cfg.Redis.Enabled {
		rs, err := dispatch.NewRedisSink(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.Prefix, cfg.Redis.RecentLimit)
		if err != nil {
			return fmt.Errorf("redis sink: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rs.Ping(ctx); err != nil {
			d.log.Warn("redis unreachable", "addr", cfg.Redis.Addr, "error", err)
		}
		cancel()
		d.disp.Add(rs)
	}
	return nil
}

// Start claims the bus name, starts the HTTP API and the prune loop,
// begins watching the config and enables capture if configured.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("daemon already started")
	}
	d.started = true
	cfg := d.cfg
	d.mu.Unlock()

	if d.dbus != nil {
		if err := d.dbus.StartSession(); err != nil {
			d.log.Warn("dbus service unavailable", "error", err)
		} else {
			d.disp.Add(d.dbus)
		}
	}

	if d.api != nil {
		addr, err := d.api.Start(cfg.HTTP.Listen)
		if err != nil {
			return fmt.Errorf("start http api: %w", err)
		}
		d.apiAddr = addr
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	if d.store != nil {
		d.wg.Add(1)
		go d.pruneLoop(runCtx)
	}

	if d.watcher != nil {
		d.watcher.OnChange(d.apply)
		if err := d.watcher.Start(); err != nil {
			d.log.Warn("config hot reload disabled", "error", err)
		} else {
			d.wg.Add(1)
			go d.watchErrors(runCtx)
		}
	}

	d.ctrl.SetEnabled(cfg.Scanner.Enabled)
	if ok, reason := d.src.Available(); !ok {
		d.log.Warn("keystroke capture unavailable", "reason", reason)
	}

	d.log.Info("scanwedge started",
		"enabled", cfg.Scanner.Enabled,
		"listening", d.ctrl.IsListening(),
		"source", cfg.Capture.Source,
		"sinks", d.disp.Sinks(),
	)
	return nil
}

// apply hot-reloads the settings that can change without a restart.
func (d *Daemon) apply(old, cfg *config.Config) {
	if err := d.ctrl.Reconfigure(cfg.Thresholds()); err != nil {
		d.log.Error("reload thresholds", "error", err)
		return
	}
	d.ctrl.SetEnabled(cfg.Scanner.Enabled)
	d.disp.SetDedupeWindow(cfg.DedupeWindow())

	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()

	if sections := RestartRequired(old, cfg); len(sections) > 0 {
		d.log.Warn("config changes need a restart", "sections", sections)
	}
	d.log.Info("config reloaded", "enabled", cfg.Scanner.Enabled, "thresholds", cfg.Thresholds())
}

// RestartRequired lists the sections that differ between old and cfg
// and are only read at startup.
func RestartRequired(old, cfg *config.Config) []string {
	var out []string
	if !reflect.DeepEqual(old.Scanner.Terminators, cfg.Scanner.Terminators) {
		out = append(out, "scanner.terminators")
	}
	checks := []struct {
		name     string
		old, new interface{}
	}{
		{"capture", old.Capture, cfg.Capture},
		{"storage", old.Storage, cfg.Storage},
		{"redis", old.Redis, cfg.Redis},
		{"dbus", old.DBus, cfg.DBus},
		{"http", old.HTTP, cfg.HTTP},
		{"logging", old.Logging, cfg.Logging},
	}
	for _, c := range checks {
		if !reflect.DeepEqual(c.old, c.new) {
			out = append(out, c.name)
		}
	}
	return out
}

func (d *Daemon) watchErrors(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.log.Error("config reload failed, keeping previous config", "error", err)
		}
	}
}

func (d *Daemon) pruneLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(PruneInterval)
	defer ticker.Stop()

	d.Prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Prune(ctx)
		}
	}
}

// Prune deletes scans older than the retention period and returns how
// many were removed. Zero retention keeps everything.
func (d *Daemon) Prune(ctx context.Context) int64 {
	d.mu.Lock()
	retention := d.cfg.Retention()
	d.mu.Unlock()
	if d.store == nil || retention <= 0 {
		return 0
	}

	n, err := d.store.Prune(ctx, d.now().Add(-retention))
	if err != nil {
		d.log.Error("prune scans", "error", err)
		return 0
	}
	if n > 0 {
		d.log.Info("pruned expired scans", "count", n, "retention", retention)
	}
	return n
}

// Stop disables capture, drains pending scans and releases everything.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	cancel := d.cancel
	d.mu.Unlock()

	var errs []error
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop config watcher: %w", err))
		}
	}
	if cancel != nil {
		cancel()
	}

	if err := d.ctrl.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close controller: %w", err))
	}
	if d.api != nil {
		if err := d.api.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http api: %w", err))
		}
	}
	if err := d.src.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close keystroke source: %w", err))
	}

	d.wg.Wait()

	// Closes the store, redis and dbus sinks after the queue drains.
	if err := d.disp.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
	}

	d.log.Info("scanwedge stopped")
	return errors.Join(errs...)
}

// Controller returns the scan controller.
func (d *Daemon) Controller() *scanner.Controller { return d.ctrl }

// Dispatcher returns the scan dispatcher.
func (d *Daemon) Dispatcher() *dispatch.Dispatcher { return d.disp }

// Store returns the scan history, or nil when storage is disabled.
func (d *Daemon) Store() *store.Store { return d.store }

// APIAddr returns the bound HTTP address once started.
func (d *Daemon) APIAddr() net.Addr { return d.apiAddr }

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Package daemon runs the tick loop that owns every write to the store and
// supervises the collaborators feeding it.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anthropic/lifeos/internal/biometric"
	"github.com/anthropic/lifeos/internal/config"
	"github.com/anthropic/lifeos/internal/engine"
	"github.com/anthropic/lifeos/internal/ipc"
	"github.com/anthropic/lifeos/internal/lock"
	"github.com/anthropic/lifeos/internal/model"
	"github.com/anthropic/lifeos/internal/shadow"
	"github.com/anthropic/lifeos/internal/store"
	"github.com/anthropic/lifeos/internal/telemetry"
	"github.com/anthropic/lifeos/pkg/logger"
	"github.com/anthropic/lifeos/pkg/metrics"
)

// IPCServer is the interface the daemon uses to start/stop the IPC listener.
// This avoids a circular dependency with the ipc package.
type IPCServer interface {
	Listen(socketPath string, ctx context.Context) error
	Stop() error
}

// StoreAware can receive a store reference after it becomes available.
type StoreAware interface {
	SetStore(store ipc.StoreQuerier)
}

// Option customises a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(d *Daemon) { d.log = l }
}

// WithClock replaces time.Now for tick timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) { d.now = now }
}

// WithBiometricClient replaces the client built from the configuration.
func WithBiometricClient(c biometric.Client) Option {
	return func(d *Daemon) { d.client = c }
}

// Daemon manages the lifecycle of the lifeosd background process.
type Daemon struct {
	cfg    *config.Config
	ipc    IPCServer
	log    logger.Logger
	now    func() time.Time
	client biometric.Client

	lock   *lock.Lock
	writer *store.Writer
	reader *store.Reader
	agg    *telemetry.Aggregator
	spool  *telemetry.Spool
	poller *biometric.Poller
	est    *shadow.Estimator
	eng    *engine.Engine

	// commit persists a tick; tests replace it to inject failures.
	commit func(context.Context, store.TickBatch) error

	// Tick-owned state. Only the tick goroutine touches these.
	history       []model.ActivitySample
	historyLen    int
	debt          float64
	lastTS        time.Time
	lastEstimate  time.Time
	measured      []model.HeartRateSample
	calibQueue    []model.HeartRateSample
	coefDirty     bool
	savedBaseline time.Time

	// workStart is the start of the current stretch of continuous work;
	// fatigue is the extra decay it has added on fatigueDay.
	workStart  time.Time
	fatigue    time.Duration
	fatigueDay string

	cancel func(cause error)

	mu        sync.Mutex
	state     State
	startTime time.Time
	running   bool
	stats     tickStats
	snapshot  *model.ResourceSnapshot
	input     engine.Input
}

// New creates a new Daemon with the given config.
// The IPC server is injected to avoid circular imports.
func New(cfg *config.Config, ipcServer IPCServer, opts ...Option) *Daemon {
	d := &Daemon{
		cfg:   cfg,
		ipc:   ipcServer,
		log:   logger.Nop(),
		now:   time.Now,
		state: Stopped,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.Named("daemon")
	return d
}

// Start acquires the process lock, opens the store, restores persisted
// state, starts the collaborators and runs the tick loop. It blocks until a
// signal, Stop or a fatal collaborator error, then shuts down in order.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.mu.Unlock()

	ctx, cancel := signalContext(context.Background())
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel(context.Canceled)

	if err := d.open(ctx); err != nil {
		d.log.Error(ctx, "startup failed", logger.Error(err))
		d.closeResources(ctx)
		d.setState(Stopped)
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return err
	}

	runErr := d.serve(ctx)
	d.shutdown()
	return runErr
}

// open performs the STARTING phase. Any error here is fatal.
func (d *Daemon) open(ctx context.Context) error {
	d.setState(Starting)
	cfg := d.cfg

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	l, takeover, err := lock.Acquire(cfg.LockPath, lock.Options{
		HeartbeatInterval:   cfg.Daemon.HeartbeatInterval,
		StaleAfterIntervals: cfg.Daemon.StaleAfterIntervals,
	})
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	d.lock = l
	if takeover != nil {
		d.log.Warn(ctx, "took over stale process lock",
			logger.Int("previous_pid", takeover.Previous.PID),
			logger.String("previous_instance", takeover.Previous.Instance),
			logger.Duration("heartbeat_age", takeover.Age))
	}

	opts := store.OptionsFrom(cfg)
	opts.Logger = d.log
	w, err := store.Open(ctx, cfg.DBPath, opts)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	d.writer = w
	d.commit = w.CommitTick

	r, err := store.OpenReader(cfg.DBPath, cfg.Storage.BusyTimeout)
	if err != nil {
		return fmt.Errorf("open reader: %w", err)
	}
	d.reader = r

	if sa, ok := d.ipc.(StoreAware); ok {
		sa.SetStore(r)
	}

	if d.client == nil {
		c, err := biometric.New(cfg.Biometric)
		if err != nil {
			return err
		}
		d.client = c
	}

	d.est = shadow.New(cfg.Shadow)
	d.eng = engine.New(cfg.Engine, cfg.Biometric.Default)
	d.agg = telemetry.NewAggregator(cfg.Telemetry, telemetry.WithClock(d.now))
	d.poller = biometric.NewPoller(d.client, cfg.Biometric, cfg.Daemon.DayBoundaryHour, d.log, biometric.WithClock(d.now))
	d.historyLen = max(1, int(historySpan/cfg.Daemon.TickInterval))

	offsets, err := d.hydrate(ctx)
	if err != nil {
		return err
	}
	d.spool = telemetry.NewSpool(cfg.Telemetry, d.agg, offsets, d.log.Named("spool"))

	d.mu.Lock()
	d.startTime = d.now()
	d.mu.Unlock()
	return nil
}

// hydrate restores coefficients, debt, the last baseline and the spool
// offsets from the store.
func (d *Daemon) hydrate(ctx context.Context) (map[string]int64, error) {
	if c, err := d.reader.Coefficients(ctx); err == nil {
		d.est.Restore(c)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("restore coefficients: %w", err)
	}
	c := d.est.Coefficients()
	metrics.UpdateCoefficients(c.Alpha, c.Beta, c.Gamma)

	if snap, err := d.reader.Latest(ctx); err == nil {
		d.debt = snap.Debt
		d.lastTS = snap.Timestamp
		d.mu.Lock()
		d.snapshot = &snap
		d.mu.Unlock()
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}

	var baseline *model.DailyBaseline
	if b, err := d.reader.LatestBaseline(ctx); err == nil {
		baseline = &b
		d.savedBaseline = b.FetchedAt
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("restore baseline: %w", err)
	}

	var lastMeasured model.HeartRateSample
	now := d.now()
	if hr, err := d.reader.HeartRate(ctx, now.Add(-d.cfg.Biometric.HeartRateWindow), now, model.Measured); err == nil && len(hr) > 0 {
		lastMeasured = hr[len(hr)-1]
	}
	d.poller.Seed(baseline, lastMeasured)

	offsets, err := d.reader.Offsets(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore spool offsets: %w", err)
	}

	d.log.Info(ctx, "state restored",
		logger.Float64("debt", d.debt),
		logger.Bool("baseline", baseline != nil),
		logger.Int64("calibrations", c.Updates),
		logger.Int("spool_files", len(offsets)))
	return offsets, nil
}

// serve runs the tick loop and every collaborator until ctx ends or one of
// them fails.
func (d *Daemon) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if d.ipc != nil {
		g.Go(func() error {
			if err := d.ipc.Listen(d.cfg.SocketPath, gctx); err != nil {
				return fmt.Errorf("ipc: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := d.spool.Run(gctx); err != nil {
			d.log.Error(gctx, "spool stopped", logger.Error(err))
		}
		return nil
	})
	g.Go(func() error { return d.poller.Run(gctx) })
	if addr := d.cfg.MetricsAddr; addr != "" {
		g.Go(func() error {
			if err := metrics.Serve(gctx, addr, d.health); err != nil {
				d.log.Error(gctx, "metrics endpoint stopped", logger.String("addr", addr), logger.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error { d.heartbeatLoop(gctx); return nil })
	g.Go(func() error { d.maintenanceLoop(gctx); return nil })
	g.Go(func() error { return d.run(gctx) })

	d.log.Info(ctx, "daemon started",
		logger.Int("pid", os.Getpid()),
		logger.String("db", d.cfg.DBPath),
		logger.String("socket", d.cfg.SocketPath),
		logger.String("instance", d.lock.Info().Instance))

	err := g.Wait()
	if cause := context.Cause(ctx); cause != nil {
		d.log.Info(context.Background(), "shutdown requested", logger.String("cause", cause.Error()))
	}
	return err
}

// Stop triggers a graceful shutdown from outside (e.g. via IPC stop command).
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel(ErrStopRequested)
	}
}

// shutdown performs ordered teardown once every goroutine has returned: the
// final tick has already been flushed by the tick loop.
func (d *Daemon) shutdown() {
	ctx := context.Background()
	d.setState(Stopping)
	d.log.Info(ctx, "shutting down")

	if d.ipc != nil {
		if err := d.ipc.Stop(); err != nil {
			d.log.Warn(ctx, "ipc stop", logger.Error(err))
		}
	}
	d.closeResources(ctx)
	_ = os.Remove(d.cfg.SocketPath)

	d.setState(Stopped)
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	d.log.Info(ctx, "daemon stopped")
}

func (d *Daemon) closeResources(ctx context.Context) {
	if d.reader != nil {
		if err := d.reader.Close(); err != nil {
			d.log.Warn(ctx, "reader close", logger.Error(err))
		}
	}
	if d.writer != nil {
		if err := d.writer.Close(); err != nil {
			d.log.Warn(ctx, "store close", logger.Error(err))
		}
	}
	if d.lock != nil {
		if err := d.lock.Release(); err != nil {
			d.log.Warn(ctx, "lock release", logger.Error(err))
		}
	}
}

// Running returns true if the daemon is currently running.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startTime.IsZero() {
		return 0
	}
	return d.now().Sub(d.startTime)
}

// Config returns the daemon's configuration.
func (d *Daemon) Config() *config.Config {
	return d.cfg
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"queue-monitor/internal/status"
	"queue-monitor/models"
	"queue-monitor/monitoring"
)

// SnapshotSource produces full queue snapshots from the upstream service.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, queueID string) (models.Snapshot, error)
	Login(ctx context.Context, email, password string) error
	// SessionExpired reports whether the current login session is gone.
	SessionExpired(ctx context.Context) (bool, error)
}

type Credentials struct {
	Email    string
	Password string
}

func (c Credentials) Empty() bool {
	return c.Email == "" || c.Password == ""
}

type MonitorState string

const (
	StateNeedsLogin MonitorState = "needs_login"
	StateActive     MonitorState = "active"
	StateDegraded   MonitorState = "degraded"
)

var monitorStates = []string{string(StateNeedsLogin), string(StateActive), string(StateDegraded)}

const (
	defaultInterval = 10 * time.Second
	defaultCooldown = 5 * time.Second
)

type MonitorOptions struct {
	QueueID     string
	Credentials Credentials
	Interval    time.Duration
	// FetchTimeout bounds each upstream call. Zero leaves calls unbounded.
	FetchTimeout time.Duration
	// Cooldown is the pause after a timed out call before logging in again.
	Cooldown time.Duration
	// StartDelay postpones the first cycle.
	StartDelay time.Duration
	// ProbeRate is the chance, per cycle, of checking whether the session
	// expired. 1 probes every cycle, 0 never does.
	ProbeRate float64
}

// Monitor polls one queue and feeds every snapshot through the orchestrator.
// A Monitor is not safe for concurrent use; run one per queue.
type Monitor struct {
	opts         MonitorOptions
	source       SnapshotSource
	orchestrator *Orchestrator
	metrics      *monitoring.Monitor
	logger       *slog.Logger

	state MonitorState
	last  *models.Snapshot

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

func NewMonitor(source SnapshotSource, orchestrator *Orchestrator, opts MonitorOptions, metrics *monitoring.Monitor, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}
	return &Monitor{
		opts:         opts,
		source:       source,
		orchestrator: orchestrator,
		metrics:      metrics,
		logger:       logger.With("queue_id", opts.QueueID),
		state:        StateNeedsLogin,
		now:          time.Now,
		sleep:        sleepCtx,
		rand:         rand.Float64,
	}
}

func (m *Monitor) QueueID() string {
	return m.opts.QueueID
}

func (m *Monitor) State() MonitorState {
	return m.state
}

// Run polls until ctx is cancelled, which is not an error. Any failure other
// than an upstream timeout stops the loop and is returned.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor starting", "interval", m.opts.Interval, "start_delay", m.opts.StartDelay)
	m.metrics.SetState(m.opts.QueueID, string(m.state), monitorStates)

	if err := m.sleep(ctx, m.opts.StartDelay); err != nil {
		return nil
	}
	if err := m.seed(ctx); err != nil {
		return fmt.Errorf("monitor %s: %w", m.opts.QueueID, err)
	}

	for {
		wait, err := m.cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			m.logger.Error("monitor stopped", "error", err)
			return fmt.Errorf("monitor %s: %w", m.opts.QueueID, err)
		}
		if err := m.sleep(ctx, wait); err != nil {
			break
		}
	}

	m.logger.Info("monitor stopping")
	return nil
}

// seed restores the last observed snapshot from the ledger so the first
// cycle after a restart diffs against what was actually seen last.
func (m *Monitor) seed(ctx context.Context) error {
	latest, err := m.orchestrator.Ledger().Latest(ctx, m.opts.QueueID)
	if err != nil {
		return fmt.Errorf("load latest snapshot: %w", err)
	}
	if latest != nil {
		snap := latest.Snapshot
		m.last = &snap
		m.logger.Info("resuming from ledger", "observed_at", latest.Timestamp, "state", snap.State)
	}
	return nil
}

// cycle runs one poll and returns how long to wait before the next one.
func (m *Monitor) cycle(ctx context.Context) (time.Duration, error) {
	start := m.now()
	if m.state == StateDegraded {
		m.setState(StateNeedsLogin)
	}

	if err := m.ensureSession(ctx); err != nil {
		if m.timedOut(ctx, err) {
			return m.degrade(err), nil
		}
		return 0, err
	}

	snap, err := m.fetch(ctx)
	if err != nil {
		if m.timedOut(ctx, err) {
			return m.degrade(err), nil
		}
		return 0, fmt.Errorf("fetch snapshot: %w", err)
	}

	prev := snap
	if m.last != nil {
		prev = *m.last
	}
	res, err := m.orchestrator.ProcessUpdate(ctx, m.opts.QueueID, prev, snap, m.now(), true)
	if err != nil {
		return 0, err
	}
	m.last = &snap

	duration := m.now().Sub(start)
	m.metrics.TrackRequest(m.opts.QueueID, true, duration)
	m.logger.Info("queue retrieved",
		"entries", len(snap.Entries),
		"state", snap.State,
		"transitions", len(res.Transitions),
		"duration", duration,
	)
	return m.opts.Interval, nil
}

func (m *Monitor) ensureSession(ctx context.Context) error {
	if m.opts.Credentials.Empty() {
		m.setState(StateActive)
		return nil
	}

	relogin := m.state == StateNeedsLogin
	if !relogin && m.shouldProbe() {
		callCtx, cancel := m.callContext(ctx)
		expired, err := m.source.SessionExpired(callCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("probe session: %w", err)
		}
		relogin = expired
	}
	if !relogin {
		return nil
	}

	m.logger.Info("logging in")
	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	if err := m.source.Login(callCtx, m.opts.Credentials.Email, m.opts.Credentials.Password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	m.metrics.TrackLogin(m.opts.QueueID)
	m.setState(StateActive)
	return nil
}

func (m *Monitor) fetch(ctx context.Context) (models.Snapshot, error) {
	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	return m.source.FetchSnapshot(callCtx, m.opts.QueueID)
}

func (m *Monitor) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.FetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.opts.FetchTimeout)
}

// timedOut reports whether err is an upstream timeout rather than the
// caller's own cancellation.
func (m *Monitor) timedOut(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, status.ErrFetchTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func (m *Monitor) degrade(err error) time.Duration {
	m.metrics.TrackRequest(m.opts.QueueID, false, 0)
	m.setState(StateDegraded)
	m.logger.Warn("queue did not answer in time, logging in again after cooldown",
		"cooldown", m.opts.Cooldown,
		"error", err,
	)
	return m.opts.Cooldown
}

func (m *Monitor) shouldProbe() bool {
	switch {
	case m.opts.ProbeRate >= 1:
		return true
	case m.opts.ProbeRate <= 0:
		return false
	default:
		return m.rand() < m.opts.ProbeRate
	}
}

func (m *Monitor) setState(state MonitorState) {
	if m.state == state {
		return
	}
	m.logger.Debug("monitor state", "from", m.state, "to", state)
	m.state = state
	m.metrics.SetState(m.opts.QueueID, string(state), monitorStates)
}

// StaggerOffsets spreads n first cycles evenly across one interval.
func StaggerOffsets(n int, interval time.Duration) []time.Duration {
	offsets := make([]time.Duration, n)
	for i := range offsets {
		offsets[i] = time.Duration(i) * interval / time.Duration(n)
	}
	return offsets
}

// MonitorAll runs every monitor in its own goroutine, staggering their first
// cycles across the interval. A failing monitor does not stop the others;
// the first failure is returned once all of them have returned.
func MonitorAll(ctx context.Context, monitors ...*Monitor) error {
	if len(monitors) == 0 {
		return nil
	}

	offsets := StaggerOffsets(len(monitors), monitors[0].opts.Interval)
	var g errgroup.Group
	for i, m := range monitors {
		if m.opts.StartDelay == 0 {
			m.opts.StartDelay = offsets[i]
		}
		g.Go(func() error {
			return m.Run(ctx)
		})
	}
	return g.Wait()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

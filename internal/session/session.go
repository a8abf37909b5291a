// Package session owns the authenticated relationship with the upstream
// download service: connecting, picking the target device, renewing and
// retrying actions whose session expired.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/italolelis/jdownloader_remote/internal/logctx"
	"github.com/italolelis/jdownloader_remote/internal/schedule"
	"github.com/italolelis/jdownloader_remote/internal/telemetry"
	"github.com/italolelis/jdownloader_remote/internal/upstream"
)

var (
	// ErrNotConnected wraps every failure to obtain a session.
	ErrNotConnected = errors.New("not connected to JDownloader")
	// ErrNoDevicesAvailable is returned when the account has no devices.
	ErrNoDevicesAvailable = errors.New("no JDownloader devices available")
)

const eventBuffer = 16

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Session is a point-in-time view of the connection.
type Session struct {
	State          State
	Devices        []upstream.Device
	TargetDeviceID string
}

func (s Session) Connected() bool {
	return s.State == Connected
}

// Target returns the selected device, if any.
func (s Session) Target() (upstream.Device, bool) {
	for _, d := range s.Devices {
		if d.ID == s.TargetDeviceID {
			return d, s.TargetDeviceID != ""
		}
	}

	return upstream.Device{}, false
}

// StateChange is published whenever the session goes up, goes down or
// switches target device.
type StateChange struct {
	Connected bool
	Target    upstream.Device
	Err       error
	At        time.Time
}

type Options struct {
	PreferredDevice string
	RenewInterval   time.Duration
	MonitorInterval time.Duration
	Telemetry       *telemetry.Telemetry
}

// Manager serialises all session mutations. No upstream call is made while
// holding the lock; concurrent connects collapse into one.
type Manager struct {
	client upstream.Client
	creds  upstream.Credentials
	opts   Options
	group  singleflight.Group
	events chan StateChange

	mu         sync.RWMutex
	session    Session
	generation uint64
}

func NewManager(client upstream.Client, creds upstream.Credentials, opts Options) *Manager {
	return &Manager{
		client: client,
		creds:  creds,
		opts:   opts,
		events: make(chan StateChange, eventBuffer),
	}
}

// Events delivers state changes. Events are dropped when nobody keeps up.
func (m *Manager) Events() <-chan StateChange {
	return m.events
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.session
	s.Devices = slices.Clone(s.Devices)

	return s
}

// EnsureConnected connects and selects a target device unless a session is
// already live, in which case it returns without any network call.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	m.mu.RLock()
	connected := m.session.Connected()
	m.mu.RUnlock()

	if connected {
		return nil
	}

	return m.connect(ctx, "ensure")
}

// Renew re-runs the connect sequence even when a session is live. The current
// session keeps serving until the new one replaces it.
func (m *Manager) Renew(ctx context.Context) error {
	return m.connect(ctx, "renew")
}

// WithSession runs action against the target device. When the action reports
// an expired session, the manager reconnects and retries it exactly once; the
// second failure is returned as is.
func (m *Manager) WithSession(ctx context.Context, action func(ctx context.Context, deviceID string) error) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := m.EnsureConnected(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	deviceID, gen := m.current()

	err := action(ctx, deviceID)

	var authErr *upstream.AuthExpiredError
	if !errors.As(err, &authErr) {
		return err
	}

	logger.WarnContext(ctx, "session expired, reconnecting", "operation", authErr.Operation)
	m.expire(ctx, gen, err)

	if err := m.EnsureConnected(ctx); err != nil {
		m.opts.Telemetry.RecordSessionRetry(ctx, "error")
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	deviceID, _ = m.current()

	err = action(ctx, deviceID)
	if err != nil {
		m.opts.Telemetry.RecordSessionRetry(ctx, "error")
		return err
	}

	m.opts.Telemetry.RecordSessionRetry(ctx, "success")

	return nil
}

// Monitor keeps the session up: it connects right away and then again after
// every attempt with a fixed delay, until ctx is cancelled.
func (m *Manager) Monitor(ctx context.Context, clock schedule.Clock) <-chan struct{} {
	return schedule.Start(ctx, clock, schedule.Task{
		Name:      "session_monitor",
		Interval:  m.opts.MonitorInterval,
		Immediate: true,
		Run:       m.EnsureConnected,
	})
}

// RenewPeriodically rotates the session every RenewInterval, first one
// interval after start.
func (m *Manager) RenewPeriodically(ctx context.Context, clock schedule.Clock) <-chan struct{} {
	return schedule.Start(ctx, clock, schedule.Task{
		Name:     "session_renew",
		Interval: m.opts.RenewInterval,
		Run:      m.Renew,
	})
}

// Disconnect closes the upstream session. Upstream errors are logged and
// swallowed; the session is always left disconnected.
func (m *Manager) Disconnect(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	if err := m.client.Disconnect(ctx); err != nil {
		logger.WarnContext(ctx, "failed to disconnect from upstream", "err", err)
	}

	m.update(ctx, func(s *Session) {
		s.State = Disconnected
	}, nil)

	m.opts.Telemetry.SetSessionConnected(ctx, false)
	logger.InfoContext(ctx, "disconnected from upstream")
}

func (m *Manager) connect(ctx context.Context, reason string) error {
	// The connect is shared between callers, so it must not die with the
	// request that happened to start it.
	shared := context.WithoutCancel(ctx)

	_, err, _ := m.group.Do("connect", func() (any, error) {
		return nil, m.opts.Telemetry.InstrumentSessionConnect(shared, reason, m.doConnect)
	})

	return err
}

func (m *Manager) doConnect(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	m.mu.Lock()
	if m.session.State == Disconnected {
		m.session.State = Connecting
	}
	m.mu.Unlock()

	if err := m.client.Connect(ctx, m.creds); err != nil {
		logger.ErrorContext(ctx, "failed to connect to upstream", "err", err)
		m.update(ctx, func(s *Session) { s.State = Disconnected }, err)

		return fmt.Errorf("failed to connect: %w", err)
	}

	devices, err := m.client.ListDevices(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list devices", "err", err)
		m.update(ctx, func(s *Session) { s.State = Disconnected }, err)

		return fmt.Errorf("failed to list devices: %w", err)
	}

	if len(devices) == 0 {
		logger.ErrorContext(ctx, "no devices registered with the account")
		m.update(ctx, func(s *Session) {
			s.State = Disconnected
			s.Devices = nil
			s.TargetDeviceID = ""
		}, ErrNoDevicesAvailable)

		return ErrNoDevicesAvailable
	}

	target, matched := selectDevice(devices, m.opts.PreferredDevice)
	if !matched {
		logger.WarnContext(ctx, "preferred device not found, using first device",
			"preferred", m.opts.PreferredDevice, "device", target.Name)
	}

	m.update(ctx, func(s *Session) {
		s.State = Connected
		s.Devices = slices.Clone(devices)
		s.TargetDeviceID = target.ID
	}, nil)

	logger.InfoContext(ctx, "connected to upstream",
		"device", target.Name, "device_id", target.ID, "devices", len(devices))

	return nil
}

// selectDevice picks the device named preferred, or the first one.
func selectDevice(devices []upstream.Device, preferred string) (upstream.Device, bool) {
	for _, d := range devices {
		if d.Name == preferred {
			return d, true
		}
	}

	return devices[0], false
}

func (m *Manager) current() (string, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.session.TargetDeviceID, m.generation
}

// expire marks the session down unless it was updated since gen.
func (m *Manager) expire(ctx context.Context, gen uint64, cause error) {
	m.mu.RLock()
	stale := m.generation != gen
	m.mu.RUnlock()

	if stale {
		return
	}

	m.update(ctx, func(s *Session) { s.State = Disconnected }, cause)
	m.opts.Telemetry.SetSessionConnected(ctx, false)
}

// update applies fn under the lock, starts a new generation and publishes a
// StateChange when the connected flag or the target device changed.
func (m *Manager) update(ctx context.Context, fn func(s *Session), cause error) {
	m.mu.Lock()

	prev := m.session
	fn(&m.session)
	next := m.session

	m.generation++

	changed := prev.Connected() != next.Connected() ||
		(next.Connected() && prev.TargetDeviceID != next.TargetDeviceID)

	m.mu.Unlock()

	if !changed {
		return
	}

	target, _ := next.Target()
	event := StateChange{Connected: next.Connected(), Target: target, Err: cause, At: time.Now()}

	select {
	case m.events <- event:
	default:
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "dropping session state change, no listener")
	}
}

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/jdownloader_remote/internal/upstream"
)

type fakeClient struct {
	mu sync.Mutex

	devices       []upstream.Device
	connectErr    error
	listErr       error
	disconnectErr error
	connectGate   chan struct{}

	connects    atomic.Int64
	lists       atomic.Int64
	disconnects atomic.Int64
}

func (c *fakeClient) Connect(context.Context, upstream.Credentials) error {
	c.connects.Add(1)

	if c.connectGate != nil {
		<-c.connectGate
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectErr
}

func (c *fakeClient) ListDevices(context.Context) ([]upstream.Device, error) {
	c.lists.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.devices, c.listErr
}

func (c *fakeClient) setConnectErr(err error) {
	c.mu.Lock()
	c.connectErr = err
	c.mu.Unlock()
}

func (c *fakeClient) AddLinks(context.Context, string, []string, bool) (*upstream.AddResult, error) {
	return &upstream.AddResult{}, nil
}

func (c *fakeClient) QueryLinks(context.Context, string) ([]upstream.Link, error) {
	return nil, nil
}

func (c *fakeClient) QueryPackages(context.Context, string, []int64) ([]upstream.Package, error) {
	return nil, nil
}

func (c *fakeClient) Disconnect(context.Context) error {
	c.disconnects.Add(1)
	return c.disconnectErr
}

var twoDevices = []upstream.Device{{ID: "1", Name: "A"}, {ID: "2", Name: "B"}}

func newManager(client *fakeClient, preferred string) *Manager {
	return NewManager(client, upstream.Credentials{Email: "user@example.com", Password: "secret"}, Options{
		PreferredDevice: preferred,
		RenewInterval:   30 * time.Minute,
		MonitorInterval: time.Minute,
	})
}

func TestEnsureConnected_SelectsTargetDevice(t *testing.T) {
	tests := []struct {
		name      string
		preferred string
		want      string
	}{
		{"preferred present", "B", "2"},
		{"preferred absent falls back to first", "C", "1"},
		{"empty preference falls back to first", "", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(&fakeClient{devices: twoDevices}, tt.preferred)

			require.NoError(t, m.EnsureConnected(context.Background()))

			s := m.Snapshot()
			assert.True(t, s.Connected())
			assert.Equal(t, tt.want, s.TargetDeviceID)
			assert.Equal(t, twoDevices, s.Devices)
		})
	}
}

func TestEnsureConnected_IsIdempotentWhenConnected(t *testing.T) {
	client := &fakeClient{devices: twoDevices}
	m := newManager(client, "A")
	ctx := context.Background()

	require.NoError(t, m.EnsureConnected(ctx))
	require.NoError(t, m.EnsureConnected(ctx))
	require.NoError(t, m.EnsureConnected(ctx))

	assert.Equal(t, int64(1), client.connects.Load())
	assert.Equal(t, int64(1), client.lists.Load())
}

func TestEnsureConnected_NoDevices(t *testing.T) {
	client := &fakeClient{devices: twoDevices}
	m := newManager(client, "A")
	ctx := context.Background()

	require.NoError(t, m.Renew(ctx))
	require.Equal(t, "1", m.Snapshot().TargetDeviceID)

	client.mu.Lock()
	client.devices = nil
	client.mu.Unlock()

	err := m.Renew(ctx)
	require.ErrorIs(t, err, ErrNoDevicesAvailable)

	s := m.Snapshot()
	assert.False(t, s.Connected())
	assert.Empty(t, s.TargetDeviceID)
	assert.Empty(t, s.Devices)
}

func TestEnsureConnected_UpstreamFailureMarksDisconnected(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
	}{
		{"connect fails", &fakeClient{devices: twoDevices, connectErr: errors.New("bad credentials")}},
		{"list devices fails", &fakeClient{listErr: errors.New("timeout")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(tt.client, "A")

			err := m.EnsureConnected(context.Background())
			require.Error(t, err)
			assert.False(t, m.Snapshot().Connected())
			assert.Equal(t, Disconnected, m.Snapshot().State)
		})
	}
}

func TestEnsureConnected_ConcurrentCallersShareOneConnect(t *testing.T) {
	client := &fakeClient{devices: twoDevices, connectGate: make(chan struct{})}
	m := newManager(client, "A")

	const callers = 10

	var wg sync.WaitGroup

	errs := make(chan error, callers)

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			errs <- m.EnsureConnected(context.Background())
		}()
	}

	require.Eventually(t, func() bool { return client.connects.Load() == 1 }, 2*time.Second, time.Millisecond)
	close(client.connectGate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), client.connects.Load())
	assert.True(t, m.Snapshot().Connected())
}

func TestRenew_ReconnectsUnconditionally(t *testing.T) {
	client := &fakeClient{devices: twoDevices}
	m := newManager(client, "B")
	ctx := context.Background()

	require.NoError(t, m.EnsureConnected(ctx))
	require.NoError(t, m.Renew(ctx))

	assert.Equal(t, int64(2), client.connects.Load())
	assert.Equal(t, "2", m.Snapshot().TargetDeviceID)
}

func TestWithSession(t *testing.T) {
	expired := func() error { return &upstream.AuthExpiredError{Operation: "query_links", StatusCode: 403} }

	tests := []struct {
		name         string
		results      []func() error
		wantCalls    int
		wantConnects int64
		wantErr      func(t *testing.T, err error, returned []error)
	}{
		{
			name:         "success on first try",
			results:      []func() error{func() error { return nil }},
			wantCalls:    1,
			wantConnects: 1,
		},
		{
			name:         "auth expiry retried once after reconnect",
			results:      []func() error{expired, func() error { return nil }},
			wantCalls:    2,
			wantConnects: 2,
		},
		{
			name:         "second failure surfaces unmodified",
			results:      []func() error{expired, expired},
			wantCalls:    2,
			wantConnects: 2,
			wantErr: func(t *testing.T, err error, returned []error) {
				assert.Same(t, returned[1], err)
			},
		},
		{
			name:         "non auth error is not retried",
			results:      []func() error{func() error { return errors.New("device offline") }},
			wantCalls:    1,
			wantConnects: 1,
			wantErr: func(t *testing.T, err error, returned []error) {
				assert.Same(t, returned[0], err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{devices: twoDevices}
			m := newManager(client, "B")

			var (
				calls    int
				returned []error
				devices  []string
			)

			err := m.WithSession(context.Background(), func(_ context.Context, deviceID string) error {
				devices = append(devices, deviceID)
				result := tt.results[calls]()
				calls++
				returned = append(returned, result)

				return result
			})

			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantConnects, client.connects.Load())

			for _, d := range devices {
				assert.Equal(t, "2", d)
			}

			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			tt.wantErr(t, err, returned)
		})
	}
}

func TestWithSession_NotConnected(t *testing.T) {
	client := &fakeClient{devices: twoDevices, connectErr: errors.New("service down")}
	m := newManager(client, "A")

	called := false
	err := m.WithSession(context.Background(), func(context.Context, string) error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, called)
}

func TestWithSession_ReconnectFailsAfterExpiry(t *testing.T) {
	client := &fakeClient{devices: twoDevices}
	m := newManager(client, "A")

	calls := 0
	err := m.WithSession(context.Background(), func(context.Context, string) error {
		calls++
		client.setConnectErr(errors.New("service down"))

		return &upstream.AuthExpiredError{Operation: "add_links"}
	})

	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 1, calls)
	assert.False(t, m.Snapshot().Connected())
}

func TestDisconnect_SwallowsErrors(t *testing.T) {
	client := &fakeClient{devices: twoDevices, disconnectErr: errors.New("already gone")}
	m := newManager(client, "A")
	ctx := context.Background()

	require.NoError(t, m.EnsureConnected(ctx))

	m.Disconnect(ctx)

	assert.Equal(t, int64(1), client.disconnects.Load())
	assert.False(t, m.Snapshot().Connected())
}

func TestEvents(t *testing.T) {
	client := &fakeClient{devices: twoDevices}
	m := newManager(client, "B")
	ctx := context.Background()

	require.NoError(t, m.EnsureConnected(ctx))

	up := <-m.Events()
	assert.True(t, up.Connected)
	assert.Equal(t, upstream.Device{ID: "2", Name: "B"}, up.Target)

	// Renewing a live session with the same target is not a state change.
	require.NoError(t, m.Renew(ctx))
	assert.Empty(t, m.Events())

	m.Disconnect(ctx)

	down := <-m.Events()
	assert.False(t, down.Connected)
}

// manualClock fires a wait only when the test says so.
type manualClock struct {
	waits chan chan time.Time
}

func (c *manualClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.waits <- ch

	return ch
}

func TestMonitor_RetriesUntilConnected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{devices: twoDevices, connectErr: errors.New("service down")}
	m := newManager(client, "A")
	clock := &manualClock{waits: make(chan chan time.Time, 4)}

	done := m.Monitor(ctx, clock)

	first := <-clock.waits
	assert.Equal(t, int64(1), client.connects.Load(), "monitor connects immediately")
	assert.False(t, m.Snapshot().Connected())

	client.setConnectErr(nil)
	first <- time.Now()

	second := <-clock.waits
	assert.True(t, m.Snapshot().Connected())
	assert.Equal(t, int64(2), client.connects.Load())

	// Connected: the next pass is a no-op.
	second <- time.Now()
	<-clock.waits
	assert.Equal(t, int64(2), client.connects.Load())

	cancel()
	<-done
}

func TestSession_Target(t *testing.T) {
	s := Session{State: Connected, Devices: twoDevices, TargetDeviceID: "2"}

	target, ok := s.Target()
	require.True(t, ok)
	assert.Equal(t, "B", target.Name)

	_, ok = Session{}.Target()
	assert.False(t, ok)
}

package whatsapp

import (
	"context"
	"sync"
	"testing"
	"time"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagateway/internal/domain"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestController(t *testing.T, f *fakeFactory, delay time.Duration) *Controller {
	t.Helper()
	c := NewController(f, delay, EventBus.New())
	t.Cleanup(c.Stop)
	return c
}

func waitStatus(t *testing.T, c *Controller, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Snapshot().Status == want }, waitFor, tick,
		"status never became %s (now %s)", want, c.Snapshot().Status)
}

func connect(t *testing.T, c *Controller, f *fakeFactory) *fakeSession {
	t.Helper()
	require.NoError(t, c.Start(context.Background()))
	s := f.last()
	s.emit(Event{Kind: EventOpened, Identity: Identity{ID: "6281100@s.whatsapp.net", Name: "Shop"}})
	waitStatus(t, c, StatusConnected)
	return s
}

func TestControllerPairingThenConnected(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(t, f, time.Hour)

	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, 1, f.count())

	f.last().emit(Event{Kind: EventPairing, Code: "2@abc"})
	waitStatus(t, c, StatusAwaitingScan)
	assert.Equal(t, "2@abc", c.Snapshot().Pairing)

	f.last().emit(Event{Kind: EventOpened, Identity: Identity{ID: "62811@s.whatsapp.net", Name: "Shop"}})
	waitStatus(t, c, StatusConnected)
	snap := c.Snapshot()
	assert.Empty(t, snap.Pairing)
	assert.Equal(t, "Shop", snap.Identity.Name)
}

func TestControllerStartIsNoopWhileActive(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(t, f, time.Hour)
	connect(t, c, f)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, 1, f.count())
	assert.Equal(t, StatusConnected, c.Snapshot().Status)
}

func TestControllerConcurrentStartsCollapse(t *testing.T) {
	f := &fakeFactory{slow: 20 * time.Millisecond}
	c := newTestController(t, f, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Start(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.count())
	assert.Equal(t, int32(1), f.maxOpen.Load())
}

func TestControllerRestartsOnceAfterClose(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(t, f, 20*time.Millisecond)
	first := connect(t, c, f)

	first.emit(Event{Kind: EventClosed, Reason: ReasonConnectionLost})
	first.emit(Event{Kind: EventClosed, Reason: ReasonConnectionLost})

	require.Eventually(t, func() bool { return f.count() == 2 }, waitFor, tick)
	assert.True(t, first.closed.Load(), "old session torn down before restart")

	// stray events from the replaced session are dropped
	first.emit(Event{Kind: EventClosed, Reason: ReasonConnectionLost})
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 2, f.count())
	assert.Equal(t, int32(1), f.maxOpen.Load(), "sessions never overlap")
	assert.Equal(t, uint64(2), c.Snapshot().Gen)
}

func TestControllerNoRestartAfterLogout(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(t, f, 10*time.Millisecond)
	connect(t, c, f)

	require.NoError(t, c.Logout(context.Background()))
	waitStatus(t, c, StatusLoggedOut)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, f.count())
	assert.Equal(t, StatusLoggedOut, c.Snapshot().Status)

	// an operator start leaves the terminal state
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, 2, f.count())
	assert.Equal(t, StatusUninitialized, c.Snapshot().Status)
}

func TestControllerLogoutRequiresConnection(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(t, f, time.Hour)
	assert.ErrorIs(t, c.Logout(context.Background()), domain.ErrNotConnected)

	_, err := c.Send(context.Background(), "6281@s.whatsapp.net", "hi")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestControllerConnectFailureSchedulesRestart(t *testing.T) {
	f := &fakeFactory{connectErr: errBoom}
	c := NewController(f, 15*time.Millisecond, nil)

	assert.ErrorIs(t, c.Start(context.Background()), errBoom)
	assert.NotEqual(t, StatusConnected, c.Snapshot().Status)
	require.Eventually(t, func() bool { return f.count() >= 2 }, waitFor, tick)

	c.Stop()
	n := f.count()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, f.count(), "no restart after stop")
}

func TestControllerForwardsInbound(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(t, f, time.Hour)
	rec := &recordingInbound{}
	c.SetInboundHandler(rec)
	s := connect(t, c, f)

	s.emit(Event{Kind: EventMessage, Message: &InboundEvent{Sender: "6281@s.whatsapp.net", Content: "halo"}})
	require.Eventually(t, func() bool { return rec.len() == 1 }, waitFor, tick)
	assert.Equal(t, StatusConnected, c.Snapshot().Status)
}

func TestControllerPublishesActivity(t *testing.T) {
	f := &fakeFactory{}
	bus := EventBus.New()
	log := NewActivityLog(10)
	require.NoError(t, log.Subscribe(bus))
	c := NewController(f, time.Hour, bus)
	t.Cleanup(c.Stop)

	s := connect(t, c, f)
	s.emit(Event{Kind: EventMessage, Message: &InboundEvent{Sender: "6281@s.whatsapp.net", Content: "halo"}})

	require.Eventually(t, func() bool { return log.Len() >= 3 }, waitFor, tick)
	recent := log.Recent()
	assert.Equal(t, ActivityIncoming, recent[0].Type)
	assert.Equal(t, ActivityState, recent[1].Type)
	assert.Equal(t, StatusConnected.String(), recent[1].Status)
}

func TestControllerStopClosesSession(t *testing.T) {
	f := &fakeFactory{}
	c := NewController(f, 10*time.Millisecond, nil)
	s := connect(t, c, f)

	c.Stop()
	assert.True(t, s.closed.Load())
	assert.Equal(t, StatusDisconnected, c.Snapshot().Status)
	assert.ErrorIs(t, c.Start(context.Background()), ErrControllerStopped)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, f.count())
}

func TestControllerRestartWaitsForTeardown(t *testing.T) {
	f := &fakeFactory{closeDelay: 200 * time.Millisecond}
	c := newTestController(t, f, 20*time.Millisecond)
	first := connect(t, c, f)

	first.emit(Event{Kind: EventClosed, Reason: ReasonConnectionLost})
	require.Eventually(t, func() bool { return f.count() == 2 }, waitFor, tick)
	require.NoError(t, c.Start(context.Background()))
	f.last().emit(Event{Kind: EventOpened, Identity: Identity{ID: "6281100@s.whatsapp.net"}})
	waitStatus(t, c, StatusConnected)

	assert.Equal(t, 2, f.count())
	assert.Equal(t, int32(1), f.maxOpen.Load(), "new session connected while the old one was closing")
}

func TestControllerLifecycleNotBlockedByInbound(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(t, f, time.Hour)
	in := &blockingInbound{release: make(chan struct{})}
	t.Cleanup(func() { close(in.release) })
	c.SetInboundHandler(in)
	s := connect(t, c, f)

	for i := 0; i < 3; i++ {
		s.emit(Event{Kind: EventMessage, Message: &InboundEvent{Sender: "6281@s.whatsapp.net", Content: "halo"}})
	}
	require.Eventually(t, func() bool { return in.entered.Load() == 1 }, waitFor, tick)

	s.emit(Event{Kind: EventClosed, Reason: ReasonConnectionLost})
	waitStatus(t, c, StatusDisconnected)
	assert.True(t, s.closed.Load())
}

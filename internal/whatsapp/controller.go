package whatsapp

import (
	"context"
	"errors"
	"sync"
	"time"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/talkincode/wagateway/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrControllerStopped = errors.New("whatsapp controller stopped")

const (
	eventBufferSize   = 64
	inboundBufferSize = 256
)

// sessionHandle binds a session to the generation it was created for. Once
// detached, events emitted by the session are dropped. closed is closed when
// the session has fully torn down.
type sessionHandle struct {
	gen       uint64
	session   Session
	done      chan struct{}
	once      sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

func newSessionHandle(gen uint64) *sessionHandle {
	return &sessionHandle{gen: gen, done: make(chan struct{}), closed: make(chan struct{})}
}

func (h *sessionHandle) detach() {
	h.once.Do(func() { close(h.done) })
}

// teardown closes the session once and blocks until Close has returned.
func (h *sessionHandle) teardown() {
	h.closeOnce.Do(func() {
		if h.session != nil {
			h.session.Close()
		}
		close(h.closed)
	})
	<-h.closed
}

// Controller owns the single WhatsApp session and its lifecycle state.
type Controller struct {
	factory SessionFactory
	delay   time.Duration
	bus     EventBus.Bus

	mu       sync.Mutex
	state    State
	handle   *sessionHandle
	retiring *sessionHandle
	restart  *time.Timer
	inbound  InboundHandler
	stopped  bool
	starting singleflight.Group

	events    chan Event
	inboundCh chan InboundEvent
	ctx       context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a controller and starts its event loop. No session is
// created until Start is called.
func NewController(factory SessionFactory, reconnectDelay time.Duration, bus EventBus.Bus) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		factory: factory,
		delay:   reconnectDelay,
		bus:     bus,
		state:   State{Status: StatusUninitialized, Since: time.Now()},
		events:  make(chan Event, eventBufferSize),
		ctx:     ctx,
		cancel:  cancel,

		inboundCh: make(chan InboundEvent, inboundBufferSize),
	}
	c.wg.Add(2)
	go c.loop()
	go c.forwardInbound()
	return c
}

// SetInboundHandler sets the receiver of inbound message events.
func (c *Controller) SetInboundHandler(h InboundHandler) {
	c.mu.Lock()
	c.inbound = h
	c.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start creates a fresh session and connects it. Concurrent calls collapse
// into one attempt. It is a no-op while connected, awaiting a scan or still
// connecting. The session lives on the controller context, ctx only bounds
// the call itself.
func (c *Controller) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err, _ := c.starting.Do("start", func() (interface{}, error) {
		return nil, c.start()
	})
	return err
}

func (c *Controller) start() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrControllerStopped
	}
	switch {
	case c.state.Status == StatusConnected, c.state.Status == StatusAwaitingScan:
		c.mu.Unlock()
		return nil
	case c.state.Status == StatusUninitialized && c.handle != nil:
		// a connection attempt is already in progress
		c.mu.Unlock()
		return nil
	}
	c.cancelRestartLocked()
	old := c.detachLocked()
	from := c.state.Status
	ev := Event{Kind: EventStarted, At: time.Now()}
	next, _ := Transition(c.state, ev)
	c.state = next
	gen := next.Gen
	retiring := c.retiring
	c.mu.Unlock()

	if old != nil {
		old.teardown()
	}
	c.publishState(from, next, ev)
	if retiring != nil {
		select {
		case <-retiring.closed:
		case <-c.ctx.Done():
			return ErrControllerStopped
		}
	}
	zap.L().Info("whatsapp: starting session", zap.Uint64("gen", gen))

	h := newSessionHandle(gen)
	sess, err := c.factory.NewSession(c.ctx, c.emitterFor(h))
	if err != nil {
		zap.L().Error("whatsapp: create session failed", zap.Uint64("gen", gen), zap.Error(err))
		c.apply(Event{Kind: EventClosed, Gen: gen, At: time.Now(), Reason: ReasonConnectFailed})
		return err
	}
	h.session = sess

	c.mu.Lock()
	if c.stopped || c.state.Gen != gen {
		c.mu.Unlock()
		h.detach()
		h.teardown()
		return ErrControllerStopped
	}
	c.handle = h
	c.mu.Unlock()

	if err := sess.Connect(c.ctx); err != nil {
		zap.L().Warn("whatsapp: connect failed", zap.Uint64("gen", gen), zap.Error(err))
		c.apply(Event{Kind: EventClosed, Gen: gen, At: time.Now(), Reason: ReasonConnectFailed})
		return err
	}
	return nil
}

// Logout asks the transport to unlink the device. The resulting Closed(logout)
// event moves the state to LoggedOut.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	h := c.handle
	status := c.state.Status
	c.mu.Unlock()
	if h == nil || status != StatusConnected {
		return domain.ErrNotConnected
	}
	zap.L().Info("whatsapp: logout requested", zap.Uint64("gen", h.gen))
	return h.session.Logout(ctx)
}

// Send delivers text through the current session. Only the send queue calls it.
func (c *Controller) Send(ctx context.Context, to Recipient, text string) (string, error) {
	c.mu.Lock()
	h := c.handle
	status := c.state.Status
	c.mu.Unlock()
	if h == nil || status != StatusConnected {
		return "", domain.ErrNotConnected
	}
	return h.session.Send(ctx, to, text)
}

// Stop cancels any pending restart, waits for an in-flight start, closes the
// session and ends the loop.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.cancelRestartLocked()
	c.mu.Unlock()

	c.cancel()
	_, _, _ = c.starting.Do("start", func() (interface{}, error) {
		return nil, ErrControllerStopped
	})

	c.mu.Lock()
	gen := c.state.Gen
	c.mu.Unlock()
	c.apply(Event{Kind: EventClosed, Gen: gen, At: time.Now(), Reason: ReasonStopped})

	c.mu.Lock()
	h := c.detachLocked()
	c.mu.Unlock()
	if h != nil {
		h.teardown()
	}
	c.wg.Wait()
	zap.L().Info("whatsapp: controller stopped")
}

func (c *Controller) emitterFor(h *sessionHandle) Emitter {
	return func(ev Event) {
		ev.Gen = h.gen
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		select {
		case <-h.done:
			return
		default:
		}
		select {
		case c.events <- ev:
		case <-h.done:
		case <-c.ctx.Done():
		}
	}
}

func (c *Controller) loop() {
	defer c.wg.Done()
	defer close(c.inboundCh)
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.events:
			if ev.Kind == EventMessage {
				c.dispatchInbound(ev)
				continue
			}
			c.apply(ev)
		}
	}
}

func (c *Controller) dispatchInbound(ev Event) {
	if ev.Message == nil {
		return
	}
	publish(c.bus, TopicActivity, Activity{
		Time:    ev.Message.ReceivedAt,
		Type:    ActivityIncoming,
		Peer:    ev.Message.Sender,
		Content: ev.Message.Content,
	})
	select {
	case c.inboundCh <- *ev.Message:
	default:
		zap.L().Error("whatsapp: inbound backlog full, message dropped",
			zap.String("sender", ev.Message.Sender),
			zap.String("message_id", ev.Message.MessageID))
	}
}

// forwardInbound hands messages to the inbound handler off the lifecycle loop
// so a slow handler never delays state transitions. Buffered messages are
// still delivered after Stop.
func (c *Controller) forwardInbound() {
	defer c.wg.Done()
	for msg := range c.inboundCh {
		c.mu.Lock()
		h := c.inbound
		c.mu.Unlock()
		if h != nil {
			h.Submit(msg)
		}
	}
}

// apply runs the transition for ev and executes its effects.
func (c *Controller) apply(ev Event) {
	c.mu.Lock()
	prev := c.state
	next, effects := Transition(prev, ev)
	c.state = next
	var toClose *sessionHandle
	for _, eff := range effects {
		switch eff.Kind {
		case EffectCloseSession:
			if h := c.detachLocked(); h != nil {
				toClose = h
			}
		case EffectScheduleRestart:
			if !c.stopped {
				c.scheduleRestartLocked(next.Gen)
			}
		}
	}
	c.mu.Unlock()

	if toClose != nil {
		toClose.teardown()
	}
	if next != prev {
		c.publishState(prev.Status, next, ev)
	}
}

func (c *Controller) publishState(from Status, to State, cause Event) {
	fields := []zap.Field{
		zap.String("from", from.String()),
		zap.String("to", to.Status.String()),
		zap.Uint64("gen", to.Gen),
	}
	if cause.Kind == EventClosed {
		fields = append(fields, zap.String("reason", cause.Reason.String()))
	}
	zap.L().Info("whatsapp: state changed", fields...)
	publish(c.bus, TopicState, StateChange{From: from, To: to, Cause: cause})
}

// detachLocked clears the current session handle and stops its emitter.
func (c *Controller) detachLocked() *sessionHandle {
	h := c.handle
	c.handle = nil
	if h != nil {
		h.detach()
		c.retiring = h
	}
	return h
}

func (c *Controller) scheduleRestartLocked(gen uint64) {
	c.cancelRestartLocked()
	zap.L().Info("whatsapp: restart scheduled", zap.Uint64("gen", gen), zap.Duration("delay", c.delay))
	c.restart = time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		due := !c.stopped && c.state.Gen == gen && c.state.Status == StatusDisconnected
		c.mu.Unlock()
		if !due {
			return
		}
		if err := c.Start(c.ctx); err != nil && !errors.Is(err, ErrControllerStopped) {
			zap.L().Warn("whatsapp: restart failed", zap.Error(err))
		}
	})
}

func (c *Controller) cancelRestartLocked() {
	if c.restart != nil {
		c.restart.Stop()
		c.restart = nil
	}
}

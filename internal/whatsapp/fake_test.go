package whatsapp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type fakeSession struct {
	factory *fakeFactory
	emit    Emitter
	closed  atomic.Bool
}

func (s *fakeSession) Connect(ctx context.Context) error {
	if s.factory.connectErr != nil {
		return s.factory.connectErr
	}
	n := s.factory.open.Add(1)
	for {
		cur := s.factory.maxOpen.Load()
		if n <= cur || s.factory.maxOpen.CompareAndSwap(cur, n) {
			break
		}
	}
	return nil
}

func (s *fakeSession) Send(ctx context.Context, to Recipient, text string) (string, error) {
	return "ID-" + string(to), nil
}

func (s *fakeSession) Logout(ctx context.Context) error {
	s.emit(Event{Kind: EventClosed, Reason: ReasonLoggedOut})
	return nil
}

// Close counts the session as live until teardown has finished.
func (s *fakeSession) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if d := s.factory.closeDelay; d > 0 {
		time.Sleep(d)
	}
	if s.factory.connectErr == nil {
		s.factory.open.Add(-1)
	}
}

type fakeFactory struct {
	mu         sync.Mutex
	sessions   []*fakeSession
	open       atomic.Int32
	maxOpen    atomic.Int32
	connectErr error
	createErr  error
	slow       time.Duration
	closeDelay time.Duration
}

func (f *fakeFactory) NewSession(ctx context.Context, emit Emitter) (Session, error) {
	if f.slow > 0 {
		time.Sleep(f.slow)
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	s := &fakeSession{factory: f, emit: emit}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

func (f *fakeFactory) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[len(f.sessions)-1]
}

type recordingInbound struct {
	mu     sync.Mutex
	events []InboundEvent
}

func (r *recordingInbound) Submit(ev InboundEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// blockingInbound blocks every Submit until release is closed.
type blockingInbound struct {
	release chan struct{}
	entered atomic.Int32
}

func (b *blockingInbound) Submit(ev InboundEvent) {
	b.entered.Add(1)
	<-b.release
}

func (r *recordingInbound) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// fakeTransport is a controllable Transport for queue tests.
type fakeTransport struct {
	mu        sync.Mutex
	status    Status
	delay     time.Duration
	hold      chan struct{}
	err       error
	starts    []time.Time
	sent      []string
	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeTransport(status Status) *fakeTransport {
	return &fakeTransport{status: status}
}

func (f *fakeTransport) setStatus(s Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakeTransport) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return State{Status: f.status}
}

func (f *fakeTransport) Send(ctx context.Context, to Recipient, text string) (string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	f.mu.Lock()
	f.starts = append(f.starts, time.Now())
	hold, delay, err := f.hold, f.delay, f.err
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return "MSG-" + text, nil
}

func (f *fakeTransport) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) startTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.starts...)
}

var errBoom = errors.New("boom")

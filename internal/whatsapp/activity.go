package whatsapp

import (
	"sync"
	"time"

	EventBus "github.com/asaskevich/EventBus"
)

// Bus topics
const (
	TopicActivity = "whatsapp:activity"
	TopicState    = "whatsapp:state"
)

// Activity types
const (
	ActivityIncoming = "INCOMING"
	ActivityOutgoing = "OUTGOING"
	ActivityAPI      = "API"
	ActivityState    = "STATE"
)

// Activity is one entry of the recent activity log.
type Activity struct {
	Time    time.Time `json:"time"`
	Type    string    `json:"type"`
	Peer    string    `json:"peer,omitempty"`
	Status  string    `json:"status,omitempty"`
	Content string    `json:"content,omitempty"`
}

// StateChange is published on TopicState after every effective transition.
type StateChange struct {
	From  Status
	To    State
	Cause Event
}

// ActivityLog is a fixed capacity ring buffer of recent activity.
type ActivityLog struct {
	mu    sync.RWMutex
	items []Activity
	next  int
	full  bool
}

func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = 50
	}
	return &ActivityLog{items: make([]Activity, capacity)}
}

// Add records an entry, evicting the oldest one when full.
func (l *ActivityLog) Add(a Activity) {
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	l.mu.Lock()
	l.items[l.next] = a
	l.next = (l.next + 1) % len(l.items)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
}

// Recent returns the entries newest first.
func (l *ActivityLog) Recent() []Activity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := l.next
	if l.full {
		n = len(l.items)
	}
	out := make([]Activity, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.items)) % len(l.items)
		out = append(out, l.items[idx])
	}
	return out
}

func (l *ActivityLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return len(l.items)
	}
	return l.next
}

func (l *ActivityLog) onState(sc StateChange) {
	l.Add(Activity{
		Time:   sc.To.Since,
		Type:   ActivityState,
		Status: sc.To.Status.String(),
		Peer:   sc.To.Identity.ID,
	})
}

// Subscribe attaches the log to the activity and state topics of bus.
func (l *ActivityLog) Subscribe(bus EventBus.Bus) error {
	if err := bus.Subscribe(TopicActivity, l.Add); err != nil {
		return err
	}
	return bus.Subscribe(TopicState, l.onState)
}

// publish is a nil-safe helper for optional buses.
func publish(bus EventBus.Bus, topic string, args ...interface{}) {
	if bus == nil {
		return
	}
	bus.Publish(topic, args...)
}

// PublishActivity records an entry on the activity topic.
func PublishActivity(bus EventBus.Bus, a Activity) {
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	publish(bus, TopicActivity, a)
}

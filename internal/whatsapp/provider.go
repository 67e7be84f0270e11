package whatsapp

import (
	"context"
	"time"
)

// InboundEvent is a message received from the transport, reduced to what the
// inbox pipeline needs.
type InboundEvent struct {
	Sender      string    `json:"sender"`
	PushName    string    `json:"push_name"`
	Content     string    `json:"content"`
	Kind        string    `json:"kind"`
	MediaURL    string    `json:"media_url,omitempty"`
	IsFromSelf  bool      `json:"is_from_self"`
	IsBroadcast bool      `json:"is_broadcast"`
	IsGroup     bool      `json:"is_group"`
	MessageID   string    `json:"message_id"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Emitter receives session events. The controller binds a generation to each
// emitter and drops events once the session it belongs to is torn down.
type Emitter func(ev Event)

// Session is one connection attempt against the WhatsApp network.
type Session interface {
	// Connect starts the connection. Progress is reported through the emitter.
	Connect(ctx context.Context) error
	// Send delivers a text message and returns the transport message id.
	Send(ctx context.Context, to Recipient, text string) (string, error)
	// Logout unlinks the device. Success is reported as Closed(logout).
	Logout(ctx context.Context) error
	// Close tears the connection down. It must be safe to call more than once.
	Close()
}

// SessionFactory builds sessions from the persisted device credentials.
type SessionFactory interface {
	NewSession(ctx context.Context, emit Emitter) (Session, error)
}

// InboundHandler consumes inbound message events.
type InboundHandler interface {
	Submit(ev InboundEvent)
}

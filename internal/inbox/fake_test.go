package inbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"github.com/talkincode/wagateway/pkg/common"
	"gorm.io/gorm"
)

// memRepo is an in-memory Repository. Its find-or-create methods are
// deliberately not atomic so that missing caller serialization shows up as
// duplicates.
type memRepo struct {
	mu            sync.Mutex
	users         []domain.User
	conversations []domain.Conversation
	messages      []domain.Message
	failAppend    error
}

func newMemRepo() *memRepo {
	return &memRepo{}
}

func (r *memRepo) FindOrCreateUser(ctx context.Context, phone, name string) (*domain.User, error) {
	r.mu.Lock()
	for _, u := range r.users {
		if u.Phone == phone {
			r.mu.Unlock()
			return &u, nil
		}
	}
	r.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	u := domain.User{ID: common.UUIDint64(), Phone: phone, Name: common.IfEmptyStr(name, phone), Role: domain.RoleCustomer, IsActive: true}
	r.mu.Lock()
	r.users = append(r.users, u)
	r.mu.Unlock()
	return &u, nil
}

func (r *memRepo) FindOrCreateConversation(ctx context.Context, userID int64) (*domain.Conversation, error) {
	r.mu.Lock()
	for _, c := range r.conversations {
		if c.UserID == userID {
			r.mu.Unlock()
			return &c, nil
		}
	}
	r.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	c := domain.Conversation{ID: common.UUIDint64(), UserID: userID, Status: domain.ConversationAIActive, LastMessageAt: time.Now()}
	r.mu.Lock()
	r.conversations = append(r.conversations, c)
	r.mu.Unlock()
	return &c, nil
}

func (r *memRepo) AppendMessage(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAppend != nil {
		return r.failAppend
	}
	if msg.ID == 0 {
		msg.ID = common.UUIDint64()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *memRepo) update(id int64, fn func(c *domain.Conversation)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.conversations {
		if r.conversations[i].ID == id {
			fn(&r.conversations[i])
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *memRepo) MarkInbound(ctx context.Context, id int64, at time.Time) error {
	return r.update(id, func(c *domain.Conversation) {
		c.LastMessageAt = at
		c.UnreadCount++
	})
}

func (r *memRepo) TouchConversation(ctx context.Context, id int64, at time.Time) error {
	return r.update(id, func(c *domain.Conversation) { c.LastMessageAt = at })
}

func (r *memRepo) SetConversationStatus(ctx context.Context, id int64, status string) error {
	return r.update(id, func(c *domain.Conversation) { c.Status = status })
}

func (r *memRepo) RecentMessages(ctx context.Context, id int64, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, m := range r.messages {
		if m.ConversationID == id {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *memRepo) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conversations {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) counts() (users, conversations, messages int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users), len(r.conversations), len(r.messages)
}

func (r *memRepo) messagesBy(sender string) []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, m := range r.messages {
		if m.Sender == sender {
			out = append(out, m)
		}
	}
	return out
}

func (r *memRepo) onlyConversation() domain.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversations[0]
}

type sentMessage struct {
	target  whatsapp.Recipient
	payload string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *fakeSender) Enqueue(ctx context.Context, target whatsapp.Recipient, payload string) (whatsapp.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return whatsapp.Outcome{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return whatsapp.Outcome{}, s.err
	}
	s.sent = append(s.sent, sentMessage{target: target, payload: payload})
	return whatsapp.Outcome{MessageID: "MSG1", Target: target, SentAt: time.Now()}, nil
}

func (s *fakeSender) payloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.payload)
	}
	return out
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeState struct {
	status whatsapp.Status
}

func (f fakeState) Snapshot() whatsapp.State {
	return whatsapp.State{Status: f.status}
}

type recordingResponder struct {
	mu      sync.Mutex
	reply   string
	err     error
	history [][]Turn
}

func (r *recordingResponder) Respond(ctx context.Context, history []Turn) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, history)
	return r.reply, r.err
}

func (r *recordingResponder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}

var errDB = errors.New("db down")

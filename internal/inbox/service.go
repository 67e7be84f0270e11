package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"go.uber.org/zap"
)

// StateReader exposes the connection snapshot.
type StateReader interface {
	Snapshot() whatsapp.State
}

// ReplyResult is returned by Service.Reply.
type ReplyResult struct {
	Phone          string           `json:"phone"`
	Outcome        whatsapp.Outcome `json:"outcome"`
	ConversationID int64            `json:"conversation_id,string"`
	Persisted      bool             `json:"persisted"`
}

// Service implements operator actions on the inbox.
type Service struct {
	repo        Repository
	sender      Sender
	state       StateReader
	countryCode string
	locks       *keyedMutex
}

func NewService(repo Repository, sender Sender, state StateReader, countryCode string) *Service {
	if countryCode == "" {
		countryCode = whatsapp.DefaultCountryCode
	}
	return &Service{repo: repo, sender: sender, state: state, countryCode: countryCode, locks: newKeyedMutex()}
}

// ShareLocks makes replies take the same per-participant lock as the inbound
// pipeline, so an auto reply in progress completes before the conversation
// is handed to the operator.
func (s *Service) ShareLocks(p *Pipeline) *Service {
	s.locks = p.locks
	return s
}

// Reply sends an operator message. Nothing is queued or stored unless the
// session is connected. After a successful send the conversation is switched
// to human_manual and the message is stored with sender ADMIN; a failure to
// store is reported through Persisted and the error, the send itself stands.
func (s *Service) Reply(ctx context.Context, rawPhone, text string) (*ReplyResult, error) {
	phone := whatsapp.NormalizePhoneCC(rawPhone, s.countryCode)
	if phone == "" || text == "" {
		return nil, fmt.Errorf("%w: phone and message are required", domain.ErrInvalidRequest)
	}
	switch s.state.Snapshot().Status {
	case whatsapp.StatusConnected:
	case whatsapp.StatusLoggedOut:
		return nil, domain.ErrTerminalLogout
	default:
		return nil, domain.ErrNotConnected
	}

	// a message handed to the queue is recorded even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.Lock(phone)
	defer unlock()

	outcome, err := s.sender.Enqueue(ctx, whatsapp.RecipientOf(phone), text)
	if err != nil {
		return nil, err
	}
	res := &ReplyResult{Phone: phone, Outcome: outcome}

	conv, err := s.recordAdminMessage(ctx, phone, text, outcome)
	if err != nil {
		zap.L().Error("inbox: admin reply sent but not stored", zap.String("phone", phone), zap.Error(err))
		return res, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	res.ConversationID = conv
	res.Persisted = true
	return res, nil
}

func (s *Service) recordAdminMessage(ctx context.Context, phone, text string, outcome whatsapp.Outcome) (int64, error) {
	user, err := s.repo.FindOrCreateUser(ctx, phone, "")
	if err != nil {
		return 0, err
	}
	conv, err := s.repo.FindOrCreateConversation(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	if conv.Status != domain.ConversationHumanManual {
		if err := s.repo.SetConversationStatus(ctx, conv.ID, domain.ConversationHumanManual); err != nil {
			return 0, err
		}
	}
	at := outcome.SentAt
	if at.IsZero() {
		at = time.Now()
	}
	err = s.repo.AppendMessage(ctx, &domain.Message{
		ConversationID: conv.ID,
		Sender:         domain.SenderAdmin,
		Kind:           domain.KindText,
		Content:        text,
		ExternalID:     outcome.MessageID,
		CreatedAt:      at,
	})
	if err != nil {
		return 0, err
	}
	if err := s.repo.TouchConversation(ctx, conv.ID, at); err != nil {
		return 0, err
	}
	return conv.ID, nil
}

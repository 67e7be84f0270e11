package inbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"go.uber.org/zap"
)

// Sender is the producer side of the send queue.
type Sender interface {
	Enqueue(ctx context.Context, target whatsapp.Recipient, payload string) (whatsapp.Outcome, error)
}

// PipelineConfig tunes the inbound pipeline.
type PipelineConfig struct {
	CountryCode    string
	HistoryWindow  int
	RespondTimeout time.Duration
	Workers        int
}

// Result reports what Handle did with an event.
type Result struct {
	Ignored        bool
	ConversationID int64
	Replied        bool
}

// Pipeline persists inbound messages and triggers automatic replies.
type Pipeline struct {
	repo      Repository
	sender    Sender
	responder Responder
	cfg       PipelineConfig
	locks     *keyedMutex
	pool      *ants.Pool
	wg        sync.WaitGroup
}

var _ whatsapp.InboundHandler = (*Pipeline)(nil)

// NewPipeline creates the pipeline. responder may be nil.
func NewPipeline(repo Repository, sender Sender, responder Responder, cfg PipelineConfig) (*Pipeline, error) {
	if cfg.CountryCode == "" {
		cfg.CountryCode = whatsapp.DefaultCountryCode
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 5
	}
	if cfg.RespondTimeout <= 0 {
		cfg.RespondTimeout = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p interface{}) {
		zap.L().Error("inbox: pipeline task panic", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		repo:      repo,
		sender:    sender,
		responder: responder,
		cfg:       cfg,
		locks:     newKeyedMutex(),
		pool:      pool,
	}, nil
}

// Submit processes ev on the worker pool.
func (p *Pipeline) Submit(ev whatsapp.InboundEvent) {
	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		if _, err := p.Handle(context.Background(), ev); err != nil {
			zap.L().Error("inbox: inbound event failed",
				zap.String("sender", ev.Sender),
				zap.String("message_id", ev.MessageID),
				zap.Error(err))
		}
	})
	if err != nil {
		p.wg.Done()
		zap.L().Error("inbox: submit inbound event failed", zap.String("sender", ev.Sender), zap.Error(err))
	}
}

// Release waits for submitted events and stops the worker pool.
func (p *Pipeline) Release() {
	p.wg.Wait()
	p.pool.Release()
}

// Handle processes one inbound event synchronously. Events of the same
// participant are serialized.
func (p *Pipeline) Handle(ctx context.Context, ev whatsapp.InboundEvent) (Result, error) {
	if ev.IsFromSelf || ev.IsBroadcast || ev.IsGroup {
		return Result{Ignored: true}, nil
	}
	if ev.Content == "" && (ev.Kind == "" || ev.Kind == domain.KindText || ev.Kind == domain.KindOther) {
		return Result{Ignored: true}, nil
	}
	phone := whatsapp.NormalizePhoneCC(ev.Sender, p.cfg.CountryCode)
	if phone == "" {
		return Result{Ignored: true}, fmt.Errorf("%w: unusable sender %q", domain.ErrInvalidRequest, ev.Sender)
	}

	unlock := p.locks.Lock(phone)
	defer unlock()

	user, err := p.repo.FindOrCreateUser(ctx, phone, ev.PushName)
	if err != nil {
		return Result{}, fmt.Errorf("%w: resolve user: %v", domain.ErrPersistenceFailure, err)
	}
	conv, err := p.repo.FindOrCreateConversation(ctx, user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: resolve conversation: %v", domain.ErrPersistenceFailure, err)
	}

	at := ev.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	kind := ev.Kind
	if kind == "" {
		kind = domain.KindText
	}
	msg := &domain.Message{
		ConversationID: conv.ID,
		Sender:         domain.SenderUser,
		Kind:           kind,
		Content:        ev.Content,
		MediaURL:       ev.MediaURL,
		ExternalID:     ev.MessageID,
		CreatedAt:      at,
	}
	if err := p.repo.AppendMessage(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("%w: store message: %v", domain.ErrPersistenceFailure, err)
	}
	if err := p.repo.MarkInbound(ctx, conv.ID, at); err != nil {
		return Result{}, fmt.Errorf("%w: update conversation: %v", domain.ErrPersistenceFailure, err)
	}
	zap.L().Info("inbox: message stored",
		zap.String("phone", phone),
		zap.Int64("conversation_id", conv.ID),
		zap.String("kind", kind))

	res := Result{ConversationID: conv.ID}
	if conv.Status != domain.ConversationAIActive || p.responder == nil {
		return res, nil
	}
	res.Replied = p.autoReply(ctx, phone, conv.ID)
	return res, nil
}

// autoReply runs the responder and sends its answer. Failures are logged only.
func (p *Pipeline) autoReply(ctx context.Context, phone string, conversationID int64) bool {
	history, err := p.repo.RecentMessages(ctx, conversationID, p.cfg.HistoryWindow)
	if err != nil {
		zap.L().Warn("inbox: load history failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		return false
	}

	rctx, cancel := context.WithTimeout(ctx, p.cfg.RespondTimeout)
	reply, err := p.responder.Respond(rctx, TurnsFromMessages(history))
	cancel()
	if err != nil {
		zap.L().Warn("inbox: responder failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		return false
	}
	if reply == "" {
		return false
	}

	if _, err := p.sender.Enqueue(ctx, whatsapp.RecipientOf(phone), reply); err != nil {
		zap.L().Warn("inbox: auto reply not sent", zap.String("phone", phone), zap.Error(err))
		return false
	}

	now := time.Now()
	err = p.repo.AppendMessage(ctx, &domain.Message{
		ConversationID: conversationID,
		Sender:         domain.SenderSystem,
		Kind:           domain.KindText,
		Content:        reply,
		CreatedAt:      now,
	})
	if err == nil {
		err = p.repo.TouchConversation(ctx, conversationID, now)
	}
	if err != nil {
		zap.L().Error("inbox: auto reply sent but not stored", zap.Int64("conversation_id", conversationID), zap.Error(err))
	}
	return true
}

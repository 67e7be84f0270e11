package inbox

import (
	"context"
	"time"

	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/pkg/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists participants, conversations and messages.
type Repository interface {
	// FindOrCreateUser returns the user with phone, creating it when absent.
	FindOrCreateUser(ctx context.Context, phone, name string) (*domain.User, error)
	// FindOrCreateConversation returns the conversation of userID, creating it when absent.
	FindOrCreateConversation(ctx context.Context, userID int64) (*domain.Conversation, error)
	AppendMessage(ctx context.Context, msg *domain.Message) error
	// MarkInbound sets last_message_at and increments unread_count in one statement.
	MarkInbound(ctx context.Context, conversationID int64, at time.Time) error
	TouchConversation(ctx context.Context, conversationID int64, at time.Time) error
	SetConversationStatus(ctx context.Context, conversationID int64, status string) error
	// RecentMessages returns up to limit latest messages in chronological order.
	RecentMessages(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error)
	GetConversation(ctx context.Context, id int64) (*domain.Conversation, error)
}

// GormRepository implements Repository using GORM
type GormRepository struct {
	db *gorm.DB
}

var _ Repository = (*GormRepository)(nil)

// NewGormRepository creates a new GORM-based inbox repository
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) FindOrCreateUser(ctx context.Context, phone, name string) (*domain.User, error) {
	user := &domain.User{
		ID:       common.UUIDint64(),
		Phone:    phone,
		Name:     common.IfEmptyStr(name, phone),
		Role:     domain.RoleCustomer,
		IsActive: true,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "phone"}}, DoNothing: true}).
		Create(user).Error
	if err != nil {
		return nil, err
	}
	var found domain.User
	if err := r.db.WithContext(ctx).Where("phone = ?", phone).First(&found).Error; err != nil {
		return nil, err
	}
	return &found, nil
}

func (r *GormRepository) FindOrCreateConversation(ctx context.Context, userID int64) (*domain.Conversation, error) {
	conv := &domain.Conversation{
		ID:            common.UUIDint64(),
		UserID:        userID,
		Status:        domain.ConversationAIActive,
		LastMessageAt: time.Now(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(conv).Error
	if err != nil {
		return nil, err
	}
	var found domain.Conversation
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&found).Error; err != nil {
		return nil, err
	}
	return &found, nil
}

func (r *GormRepository) AppendMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == 0 {
		msg.ID = common.UUIDint64()
	}
	if msg.Kind == "" {
		msg.Kind = domain.KindText
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *GormRepository) MarkInbound(ctx context.Context, conversationID int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_at": at,
			"unread_count":    gorm.Expr("unread_count + ?", 1),
			"updated_at":      time.Now(),
		}).Error
}

func (r *GormRepository) TouchConversation(ctx context.Context, conversationID int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_at": at,
			"updated_at":      time.Now(),
		}).Error
}

func (r *GormRepository) SetConversationStatus(ctx context.Context, conversationID int64, status string) error {
	return r.db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

func (r *GormRepository) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *GormRepository) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := r.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

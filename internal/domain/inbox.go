package domain

import "time"

// Participant roles
const (
	RoleCustomer = "CUSTOMER"
	RoleAdmin    = "ADMIN"
)

// Conversation handling modes
const (
	ConversationAIActive    = "ai_active"
	ConversationHumanManual = "human_manual"
)

// Message authors
const (
	SenderUser   = "USER"
	SenderAdmin  = "ADMIN"
	SenderSystem = "SYSTEM"
)

// Message content kinds
const (
	KindText     = "text"
	KindImage    = "image"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindDocument = "document"
	KindLocation = "location"
	KindSticker  = "sticker"
	KindContact  = "contact"
	KindOther    = "other"
)

// User is a WhatsApp participant keyed by normalized phone number.
type User struct {
	ID        int64     `json:"id,string" form:"id"`
	Phone     string    `gorm:"uniqueIndex;size:32" json:"phone" form:"phone"`
	Name      string    `json:"name" form:"name"`
	Email     string    `json:"email" form:"email"`
	Avatar    string    `json:"avatar" form:"avatar"`
	Role      string    `gorm:"size:16;default:CUSTOMER" json:"role" form:"role"`
	IsActive  bool      `gorm:"default:true" json:"is_active" form:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName Specify table name
func (User) TableName() string {
	return "wa_user"
}

// Conversation is the single thread held with one participant.
type Conversation struct {
	ID            int64     `json:"id,string" form:"id"`
	UserID        int64     `gorm:"uniqueIndex" json:"user_id,string" form:"user_id"`
	Status        string    `gorm:"size:16;index;default:ai_active" json:"status" form:"status"`
	LastMessageAt time.Time `gorm:"index" json:"last_message_at"`
	UnreadCount   int       `gorm:"default:0" json:"unread_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName Specify table name
func (Conversation) TableName() string {
	return "wa_conversation"
}

// Message is one append-only entry of a conversation.
type Message struct {
	ID             int64         `json:"id,string" form:"id"`
	ConversationID int64         `gorm:"index" json:"conversation_id,string" form:"conversation_id"`
	Conversation   *Conversation `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
	Sender         string        `gorm:"size:16" json:"sender" form:"sender"`
	Kind           string        `gorm:"size:16;default:text" json:"type" form:"type"`
	Content        string        `json:"content" form:"content"`
	MediaURL       string        `json:"media_url" form:"media_url"`
	ExternalID     string        `gorm:"size:64;index" json:"external_id" form:"external_id"`
	CreatedAt      time.Time     `gorm:"index" json:"created_at"`
}

// TableName Specify table name
func (Message) TableName() string {
	return "wa_message"
}

package model

import (
	"time"
)

// Sandbox 샌드박스 (게임 세션의 루트 스코프)
type Sandbox struct {
	ID        string    `gorm:"primaryKey;type:varchar(32)" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Images   []Image       `gorm:"foreignKey:SandboxID" json:"images,omitempty"`
	Tokens   []Token       `gorm:"foreignKey:SandboxID" json:"tokens,omitempty"`
	Users    []User        `gorm:"foreignKey:SandboxID" json:"users,omitempty"`
	Messages []ChatMessage `gorm:"foreignKey:SandboxID" json:"messages,omitempty"`
}

func (Sandbox) TableName() string {
	return "sandboxes"
}

// User 샌드박스 참가자 (GM 또는 플레이어, 재접속해도 ID 유지)
type User struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SandboxID    string    `gorm:"type:varchar(32);not null;index" json:"sandbox_id"`
	Name         string    `gorm:"type:varchar(100);not null" json:"name"`
	Role         Role      `gorm:"type:varchar(20);not null" json:"role"`
	PasswordHash *string   `gorm:"type:varchar(255)" json:"-"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Sandbox Sandbox `gorm:"foreignKey:SandboxID" json:"sandbox,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// Image 샌드박스에 업로드된 배경 이미지
// IsActive는 샌드박스당 최대 1개만 true (store.SetActiveImage가 보장)
type Image struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SandboxID string    `gorm:"type:varchar(32);not null;index" json:"sandbox_id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	FilePath  string    `gorm:"type:text;not null" json:"file_path"`
	IsActive  bool      `gorm:"default:false" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Sandbox Sandbox `gorm:"foreignKey:SandboxID" json:"sandbox,omitempty"`
}

func (Image) TableName() string {
	return "images"
}

// Token 이미지 위에 놓이는 말 (좌표는 이미지 좌표계의 실수값)
type Token struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SandboxID       string    `gorm:"type:varchar(32);not null;index" json:"sandbox_id"`
	ImageID         int64     `gorm:"not null;index" json:"image_id"`
	Name            string    `gorm:"type:varchar(100);not null" json:"name"`
	Color           string    `gorm:"type:varchar(20);not null" json:"color"`
	PositionX       float64   `gorm:"not null" json:"position_x"`
	PositionY       float64   `gorm:"not null" json:"position_y"`
	CreatedByUserID *string   `gorm:"type:varchar(64);index" json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Sandbox Sandbox `gorm:"foreignKey:SandboxID" json:"sandbox,omitempty"`
	Image   Image   `gorm:"foreignKey:ImageID" json:"image,omitempty"`
}

func (Token) TableName() string {
	return "tokens"
}

// ChatMessage 채팅 메시지
// RecipientID와 RecipientName은 둘 다 null(전체 채널)이거나 둘 다 설정(1:1 채널).
// 주사위 메시지는 Visibility가 수신 범위를 결정하고 recipient는 무시된다.
type ChatMessage struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	SandboxID     string         `gorm:"type:varchar(32);not null;index:idx_messages_sandbox_created,priority:1" json:"sandbox_id"`
	SenderID      string         `gorm:"type:varchar(64);not null;index" json:"sender_id"`
	SenderName    string         `gorm:"type:varchar(100);not null" json:"sender_name"`
	SenderRole    Role           `gorm:"type:varchar(20);not null" json:"sender_role"`
	Message       string         `gorm:"type:text;not null" json:"message"`
	RecipientID   *string        `gorm:"type:varchar(64);index" json:"recipient_id"`
	RecipientName *string        `gorm:"type:varchar(100)" json:"recipient_name"`
	IsDiceRoll    bool           `gorm:"default:false" json:"is_dice_roll"`
	DiceCommand   *string        `gorm:"type:varchar(100)" json:"dice_command,omitempty"`
	DiceResults   *string        `gorm:"type:jsonb" json:"dice_results,omitempty"`
	Visibility    DiceVisibility `gorm:"type:varchar(20);default:'public'" json:"visibility"`
	CreatedAt     time.Time      `gorm:"autoCreateTime;index:idx_messages_sandbox_created,priority:2" json:"created_at"`

	// Relations
	Sandbox Sandbox `gorm:"foreignKey:SandboxID" json:"sandbox,omitempty"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Table names are fixed because the
// deliverable queries join across them.

type MessageModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	SenderID    string `gorm:"not null;index"`
	SenderName  string
	Platform    string `gorm:"not null"`
	ChatID      string
	Type        string `gorm:"not null"`
	TextBody    string
	AudioURL    string
	ReceivedAt  time.Time      `gorm:"not null"`
	Listened    bool           `gorm:"not null;default:false;index"`
	RawEnvelope datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null"`
}

func (MessageModel) TableName() string { return "messages" }

type TrustModel struct {
	SenderID      string `gorm:"primaryKey"`
	SenderName    string
	Platform      string `gorm:"not null"`
	ChatID        string
	Verified      bool `gorm:"not null;default:false"`
	Blocked       bool `gorm:"not null;default:false"`
	LastMessageID int64
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (TrustModel) TableName() string { return "sender_trust" }

type NightlightModel struct {
	ID        int `gorm:"primaryKey"`
	ExpiresAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (NightlightModel) TableName() string { return "nightlight_timer" }

type EpisodeModel struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	Number     int   `gorm:"uniqueIndex;not null"`
	Title      string
	Presenters string
	Location   string
	AiredOn    time.Time
	IsLive     bool `gorm:"not null;default:false"`
}

func (EpisodeModel) TableName() string { return "episodes" }

type HistoryModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Username   string `gorm:"not null;index"`
	EpisodeID  int64  `gorm:"not null;index"`
	ListenedAt time.Time `gorm:"not null"`
}

func (HistoryModel) TableName() string { return "listening_history" }

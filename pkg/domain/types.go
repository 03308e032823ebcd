package domain

import "time"

type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformTelegram Platform = "telegram"
)

type MessageType string

const (
	TypeText  MessageType = "text"
	TypeAudio MessageType = "audio"
)

// Inbound is the canonical platform-independent form of one inbound chat
// message, produced by a platform parser. TextBody is set for text messages,
// MediaRef (a platform-specific media handle) for audio messages.
type Inbound struct {
	Platform    Platform
	SenderID    string
	SenderName  string
	ChatID      string
	Type        MessageType
	TextBody    string
	MediaRef    string
	ReceivedAt  time.Time
	RawEnvelope []byte
}

// Message is a stored message. AudioURL is empty when transcoding or
// synthesis failed or was not attempted; TextBody is empty for audio
// messages. Listened flips false->true exactly once.
type Message struct {
	ID         int64       `json:"id"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Platform   Platform    `json:"platform"`
	ChatID     string      `json:"chatId"`
	Type       MessageType `json:"type"`
	TextBody   string      `json:"textBody,omitempty"`
	AudioURL   string      `json:"audioUrl,omitempty"`
	ReceivedAt time.Time   `json:"receivedAt"`
	Listened   bool        `json:"listened"`
	// RawEnvelope keeps the original platform payload for diagnostics.
	RawEnvelope []byte `json:"-"`
}

// TrustRecord is the per-sender gate on delivery. Verified and Blocked are
// only ever set to true; there is no un-verify path.
type TrustRecord struct {
	SenderID      string    `json:"senderId"`
	SenderName    string    `json:"senderName"`
	Platform      Platform  `json:"platform"`
	ChatID        string    `json:"chatId"`
	Verified      bool      `json:"verified"`
	Blocked       bool      `json:"blocked"`
	LastMessageID int64     `json:"lastMessageId"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NightlightStatus is the derived state of the shared nightlight timer.
type NightlightStatus struct {
	Active           bool
	RemainingSeconds int64
}

// Episode is one catalog entry for the episode picker.
type Episode struct {
	ID         int64     `json:"id"`
	Number     int       `json:"number"`
	Title      string    `json:"title"`
	Presenters string    `json:"presenters"`
	Location   string    `json:"location"`
	AiredOn    time.Time `json:"airedOn"`
	IsLive     bool      `json:"isLive"`
}

// HistoryEntry records that a user listened to an episode.
type HistoryEntry struct {
	Episode    Episode   `json:"episode"`
	Username   string    `json:"username"`
	ListenedAt time.Time `json:"listenedAt"`
}

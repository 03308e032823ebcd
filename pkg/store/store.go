package store

import (
	"time"

	"voicebox/pkg/domain"
)

// EpisodeFilter narrows the episode-picker candidate set. IsLive of nil means
// "either". ExcludeSince excludes episodes the user listened to after that
// time; a zero time with a non-empty Username excludes the whole history.
type EpisodeFilter struct {
	IsLive       *bool
	Presenters   []string
	Username     string
	ExcludeSince time.Time
	ExcludeAll   bool
}

// Store defines persistence for messages, sender trust, the nightlight
// timer, and the episode catalog.
type Store interface {
	// messages
	AppendMessage(msg domain.Message) (int64, error)
	GetMessage(id int64) (domain.Message, bool, error)
	// NextDeliverable returns the lowest-id unlistened message whose sender
	// is verified and not blocked.
	NextDeliverable() (domain.Message, bool, error)
	// GetDeliverable applies the same trust predicate to a single id.
	GetDeliverable(id int64) (domain.Message, bool, error)
	// MarkListened flips listened to true and reports whether this call did
	// the flip (false for repeats and unknown ids).
	MarkListened(id int64) (bool, error)

	// sender trust
	GetTrust(senderID string) (domain.TrustRecord, bool, error)
	// UpsertTrust creates a pending record for an unknown sender or
	// refreshes name/chat/pointer fields on an existing one. It never
	// touches the verified or blocked flags.
	UpsertTrust(rec domain.TrustRecord) error
	MarkVerified(senderID string) error
	MarkBlocked(senderID string) error
	ListPendingTrust() ([]domain.TrustRecord, error)

	// nightlight timer (singleton row)
	SetNightlight(expiresAt time.Time) error
	GetNightlight() (time.Time, bool, error)

	// episodes
	UpsertEpisode(ep domain.Episode) error
	ListEpisodes(f EpisodeFilter) ([]domain.Episode, error)
	ListHistory(username string) ([]domain.HistoryEntry, error)
	MarkEpisodeListened(username string, episodeID int64) error
	RemoveEpisodeListened(username string, episodeID int64) error
}

package store

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"voicebox/pkg/domain"
)

const nightlightRowID = 1

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&MessageModel{}, &TrustModel{}, &NightlightModel{}, &EpisodeModel{}, &HistoryModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// AppendMessage inserts a message row and returns the store-assigned id.
func (s *GormStore) AppendMessage(msg domain.Message) (int64, error) {
	model := messageToModel(msg)
	model.CreatedAt = time.Now().UTC()
	if err := s.db.Create(&model).Error; err != nil {
		return 0, err
	}
	return model.ID, nil
}

// GetMessage returns a message by id regardless of sender trust.
func (s *GormStore) GetMessage(id int64) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

const deliverablePredicate = "messages.listened = false AND sender_trust.verified = true AND sender_trust.blocked = false"

// NextDeliverable returns the oldest unlistened message from a verified,
// unblocked sender.
func (s *GormStore) NextDeliverable() (domain.Message, bool, error) {
	var model MessageModel
	err := s.db.
		Joins("JOIN sender_trust ON sender_trust.sender_id = messages.sender_id").
		Where(deliverablePredicate).
		Order("messages.id ASC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// GetDeliverable returns the message only when its sender passes the same
// trust predicate as NextDeliverable. Direct lookup does not filter on the
// listened flag, but an unverified sender's message stays unfetchable even
// by id.
func (s *GormStore) GetDeliverable(id int64) (domain.Message, bool, error) {
	var model MessageModel
	err := s.db.
		Joins("JOIN sender_trust ON sender_trust.sender_id = messages.sender_id").
		Where("messages.id = ? AND sender_trust.verified = true AND sender_trust.blocked = false", id).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// MarkListened flips listened once; repeats and unknown ids report false.
func (s *GormStore) MarkListened(id int64) (bool, error) {
	res := s.db.Model(&MessageModel{}).
		Where("id = ? AND listened = false", id).
		Update("listened", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetTrust looks up a sender trust record.
func (s *GormStore) GetTrust(senderID string) (domain.TrustRecord, bool, error) {
	var model TrustModel
	if err := s.db.First(&model, "sender_id = ?", senderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.TrustRecord{}, false, nil
		}
		return domain.TrustRecord{}, false, err
	}
	return trustFromModel(model), true, nil
}

// UpsertTrust creates a pending record or refreshes the mutable fields of an
// existing one. The ON CONFLICT form keeps concurrent first messages from the
// same sender from racing a check-then-insert, and never writes the verified
// or blocked columns.
func (s *GormStore) UpsertTrust(rec domain.TrustRecord) error {
	now := time.Now().UTC()
	model := TrustModel{
		SenderID:      rec.SenderID,
		SenderName:    rec.SenderName,
		Platform:      string(rec.Platform),
		ChatID:        rec.ChatID,
		LastMessageID: rec.LastMessageID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sender_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sender_name", "chat_id", "last_message_id", "updated_at"}),
	}).Create(&model).Error
}

// MarkVerified sets verified=true. It cannot unset anything by construction.
func (s *GormStore) MarkVerified(senderID string) error {
	return s.setTrustFlag(senderID, "verified")
}

// MarkBlocked sets blocked=true.
func (s *GormStore) MarkBlocked(senderID string) error {
	return s.setTrustFlag(senderID, "blocked")
}

func (s *GormStore) setTrustFlag(senderID, column string) error {
	return s.db.Model(&TrustModel{}).
		Where("sender_id = ?", senderID).
		Updates(map[string]any{
			column:       true,
			"updated_at": time.Now().UTC(),
		}).Error
}

// ListPendingTrust returns senders awaiting an admin decision.
func (s *GormStore) ListPendingTrust() ([]domain.TrustRecord, error) {
	var models []TrustModel
	err := s.db.
		Where("verified = false AND blocked = false").
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.TrustRecord, 0, len(models))
	for _, m := range models {
		res = append(res, trustFromModel(m))
	}
	return res, nil
}

// SetNightlight upserts the singleton timer row.
func (s *GormStore) SetNightlight(expiresAt time.Time) error {
	model := NightlightModel{
		ID:        nightlightRowID,
		ExpiresAt: expiresAt.UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"expires_at", "updated_at"}),
	}).Create(&model).Error
}

// GetNightlight returns the timer expiry; ok=false when no row exists yet.
func (s *GormStore) GetNightlight() (time.Time, bool, error) {
	var model NightlightModel
	if err := s.db.First(&model, "id = ?", nightlightRowID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return model.ExpiresAt, true, nil
}

// UpsertEpisode stores or refreshes a catalog entry keyed by episode number.
func (s *GormStore) UpsertEpisode(ep domain.Episode) error {
	model := EpisodeModel{
		Number:     ep.Number,
		Title:      ep.Title,
		Presenters: ep.Presenters,
		Location:   ep.Location,
		AiredOn:    ep.AiredOn,
		IsLive:     ep.IsLive,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "number"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "presenters", "location", "aired_on", "is_live"}),
	}).Create(&model).Error
}

// ListEpisodes returns catalog entries matching the filter.
func (s *GormStore) ListEpisodes(f EpisodeFilter) ([]domain.Episode, error) {
	tx := s.db.Model(&EpisodeModel{})
	if f.IsLive != nil {
		tx = tx.Where("is_live = ?", *f.IsLive)
	}
	for _, p := range f.Presenters {
		tx = tx.Where("LOWER(presenters) LIKE LOWER(?)", "%"+p+"%")
	}
	if f.Username != "" && (f.ExcludeAll || !f.ExcludeSince.IsZero()) {
		sub := s.db.Model(&HistoryModel{}).
			Select("episode_id").
			Where("username = ?", f.Username)
		if !f.ExcludeAll {
			sub = sub.Where("listened_at >= ?", f.ExcludeSince)
		}
		tx = tx.Where("id NOT IN (?)", sub)
	}
	var models []EpisodeModel
	if err := tx.Order("number ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Episode, 0, len(models))
	for _, m := range models {
		res = append(res, episodeFromModel(m))
	}
	return res, nil
}

// ListHistory returns a user's listened episodes, most recent first.
func (s *GormStore) ListHistory(username string) ([]domain.HistoryEntry, error) {
	type row struct {
		HistoryModel
		EpisodeModel
	}
	var rows []row
	err := s.db.Table("listening_history").
		Select("listening_history.*, episodes.*").
		Joins("JOIN episodes ON episodes.id = listening_history.episode_id").
		Where("listening_history.username = ?", username).
		Order("listening_history.listened_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		res = append(res, domain.HistoryEntry{
			Episode:    episodeFromModel(r.EpisodeModel),
			Username:   r.Username,
			ListenedAt: r.ListenedAt,
		})
	}
	return res, nil
}

// MarkEpisodeListened appends a history row.
func (s *GormStore) MarkEpisodeListened(username string, episodeID int64) error {
	return s.db.Create(&HistoryModel{
		Username:   username,
		EpisodeID:  episodeID,
		ListenedAt: time.Now().UTC(),
	}).Error
}

// RemoveEpisodeListened drops a history row.
func (s *GormStore) RemoveEpisodeListened(username string, episodeID int64) error {
	return s.db.
		Where("username = ? AND episode_id = ?", username, episodeID).
		Delete(&HistoryModel{}).Error
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		Platform:    string(msg.Platform),
		ChatID:      msg.ChatID,
		Type:        string(msg.Type),
		TextBody:    msg.TextBody,
		AudioURL:    msg.AudioURL,
		ReceivedAt:  msg.ReceivedAt,
		Listened:    msg.Listened,
		RawEnvelope: datatypes.JSON(msg.RawEnvelope),
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Platform:   domain.Platform(m.Platform),
		ChatID:     m.ChatID,
		Type:       domain.MessageType(m.Type),
		TextBody:   m.TextBody,
		AudioURL:   m.AudioURL,
		ReceivedAt: m.ReceivedAt,
		Listened:   m.Listened,
	}
}

func trustFromModel(m TrustModel) domain.TrustRecord {
	return domain.TrustRecord{
		SenderID:      m.SenderID,
		SenderName:    m.SenderName,
		Platform:      domain.Platform(m.Platform),
		ChatID:        m.ChatID,
		Verified:      m.Verified,
		Blocked:       m.Blocked,
		LastMessageID: m.LastMessageID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func episodeFromModel(m EpisodeModel) domain.Episode {
	return domain.Episode{
		ID:         m.ID,
		Number:     m.Number,
		Title:      m.Title,
		Presenters: m.Presenters,
		Location:   m.Location,
		AiredOn:    m.AiredOn,
		IsLive:     m.IsLive,
	}
}

package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"voicebox/pkg/domain"
)

// MemoryStore keeps everything in-process. It mirrors GormStore semantics
// closely enough for app and server tests.
type MemoryStore struct {
	mu         sync.RWMutex
	nextMsgID  int64
	nextEpID   int64
	messages   map[int64]domain.Message
	trust      map[string]domain.TrustRecord
	nightlight *time.Time
	episodes   map[int64]domain.Episode
	history    []HistoryModel
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[int64]domain.Message),
		trust:    make(map[string]domain.TrustRecord),
		episodes: make(map[int64]domain.Episode),
	}
}

func (m *MemoryStore) AppendMessage(msg domain.Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMsgID++
	msg.ID = m.nextMsgID
	m.messages[msg.ID] = msg
	return msg.ID, nil
}

func (m *MemoryStore) GetMessage(id int64) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	return msg, ok, nil
}

func (m *MemoryStore) deliverable(msg domain.Message) bool {
	rec, ok := m.trust[msg.SenderID]
	return ok && rec.Verified && !rec.Blocked
}

func (m *MemoryStore) NextDeliverable() (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.messages))
	for id := range m.messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		msg := m.messages[id]
		if !msg.Listened && m.deliverable(msg) {
			return msg, true, nil
		}
	}
	return domain.Message{}, false, nil
}

func (m *MemoryStore) GetDeliverable(id int64) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok || !m.deliverable(msg) {
		return domain.Message{}, false, nil
	}
	return msg, true, nil
}

func (m *MemoryStore) MarkListened(id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.Listened {
		return false, nil
	}
	msg.Listened = true
	m.messages[id] = msg
	return true, nil
}

func (m *MemoryStore) GetTrust(senderID string) (domain.TrustRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.trust[senderID]
	return rec, ok, nil
}

func (m *MemoryStore) UpsertTrust(rec domain.TrustRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	existing, ok := m.trust[rec.SenderID]
	if !ok {
		rec.Verified = false
		rec.Blocked = false
		rec.CreatedAt = now
		rec.UpdatedAt = now
		m.trust[rec.SenderID] = rec
		return nil
	}
	existing.SenderName = rec.SenderName
	existing.ChatID = rec.ChatID
	existing.LastMessageID = rec.LastMessageID
	existing.UpdatedAt = now
	m.trust[rec.SenderID] = existing
	return nil
}

func (m *MemoryStore) MarkVerified(senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.trust[senderID]; ok {
		rec.Verified = true
		rec.UpdatedAt = time.Now().UTC()
		m.trust[senderID] = rec
	}
	return nil
}

func (m *MemoryStore) MarkBlocked(senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.trust[senderID]; ok {
		rec.Blocked = true
		rec.UpdatedAt = time.Now().UTC()
		m.trust[senderID] = rec
	}
	return nil
}

func (m *MemoryStore) ListPendingTrust() ([]domain.TrustRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.TrustRecord, 0)
	for _, rec := range m.trust {
		if !rec.Verified && !rec.Blocked {
			res = append(res, rec)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) SetNightlight(expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := expiresAt.UTC()
	m.nightlight = &t
	return nil
}

func (m *MemoryStore) GetNightlight() (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.nightlight == nil {
		return time.Time{}, false, nil
	}
	return *m.nightlight, true, nil
}

func (m *MemoryStore) UpsertEpisode(ep domain.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.episodes {
		if existing.Number == ep.Number {
			ep.ID = id
			m.episodes[id] = ep
			return nil
		}
	}
	m.nextEpID++
	ep.ID = m.nextEpID
	m.episodes[ep.ID] = ep
	return nil
}

func (m *MemoryStore) ListEpisodes(f EpisodeFilter) ([]domain.Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	excluded := make(map[int64]bool)
	if f.Username != "" && (f.ExcludeAll || !f.ExcludeSince.IsZero()) {
		for _, h := range m.history {
			if h.Username != f.Username {
				continue
			}
			if f.ExcludeAll || !h.ListenedAt.Before(f.ExcludeSince) {
				excluded[h.EpisodeID] = true
			}
		}
	}
	res := make([]domain.Episode, 0)
	for _, ep := range m.episodes {
		if f.IsLive != nil && ep.IsLive != *f.IsLive {
			continue
		}
		if excluded[ep.ID] {
			continue
		}
		match := true
		for _, p := range f.Presenters {
			if !strings.Contains(strings.ToLower(ep.Presenters), strings.ToLower(p)) {
				match = false
				break
			}
		}
		if match {
			res = append(res, ep)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Number < res[j].Number })
	return res, nil
}

func (m *MemoryStore) ListHistory(username string) ([]domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.HistoryEntry, 0)
	for _, h := range m.history {
		if h.Username != username {
			continue
		}
		ep, ok := m.episodes[h.EpisodeID]
		if !ok {
			continue
		}
		res = append(res, domain.HistoryEntry{
			Episode:    ep,
			Username:   h.Username,
			ListenedAt: h.ListenedAt,
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ListenedAt.After(res[j].ListenedAt) })
	return res, nil
}

func (m *MemoryStore) MarkEpisodeListened(username string, episodeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, HistoryModel{
		Username:   username,
		EpisodeID:  episodeID,
		ListenedAt: time.Now().UTC(),
	})
	return nil
}

func (m *MemoryStore) RemoveEpisodeListened(username string, episodeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.history[:0]
	for _, h := range m.history {
		if h.Username == username && h.EpisodeID == episodeID {
			continue
		}
		kept = append(kept, h)
	}
	m.history = kept
	return nil
}

package episodes

import (
	"fmt"
	"html"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"voicebox/pkg/domain"
	"voicebox/pkg/store"
)

// PickFilter narrows the random-episode candidate set. Live takes "live",
// "recorded", or "either"; ExcludeMonths takes a month count or "all" to
// exclude the user's entire history.
type PickFilter struct {
	Live          string
	Presenters    []string
	Username      string
	ExcludeMonths string
}

// Service implements the episode picker over the shared store.
type Service struct {
	store store.Store

	// overridable for deterministic tests
	randIntN func(n int) int
	now      func() time.Time
}

// NewService builds the picker.
func NewService(st store.Store) *Service {
	return &Service{
		store:    st,
		randIntN: rand.IntN,
		now:      time.Now,
	}
}

// Random picks one episode at random from the filtered candidate set. The
// second return reports whether any candidate matched.
func (s *Service) Random(f PickFilter) (domain.Episode, bool, error) {
	filter := store.EpisodeFilter{
		Presenters: f.Presenters,
		Username:   strings.TrimSpace(f.Username),
	}
	switch f.Live {
	case "live":
		v := true
		filter.IsLive = &v
	case "recorded":
		v := false
		filter.IsLive = &v
	}
	if filter.Username != "" {
		if f.ExcludeMonths == "" || f.ExcludeMonths == "all" {
			filter.ExcludeAll = true
		} else {
			months := 0
			if _, err := fmt.Sscanf(f.ExcludeMonths, "%d", &months); err != nil || months <= 0 {
				return domain.Episode{}, false, fmt.Errorf("invalid exclude window %q", f.ExcludeMonths)
			}
			filter.ExcludeSince = s.now().AddDate(0, 0, -months*30)
		}
	}
	candidates, err := s.store.ListEpisodes(filter)
	if err != nil {
		return domain.Episode{}, false, err
	}
	if len(candidates) == 0 {
		return domain.Episode{}, false, nil
	}
	ep := candidates[s.randIntN(len(candidates))]
	ep.Title = decodeTitle(ep.Title)
	return ep, true, nil
}

// ByNumber fetches one episode by its catalog number.
func (s *Service) ByNumber(number int) (domain.Episode, bool, error) {
	eps, err := s.store.ListEpisodes(store.EpisodeFilter{})
	if err != nil {
		return domain.Episode{}, false, err
	}
	for _, ep := range eps {
		if ep.Number == number {
			ep.Title = decodeTitle(ep.Title)
			return ep, true, nil
		}
	}
	return domain.Episode{}, false, nil
}

// History lists what the user has listened to, most recent first.
func (s *Service) History(username string) ([]domain.HistoryEntry, error) {
	entries, err := s.store.ListHistory(username)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Episode.Title = decodeTitle(entries[i].Episode.Title)
	}
	return entries, nil
}

// MarkListened records that the user listened to an episode.
func (s *Service) MarkListened(username string, episodeID int64) error {
	return s.store.MarkEpisodeListened(username, episodeID)
}

// RemoveListened removes one history entry.
func (s *Service) RemoveListened(username string, episodeID int64) error {
	return s.store.RemoveEpisodeListened(username, episodeID)
}

// Catalog titles arrive percent-encoded with HTML entities on top.
func decodeTitle(title string) string {
	if unquoted, err := url.QueryUnescape(title); err == nil {
		title = unquoted
	}
	return html.UnescapeString(title)
}

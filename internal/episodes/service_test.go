package episodes

import (
	"testing"
	"time"

	"voicebox/pkg/domain"
	"voicebox/pkg/store"
)

func seedCatalog(t *testing.T, st store.Store) {
	t.Helper()
	eps := []domain.Episode{
		{Number: 1, Title: "Night%20Owls%20%26%20Friends", Presenters: "Dan, Anna", AiredOn: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), IsLive: true},
		{Number: 2, Title: "Quiet Hours", Presenters: "Andrew", AiredOn: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), IsLive: false},
		{Number: 3, Title: "Late Shift", Presenters: "James, Anna", AiredOn: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), IsLive: true},
	}
	for _, ep := range eps {
		if err := st.UpsertEpisode(ep); err != nil {
			t.Fatalf("UpsertEpisode: %v", err)
		}
	}
}

func TestRandomDecodesTitle(t *testing.T) {
	st := store.NewMemoryStore()
	seedCatalog(t, st)
	s := NewService(st)
	s.randIntN = func(int) int { return 0 }

	ep, ok, err := s.Random(PickFilter{Live: "live", Presenters: []string{"Dan"}})
	if err != nil || !ok {
		t.Fatalf("Random: ok=%v err=%v", ok, err)
	}
	if ep.Title != "Night Owls & Friends" {
		t.Fatalf("title = %q", ep.Title)
	}
}

func TestRandomFilters(t *testing.T) {
	st := store.NewMemoryStore()
	seedCatalog(t, st)
	s := NewService(st)
	s.randIntN = func(int) int { return 0 }

	if _, ok, err := s.Random(PickFilter{Live: "recorded", Presenters: []string{"Dan"}}); err != nil || ok {
		t.Fatalf("expected no match: ok=%v err=%v", ok, err)
	}
	ep, ok, err := s.Random(PickFilter{Live: "recorded"})
	if err != nil || !ok {
		t.Fatalf("Random: ok=%v err=%v", ok, err)
	}
	if ep.Number != 2 {
		t.Fatalf("number = %d, want 2", ep.Number)
	}
}

func TestRandomExcludesHistory(t *testing.T) {
	st := store.NewMemoryStore()
	seedCatalog(t, st)
	s := NewService(st)
	s.randIntN = func(int) int { return 0 }

	// Listen to everything except episode 2.
	for _, number := range []int{1, 3} {
		ep, ok, err := s.ByNumber(number)
		if err != nil || !ok {
			t.Fatalf("ByNumber(%d): ok=%v err=%v", number, ok, err)
		}
		if err := s.MarkListened("ada", ep.ID); err != nil {
			t.Fatalf("MarkListened: %v", err)
		}
	}

	ep, ok, err := s.Random(PickFilter{Username: "ada", ExcludeMonths: "all"})
	if err != nil || !ok {
		t.Fatalf("Random: ok=%v err=%v", ok, err)
	}
	if ep.Number != 2 {
		t.Fatalf("number = %d, want the only unheard episode", ep.Number)
	}

	// Removing a history entry puts the episode back in the pool.
	first, _, _ := s.ByNumber(1)
	if err := s.RemoveListened("ada", first.ID); err != nil {
		t.Fatalf("RemoveListened: %v", err)
	}
	entries, err := s.History("ada")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
}

func TestRandomRejectsBadExcludeWindow(t *testing.T) {
	st := store.NewMemoryStore()
	seedCatalog(t, st)
	s := NewService(st)

	if _, _, err := s.Random(PickFilter{Username: "ada", ExcludeMonths: "soon"}); err == nil {
		t.Fatalf("expected error for invalid exclude window")
	}
}

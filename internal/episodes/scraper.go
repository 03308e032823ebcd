package episodes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"voicebox/pkg/domain"
	"voicebox/pkg/store"
)

// Scraper keeps the episode catalog fresh by periodically pulling the feed
// page and upserting its rows. It talks to the core only through the store.
type Scraper struct {
	store      store.Store
	feedURL    string
	interval   time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewScraper builds a catalog scraper.
func NewScraper(st store.Store, feedURL string, interval time.Duration, logger *slog.Logger) *Scraper {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		store:      st,
		feedURL:    feedURL,
		interval:   interval,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Run refreshes once immediately, then on every tick until ctx is cancelled.
func (s *Scraper) Run(ctx context.Context) error {
	if err := s.RefreshOnce(ctx); err != nil {
		s.logger.Warn("catalog refresh failed", "error", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RefreshOnce(ctx); err != nil {
				s.logger.Warn("catalog refresh failed", "error", err)
			}
		}
	}
}

// RefreshOnce fetches the feed page and upserts every parsed episode row.
func (s *Scraper) RefreshOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch catalog: unexpected status %d", resp.StatusCode)
	}
	doc, err := html.Parse(resp.Body)
	if err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	episodes := ParseCatalog(doc)
	for _, ep := range episodes {
		if err := s.store.UpsertEpisode(ep); err != nil {
			s.logger.Warn("episode upsert failed", "number", ep.Number, "error", err)
		}
	}
	s.logger.Info("catalog refreshed", "episodes", len(episodes))
	return nil
}

// ParseCatalog walks the document and extracts one episode per table row of
// the form: number, title, presenters, location, date, live marker. Rows
// whose number or date fail to parse are skipped.
func ParseCatalog(doc *html.Node) []domain.Episode {
	var episodes []domain.Episode
	for _, row := range findAll(doc, "tr") {
		cells := findAll(row, "td")
		if len(cells) < 6 {
			continue
		}
		number, err := strconv.Atoi(textOf(cells[0]))
		if err != nil {
			continue
		}
		airedOn, err := time.Parse("2006-01-02", textOf(cells[4]))
		if err != nil {
			continue
		}
		episodes = append(episodes, domain.Episode{
			Number:     number,
			Title:      textOf(cells[1]),
			Presenters: textOf(cells[2]),
			Location:   textOf(cells[3]),
			AiredOn:    airedOn,
			IsLive:     strings.EqualFold(textOf(cells[5]), "live"),
		})
	}
	return episodes
}

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == tag {
			out = append(out, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"voicebox/pkg/domain"
	"voicebox/pkg/media"
	"voicebox/pkg/queue"
	"voicebox/pkg/speech"
	"voicebox/pkg/storage"
	"voicebox/pkg/store"
)

// MediaFetcher downloads the raw bytes behind a platform media handle.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, ref string) ([]byte, error)
}

// Config wires the pipeline's collaborators. Store, Queue, and AdminChatID
// are required; the rest degrade gracefully when absent.
type Config struct {
	Store         store.Store
	Publisher     storage.Publisher
	Transcoder    media.Transcoder
	Synthesizer   speech.Synthesizer
	Queue         queue.Enqueuer
	MediaFetchers map[domain.Platform]MediaFetcher
	AdminChatID   string
	AdminPlatform domain.Platform
	Logger        *slog.Logger
}

// App implements the intake, trust, outbox, and nightlight operations.
type App struct {
	store         store.Store
	publisher     storage.Publisher
	transcoder    media.Transcoder
	synthesizer   speech.Synthesizer
	queue         queue.Enqueuer
	fetchers      map[domain.Platform]MediaFetcher
	adminChatID   string
	adminPlatform domain.Platform
	logger        *slog.Logger
}

// New builds the app from its collaborators.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("notification queue required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	adminPlatform := cfg.AdminPlatform
	if adminPlatform == "" {
		adminPlatform = domain.PlatformTelegram
	}
	return &App{
		store:         cfg.Store,
		publisher:     cfg.Publisher,
		transcoder:    cfg.Transcoder,
		synthesizer:   cfg.Synthesizer,
		queue:         cfg.Queue,
		fetchers:      cfg.MediaFetchers,
		adminChatID:   cfg.AdminChatID,
		adminPlatform: adminPlatform,
		logger:        logger,
	}, nil
}

// Ingest runs the intake pipeline for one canonical inbound message: drop if
// the sender is blocked, prepare the audio rendition, persist, refresh the
// trust record, and prompt the admin while the sender awaits a decision.
// Audio preparation failures degrade to a stored message without an audio URL
// rather than failing the ingest.
func (a *App) Ingest(ctx context.Context, inb domain.Inbound) error {
	existing, known, err := a.store.GetTrust(inb.SenderID)
	if err != nil {
		return fmt.Errorf("load trust: %w", err)
	}
	if known && existing.Blocked {
		a.logger.Info("dropping message from blocked sender",
			"senderId", inb.SenderID, "platform", string(inb.Platform))
		return nil
	}

	if inb.ReceivedAt.IsZero() {
		inb.ReceivedAt = time.Now().UTC()
	}
	audioURL := a.prepareAudio(ctx, inb)

	msg := domain.Message{
		SenderID:    inb.SenderID,
		SenderName:  inb.SenderName,
		Platform:    inb.Platform,
		ChatID:      inb.ChatID,
		Type:        inb.Type,
		TextBody:    inb.TextBody,
		AudioURL:    audioURL,
		ReceivedAt:  inb.ReceivedAt,
		RawEnvelope: inb.RawEnvelope,
	}
	id, err := a.store.AppendMessage(msg)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if err := a.store.UpsertTrust(domain.TrustRecord{
		SenderID:      inb.SenderID,
		SenderName:    inb.SenderName,
		Platform:      inb.Platform,
		ChatID:        inb.ChatID,
		LastMessageID: id,
	}); err != nil {
		return fmt.Errorf("upsert trust: %w", err)
	}

	// Re-prompt on every message until the admin decides.
	if !known || !existing.Verified {
		a.notifyAdminPending(ctx, inb, known)
	}
	a.logger.Info("message ingested",
		"messageId", id, "senderId", inb.SenderID, "type", string(inb.Type))
	return nil
}

// prepareAudio returns the published MP3 pull URL for the message, or empty
// on any failure. Voice notes are fetched and re-encoded; text messages are
// synthesized.
func (a *App) prepareAudio(ctx context.Context, inb domain.Inbound) string {
	if a.publisher == nil {
		return ""
	}
	var mp3 []byte
	switch inb.Type {
	case domain.TypeAudio:
		fetcher, ok := a.fetchers[inb.Platform]
		if !ok || a.transcoder == nil {
			return ""
		}
		ogg, err := fetcher.FetchMedia(ctx, inb.MediaRef)
		if err != nil {
			a.logger.Warn("media fetch failed", "mediaRef", inb.MediaRef, "error", err)
			return ""
		}
		mp3, err = a.transcoder.ToMP3(ctx, ogg)
		if err != nil {
			a.logger.Warn("transcode failed", "mediaRef", inb.MediaRef, "error", err)
			return ""
		}
	case domain.TypeText:
		if a.synthesizer == nil {
			return ""
		}
		var err error
		mp3, err = a.synthesizer.Speak(ctx, inb.TextBody)
		if err != nil {
			a.logger.Warn("speech synthesis failed", "senderId", inb.SenderID, "error", err)
			return ""
		}
	default:
		return ""
	}
	key := strconv.FormatInt(inb.ReceivedAt.Unix(), 10)
	url, err := a.publisher.PublishAudio(ctx, key, mp3)
	if err != nil {
		a.logger.Warn("audio publish failed", "key", key, "error", err)
		return ""
	}
	return url
}

func (a *App) notifyAdminPending(ctx context.Context, inb domain.Inbound, known bool) {
	if a.adminChatID == "" {
		return
	}
	name := inb.SenderName
	if name == "" {
		name = inb.SenderID
	}
	text := fmt.Sprintf("New sender %s (%s) is waiting for approval.", name, inb.SenderID)
	if known {
		text = fmt.Sprintf("Pending sender %s (%s) sent another message.", name, inb.SenderID)
	}
	_, err := a.queue.Enqueue(ctx, queue.Notification{
		Kind:       queue.KindAdminPrompt,
		Platform:   a.adminPlatform,
		ChatID:     a.adminChatID,
		SenderID:   inb.SenderID,
		SenderName: inb.SenderName,
		Text:       text,
	})
	if err != nil {
		a.logger.Warn("admin prompt enqueue failed", "senderId", inb.SenderID, "error", err)
	}
}

// FetchNext returns the oldest unlistened message from a verified sender.
func (a *App) FetchNext() (domain.Message, error) {
	msg, ok, err := a.store.NextDeliverable()
	if err != nil {
		return domain.Message{}, err
	}
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	return msg, nil
}

// Fetch returns one message by id, still gated on sender verification.
func (a *App) Fetch(id int64) (domain.Message, error) {
	msg, ok, err := a.store.GetDeliverable(id)
	if err != nil {
		return domain.Message{}, err
	}
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	return msg, nil
}

// Acknowledge marks a message as listened. The first acknowledgement queues
// a "heard" notification back to the sender; repeats are silent no-ops.
func (a *App) Acknowledge(ctx context.Context, id int64) error {
	flipped, err := a.store.MarkListened(id)
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}
	msg, ok, err := a.store.GetMessage(id)
	if err != nil || !ok {
		return err
	}
	if msg.ChatID == "" {
		return nil
	}
	_, err = a.queue.Enqueue(ctx, queue.Notification{
		Kind:       queue.KindSenderHeard,
		Platform:   msg.Platform,
		ChatID:     msg.ChatID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Text:       "Your message was just listened to.",
	})
	if err != nil {
		a.logger.Warn("heard notification enqueue failed", "messageId", id, "error", err)
	}
	return nil
}

// Decide applies an admin verify/block decision to a sender. alreadyDone
// reports a repeat decision; the first verify queues a welcome notification
// to the sender, a repeat does not.
func (a *App) Decide(ctx context.Context, senderID string, action domain.TrustAction) (alreadyDone bool, err error) {
	rec, ok, err := a.store.GetTrust(senderID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrUnknownSender
	}
	next, alreadyDone, err := domain.Decide(rec.State(), action)
	if err != nil {
		return false, err
	}
	if alreadyDone {
		return true, nil
	}
	switch next {
	case domain.TrustVerified:
		if err := a.store.MarkVerified(senderID); err != nil {
			return false, err
		}
		a.notifyWelcome(ctx, rec)
	case domain.TrustBlocked:
		if err := a.store.MarkBlocked(senderID); err != nil {
			return false, err
		}
	}
	a.logger.Info("trust decision applied", "senderId", senderID, "action", string(action))
	return false, nil
}

func (a *App) notifyWelcome(ctx context.Context, rec domain.TrustRecord) {
	if rec.ChatID == "" {
		return
	}
	_, err := a.queue.Enqueue(ctx, queue.Notification{
		Kind:       queue.KindSenderWelcome,
		Platform:   rec.Platform,
		ChatID:     rec.ChatID,
		SenderID:   rec.SenderID,
		SenderName: rec.SenderName,
		Text:       "You are verified. Your messages will now be delivered.",
	})
	if err != nil {
		a.logger.Warn("welcome notification enqueue failed", "senderId", rec.SenderID, "error", err)
	}
}

// PendingSenders lists senders still waiting for an admin decision.
func (a *App) PendingSenders() ([]domain.TrustRecord, error) {
	return a.store.ListPendingTrust()
}

// allowed nightlight durations, in hours
var nightlightHours = map[string]int{"1": 1, "2": 2, "4": 4, "8": 8}

// SetNightlight arms the shared nightlight timer for the given duration
// ("1", "2", "4", "8" hours) or disarms it ("off").
func (a *App) SetNightlight(duration string) (domain.NightlightStatus, error) {
	if duration == "off" {
		if err := a.store.SetNightlight(time.Now().UTC()); err != nil {
			return domain.NightlightStatus{}, err
		}
		return domain.NightlightStatus{}, nil
	}
	hours, ok := nightlightHours[duration]
	if !ok {
		return domain.NightlightStatus{}, fmt.Errorf("%w: %q", ErrInvalidDuration, duration)
	}
	expires := time.Now().UTC().Add(time.Duration(hours) * time.Hour)
	if err := a.store.SetNightlight(expires); err != nil {
		return domain.NightlightStatus{}, err
	}
	return nightlightStatusAt(expires, time.Now()), nil
}

// NightlightStatus reports whether the timer is armed and how long remains.
func (a *App) NightlightStatus() (domain.NightlightStatus, error) {
	expires, ok, err := a.store.GetNightlight()
	if err != nil {
		return domain.NightlightStatus{}, err
	}
	if !ok {
		return domain.NightlightStatus{}, nil
	}
	return nightlightStatusAt(expires, time.Now()), nil
}

func nightlightStatusAt(expires, now time.Time) domain.NightlightStatus {
	remaining := expires.Sub(now)
	if remaining <= 0 {
		return domain.NightlightStatus{}
	}
	return domain.NightlightStatus{
		Active:           true,
		RemainingSeconds: int64(remaining.Seconds()),
	}
}

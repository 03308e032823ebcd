package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"voicebox/pkg/domain"
	"voicebox/pkg/queue"
	"voicebox/pkg/store"
)

type fakeQueue struct {
	sent []queue.Notification
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, n queue.Notification) (queue.Notification, error) {
	if f.err != nil {
		return queue.Notification{}, f.err
	}
	n.ID = "n-1"
	f.sent = append(f.sent, n)
	return n, nil
}

func (f *fakeQueue) byKind(kind queue.NotificationKind) []queue.Notification {
	var out []queue.Notification
	for _, n := range f.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type fakePublisher struct {
	published map[string][]byte
	err       error
}

func (f *fakePublisher) PublishAudio(_ context.Context, key string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.published == nil {
		f.published = map[string][]byte{}
	}
	f.published[key] = data
	return "https://cdn.example/audio_" + key + ".mp3", nil
}

func (f *fakePublisher) Delete(context.Context, string) error { return nil }

type fakeTranscoder struct{ err error }

func (f *fakeTranscoder) ToMP3(_ context.Context, ogg []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("mp3:"), ogg...), nil
}

type fakeSynthesizer struct{ err error }

func (f *fakeSynthesizer) Speak(_ context.Context, text string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("tts:" + text), nil
}

type fakeFetcher struct {
	media map[string][]byte
	err   error
}

func (f *fakeFetcher) FetchMedia(_ context.Context, ref string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.media[ref]
	if !ok {
		return nil, errors.New("media not found")
	}
	return data, nil
}

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *fakeQueue) {
	t.Helper()
	st := store.NewMemoryStore()
	q := &fakeQueue{}
	a, err := New(Config{
		Store:       st,
		Publisher:   &fakePublisher{},
		Transcoder:  &fakeTranscoder{},
		Synthesizer: &fakeSynthesizer{},
		Queue:       q,
		MediaFetchers: map[domain.Platform]MediaFetcher{
			domain.PlatformWhatsApp: &fakeFetcher{media: map[string][]byte{"media-1": []byte("ogg")}},
		},
		AdminChatID: "admin-chat",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, st, q
}

func textInbound(senderID, body string) domain.Inbound {
	return domain.Inbound{
		Platform:   domain.PlatformWhatsApp,
		SenderID:   senderID,
		SenderName: "Sender " + senderID,
		ChatID:     senderID,
		Type:       domain.TypeText,
		TextBody:   body,
		ReceivedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestIngestFirstContactCreatesPendingAndPromptsAdmin(t *testing.T) {
	a, st, q := newTestApp(t)
	ctx := context.Background()

	if err := a.Ingest(ctx, textInbound("s1", "hello")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	rec, ok, err := st.GetTrust("s1")
	if err != nil || !ok {
		t.Fatalf("GetTrust: ok=%v err=%v", ok, err)
	}
	if rec.State() != domain.TrustPending {
		t.Fatalf("state = %q, want pending", rec.State())
	}
	if rec.LastMessageID == 0 {
		t.Fatalf("last message pointer not set")
	}
	prompts := q.byKind(queue.KindAdminPrompt)
	if len(prompts) != 1 {
		t.Fatalf("admin prompts = %d, want 1", len(prompts))
	}
	if prompts[0].ChatID != "admin-chat" || prompts[0].SenderID != "s1" {
		t.Fatalf("prompt = %+v", prompts[0])
	}

	// Still pending, so a second message prompts the admin again.
	if err := a.Ingest(ctx, textInbound("s1", "again")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got := len(q.byKind(queue.KindAdminPrompt)); got != 2 {
		t.Fatalf("admin prompts after repeat = %d, want 2", got)
	}

	// Verified senders no longer prompt.
	if err := st.MarkVerified("s1"); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	if err := a.Ingest(ctx, textInbound("s1", "more")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got := len(q.byKind(queue.KindAdminPrompt)); got != 2 {
		t.Fatalf("admin prompts after verify = %d, want 2", got)
	}
}

func TestIngestDropsBlockedSender(t *testing.T) {
	a, st, q := newTestApp(t)
	ctx := context.Background()

	if err := a.Ingest(ctx, textInbound("s1", "first")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := a.Decide(ctx, "s1", domain.ActionBlock); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	before := len(q.sent)

	if err := a.Ingest(ctx, textInbound("s1", "ignored")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	rec, _, _ := st.GetTrust("s1")
	if rec.LastMessageID != 1 {
		t.Fatalf("blocked message persisted: pointer = %d", rec.LastMessageID)
	}
	if len(q.sent) != before {
		t.Fatalf("blocked ingest queued notifications")
	}
}

func TestIngestTextSynthesizesAudio(t *testing.T) {
	a, st, _ := newTestApp(t)
	ctx := context.Background()

	if err := a.Ingest(ctx, textInbound("s1", "good night")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	msg, ok, err := st.GetMessage(1)
	if err != nil || !ok {
		t.Fatalf("GetMessage: ok=%v err=%v", ok, err)
	}
	if msg.TextBody != "good night" {
		t.Fatalf("text = %q", msg.TextBody)
	}
	if msg.AudioURL != "https://cdn.example/audio_1700000000.mp3" {
		t.Fatalf("audioUrl = %q", msg.AudioURL)
	}
}

func TestIngestAudioTranscodesAndPublishes(t *testing.T) {
	a, st, _ := newTestApp(t)
	ctx := context.Background()

	inb := domain.Inbound{
		Platform:   domain.PlatformWhatsApp,
		SenderID:   "s1",
		SenderName: "Ada",
		ChatID:     "s1",
		Type:       domain.TypeAudio,
		MediaRef:   "media-1",
		ReceivedAt: time.Unix(1700000000, 0).UTC(),
	}
	if err := a.Ingest(ctx, inb); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	msg, _, _ := st.GetMessage(1)
	if msg.Type != domain.TypeAudio {
		t.Fatalf("type = %q", msg.Type)
	}
	if !strings.HasSuffix(msg.AudioURL, "audio_1700000000.mp3") {
		t.Fatalf("audioUrl = %q", msg.AudioURL)
	}
}

func TestIngestSurvivesAudioPipelineFailure(t *testing.T) {
	st := store.NewMemoryStore()
	q := &fakeQueue{}
	a, err := New(Config{
		Store:       st,
		Publisher:   &fakePublisher{},
		Synthesizer: &fakeSynthesizer{err: errors.New("tts down")},
		Queue:       q,
		AdminChatID: "admin-chat",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Ingest(context.Background(), textInbound("s1", "hello")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	msg, ok, _ := st.GetMessage(1)
	if !ok {
		t.Fatalf("message not stored despite synthesis failure")
	}
	if msg.AudioURL != "" {
		t.Fatalf("audioUrl = %q, want empty", msg.AudioURL)
	}
}

func TestFetchNextGatedOnVerification(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	if err := a.Ingest(ctx, textInbound("s1", "hello")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := a.FetchNext(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FetchNext before verify: err = %v, want ErrNotFound", err)
	}

	if _, err := a.Decide(ctx, "s1", domain.ActionVerify); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	msg, err := a.FetchNext()
	if err != nil {
		t.Fatalf("FetchNext after verify: %v", err)
	}
	if msg.TextBody != "hello" {
		t.Fatalf("message = %+v", msg)
	}

	if err := a.Acknowledge(ctx, msg.ID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if _, err := a.FetchNext(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FetchNext after ack: err = %v, want ErrNotFound", err)
	}
}

func TestAcknowledgeNotifiesSenderOnce(t *testing.T) {
	a, _, q := newTestApp(t)
	ctx := context.Background()

	if err := a.Ingest(ctx, textInbound("s1", "hello")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := a.Decide(ctx, "s1", domain.ActionVerify); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	if err := a.Acknowledge(ctx, 1); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if err := a.Acknowledge(ctx, 1); err != nil {
		t.Fatalf("repeat Acknowledge: %v", err)
	}
	heard := q.byKind(queue.KindSenderHeard)
	if len(heard) != 1 {
		t.Fatalf("heard notifications = %d, want 1", len(heard))
	}
	if heard[0].ChatID != "s1" {
		t.Fatalf("heard chat = %q", heard[0].ChatID)
	}
}

func TestDecideVerifyWelcomesOnce(t *testing.T) {
	a, _, q := newTestApp(t)
	ctx := context.Background()

	if err := a.Ingest(ctx, textInbound("s1", "hello")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	already, err := a.Decide(ctx, "s1", domain.ActionVerify)
	if err != nil || already {
		t.Fatalf("first verify: already=%v err=%v", already, err)
	}
	already, err = a.Decide(ctx, "s1", domain.ActionVerify)
	if err != nil || !already {
		t.Fatalf("repeat verify: already=%v err=%v", already, err)
	}
	welcomes := q.byKind(queue.KindSenderWelcome)
	if len(welcomes) != 1 {
		t.Fatalf("welcome notifications = %d, want 1", len(welcomes))
	}
}

func TestDecideRejectsCrossTransitions(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	if err := a.Ingest(ctx, textInbound("s1", "hello")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := a.Ingest(ctx, textInbound("s2", "hi")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := a.Decide(ctx, "s1", domain.ActionVerify); err != nil {
		t.Fatalf("verify s1: %v", err)
	}
	if _, err := a.Decide(ctx, "s2", domain.ActionBlock); err != nil {
		t.Fatalf("block s2: %v", err)
	}

	if _, err := a.Decide(ctx, "s1", domain.ActionBlock); err == nil {
		t.Fatalf("expected error blocking a verified sender")
	}
	if _, err := a.Decide(ctx, "s2", domain.ActionVerify); err == nil {
		t.Fatalf("expected error verifying a blocked sender")
	}
	if _, err := a.Decide(ctx, "ghost", domain.ActionVerify); !errors.Is(err, ErrUnknownSender) {
		t.Fatalf("err = %v, want ErrUnknownSender", err)
	}
}

func TestNightlightLifecycle(t *testing.T) {
	a, _, _ := newTestApp(t)

	status, err := a.NightlightStatus()
	if err != nil {
		t.Fatalf("NightlightStatus: %v", err)
	}
	if status.Active {
		t.Fatalf("timer active before arming")
	}

	status, err = a.SetNightlight("2")
	if err != nil {
		t.Fatalf("SetNightlight: %v", err)
	}
	if !status.Active {
		t.Fatalf("timer not active after arming")
	}
	if status.RemainingSeconds <= 0 || status.RemainingSeconds > 2*3600 {
		t.Fatalf("remaining = %d", status.RemainingSeconds)
	}

	status, err = a.SetNightlight("off")
	if err != nil {
		t.Fatalf("SetNightlight off: %v", err)
	}
	if status.Active {
		t.Fatalf("timer still active after off")
	}
	status, _ = a.NightlightStatus()
	if status.Active {
		t.Fatalf("status still active after off")
	}

	if _, err := a.SetNightlight("3"); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("err = %v, want ErrInvalidDuration", err)
	}
}

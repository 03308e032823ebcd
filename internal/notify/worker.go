package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"voicebox/pkg/domain"
	"voicebox/pkg/queue"
)

// Sender delivers plain text to a chat on one platform.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// PromptSender additionally supports the admin approval prompt with inline
// decision buttons. The Telegram client implements it; platforms without
// inline keyboards fall back to plain text.
type PromptSender interface {
	Sender
	SendApprovalPrompt(ctx context.Context, chatID, text, senderID string) error
}

// Worker drains the notification queue and pushes each entry to its
// platform.
type Worker struct {
	queue       *queue.RedisNotificationQueue
	senders     map[domain.Platform]Sender
	concurrency int
	sendTimeout time.Duration
	logger      *slog.Logger
}

// NewWorker builds a worker over the queue and per-platform senders.
func NewWorker(q *queue.RedisNotificationQueue, senders map[domain.Platform]Sender, concurrency int, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Worker{
		queue:       q,
		senders:     senders,
		concurrency: concurrency,
		sendTimeout: 20 * time.Second,
		logger:      logger,
	}
}

// Run starts the queue consumers and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.queue.Start(ctx, w.concurrency, w.deliver)
	<-ctx.Done()
	return ctx.Err()
}

func (w *Worker) deliver(ctx context.Context, n queue.Notification) error {
	sender, ok := w.senders[n.Platform]
	if !ok {
		// Unroutable notifications are dropped, not retried.
		w.logger.Warn("no sender for platform", "platform", string(n.Platform), "notificationId", n.ID)
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	var err error
	if n.Kind == queue.KindAdminPrompt {
		if prompter, ok := sender.(PromptSender); ok && n.SenderID != "" {
			err = prompter.SendApprovalPrompt(ctx, n.ChatID, n.Text, n.SenderID)
		} else {
			err = sender.SendText(ctx, n.ChatID, n.Text)
		}
	} else {
		err = sender.SendText(ctx, n.ChatID, n.Text)
	}
	if err != nil {
		return fmt.Errorf("deliver %s notification: %w", n.Kind, err)
	}
	w.logger.Info("notification delivered",
		"notificationId", n.ID, "kind", string(n.Kind), "platform", string(n.Platform))
	return nil
}

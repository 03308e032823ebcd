package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"voicebox/pkg/domain"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
)

// NotificationKind selects the outbound message template.
type NotificationKind string

const (
	// KindAdminPrompt asks the admin channel to verify or block a sender.
	KindAdminPrompt NotificationKind = "admin_prompt"
	// KindSenderHeard tells a sender their message was listened to.
	KindSenderHeard NotificationKind = "sender_heard"
	// KindSenderWelcome tells a sender they were verified.
	KindSenderWelcome NotificationKind = "sender_welcome"
)

// Notification is one outbound push waiting for delivery.
type Notification struct {
	ID         string           `json:"id"`
	Kind       NotificationKind `json:"kind"`
	Platform   domain.Platform  `json:"platform"`
	ChatID     string           `json:"chatId"`
	SenderID   string           `json:"senderId,omitempty"`
	SenderName string           `json:"senderName,omitempty"`
	Text       string           `json:"text"`
	Status     string           `json:"status"`
	Error      string           `json:"error,omitempty"`
	Attempts   int              `json:"attempts"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Enqueuer is the producer-side interface the pipeline depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, n Notification) (Notification, error)
}

// RedisNotificationQueue delivers notifications through a redis stream with
// a consumer group, per-entry status hashes, and bounded retries.
type RedisNotificationQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	entryTTL     time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	once         sync.Once
}

// Config tunes the queue; zero values pick safe defaults.
type Config struct {
	Stream     string
	Group      string
	Consumer   string
	EntryTTL   time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
}

// NewRedisNotificationQueue wraps an existing redis client. The client is
// shared with other redis-backed parts (rate limiter) rather than opened per
// component.
func NewRedisNotificationQueue(client *redis.Client, cfg Config) (*RedisNotificationQueue, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "notify"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = uuid.NewString()
	}
	entryTTL := cfg.EntryTTL
	if entryTTL <= 0 {
		entryTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisNotificationQueue{
		client:       client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		entryTTL:     entryTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
	}, nil
}

// Enqueue records the notification and appends it to the stream.
func (q *RedisNotificationQueue) Enqueue(ctx context.Context, n Notification) (Notification, error) {
	if strings.TrimSpace(n.ChatID) == "" {
		return Notification{}, errors.New("chatId required")
	}
	if n.Kind == "" {
		return Notification{}, errors.New("kind required")
	}
	n.ID = uuid.NewString()
	n.Status = StatusQueued
	n.Attempts = 0
	n.CreatedAt = time.Now().UTC()
	n.UpdatedAt = n.CreatedAt
	if err := q.writeStatus(ctx, n); err != nil {
		return Notification{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: streamValues(n),
	}).Err(); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// Get returns the stored status for a notification id.
func (q *RedisNotificationQueue) Get(ctx context.Context, id string) (Notification, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Notification{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.entryKey(id)).Result()
	if err != nil {
		return Notification{}, false, err
	}
	if len(data) == 0 {
		return Notification{}, false, nil
	}
	return decodeNotification(id, data), true, nil
}

// Start launches consumer goroutines until ctx is cancelled.
func (q *RedisNotificationQueue) Start(ctx context.Context, concurrency int, handler func(context.Context, Notification) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisNotificationQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			// best-effort; errors surface on consume
		}
	})
}

func (q *RedisNotificationQueue) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, Notification) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisNotificationQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisNotificationQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, Notification) error) {
	n, ok := notificationFromValues(msg.Values)
	if !ok {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	n, err := q.markProcessing(ctx, n)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if err := handler(ctx, n); err == nil {
		_ = q.markStatus(ctx, n.ID, StatusSent, "")
		q.ackAndDel(ctx, msg.ID)
		return
	} else if n.Attempts >= q.maxRetries {
		_ = q.markStatus(ctx, n.ID, StatusFailed, err.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	} else {
		_ = q.markStatus(ctx, n.ID, StatusQueued, err.Error())
	}
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.requeueAndAck(ctx, msg.ID, msg.Values)
}

func (q *RedisNotificationQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisNotificationQueue) requeueAndAck(ctx context.Context, msgID string, values map[string]any) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: values,
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisNotificationQueue) markProcessing(ctx context.Context, n Notification) (Notification, error) {
	stored, ok, err := q.Get(ctx, n.ID)
	if err != nil {
		return Notification{}, err
	}
	if ok {
		n.Attempts = stored.Attempts
		n.CreatedAt = stored.CreatedAt
	}
	n.Attempts++
	n.Status = StatusProcessing
	n.UpdatedAt = time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = n.UpdatedAt
	}
	if err := q.writeStatus(ctx, n); err != nil {
		return Notification{}, err
	}
	return n, nil
}

func (q *RedisNotificationQueue) markStatus(ctx context.Context, id, status, errMsg string) error {
	n, ok, err := q.Get(ctx, id)
	if err != nil || !ok {
		return err
	}
	n.Status = status
	n.Error = errMsg
	n.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, n)
}

func (q *RedisNotificationQueue) writeStatus(ctx context.Context, n Notification) error {
	payload := map[string]any{
		"kind":       string(n.Kind),
		"platform":   string(n.Platform),
		"chatId":     n.ChatID,
		"senderId":   n.SenderID,
		"senderName": n.SenderName,
		"text":       n.Text,
		"status":     n.Status,
		"error":      n.Error,
		"attempts":   strconv.Itoa(n.Attempts),
		"createdAt":  n.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":  n.UpdatedAt.Format(time.RFC3339Nano),
	}
	key := q.entryKey(n.ID)
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.entryTTL).Err()
	return nil
}

func (q *RedisNotificationQueue) entryKey(id string) string {
	return fmt.Sprintf("notify:%s:%s", q.stream, id)
}

func streamValues(n Notification) map[string]any {
	return map[string]any{
		"notification_id": n.ID,
		"kind":            string(n.Kind),
		"platform":        string(n.Platform),
		"chat_id":         n.ChatID,
		"sender_id":       n.SenderID,
		"sender_name":     n.SenderName,
		"text":            n.Text,
	}
}

func notificationFromValues(values map[string]any) (Notification, bool) {
	id, _ := values["notification_id"].(string)
	kind, _ := values["kind"].(string)
	chatID, _ := values["chat_id"].(string)
	if id == "" || kind == "" || chatID == "" {
		return Notification{}, false
	}
	platform, _ := values["platform"].(string)
	senderID, _ := values["sender_id"].(string)
	senderName, _ := values["sender_name"].(string)
	text, _ := values["text"].(string)
	return Notification{
		ID:         id,
		Kind:       NotificationKind(kind),
		Platform:   domain.Platform(platform),
		ChatID:     chatID,
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
	}, true
}

func decodeNotification(id string, data map[string]string) Notification {
	n := Notification{ID: id}
	n.Kind = NotificationKind(data["kind"])
	n.Platform = domain.Platform(data["platform"])
	n.ChatID = data["chatId"]
	n.SenderID = data["senderId"]
	n.SenderName = data["senderName"]
	n.Text = data["text"]
	n.Status = data["status"]
	n.Error = data["error"]
	if v := data["attempts"]; v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			n.Attempts = i
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, data["createdAt"]); err == nil {
		n.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["updatedAt"]); err == nil {
		n.UpdatedAt = t
	}
	return n
}

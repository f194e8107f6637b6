// Package notify carries the side signals of the chat core over Redis:
// viewer presence, "session changed" pub/sub hints and the offline-alert
// queue consumed by the external notification service. Nothing here is part
// of the core contract; failures are logged and never fail a request.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	signalPrefix   = "chat:signal:"
	presencePrefix = "chat:presence:"
	// DefaultAlertQueue is the Redis list the notification service pops from.
	DefaultAlertQueue = "chat:offline_alerts"
)

// OfflineAlert asks the notification service to tell RecipientID about a
// message they have not seen because they are not polling.
type OfflineAlert struct {
	RecipientID  string    `json:"recipient_id"`
	SessionID    string    `json:"session_id"`
	SubjectRef   string    `json:"subject_ref"`
	SubjectTitle string    `json:"subject_title"`
	SenderID     string    `json:"sender_id"`
	MessageID    uint64    `json:"message_id"`
	Preview      string    `json:"preview"`
	At           time.Time `json:"at"`
}

type Notifier interface {
	Publish(ctx context.Context, sig models.Signal) error
	Touch(ctx context.Context, userID string, ttl time.Duration) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	EnqueueOfflineAlert(ctx context.Context, alert OfflineAlert) error
}

// SignalChannel is the pub/sub channel for one user's signals.
func SignalChannel(userID string) string { return signalPrefix + userID }

// SignalPattern matches every user's signal channel.
func SignalPattern() string { return signalPrefix + "*" }

// UserFromChannel extracts the user id from a signal channel name.
func UserFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, signalPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(channel, signalPrefix)
	return id, id != ""
}

func presenceKey(userID string) string { return presencePrefix + userID }

type RedisNotifier struct {
	Redis      *redis.Client
	AlertQueue string
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{Redis: rdb, AlertQueue: DefaultAlertQueue}
}

// Publish публікує сигнал у Redis Pub/Sub каналі користувача.
func (n *RedisNotifier) Publish(ctx context.Context, sig models.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return n.Redis.Publish(ctx, SignalChannel(sig.UserID), payload).Err()
}

func (n *RedisNotifier) Touch(ctx context.Context, userID string, ttl time.Duration) error {
	return n.Redis.Set(ctx, presenceKey(userID), time.Now().Unix(), ttl).Err()
}

func (n *RedisNotifier) IsOnline(ctx context.Context, userID string) (bool, error) {
	_, err := n.Redis.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (n *RedisNotifier) EnqueueOfflineAlert(ctx context.Context, alert OfflineAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return n.Redis.LPush(ctx, n.AlertQueue, payload).Err()
}

// Subscribe listens on every user's signal channel.
func (n *RedisNotifier) Subscribe(ctx context.Context) *redis.PubSub {
	return n.Redis.PSubscribe(ctx, SignalPattern())
}

// DecodeSignal parses a pub/sub payload published by Publish.
func DecodeSignal(channel, payload string) (models.Signal, error) {
	userID, ok := UserFromChannel(channel)
	if !ok {
		return models.Signal{}, fmt.Errorf("not a signal channel: %q", channel)
	}
	var sig models.Signal
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		return models.Signal{}, err
	}
	sig.UserID = userID
	return sig, nil
}

// Broadcast signals both participants of s. Errors are logged only.
func Broadcast(ctx context.Context, n Notifier, s *models.Session, kind models.SignalKind) {
	if n == nil {
		return
	}
	at := time.Now().UTC()
	for _, userID := range s.Participants() {
		sig := models.Signal{UserID: userID, SessionID: s.ID, Kind: kind, At: at}
		if err := n.Publish(ctx, sig); err != nil {
			log.Warn().Err(err).
				Str("session_id", s.ID).
				Str("user_id", userID).
				Str("kind", string(kind)).
				Msg("failed to publish session signal")
		}
	}
}

// Nop discards everything and reports every user as online, so no alerts are queued.
type Nop struct{}

func (Nop) Publish(context.Context, models.Signal) error            { return nil }
func (Nop) Touch(context.Context, string, time.Duration) error      { return nil }
func (Nop) IsOnline(context.Context, string) (bool, error)          { return true, nil }
func (Nop) EnqueueOfflineAlert(context.Context, OfflineAlert) error { return nil }

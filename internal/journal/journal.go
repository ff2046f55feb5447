// internal/journal/journal.go
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ExilProductions/purrlobby/internal/config"
)

// Record is one journaled lobby event as it lands on the Redis list.
type Record struct {
	GameID    string          `json:"gameId"`
	LobbyID   string          `json:"lobbyId"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Journal pushes every broadcast event onto a Redis list for offline
// consumers. It is fire-and-forget telemetry: in-memory lobby state
// stays authoritative and a push failure only logs.
type Journal struct {
	rdb   *redis.Client
	queue string
	log   *logrus.Logger
}

// Connect builds a journal from configuration. Returns (nil, nil) when
// no Redis address is configured; a nil *Journal is a no-op.
func Connect(cfg config.Config, log *logrus.Logger) (*Journal, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}
	return &Journal{rdb: rdb, queue: cfg.JournalQueue, log: log}, nil
}

// Publish appends one event to the journal queue. Safe on a nil
// receiver.
func (j *Journal) Publish(gameID, lobbyID uuid.UUID, eventType string, payload []byte) {
	if j == nil {
		return
	}
	rec := Record{
		GameID:    gameID.String(),
		LobbyID:   lobbyID.String(),
		EventType: eventType,
		Payload:   json.RawMessage(payload),
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		j.log.Warnf("journal: failed to marshal %s record: %v", eventType, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := j.rdb.RPush(ctx, j.queue, data).Err(); err != nil {
		j.log.Warnf("journal: failed to RPush to list '%s': %v", j.queue, err)
	}
}

// Close releases the Redis client. Safe on a nil receiver.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.rdb.Close()
}

package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"crashfair/internal/game"
)

const (
	currentRoundKey = "crash:round:current"
	crashHistoryKey = "crash:history"

	// Kept entries in the crash history strip.
	crashHistoryLen = 50

	// The current-round snapshot goes stale fast; a short TTL keeps a
	// dead engine from serving a frozen round forever.
	currentRoundTTL = 30 * time.Second
)

// CrashRecord is one entry in the public crash history strip.
type CrashRecord struct {
	RoundNumber uint64    `json:"round_number"`
	CrashPoint  float64   `json:"crash_point"`
	EndedAt     time.Time `json:"ended_at"`
}

// RoundSnapshots mirrors live round state into Redis so reads never
// touch the engine or the database.
type RoundSnapshots struct {
	client *redis.Client
}

func NewRoundSnapshots(client *redis.Client) *RoundSnapshots {
	return &RoundSnapshots{client: client}
}

func (s *RoundSnapshots) SaveCurrentRound(ctx context.Context, round game.PublicRound) error {
	data, err := json.Marshal(round)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, currentRoundKey, data, currentRoundTTL).Err()
}

// CurrentRound returns the last snapshotted round, or nil when the
// snapshot is missing or expired.
func (s *RoundSnapshots) CurrentRound(ctx context.Context) (*game.PublicRound, error) {
	data, err := s.client.Get(ctx, currentRoundKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var round game.PublicRound
	if err := json.Unmarshal(data, &round); err != nil {
		return nil, err
	}
	return &round, nil
}

func (s *RoundSnapshots) PushCrashHistory(ctx context.Context, roundNumber uint64, crashPoint float64, endedAt time.Time) error {
	data, err := json.Marshal(CrashRecord{
		RoundNumber: roundNumber,
		CrashPoint:  crashPoint,
		EndedAt:     endedAt,
	})
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, crashHistoryKey, data)
	pipe.LTrim(ctx, crashHistoryKey, 0, crashHistoryLen-1)
	_, err = pipe.Exec(ctx)
	return err
}

// CrashHistory returns the newest crash records first.
func (s *RoundSnapshots) CrashHistory(ctx context.Context, limit int) ([]CrashRecord, error) {
	if limit <= 0 || limit > crashHistoryLen {
		limit = crashHistoryLen
	}
	items, err := s.client.LRange(ctx, crashHistoryKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]CrashRecord, 0, len(items))
	for _, item := range items {
		var rec CrashRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ game.Snapshots = (*RoundSnapshots)(nil)

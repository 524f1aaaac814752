package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkeye/voiceplay/internal/config"
	"github.com/dkeye/voiceplay/internal/domain"
)

// Redis keeps state under keyPrefix:
//
//	<prefix>calls      SET of rooms with an active call
//	<prefix>paused     HASH room -> "1"|"0"
//	<prefix>assistant  HASH room -> assistant index
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisWithClient(client, cfg.KeyPrefix), nil
}

func NewRedisWithClient(client *redis.Client, keyPrefix string) *Redis {
	return &Redis{client: client, keyPrefix: keyPrefix}
}

func (s *Redis) key(name string) string {
	return s.keyPrefix + name
}

func (s *Redis) Assistant(ctx context.Context, room domain.RoomID) (int, bool, error) {
	v, err := s.client.HGet(ctx, s.key("assistant"), string(room)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get assistant: %w", err)
	}
	return v, true, nil
}

func (s *Redis) SetAssistant(ctx context.Context, room domain.RoomID, idx int) error {
	if err := s.client.HSet(ctx, s.key("assistant"), string(room), idx).Err(); err != nil {
		return fmt.Errorf("failed to set assistant: %w", err)
	}
	return nil
}

func (s *Redis) MarkPlaying(ctx context.Context, room domain.RoomID, paused bool) error {
	if err := s.client.HSet(ctx, s.key("paused"), string(room), boolFlag(paused)).Err(); err != nil {
		return fmt.Errorf("failed to mark playing: %w", err)
	}
	return nil
}

func (s *Redis) RecordActiveCall(ctx context.Context, room domain.RoomID) error {
	if err := s.client.SAdd(ctx, s.key("calls"), string(room)).Err(); err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}
	return nil
}

func (s *Redis) ForgetCall(ctx context.Context, room domain.RoomID) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, s.key("calls"), string(room))
		p.HDel(ctx, s.key("paused"), string(room))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to forget call: %w", err)
	}
	return nil
}

func (s *Redis) ActiveCalls(ctx context.Context) ([]domain.RoomID, error) {
	members, err := s.client.SMembers(ctx, s.key("calls")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	out := make([]domain.RoomID, 0, len(members))
	for _, m := range members {
		out = append(out, domain.RoomID(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Redis) Paused(ctx context.Context, room domain.RoomID) (bool, error) {
	v, err := s.client.HGet(ctx, s.key("paused"), string(room)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get paused: %w", err)
	}
	return v == "1", nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

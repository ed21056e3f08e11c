package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/rooms"
)

// presenceTTL bounds how long a crashed instance's presence entries survive.
const presenceTTL = rooms.RoomTTL

// Store is the redis-backed rooms.Directory.
type Store struct {
	client *redis.Client
}

// Connect initializes the Redis client
func Connect(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewStore(client), nil
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func roomKey(id string) string { return "room:" + id }

func codeKey(code string) string { return "code:" + code }

func peersKey(id string) string { return "room:" + id + ":peers" }

func (s *Store) Put(ctx context.Context, room models.RoomMetadata, ttl time.Duration) error {
	data, err := msgpack.Marshal(&room)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, roomKey(room.ID), data, ttl)
		// Store code-to-ID mapping for easy lookup
		p.Set(ctx, codeKey(room.Code), room.ID, ttl)
		return nil
	})
	return err
}

func (s *Store) Get(ctx context.Context, roomID string) (*models.RoomMetadata, error) {
	data, err := s.client.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, rooms.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var room models.RoomMetadata
	if err := msgpack.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return &room, nil
}

func (s *Store) LookupCode(ctx context.Context, code string) (string, error) {
	id, err := s.client.Get(ctx, codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", rooms.ErrNotFound
	}
	return id, err
}

func (s *Store) Delete(ctx context.Context, room models.RoomMetadata) error {
	return s.client.Del(ctx, roomKey(room.ID), codeKey(room.Code), peersKey(room.ID)).Err()
}

func (s *Store) AddPresence(ctx context.Context, roomID, userID string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, peersKey(roomID), userID)
		p.Expire(ctx, peersKey(roomID), presenceTTL)
		return nil
	})
	return err
}

// RemovePresence drops userID; redis deletes the set with its last member.
func (s *Store) RemovePresence(ctx context.Context, roomID, userID string) error {
	return s.client.SRem(ctx, peersKey(roomID), userID).Err()
}

func (s *Store) Presence(ctx context.Context, roomID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, peersKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

var _ rooms.Directory = (*Store)(nil)

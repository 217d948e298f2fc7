// Package presence records which connections are live in which room, in
// Redis, so that operators and health checks can see room occupancy across
// relay instances. It is best-effort: the relay keeps working when Redis is
// down.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ConnPrefix is the Redis key prefix for per-connection hashes.
	ConnPrefix = "presence:"

	// RoomPrefix and RoomSuffix wrap a room name to form its member set key.
	RoomPrefix = "room:"
	RoomSuffix = ":members"

	// TTL is the time-to-live for presence keys. The heartbeat refreshes it.
	TTL = 2 * time.Minute
)

// Entry is one connection's presence record.
type Entry struct {
	ID         string `redis:"id"`
	Room       string `redis:"room"`
	Username   string `redis:"username"` // last username seen, may be empty
	Server     string `redis:"server"`   // which relay instance
	CreatedAt  int64  `redis:"created_at"`
	LastActive int64  `redis:"last_active"`
}

// Store manages presence records in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this relay instance
}

// NewStore creates a new presence store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

func connKey(connID string) string { return ConnPrefix + connID }

// RoomKey returns the member set key for a room.
func RoomKey(room string) string { return RoomPrefix + room + RoomSuffix }

// Create records connID as present in room.
func (s *Store) Create(ctx context.Context, connID, room string) error {
	now := time.Now().Unix()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, connKey(connID), map[string]interface{}{
		"id":          connID,
		"room":        room,
		"username":    "",
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	})
	pipe.Expire(ctx, connKey(connID), TTL)
	pipe.SAdd(ctx, RoomKey(room), connID)
	pipe.Expire(ctx, RoomKey(room), TTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("presence: create %s: %w", connID, err)
	}
	return nil
}

// Get retrieves a presence record. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Entry, error) {
	var e Entry
	if err := s.client.HGetAll(ctx, connKey(connID)).Scan(&e); err != nil {
		return nil, fmt.Errorf("presence: get %s: %w", connID, err)
	}
	if e.ID == "" {
		return nil, nil // not found
	}
	return &e, nil
}

// SetUsername stores the username a connection last chatted under.
func (s *Store) SetUsername(ctx context.Context, connID, username string) error {
	return s.client.HSet(ctx, connKey(connID), "username", username, "last_active", time.Now().Unix()).Err()
}

// Refresh extends the TTL of a connection and its room set.
func (s *Store) Refresh(ctx context.Context, connID, room string) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, connKey(connID), "last_active", time.Now().Unix())
	pipe.Expire(ctx, connKey(connID), TTL)
	pipe.Expire(ctx, RoomKey(room), TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Members returns the number of connections present in room across all
// relay instances.
func (s *Store) Members(ctx context.Context, room string) (int64, error) {
	return s.client.SCard(ctx, RoomKey(room)).Result()
}

// Delete removes connID from room and drops its record.
func (s *Store) Delete(ctx context.Context, connID, room string) error {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, RoomKey(room), connID)
	pipe.Del(ctx, connKey(connID))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("presence: delete %s: %w", connID, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Package hashcache keeps the hash sequence of analyzed videos in Redis so
// thresholds can be re-tuned without decoding the video again.
package hashcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrMiss is returned when no hash sequence is cached for a video
var ErrMiss = errors.New("hash sequence not cached")

// Entry is the cached form of one analysis input
type Entry struct {
	Hashes   []uint64 `msgpack:"hashes"`
	Duration float64  `msgpack:"duration"`
}

// Cache stores entries under hashes:<video_id>
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a cache. A zero ttl keeps entries forever.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func key(videoID string) string {
	return "hashes:" + videoID
}

// Put stores the hash sequence and duration of a video
func (c *Cache) Put(ctx context.Context, videoID string, entry Entry) error {
	data, err := msgpack.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to encode hash sequence: %w", err)
	}
	if err := c.client.Set(ctx, key(videoID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache hash sequence: %w", err)
	}
	return nil
}

// Get loads the cached entry of a video
func (c *Cache) Get(ctx context.Context, videoID string) (*Entry, error) {
	data, err := c.client.Get(ctx, key(videoID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to read hash sequence: %w", err)
	}

	var entry Entry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode hash sequence: %w", err)
	}
	return &entry, nil
}

// Delete drops the cached entry of a video
func (c *Cache) Delete(ctx context.Context, videoID string) error {
	return c.client.Del(ctx, key(videoID)).Err()
}

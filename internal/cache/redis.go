// Package cache provides the caching layer for the Norn system.
// It abstracts the interaction with the Redis L2 cache, handling serialization,
// key namespacing, and connection management.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	// SnapshotKey is the Redis key holding the current snapshot payload.
	SnapshotKey = "norn:snapshot"

	// SnapshotVersionKey mirrors the snapshot version as a bare integer so
	// readers can check staleness without fetching the full payload.
	SnapshotVersionKey = "norn:snapshot:version"

	// UpdatesChannel is the Pub/Sub channel snapshot updates are announced on.
	UpdatesChannel = "norn:snapshot:updates"

	// SyncRequestsChannel is the Pub/Sub channel the control plane uses to
	// nudge the syncer after a write, instead of waiting for the next tick.
	SyncRequestsChannel = "norn:sync:requests"
)

// ErrSnapshotNotFound is returned when no snapshot has been published yet.
var ErrSnapshotNotFound = errors.New("cache: snapshot not found")

// SetResult reports what a version-guarded snapshot write did.
type SetResult int64

const (
	// SetResultSkipped: the stored snapshot was already at or past this version.
	SetResultSkipped SetResult = 0
	// SetResultUpdated: the snapshot was written normally.
	SetResultUpdated SetResult = 1
	// SetResultRepaired: the stored payload violated the "version|json"
	// contract and was force-overwritten.
	SetResultRepaired SetResult = 2
)

// putSnapshotScript performs a version-guarded write atomically in Redis.
// Two syncer replicas can race; the guard makes the higher version win
// regardless of arrival order. A payload without the version prefix is
// treated as corrupted and overwritten unconditionally.
//
// KEYS[1] = snapshot payload key, KEYS[2] = version marker key
// ARGV[1] = encoded payload, ARGV[2] = version
var putSnapshotScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	local pipe = string.find(current, '|', 1, true)
	if not pipe then
		redis.call('SET', KEYS[1], ARGV[1])
		redis.call('SET', KEYS[2], ARGV[2])
		return 2
	end
	local current_version = tonumber(string.sub(current, 1, pipe - 1))
	if current_version and current_version >= tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

// SnapshotStore defines the interface for L2 snapshot operations.
// This interface allows for dependency injection and mocking in tests.
type SnapshotStore interface {
	// PutSnapshot stores the snapshot payload and its version marker.
	// The write is version-guarded: stale versions are skipped.
	PutSnapshot(ctx context.Context, snapshot *Snapshot) (SetResult, error)

	// GetSnapshot retrieves and decodes the current snapshot.
	// Returns ErrSnapshotNotFound when none has been published.
	GetSnapshot(ctx context.Context) (*Snapshot, error)

	// GetSnapshotVersion retrieves only the version marker.
	GetSnapshotVersion(ctx context.Context) (int64, error)

	// PublishUpdate announces a new snapshot version on the updates channel.
	PublishUpdate(ctx context.Context, version int64) error

	// RequestSync asks the syncer to rebuild the snapshot now.
	RequestSync(ctx context.Context) error

	// HealthCheck pings the redis server to ensure connectivity.
	HealthCheck(ctx context.Context) error

	// Close terminates the connection.
	Close() error
}

// Compile-time check.
var _ SnapshotStore = (*RedisSnapshotStore)(nil)

// RedisSnapshotStore implements SnapshotStore using the go-redis library.
type RedisSnapshotStore struct {
	client *redis.Client
}

// NewRedisSnapshotStore wraps an existing Redis client.
func NewRedisSnapshotStore(client *redis.Client) *RedisSnapshotStore {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	return &RedisSnapshotStore{client: client}
}

// PutSnapshot serializes the snapshot and writes the payload and version
// marker atomically via a version-guarded Lua script, so readers never
// observe them out of sync and stale writes never clobber newer snapshots.
func (s *RedisSnapshotStore) PutSnapshot(ctx context.Context, snapshot *Snapshot) (SetResult, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return SetResultSkipped, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	result, err := putSnapshotScript.Run(ctx, s.client,
		[]string{SnapshotKey, SnapshotVersionKey},
		encodeSnapshot(data, snapshot.Version),
		snapshot.Version,
	).Int64()
	if err != nil {
		return SetResultSkipped, fmt.Errorf("failed to store snapshot v%d: %w", snapshot.Version, err)
	}

	return SetResult(result), nil
}

// GetSnapshot fetches and decodes the current snapshot payload.
func (s *RedisSnapshotStore) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	raw, err := s.client.Get(ctx, SnapshotKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal([]byte(decodeSnapshot(raw)), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}

// GetSnapshotVersion reads the version marker without touching the payload.
func (s *RedisSnapshotStore) GetSnapshotVersion(ctx context.Context) (int64, error) {
	version, err := s.client.Get(ctx, SnapshotVersionKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrSnapshotNotFound
		}
		return 0, fmt.Errorf("failed to get snapshot version: %w", err)
	}
	return version, nil
}

// PublishUpdate notifies subscribed data plane replicas of a new version.
func (s *RedisSnapshotStore) PublishUpdate(ctx context.Context, version int64) error {
	if err := s.client.Publish(ctx, UpdatesChannel, EncodeUpdateMessage(version)).Err(); err != nil {
		return fmt.Errorf("failed to publish snapshot update v%d: %w", version, err)
	}
	return nil
}

// RequestSync publishes a rebuild request for the syncer to pick up.
func (s *RedisSnapshotStore) RequestSync(ctx context.Context) error {
	if err := s.client.Publish(ctx, SyncRequestsChannel, "sync").Err(); err != nil {
		return fmt.Errorf("failed to publish sync request: %w", err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription on the updates channel.
// The caller owns the returned subscription and must Close it.
func (s *RedisSnapshotStore) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, UpdatesChannel)
}

// SubscribeSyncRequests opens a Pub/Sub subscription on the sync requests
// channel. The caller owns the returned subscription and must Close it.
func (s *RedisSnapshotStore) SubscribeSyncRequests(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, SyncRequestsChannel)
}

// HealthCheck verifies the connection to the Redis server.
func (s *RedisSnapshotStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *RedisSnapshotStore) Close() error {
	return s.client.Close()
}

// versionSearchLimit bounds the prefix scan in decodeSnapshot. A version
// prefix longer than an int64 in decimal (19 digits + separator) means the
// payload is not in the "version|json" format.
const versionSearchLimit = 20

// encodeSnapshot prefixes the JSON payload with its version:
// "<version>|<json>". The prefix makes payloads self-describing when
// inspecting Redis by hand.
func encodeSnapshot(jsonData []byte, version int64) string {
	return strconv.FormatInt(version, 10) + "|" + string(jsonData)
}

// decodeSnapshot strips the version prefix from an encoded payload.
// Data without a recognizable prefix is returned as-is (legacy/corrupted
// fallback: let the JSON decoder produce the real error).
func decodeSnapshot(encoded string) string {
	limit := min(len(encoded), versionSearchLimit)
	idx := strings.IndexByte(encoded[:limit], '|')
	if idx < 0 {
		return encoded
	}
	return encoded[idx+1:]
}

// EncodeUpdateMessage renders a snapshot version as a Pub/Sub message.
func EncodeUpdateMessage(version int64) string {
	return strconv.FormatInt(version, 10)
}

// DecodeUpdateMessage parses a Pub/Sub message back into a version.
// Malformed messages decode to 0; subscribers treat that as "refresh
// unconditionally" rather than dropping the event.
func DecodeUpdateMessage(message string) int64 {
	version, err := strconv.ParseInt(message, 10, 64)
	if err != nil {
		return 0
	}
	return version
}

//go:build integration

package cache_test

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nornlabs/norn/internal/cache"
	"github.com/nornlabs/norn/internal/evaluation"
	"github.com/nornlabs/norn/internal/testsupport"
)

func snapshotWithVersion(version int64) *cache.Snapshot {
	return &cache.Snapshot{
		Version:  version,
		SyncedAt: 1700000000,
		Features: []*evaluation.Feature{
			{ID: "feature-1", Name: "Feature 1", Version: 3, Enabled: true},
		},
		Segments: map[string][]*evaluation.SegmentUser{
			"beta": {{SegmentID: "beta", UserID: "user-1"}},
		},
	}
}

// TestRedisSnapshotStore_LuaScript_Integration verifies the core data
// integrity logic. It ensures the Lua script correctly handles Optimistic
// Locking (Versioning) and Self-Healing (Data Corruption Repair).
func TestRedisSnapshotStore_LuaScript_Integration(t *testing.T) {
	// 1. Infrastructure Setup
	ctx := context.Background()

	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisCtr.Terminate(ctx)

	// System Under Test (SUT)
	store := redisCtr.Store

	// Spy Client (Side-channel verification)
	// Used to peek into Redis raw data or inject corruption.
	endpoint, err := redisCtr.Container.PortEndpoint(ctx, "6379/tcp", "")
	require.NoError(t, err)

	spyClient := redis.NewClient(&redis.Options{Addr: endpoint})
	defer spyClient.Close()

	// -------------------------------------------------------------------------
	// SCENARIO 1: Fresh Insert (Result: Updated)
	// -------------------------------------------------------------------------
	t.Run("Should insert new snapshot and return SetResultUpdated(1)", func(t *testing.T) {
		res, err := store.PutSnapshot(ctx, snapshotWithVersion(10))
		require.NoError(t, err)
		assert.Equal(t, cache.SetResultUpdated, res)

		// Verification: Check storage format "version|json"
		val, err := spyClient.Get(ctx, cache.SnapshotKey).Result()
		require.NoError(t, err)
		assert.Contains(t, val, "10|", "Storage must include version prefix")
		assert.Contains(t, val, `"feature-1"`, "Storage must include JSON payload")

		// Verification: version marker kept in sync
		version, err := store.GetSnapshotVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(10), version)
	})

	// -------------------------------------------------------------------------
	// SCENARIO 2: Valid Update (Result: Updated)
	// -------------------------------------------------------------------------
	t.Run("Should update when new version is higher and return SetResultUpdated(1)", func(t *testing.T) {
		res, err := store.PutSnapshot(ctx, snapshotWithVersion(11)) // 11 > 10
		require.NoError(t, err)
		assert.Equal(t, cache.SetResultUpdated, res)

		// Verification
		val, _ := spyClient.Get(ctx, cache.SnapshotKey).Result()
		assert.Contains(t, val, "11|", "Version prefix should be updated to 11|")
	})

	// -------------------------------------------------------------------------
	// SCENARIO 3: Stale/Idempotent Update (Result: Skipped)
	// -------------------------------------------------------------------------
	t.Run("Should skip update when version is lower/equal and return SetResultSkipped(0)", func(t *testing.T) {
		// Case A: Lower Version (stale syncer replica)
		res, err := store.PutSnapshot(ctx, snapshotWithVersion(5))
		require.NoError(t, err)
		assert.Equal(t, cache.SetResultSkipped, res, "Should skip lower version")

		// Case B: Same Version (Idempotency check)
		res, err = store.PutSnapshot(ctx, snapshotWithVersion(11))
		require.NoError(t, err)
		assert.Equal(t, cache.SetResultSkipped, res, "Should skip equal version")

		// Verification: Data in Redis must remain untouched (Version 11)
		val, _ := spyClient.Get(ctx, cache.SnapshotKey).Result()
		assert.Contains(t, val, "11|", "Redis value should remain at version 11")
	})

	// -------------------------------------------------------------------------
	// SCENARIO 4: Data Corruption Repair (Result: Repaired)
	// -------------------------------------------------------------------------
	t.Run("Should detect and repair corrupted data and return SetResultRepaired(2)", func(t *testing.T) {
		// Arrange: Sabotage!
		// We manually inject a value that violates the "ver|json" contract.
		// This simulates a legacy system write or manual admin error.
		err := spyClient.Set(ctx, cache.SnapshotKey, `{"raw":"json_without_pipe"}`, 0).Err()
		require.NoError(t, err)

		// Act: Try to write properly via the system.
		// Version 5 is lower than the previous 11, but corruption repair
		// must win over the version guard.
		res, err := store.PutSnapshot(ctx, snapshotWithVersion(5))
		require.NoError(t, err)

		// Assert: The Lua script should catch the missing pipe and force overwrite
		assert.Equal(t, cache.SetResultRepaired, res, "Should return Repaired(2) when pipe is missing")

		// Verification: Data should now be correct and readable again
		val, _ := spyClient.Get(ctx, cache.SnapshotKey).Result()
		assert.Contains(t, val, "5|", "Data should be repaired with correct version prefix")

		snapshot, err := store.GetSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), snapshot.Version)
		require.Len(t, snapshot.Features, 1)
		assert.Equal(t, "feature-1", snapshot.Features[0].ID)
	})

	// -------------------------------------------------------------------------
	// SCENARIO 5: Round-trip + Pub/Sub announcement
	// -------------------------------------------------------------------------
	t.Run("Should round-trip snapshot and announce updates", func(t *testing.T) {
		sub := store.Subscribe(ctx)
		defer sub.Close()

		// Ensure the subscription is established before publishing.
		_, err := sub.Receive(ctx)
		require.NoError(t, err)

		res, err := store.PutSnapshot(ctx, snapshotWithVersion(20))
		require.NoError(t, err)
		assert.Equal(t, cache.SetResultUpdated, res)

		require.NoError(t, store.PublishUpdate(ctx, 20))

		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(20), cache.DecodeUpdateMessage(msg.Payload))

		snapshot, err := store.GetSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(20), snapshot.Version)
		assert.Equal(t, []*evaluation.SegmentUser{{SegmentID: "beta", UserID: "user-1"}}, snapshot.Segments["beta"])
	})

	// -------------------------------------------------------------------------
	// SCENARIO 6: Missing snapshot
	// -------------------------------------------------------------------------
	t.Run("Should return ErrSnapshotNotFound when nothing published", func(t *testing.T) {
		require.NoError(t, spyClient.Del(ctx, cache.SnapshotKey, cache.SnapshotVersionKey).Err())

		_, err := store.GetSnapshot(ctx)
		assert.ErrorIs(t, err, cache.ErrSnapshotNotFound)

		_, err = store.GetSnapshotVersion(ctx)
		assert.ErrorIs(t, err, cache.ErrSnapshotNotFound)
	})
}

package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorKeysAreUniqueAndValid(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	gen := NewGenerator(func() time.Time { return now })

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		key := gen.NewKey()
		require.True(t, Valid(key), key)
		_, dup := seen[key]
		require.False(t, dup, "duplicate key %s", key)
		seen[key] = struct{}{}
	}

	prefixed := gen.NewPrefixedKey("pay")
	assert.Regexp(t, `^pay_[0-9a-z]{26}$`, prefixed)
	assert.False(t, Valid("not-a-ulid"))
}

func TestScopedKeysStayValidAndDistinct(t *testing.T) {
	key := "01HZX3F7K9V6WJ8Q2M4N5P6R7S"
	initiate := Scoped("initiate", key)
	verify := Scoped("verify", key)

	assert.Equal(t, "initiate_01HZX3F7K9V6WJ8Q2M4N5P6R7S", initiate)
	assert.NotEqual(t, initiate, verify)
	assert.True(t, Valid(initiate))
	assert.True(t, Valid(verify))
	assert.Equal(t, key, Scoped("", key))
	assert.Empty(t, Scoped("verify", ""))
	assert.False(t, Valid("_01HZX3F7K9V6WJ8Q2M4N5P6R7S"))
	assert.False(t, Valid("verify_tap-1"))
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint([]byte(`{"a":1}`))
	assert.Equal(t, a, Fingerprint([]byte(`{"a":1}`)))
	assert.NotEqual(t, a, Fingerprint([]byte(`{"a":2}`)))
	assert.Len(t, a, 64)
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	res, err := store.Reserve(ctx, "k1", "fp", now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	res, err = store.Reserve(ctx, "k1", "fp", now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, res.State)

	_, err = store.Reserve(ctx, "k1", "other", now, time.Hour)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)

	require.NoError(t, store.Complete(ctx, "k1", "fp", 201, []byte(`{"ok":true}`)))
	res, err = store.Reserve(ctx, "k1", "fp", now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateCompleted, res.State)
	assert.Equal(t, 201, res.Record.ResponseStatus)
	assert.JSONEq(t, `{"ok":true}`, string(res.Record.ResponseBody))

	res, err = store.Reserve(ctx, "k1", "fp", now.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)
}

func TestMemoryStoreReleaseDropsPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	_, err := store.Reserve(ctx, "k2", "fp", now, 0)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "k2", "fp"))

	res, err := store.Reserve(ctx, "k2", "fp", now, 0)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	assert.ErrorIs(t, store.Complete(ctx, "missing", "fp", 200, nil), ErrUnknownKey)
}

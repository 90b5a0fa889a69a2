package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract checks the behaviour every Store adapter must share.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		value, err := store.Get(ctx, "user-1", "checkout_session")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Nil(t, value)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "user-1", "checkout_current_step", []byte(`2`)))

		value, err := store.Get(ctx, "user-1", "checkout_current_step")
		require.NoError(t, err)
		assert.JSONEq(t, `2`, string(value))
	})

	t.Run("overwrite keeps latest", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "user-1", "last_order_id", []byte(`"order-1"`)))
		require.NoError(t, store.Set(ctx, "user-1", "last_order_id", []byte(`"order-2"`)))

		value, err := store.Get(ctx, "user-1", "last_order_id")
		require.NoError(t, err)
		assert.JSONEq(t, `"order-2"`, string(value))
	})

	t.Run("scopes are isolated", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "user-2", "checkout_current_step", []byte(`0`)))

		value, err := store.Get(ctx, "user-1", "checkout_current_step")
		require.NoError(t, err)
		assert.JSONEq(t, `2`, string(value))
	})

	t.Run("delete removes only listed keys", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "user-1", "order_completed", []byte(`true`)))
		require.NoError(t, store.Delete(ctx, "user-1", "checkout_current_step", "last_order_id", "never_written"))

		_, err := store.Get(ctx, "user-1", "checkout_current_step")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.Get(ctx, "user-1", "last_order_id")
		assert.ErrorIs(t, err, ErrNotFound)

		value, err := store.Get(ctx, "user-1", "order_completed")
		require.NoError(t, err)
		assert.JSONEq(t, `true`, string(value))

		value, err = store.Get(ctx, "user-2", "checkout_current_step")
		require.NoError(t, err)
		assert.JSONEq(t, `0`, string(value))
	})

	t.Run("empty scope rejected", func(t *testing.T) {
		err := store.Set(ctx, "", "checkout_session", []byte(`{}`))
		assert.ErrorIs(t, err, ErrInvalidScope)
	})
}

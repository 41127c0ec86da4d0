package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"notifyd/internal/delivery"
	logx "notifyd/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{}
	for _, driver := range []string{"memory", "sqlite"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err, driver)
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func pending(id string, created time.Time) delivery.Record {
	return delivery.Record{
		ID:        id,
		Channel:   delivery.ChannelEmail,
		Recipient: id + "@example.com",
		Status:    delivery.StatusPending,
		CreatedAt: created,
	}
}

func TestStorePutGetReplace(t *testing.T) {
	ctx := context.Background()
	created := time.Unix(1_700_000_000, 123).UTC()

	for driver, st := range openDrivers(t) {
		t.Run(driver, func(t *testing.T) {
			_, ok, err := st.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			rec := pending("a", created)
			require.NoError(t, st.Put(ctx, rec))

			got, ok, err := st.Get(ctx, "a")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, rec, got)

			sent := created.Add(time.Second)
			rec.Status = delivery.StatusSent
			rec.SentAt = &sent
			rec.Attempts = 2
			require.NoError(t, st.Put(ctx, rec))

			got, ok, err = st.Get(ctx, "a")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, delivery.StatusSent, got.Status)
			require.NotNil(t, got.SentAt)
			assert.True(t, sent.Equal(*got.SentAt))
			assert.Equal(t, 2, got.Attempts)

			all, err := st.List(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestStoreListKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	created := time.Unix(1_700_000_000, 0).UTC()

	for driver, st := range openDrivers(t) {
		t.Run(driver, func(t *testing.T) {
			ids := []string{"c", "a", "b"}
			for _, id := range ids {
				require.NoError(t, st.Put(ctx, pending(id, created)))
			}
			// Replacing the first record must not move it.
			failed := pending("c", created)
			failed.Status = delivery.StatusFailed
			failed.Error = "down"
			require.NoError(t, st.Put(ctx, failed))

			all, err := st.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
			for i, id := range ids {
				assert.Equal(t, id, all[i].ID)
			}
			assert.Equal(t, "down", all[0].Error)
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	now := time.Now()
	rec := pending("a", now)
	rec.SentAt = &now
	require.NoError(t, st.Put(ctx, rec))

	// Mutating the caller's value after Put must not leak into the store.
	*rec.SentAt = now.Add(time.Hour)

	got, _, err := st.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, now.Equal(*got.SentAt))

	*got.SentAt = now.Add(2 * time.Hour)
	again, _, _ := st.Get(ctx, "a")
	assert.True(t, now.Equal(*again.SentAt))
}

func TestMemoryStoreConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("id-%d", i)
			rec := pending(id, time.Now())
			_ = st.Put(ctx, rec)
			rec.Status = delivery.StatusSent
			_ = st.Put(ctx, rec)
			_, _ = st.List(ctx)
		}(i)
	}
	wg.Wait()

	all, err := st.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 64)
	for _, r := range all {
		assert.Equal(t, delivery.StatusSent, r.Status)
	}
}

func TestClosedStore(t *testing.T) {
	for driver, st := range openDrivers(t) {
		require.NoError(t, st.Close(), driver)
		assert.ErrorIs(t, st.Put(context.Background(), pending("a", time.Now())), ErrClosed, driver)
		_, _, err := st.Get(context.Background(), "a")
		assert.ErrorIs(t, err, ErrClosed, driver)
		_, err = st.List(context.Background())
		assert.ErrorIs(t, err, ErrClosed, driver)
		// second close is a no-op
		assert.NoError(t, st.Close(), driver)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}

func TestSQLiteRejectsDurablePath(t *testing.T) {
	for _, path := range []string{"notifyd.db", "/var/lib/notifyd.db", "file:notifyd.db", "file:notifyd.db?cache=shared"} {
		_, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
		assert.ErrorIs(t, err, ErrDurablePath, path)
	}
}

func TestIsMemoryPath(t *testing.T) {
	for path, want := range map[string]bool{
		"":                                     true,
		":memory:":                             true,
		" :memory: ":                           true,
		"file::memory:":                        true,
		"file::memory:?cache=shared":           true,
		"file:notify?mode=memory&cache=shared": true,
		"file:notify?cache=shared":             false,
		"notifyd.db":                           false,
		"file:notifyd.db":                      false,
	} {
		assert.Equal(t, want, IsMemoryPath(path), path)
	}
	st, err := Open(Config{Driver: "sqlite", Path: "file::memory:"}, logx.Nop())
	require.NoError(t, err)
	assert.NoError(t, st.Close())
}

package brief

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rs := &RedisStore{client: db}
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		mock.ExpectGet("brief:2024-03-10").SetVal("Go easy today.")
		v, ok, err := rs.Get(ctx, "brief:2024-03-10")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Go easy today.", v)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss is not an error", func(t *testing.T) {
		mock.ExpectGet("brief:2024-03-11").RedisNil()
		_, ok, err := rs.Get(ctx, "brief:2024-03-11")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis error surfaces", func(t *testing.T) {
		mock.ExpectGet("brief:2024-03-12").SetErr(redis.TxFailedErr)
		_, _, err := rs.Get(ctx, "brief:2024-03-12")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("set with ttl", func(t *testing.T) {
		mock.ExpectSet("brief:2024-03-10", "text", time.Hour).SetVal("OK")
		require.NoError(t, rs.Set(ctx, "brief:2024-03-10", "text", time.Hour))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete", func(t *testing.T) {
		mock.ExpectDel("brief:2024-03-10").SetVal(1)
		require.NoError(t, rs.Delete(ctx, "brief:2024-03-10"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	m := NewMemoryStore()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	v, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(time.Minute)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestGenerateCachesPerDay(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req Request
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"text":"Recovery %d, keep it between %.0f and %.0f."}`,
			*req.Recovery, req.TrainingStressRange.Low, req.TrainingStressRange.High)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, NewMemoryStore(), time.Hour)
	rec := 72
	req := Request{Date: "2024-03-10", Recovery: &rec, TrainingStressRange: Range{Low: 40, High: 70}}

	first, err := c.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "Recovery 72, keep it between 40 and 70.", first.Text)

	second, err := c.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, c.Forget(context.Background(), "2024-03-10"))
	_, err = c.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateErrors(t *testing.T) {
	_, err := NewClient("", nil, 0).Generate(context.Background(), Request{Date: "2024-03-10"})
	assert.ErrorIs(t, err, ErrDisabled)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err = NewClient(srv.URL, nil, 0).Generate(context.Background(), Request{Date: "2024-03-10"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNewStoreWithoutAddr(t *testing.T) {
	_, ok := NewStore(context.Background(), "").(*MemoryStore)
	assert.True(t, ok)
}

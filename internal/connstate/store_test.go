package connstate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestSaveAndGet(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	err := s.Save(ctx, Report{Instance: "crm-turbo", Status: "open", UpdatedAt: json.RawMessage(`"2026-01-01T00:00:00Z"`)})
	require.NoError(t, err)

	raw, err := mr.Get("conexao:crm-turbo")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"open","updatedAt":"2026-01-01T00:00:00Z"}`, raw)

	st, err := s.Get(ctx, "crm-turbo")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "open", st.Status)
}

func TestGetMissing(t *testing.T) {
	s, _ := newStore(t)
	st, err := s.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestSaveRequiresInstance(t *testing.T) {
	s, _ := newStore(t)
	assert.ErrorIs(t, s.Save(context.Background(), Report{Status: "open"}), ErrMissingInstance)
}

func TestDisabledStore(t *testing.T) {
	s := New(nil)
	assert.False(t, s.Enabled())
	assert.ErrorIs(t, s.Save(context.Background(), Report{Instance: "x"}), ErrDisabled)
	_, err := s.Get(context.Background(), "x")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestRedisDown(t *testing.T) {
	s, mr := newStore(t)
	mr.Close()
	assert.Error(t, s.Save(context.Background(), Report{Instance: "x", Status: "close"}))
}

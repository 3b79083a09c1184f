package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type snapshot struct {
	Question  string `json:"question"`
	StepCount int    `json:"step_count"`
}

func TestNewRecord(t *testing.T) {
	record, err := NewRecord("sess-1", "validate_input", snapshot{Question: "Mi a felmondás?", StepCount: 1})
	require.NoError(t, err)

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "sess-1", record.SessionID)
	assert.Equal(t, "validate_input", record.StepName)
	assert.False(t, record.CreatedAt.IsZero())

	var decoded snapshot
	require.NoError(t, json.Unmarshal(record.Snapshot, &decoded))
	assert.Equal(t, "Mi a felmondás?", decoded.Question)
}

func TestNewRecord_UnserializableSnapshot(t *testing.T) {
	_, err := NewRecord("sess-1", "step", make(chan int))
	assert.Error(t, err)
}

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStoreWithClient(client, "test", time.Hour, zap.NewNop())
}

func TestRedisStore_SaveAndList(t *testing.T) {
	store := newTestRedisStore(t)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		record, err := NewRecord("sess-1", fmt.Sprintf("step_%d", i), snapshot{StepCount: i})
		require.NoError(t, err)
		record.CreatedAt = time.Date(2026, 8, 1, 10, i, 0, 0, time.UTC)
		require.NoError(t, store.Save(ctx, record))
	}

	records, err := store.List(ctx, "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// 时间倒序
	assert.Equal(t, "step_2", records[0].StepName)
	assert.Equal(t, "step_0", records[2].StepName)
}

func TestRedisStore_ListIsolatedBySession(t *testing.T) {
	store := newTestRedisStore(t)
	defer store.Close()
	ctx := context.Background()

	r1, _ := NewRecord("sess-a", "step", snapshot{})
	r2, _ := NewRecord("sess-b", "step", snapshot{})
	require.NoError(t, store.Save(ctx, r1))
	require.NoError(t, store.Save(ctx, r2))

	records, err := store.List(ctx, "sess-a", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "sess-a", records[0].SessionID)
}

func TestRedisStore_ListLimit(t *testing.T) {
	store := newTestRedisStore(t)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		record, err := NewRecord("sess-1", fmt.Sprintf("step_%d", i), snapshot{})
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, record))
	}

	records, err := store.List(ctx, "sess-1", 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore("file::memory:?cache=shared", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveAndList(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		record, err := NewRecord("sess-sql", fmt.Sprintf("step_%d", i), snapshot{StepCount: i})
		require.NoError(t, err)
		record.CreatedAt = time.Date(2026, 8, 1, 10, i, 0, 0, time.UTC)
		require.NoError(t, store.Save(ctx, record))
	}

	records, err := store.List(ctx, "sess-sql", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "step_2", records[0].StepName)

	var decoded snapshot
	require.NoError(t, json.Unmarshal(records[0].Snapshot, &decoded))
	assert.Equal(t, 2, decoded.StepCount)
}

func TestSQLiteStore_AppendOnlyDuplicateID(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	record, err := NewRecord("sess-dup", "step", snapshot{})
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, record))

	// 主键冲突：追加式日志拒绝覆盖
	assert.Error(t, store.Save(ctx, record))
}

// collectStore 记录所有写入，用于写入器测试
type collectStore struct {
	records []*Record
	err     error
}

func (c *collectStore) Save(ctx context.Context, record *Record) error {
	if c.err != nil {
		return c.err
	}
	c.records = append(c.records, record)
	return nil
}

func (c *collectStore) List(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	return c.records, nil
}

func (c *collectStore) Close() error { return nil }

func TestWriter_EnqueueAndDrain(t *testing.T) {
	store := &collectStore{}
	w := NewWriter(store, zap.NewNop())

	for i := 0; i < 10; i++ {
		record, err := NewRecord("sess-w", fmt.Sprintf("step_%d", i), snapshot{})
		require.NoError(t, err)
		w.Enqueue(record)
	}

	// Close 排空队列后所有记录必须已落盘
	w.Close()
	assert.Len(t, store.records, 10)
}

func TestWriter_QueueFullDropsWithCallback(t *testing.T) {
	// 存储永远失败，同时队列容量为 1，触发两类丢弃路径
	drops := 0
	store := &collectStore{err: fmt.Errorf("disk full")}
	w := NewWriter(store, zap.NewNop(),
		WithQueueSize(1),
		WithDropCallback(func() { drops++ }),
	)

	for i := 0; i < 20; i++ {
		record, _ := NewRecord("sess-f", "step", snapshot{})
		w.Enqueue(record)
	}
	w.Close()

	assert.Greater(t, drops, 0, "写入失败或队列满都应计入丢弃")
	assert.Empty(t, store.records)
}

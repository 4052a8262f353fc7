package repository_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/mbeoliero/widechat/internal/repository"
	"github.com/mbeoliero/widechat/internal/repository/repotest"
	"github.com/mbeoliero/widechat/pkg/cassandra/cassandratest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingRepo_ShardOf(t *testing.T) {
	repo := repository.NewPendingRepo(cassandratest.New(), 8)
	assert.Equal(t, 8, repo.Shards())

	for i := 0; i < 100; i++ {
		msg := newMessage(t, 1, 1, 2, baseTime, "x")
		shard := repo.ShardOf(msg.MessageId)
		assert.GreaterOrEqual(t, shard, 0)
		assert.Less(t, shard, 8)
		assert.Equal(t, shard, repo.ShardOf(msg.MessageId))
	}

	assert.Equal(t, 1, repository.NewPendingRepo(cassandratest.New(), 0).Shards())
}

func TestPendingRepo_RecordListDelete(t *testing.T) {
	ctx := context.Background()
	f := repotest.New(t)
	repo := f.Repos.Pending

	msg := newMessage(t, 42, 1, 2, baseTime, "pending")
	require.NoError(t, repo.Record(ctx, msg, "conversations(42): timeout"))
	require.NoError(t, repo.Record(ctx, msg, "conversations(42): timeout"))

	shard := repo.ShardOf(msg.MessageId)
	entries, err := repo.ListShard(ctx, shard, uuid.Nil, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, shard, entries[0].Shard)
	assert.Equal(t, msg.MessageId, entries[0].Message.MessageId)
	assert.Equal(t, msg.Timestamp, entries[0].Message.Timestamp)
	assert.Equal(t, "pending", entries[0].Message.Content)
	assert.Equal(t, "conversations(42): timeout", entries[0].FailedSteps)
	assert.False(t, entries[0].RecordedAt.IsZero())

	require.NoError(t, repo.Delete(ctx, shard, msg.MessageId))
	entries, err = repo.ListShard(ctx, shard, uuid.Nil, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPendingRepo_ListShardLimit(t *testing.T) {
	ctx := context.Background()
	f := repotest.New(t)
	repo := repository.NewPendingRepo(f.Session, 1)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Record(ctx, newMessage(t, 42, 1, 2, baseTime, "x"), "step"))
	}
	entries, err := repo.ListShard(ctx, 0, uuid.Nil, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	rest, err := repo.ListShard(ctx, 0, entries[2].Message.MessageId, 3)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	seen := make(map[uuid.UUID]bool)
	for _, e := range append(entries, rest...) {
		assert.False(t, seen[e.Message.MessageId], "entries are listed once")
		seen[e.Message.MessageId] = true
	}
}

func TestPendingRepo_MarkFailedAndDeadLetter(t *testing.T) {
	ctx := context.Background()
	f := repotest.New(t)
	repo := f.Repos.Pending

	msg := newMessage(t, 42, 1, 2, baseTime, "pending")
	require.NoError(t, repo.Record(ctx, msg, "conversations(42): timeout"))
	shard := repo.ShardOf(msg.MessageId)

	entries, err := repo.ListShard(ctx, shard, uuid.Nil, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Zero(t, entries[0].Attempts)

	entry := entries[0]
	entry.Attempts = 2
	entry.LastError = "conversation not found"
	require.NoError(t, repo.MarkFailed(ctx, entry))

	entries, err = repo.ListShard(ctx, shard, uuid.Nil, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Attempts)
	assert.Equal(t, "conversation not found", entries[0].LastError)

	require.NoError(t, repo.DeadLetter(ctx, entries[0]))
	entries, err = repo.ListShard(ctx, shard, uuid.Nil, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	dead := f.Session.Rows("dead_fanouts")
	require.Len(t, dead, 1)
	assert.Equal(t, int64(2), dead[0].Int64("attempts"))
	assert.Equal(t, "pending", dead[0].String("content"))
	assert.False(t, dead[0].Time("dead_at").IsZero())
}

//go:build integration

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/mbeoliero/widechat/internal/entity"
	"github.com/mbeoliero/widechat/internal/repository"
	"github.com/mbeoliero/widechat/internal/repository/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tccassandra "github.com/testcontainers/testcontainers-go/modules/cassandra"
)

// newClusterRepos starts a single-node cluster and returns repositories bootstrapped against it
func newClusterRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	ctx := context.Background()

	ctr, err := tccassandra.Run(ctx, "cassandra:4.1.3")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := ctr.ConnectionHost(ctx)
	require.NoError(t, err)

	cfg := repotest.Config()
	cfg.Cassandra.Hosts = []string{host}
	cfg.Cassandra.Consistency = "ONE"
	cfg.Cassandra.Timeout = 10 * time.Second
	cfg.Cassandra.ConnectTimeout = 10 * time.Second
	cfg.Cassandra.ConnectRetries = 10
	cfg.Cassandra.ConnectBackoff = 3 * time.Second
	cfg.Cassandra.AutoMigrate = true
	cfg.Redis.Enabled = false
	cfg.IdGen.MachineId = 1

	repos, err := repository.NewRepositories(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })

	require.NoError(t, repos.CheckConnection(ctx))
	return repos
}

func TestIntegration_Cluster(t *testing.T) {
	ctx := context.Background()
	repos := newClusterRepos(t)

	tables, err := repos.Schema.Tables(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, repository.TableNames(), tables)

	conv, err := repos.Conversation.ResolveOrCreate(ctx, 7, 3)
	require.NoError(t, err)
	again, err := repos.Conversation.ResolveOrCreate(ctx, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, conv.ConversationId, again.ConversationId)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 45; i++ {
		msg := newMessage(t, conv.ConversationId, 7, 3, base.Add(time.Duration(i)*time.Millisecond), "hello")
		require.NoError(t, repos.Message.Create(ctx, msg))
		require.NoError(t, repos.Conversation.UpdateLastMessage(ctx, msg))
	}

	// walk the listing by cursor, so each page resumes from the driver's paging state
	var (
		req  = entity.PageRequest{PageSize: 20}
		seen = make(map[string]bool)
		last time.Time
	)
	for {
		page, err := repos.Message.ListInConversation(ctx, conv.ConversationId, req)
		require.NoError(t, err)
		for _, m := range page.Items {
			assert.False(t, seen[m.MessageId.String()], "messages are listed once")
			seen[m.MessageId.String()] = true
			if !last.IsZero() {
				assert.True(t, m.Timestamp.Before(last), "newest first")
			}
			last = m.Timestamp
		}
		if page.NextCursor == "" {
			break
		}
		req = entity.PageRequest{PageSize: 20, Cursor: page.NextCursor}
	}
	assert.Len(t, seen, 45)

	stored, err := repos.Conversation.GetById(ctx, conv.ConversationId)
	require.NoError(t, err)
	assert.Equal(t, base.Add(44*time.Millisecond), stored.LastMessageAt)
}

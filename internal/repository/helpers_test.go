package repository_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mbeoliero/widechat/internal/entity"
	"github.com/mbeoliero/widechat/internal/repository/repotest"
	"github.com/mbeoliero/widechat/pkg/idgen"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newMessage(t *testing.T, conversationId, senderId, receiverId int64, at time.Time, content string) *entity.Message {
	t.Helper()
	id, err := idgen.NewMessageId()
	require.NoError(t, err)
	return &entity.Message{
		MessageId:      id,
		ConversationId: conversationId,
		SenderId:       senderId,
		ReceiverId:     receiverId,
		Content:        content,
		Timestamp:      at,
	}
}

// seedMessages writes n canonical rows one second apart and returns them newest first
func seedMessages(t *testing.T, f *repotest.Fixture, conversationId int64, n int) []*entity.Message {
	t.Helper()
	msgs := make([]*entity.Message, n)
	for i := 0; i < n; i++ {
		msg := newMessage(t, conversationId, 1, 2, baseTime.Add(time.Duration(i)*time.Second), "hello")
		require.NoError(t, f.Repos.Message.Create(context.Background(), msg))
		msgs[n-1-i] = msg
	}
	return msgs
}

func countStatements(f *repotest.Fixture, prefix string) int {
	n := 0
	for _, stmt := range f.Session.Statements() {
		if strings.HasPrefix(stmt, prefix) {
			n++
		}
	}
	return n
}

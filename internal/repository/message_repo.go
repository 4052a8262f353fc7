package repository

import (
	"context"
	"time"

	"github.com/mbeoliero/widechat/internal/entity"
	"github.com/mbeoliero/widechat/pkg/cassandra"
)

// MessageRepo is the repository for message operations
type MessageRepo struct {
	session cassandra.Session
	pager   *Pager
}

// NewMessageRepo creates a new MessageRepo
func NewMessageRepo(session cassandra.Session, pager *Pager) *MessageRepo {
	return &MessageRepo{session: session, pager: pager}
}

// Create writes the canonical message row
func (r *MessageRepo) Create(ctx context.Context, msg *entity.Message) error {
	return r.session.Exec(ctx,
		`INSERT INTO messages (conversation_id, timestamp, message_id, sender_id, receiver_id, content)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ConversationId, msg.Timestamp, cassandra.UUID(msg.MessageId), msg.SenderId, msg.ReceiverId, msg.Content)
}

// CreateUserProjection writes the message into one participant's message index
func (r *MessageRepo) CreateUserProjection(ctx context.Context, userId int64, msg *entity.Message) error {
	return r.session.Exec(ctx,
		`INSERT INTO messages_by_user (user_id, conversation_id, timestamp, message_id, sender_id, receiver_id, content)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userId, msg.ConversationId, msg.Timestamp, cassandra.UUID(msg.MessageId), msg.SenderId, msg.ReceiverId, msg.Content)
}

// ListInConversation lists a conversation's messages, newest first
func (r *MessageRepo) ListInConversation(ctx context.Context, conversationId int64, req entity.PageRequest) (*entity.Page[*entity.Message], error) {
	return r.list(ctx, PageQuery{
		Stmt:      `SELECT * FROM messages WHERE conversation_id = ?`,
		CountStmt: `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`,
		Args:      []interface{}{conversationId},
	}, req)
}

// ListBefore lists a conversation's messages strictly older than before, newest first.
// The bound is a clustering range, so the store evaluates it.
func (r *MessageRepo) ListBefore(ctx context.Context, conversationId int64, before time.Time, req entity.PageRequest) (*entity.Page[*entity.Message], error) {
	return r.list(ctx, PageQuery{
		Stmt:      `SELECT * FROM messages WHERE conversation_id = ? AND timestamp < ?`,
		CountStmt: `SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND timestamp < ?`,
		Args:      []interface{}{conversationId, before.UTC()},
	}, req)
}

// ListForUser lists a user's messages across conversations, grouped by conversation and newest
// first within each
func (r *MessageRepo) ListForUser(ctx context.Context, userId int64, req entity.PageRequest) (*entity.Page[*entity.Message], error) {
	return r.list(ctx, PageQuery{
		Stmt:      `SELECT * FROM messages_by_user WHERE user_id = ?`,
		CountStmt: `SELECT COUNT(*) FROM messages_by_user WHERE user_id = ?`,
		Args:      []interface{}{userId},
	}, req)
}

func (r *MessageRepo) list(ctx context.Context, q PageQuery, req entity.PageRequest) (*entity.Page[*entity.Message], error) {
	res, err := r.pager.Fetch(ctx, q, req)
	if err != nil {
		return nil, err
	}

	items := make([]*entity.Message, 0, len(res.Rows))
	for _, row := range res.Rows {
		items = append(items, decodeMessage(row))
	}
	return newPage(res, items), nil
}

func decodeMessage(row cassandra.Row) *entity.Message {
	return &entity.Message{
		MessageId:      row.UUID("message_id"),
		ConversationId: row.Int64("conversation_id"),
		SenderId:       row.Int64("sender_id"),
		ReceiverId:     row.Int64("receiver_id"),
		Content:        row.String("content"),
		Timestamp:      row.Time("timestamp"),
	}
}

package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/widechat/internal/entity"
	"github.com/mbeoliero/widechat/pkg/cassandra"
	"github.com/mbeoliero/widechat/pkg/errcode"
	"github.com/mbeoliero/widechat/pkg/idgen"
)

// ConversationRepo is the repository for conversation operations
type ConversationRepo struct {
	session cassandra.Session
	ids     idgen.IDGenerator
	pager   *Pager
}

// NewConversationRepo creates a new ConversationRepo
func NewConversationRepo(session cassandra.Session, ids idgen.IDGenerator, pager *Pager) *ConversationRepo {
	return &ConversationRepo{session: session, ids: ids, pager: pager}
}

// GetById gets a conversation by id. A missing conversation returns nil, nil.
func (r *ConversationRepo) GetById(ctx context.Context, conversationId int64) (*entity.Conversation, error) {
	rows, err := r.session.Query(ctx,
		`SELECT * FROM conversations WHERE conversation_id = ?`, conversationId)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return decodeConversation(rows[0]), nil
}

// ResolveOrCreate returns the conversation between two users, creating it on first contact.
// (a, b) and (b, a) resolve to the same conversation. The pair is claimed with a lightweight
// transaction, so concurrent first messages agree on one id.
func (r *ConversationRepo) ResolveOrCreate(ctx context.Context, userA, userB int64) (*entity.Conversation, error) {
	low, high := entity.CanonicalPair(userA, userB)

	conversationId, found, err := r.lookupPair(ctx, low, high)
	if err != nil {
		return nil, err
	}

	if !found {
		legacy, err := r.scanPair(ctx, userA, userB)
		if err != nil {
			return nil, err
		}
		if legacy != nil {
			conversationId, err = r.claimPair(ctx, low, high, legacy.ConversationId, legacy.CreatedAt)
			if err != nil {
				return nil, err
			}
			if conversationId == legacy.ConversationId {
				return legacy, nil
			}
		} else {
			newId, err := r.ids.NextID()
			if err != nil {
				return nil, err
			}
			conversationId, err = r.claimPair(ctx, low, high, newId, entity.NowUTC())
			if err != nil {
				return nil, err
			}
			if conversationId == newId {
				return r.create(ctx, newId, userA, userB)
			}
			log.CtxDebug(ctx, "conversation pair claimed concurrently: user_low=%d, user_high=%d, conversation_id=%d",
				low, high, conversationId)
		}
	}

	conv, err := r.GetById(ctx, conversationId)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		// the claimant has not written the row yet, or failed before doing so
		return r.create(ctx, conversationId, userA, userB)
	}
	return conv, nil
}

// lookupPair reads the conversation id indexed for the canonical pair
func (r *ConversationRepo) lookupPair(ctx context.Context, low, high int64) (int64, bool, error) {
	rows, err := r.session.Query(ctx,
		`SELECT conversation_id FROM conversations_by_participants WHERE user_low = ? AND user_high = ?`,
		low, high)
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Int64("conversation_id"), true, nil
}

// claimPair indexes conversationId for the pair unless another id got there first, and returns the winner
func (r *ConversationRepo) claimPair(ctx context.Context, low, high, conversationId int64, createdAt interface{}) (int64, error) {
	applied, existing, err := r.session.ExecCAS(ctx,
		`INSERT INTO conversations_by_participants (user_low, user_high, conversation_id, created_at)
		VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		low, high, conversationId, createdAt)
	if err != nil {
		return 0, err
	}
	if applied {
		return conversationId, nil
	}
	if winner := existing.Int64("conversation_id"); winner != 0 {
		return winner, nil
	}

	winner, found, err := r.lookupPair(ctx, low, high)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("pair (%d, %d) claim lost but no winner is visible", low, high)
	}
	return winner, nil
}

// scanPair finds conversations written before the pair index existed. CQL has no OR, so each
// participant order is a separate filtered scan. Duplicates resolve to the lowest id.
func (r *ConversationRepo) scanPair(ctx context.Context, userA, userB int64) (*entity.Conversation, error) {
	var found []*entity.Conversation
	for _, pair := range [][2]int64{{userA, userB}, {userB, userA}} {
		rows, err := r.session.Query(ctx,
			`SELECT * FROM conversations WHERE user1_id = ? AND user2_id = ? ALLOW FILTERING`,
			pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			found = append(found, decodeConversation(row))
		}
		if userA == userB {
			break
		}
	}
	if len(found) == 0 {
		return nil, nil
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].ConversationId < found[j].ConversationId
	})
	if len(found) > 1 {
		ids := make([]int64, 0, len(found))
		for _, c := range found {
			ids = append(ids, c.ConversationId)
		}
		log.CtxWarn(ctx, "%v: user1_id=%d, user2_id=%d, conversation_ids=%v, using=%d",
			errcode.ErrDuplicateConversation, userA, userB, ids, found[0].ConversationId)
	}
	return found[0], nil
}

// create writes the conversation row. The last message fields stay unset until the first send.
func (r *ConversationRepo) create(ctx context.Context, conversationId, userA, userB int64) (*entity.Conversation, error) {
	now := entity.NowUTC()
	applied, _, err := r.session.ExecCAS(ctx,
		`INSERT INTO conversations (conversation_id, user1_id, user2_id, created_at)
		VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		conversationId, userA, userB, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		conv, err := r.GetById(ctx, conversationId)
		if err != nil {
			return nil, err
		}
		if conv != nil {
			return conv, nil
		}
	}

	log.CtxInfo(ctx, "conversation created: conversation_id=%d, user1_id=%d, user2_id=%d", conversationId, userA, userB)
	return &entity.Conversation{
		ConversationId: conversationId,
		User1Id:        userA,
		User2Id:        userB,
		CreatedAt:      now,
		LastMessageAt:  now,
	}, nil
}

// UpdateLastMessage sets the conversation's last message. The write is timestamped with the
// message time, so an older message landing late never overwrites a newer one.
func (r *ConversationRepo) UpdateLastMessage(ctx context.Context, msg *entity.Message) error {
	return r.session.Exec(ctx,
		`UPDATE conversations USING TIMESTAMP ? SET last_message_at = ?, last_message_content = ?
		WHERE conversation_id = ?`,
		msg.Timestamp.UnixMicro(), msg.Timestamp, msg.Content, msg.ConversationId)
}

// UpsertUserConversation moves a participant's conversation list entry to the message time.
// conv is the conversation as read before the send; its previous entry is removed when older.
func (r *ConversationRepo) UpsertUserConversation(ctx context.Context, userId int64, conv *entity.Conversation, msg *entity.Message) error {
	if conv.LastMessageAt.After(msg.Timestamp) {
		// a newer message already placed this entry
		return nil
	}

	err := r.session.Exec(ctx,
		`INSERT INTO conversations_by_user (user_id, last_message_at, conversation_id, other_user_id)
		VALUES (?, ?, ?, ?)`,
		userId, msg.Timestamp, conv.ConversationId, conv.OtherParticipant(userId))
	if err != nil {
		return err
	}

	if conv.LastMessageAt.Before(msg.Timestamp) {
		return r.session.Exec(ctx,
			`DELETE FROM conversations_by_user WHERE user_id = ? AND last_message_at = ? AND conversation_id = ?`,
			userId, conv.LastMessageAt, conv.ConversationId)
	}
	return nil
}

// ListForUser lists a user's conversations, most recent first. Entries whose conversation row
// is missing are dropped, and stale entries for a conversation already listed are skipped.
// Stale entries are only collapsed within one page: an old entry left behind by concurrent
// sends can list the same conversation again on a later page. Total counts raw entries, so
// like every listing total it is approximate.
func (r *ConversationRepo) ListForUser(ctx context.Context, userId int64, req entity.PageRequest) (*entity.Page[*entity.ConversationInfo], error) {
	res, err := r.pager.Fetch(ctx, PageQuery{
		Stmt:      `SELECT conversation_id, last_message_at, other_user_id FROM conversations_by_user WHERE user_id = ?`,
		CountStmt: `SELECT COUNT(*) FROM conversations_by_user WHERE user_id = ?`,
		Args:      []interface{}{userId},
	}, req)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(res.Rows))
	items := make([]*entity.ConversationInfo, 0, len(res.Rows))
	for _, row := range res.Rows {
		conversationId := row.Int64("conversation_id")
		if seen[conversationId] {
			continue
		}
		seen[conversationId] = true

		conv, err := r.GetById(ctx, conversationId)
		if err != nil {
			return nil, err
		}
		if conv == nil {
			log.CtxDebug(ctx, "conversation list entry without conversation: user_id=%d, conversation_id=%d", userId, conversationId)
			continue
		}
		items = append(items, &entity.ConversationInfo{
			Conversation: conv,
			OtherUserId:  conv.OtherParticipant(userId),
		})
	}
	return newPage(res, items), nil
}

func decodeConversation(row cassandra.Row) *entity.Conversation {
	conv := &entity.Conversation{
		ConversationId: row.Int64("conversation_id"),
		User1Id:        row.Int64("user1_id"),
		User2Id:        row.Int64("user2_id"),
		CreatedAt:      row.Time("created_at"),
		LastMessageAt:  row.Time("last_message_at"),
	}
	if conv.LastMessageAt.IsZero() {
		conv.LastMessageAt = conv.CreatedAt
	}
	if content := row.String("last_message_content"); content != "" {
		conv.LastMessageContent = &content
	}
	return conv
}

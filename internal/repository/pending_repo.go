package repository

import (
	"context"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/mbeoliero/widechat/internal/entity"
	"github.com/mbeoliero/widechat/pkg/cassandra"
)

// PendingRepo records sends whose projection writes did not all land.
// Entries are spread over a fixed number of shard partitions so no single partition grows hot.
type PendingRepo struct {
	session cassandra.Session
	shards  int
}

// NewPendingRepo creates a new PendingRepo
func NewPendingRepo(session cassandra.Session, shards int) *PendingRepo {
	if shards <= 0 {
		shards = 1
	}
	return &PendingRepo{session: session, shards: shards}
}

// Shards returns the number of shard partitions
func (r *PendingRepo) Shards() int {
	return r.shards
}

// ShardOf returns the shard a message is recorded under
func (r *PendingRepo) ShardOf(messageId uuid.UUID) int {
	h := fnv.New32a()
	_, _ = h.Write(messageId[:])
	return int(h.Sum32() % uint32(r.shards))
}

// Record stores msg for replay. Recording the same message again overwrites the entry.
func (r *PendingRepo) Record(ctx context.Context, msg *entity.Message, failedSteps string) error {
	return r.session.Exec(ctx,
		`INSERT INTO pending_fanouts (shard, message_id, conversation_id, sender_id, receiver_id, content, timestamp, failed_steps, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ShardOf(msg.MessageId), cassandra.UUID(msg.MessageId), msg.ConversationId, msg.SenderId, msg.ReceiverId,
		msg.Content, msg.Timestamp, failedSteps, entity.NowUTC())
}

// ListShard returns up to limit entries of one shard in message_id order, starting after
// the given id. uuid.Nil starts at the head of the shard.
func (r *PendingRepo) ListShard(ctx context.Context, shard int, after uuid.UUID, limit int) ([]*entity.PendingFanout, error) {
	stmt := `SELECT * FROM pending_fanouts WHERE shard = ?`
	args := []interface{}{shard}
	if after != uuid.Nil {
		stmt += ` AND message_id > ?`
		args = append(args, cassandra.UUID(after))
	}

	rows, _, err := r.session.QueryPage(ctx, stmt, limit, nil, args...)
	if err != nil {
		return nil, err
	}

	entries := make([]*entity.PendingFanout, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, decodePendingFanout(row))
	}
	return entries, nil
}

// MarkFailed stores the entry's attempt count and the error of its latest replay
func (r *PendingRepo) MarkFailed(ctx context.Context, entry *entity.PendingFanout) error {
	return r.session.Exec(ctx,
		`UPDATE pending_fanouts SET attempts = ?, last_error = ? WHERE shard = ? AND message_id = ?`,
		entry.Attempts, entry.LastError, entry.Shard, cassandra.UUID(entry.Message.MessageId))
}

// DeadLetter moves an entry out of the replay queue into dead_fanouts
func (r *PendingRepo) DeadLetter(ctx context.Context, entry *entity.PendingFanout) error {
	msg := entry.Message
	err := r.session.Exec(ctx,
		`INSERT INTO dead_fanouts (shard, message_id, conversation_id, sender_id, receiver_id, content, timestamp, failed_steps, attempts, last_error, recorded_at, dead_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Shard, cassandra.UUID(msg.MessageId), msg.ConversationId, msg.SenderId, msg.ReceiverId,
		msg.Content, msg.Timestamp, entry.FailedSteps, entry.Attempts, entry.LastError, entry.RecordedAt, entity.NowUTC())
	if err != nil {
		return err
	}
	return r.Delete(ctx, entry.Shard, msg.MessageId)
}

// Delete removes an entry once its message is fully written
func (r *PendingRepo) Delete(ctx context.Context, shard int, messageId uuid.UUID) error {
	return r.session.Exec(ctx,
		`DELETE FROM pending_fanouts WHERE shard = ? AND message_id = ?`,
		shard, cassandra.UUID(messageId))
}

func decodePendingFanout(row cassandra.Row) *entity.PendingFanout {
	return &entity.PendingFanout{
		Shard:       int(row.Int64("shard")),
		Message:     decodeMessage(row),
		FailedSteps: row.String("failed_steps"),
		Attempts:    int(row.Int64("attempts")),
		LastError:   row.String("last_error"),
		RecordedAt:  row.Time("recorded_at"),
	}
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/widechat/internal/entity"
	"github.com/mbeoliero/widechat/internal/repository"
	"github.com/mbeoliero/widechat/pkg/errcode"
	"github.com/mbeoliero/widechat/pkg/idgen"
	"github.com/sourcegraph/conc/pool"
)

const defaultFanoutWorkers = 5

// MessageService handles message-related business logic
type MessageService struct {
	msgRepo     *repository.MessageRepo
	convRepo    *repository.ConversationRepo
	pendingRepo *repository.PendingRepo
	idemRepo    *repository.IdempotencyRepo
	workers     int
}

// NewMessageService creates a new MessageService
func NewMessageService(repos *repository.Repositories) *MessageService {
	return &MessageService{
		msgRepo:     repos.Message,
		convRepo:    repos.Conversation,
		pendingRepo: repos.Pending,
		idemRepo:    repos.Idempotency,
		workers:     defaultFanoutWorkers,
	}
}

// SetFanoutWorkers bounds how many projection writes of one send run at once
func (s *MessageService) SetFanoutWorkers(n int) {
	if n > 0 {
		s.workers = n
	}
}

// SendMessageRequest represents send message request
type SendMessageRequest struct {
	SenderId       int64  `json:"sender_id"`
	RecvId         int64  `json:"receiver_id"`
	Content        string `json:"content"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// SendMessage stores a message from sender to receiver, creating their conversation on first contact.
//
// The canonical row is written first; a failure there leaves nothing behind. The projection writes
// then run concurrently and are not atomic as a group: if any fails, the message is recorded for
// replay and ErrPartialWrite is returned. Retrying with the same idempotency key rewrites the same
// rows instead of creating a second message.
func (s *MessageService) SendMessage(ctx context.Context, req *SendMessageRequest) (*entity.Message, error) {
	// Validate request
	if req.SenderId <= 0 || req.RecvId <= 0 || req.SenderId == req.RecvId {
		return nil, errcode.ErrInvalidParam
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, errcode.ErrInvalidParam
	}

	conv, err := s.convRepo.ResolveOrCreate(ctx, req.SenderId, req.RecvId)
	if err != nil {
		log.CtxError(ctx, "resolve conversation failed: sender_id=%d, recv_id=%d, error=%v", req.SenderId, req.RecvId, err)
		return nil, toErrcode(err, errcode.ErrSendFailed)
	}

	messageId, err := idgen.NewMessageId()
	if err != nil {
		log.CtxError(ctx, "generate message id failed: %v", err)
		return nil, errcode.ErrSendFailed.Wrap(err)
	}

	msg := &entity.Message{
		MessageId:      messageId,
		ConversationId: conv.ConversationId,
		SenderId:       req.SenderId,
		ReceiverId:     req.RecvId,
		Content:        req.Content,
		Timestamp:      entity.NowUTC(),
	}

	// Check for idempotency
	if req.IdempotencyKey != "" {
		recorded, claimed, err := s.idemRepo.Claim(ctx, req.SenderId, req.IdempotencyKey, msg)
		if err != nil {
			log.CtxError(ctx, "claim idempotency key failed: sender_id=%d, key=%s, error=%v", req.SenderId, req.IdempotencyKey, err)
			return nil, errcode.ErrSendFailed.Wrap(err)
		}
		if !claimed {
			if recorded.ReceiverId != req.RecvId || recorded.Content != req.Content {
				return nil, errcode.ErrInvalidParam.Wrap(fmt.Errorf("idempotency key %q was used for another message", req.IdempotencyKey))
			}
			log.CtxDebug(ctx, "duplicate message: sender_id=%d, key=%s, message_id=%s", req.SenderId, req.IdempotencyKey, recorded.MessageId)
			msg = recorded
		}
	}

	if err := s.msgRepo.Create(ctx, msg); err != nil {
		log.CtxError(ctx, "write message failed: message_id=%s, conversation_id=%d, error=%v", msg.MessageId, msg.ConversationId, err)
		return nil, toErrcode(err, errcode.ErrSendFailed)
	}

	if err := s.fanout(ctx, conv, msg); err != nil {
		log.CtxError(ctx, "message partially written: message_id=%s, conversation_id=%d, error=%v", msg.MessageId, msg.ConversationId, err)
		if recErr := s.pendingRepo.Record(ctx, msg, err.Error()); recErr != nil {
			log.CtxError(ctx, "record pending fanout failed: message_id=%s, error=%v", msg.MessageId, recErr)
		}
		return nil, errcode.ErrPartialWrite.Wrap(err)
	}

	log.CtxInfo(ctx, "message sent: message_id=%s, conversation_id=%d, sender_id=%d, recv_id=%d",
		msg.MessageId, msg.ConversationId, msg.SenderId, msg.ReceiverId)
	return msg, nil
}

// ReplayFanout rewrites every row of an already accepted message. All writes are upserts of the
// same keys, so replaying a fully written message changes nothing.
func (s *MessageService) ReplayFanout(ctx context.Context, msg *entity.Message) error {
	conv, err := s.convRepo.GetById(ctx, msg.ConversationId)
	if err != nil {
		return toErrcode(err, errcode.ErrSendFailed)
	}
	if conv == nil {
		return errcode.ErrConvNotFound
	}

	if err := s.msgRepo.Create(ctx, msg); err != nil {
		return toErrcode(err, errcode.ErrSendFailed)
	}
	if err := s.fanout(ctx, conv, msg); err != nil {
		return errcode.ErrPartialWrite.Wrap(err)
	}
	return nil
}

// fanout writes both message projections, the conversation's last message and both
// conversation list entries. Every write is attempted; the errors are joined.
func (s *MessageService) fanout(ctx context.Context, conv *entity.Conversation, msg *entity.Message) error {
	p := pool.New().WithErrors().WithMaxGoroutines(s.workers)

	for _, userId := range msg.Participants() {
		p.Go(func() error {
			if err := s.msgRepo.CreateUserProjection(ctx, userId, msg); err != nil {
				return fmt.Errorf("messages_by_user(%d): %w", userId, err)
			}
			return nil
		})
	}

	p.Go(func() error {
		if err := s.convRepo.UpdateLastMessage(ctx, msg); err != nil {
			return fmt.Errorf("conversations(%d): %w", msg.ConversationId, err)
		}
		return nil
	})

	for _, userId := range msg.Participants() {
		p.Go(func() error {
			if err := s.convRepo.UpsertUserConversation(ctx, userId, conv, msg); err != nil {
				return fmt.Errorf("conversations_by_user(%d): %w", userId, err)
			}
			return nil
		})
	}

	return p.Wait()
}

// ListConversationMessages lists a conversation's messages, newest first
func (s *MessageService) ListConversationMessages(ctx context.Context, conversationId int64, req entity.PageRequest) (*entity.Page[*entity.Message], error) {
	if err := s.checkConversation(ctx, conversationId); err != nil {
		return nil, err
	}

	page, err := s.msgRepo.ListInConversation(ctx, conversationId, req)
	if err != nil {
		log.CtxError(ctx, "list messages failed: conversation_id=%d, error=%v", conversationId, err)
		return nil, toErrcode(err, errcode.ErrPullFailed)
	}
	return page, nil
}

// ListMessagesBefore lists a conversation's messages strictly older than before, newest first
func (s *MessageService) ListMessagesBefore(ctx context.Context, conversationId int64, before time.Time, req entity.PageRequest) (*entity.Page[*entity.Message], error) {
	if before.IsZero() {
		return nil, errcode.ErrInvalidParam
	}
	if err := s.checkConversation(ctx, conversationId); err != nil {
		return nil, err
	}

	page, err := s.msgRepo.ListBefore(ctx, conversationId, before, req)
	if err != nil {
		log.CtxError(ctx, "list messages before failed: conversation_id=%d, before=%v, error=%v", conversationId, before, err)
		return nil, toErrcode(err, errcode.ErrPullFailed)
	}
	return page, nil
}

// ListUserMessages lists every message a user sent or received
func (s *MessageService) ListUserMessages(ctx context.Context, userId int64, req entity.PageRequest) (*entity.Page[*entity.Message], error) {
	if userId <= 0 {
		return nil, errcode.ErrInvalidParam
	}

	page, err := s.msgRepo.ListForUser(ctx, userId, req)
	if err != nil {
		log.CtxError(ctx, "list user messages failed: user_id=%d, error=%v", userId, err)
		return nil, toErrcode(err, errcode.ErrPullFailed)
	}
	return page, nil
}

func (s *MessageService) checkConversation(ctx context.Context, conversationId int64) error {
	if conversationId <= 0 {
		return errcode.ErrInvalidParam
	}
	conv, err := s.convRepo.GetById(ctx, conversationId)
	if err != nil {
		log.CtxError(ctx, "get conversation failed: conversation_id=%d, error=%v", conversationId, err)
		return toErrcode(err, errcode.ErrPullFailed)
	}
	if conv == nil {
		return errcode.ErrConvNotFound
	}
	return nil
}

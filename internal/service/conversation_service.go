package service

import (
	"context"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/widechat/internal/entity"
	"github.com/mbeoliero/widechat/internal/repository"
	"github.com/mbeoliero/widechat/pkg/errcode"
)

// ConversationService handles conversation-related business logic
type ConversationService struct {
	convRepo *repository.ConversationRepo
}

// NewConversationService creates a new ConversationService
func NewConversationService(repos *repository.Repositories) *ConversationService {
	return &ConversationService{
		convRepo: repos.Conversation,
	}
}

// GetConversation gets a conversation by id
func (s *ConversationService) GetConversation(ctx context.Context, conversationId int64) (*entity.Conversation, error) {
	if conversationId <= 0 {
		return nil, errcode.ErrInvalidParam
	}

	conv, err := s.convRepo.GetById(ctx, conversationId)
	if err != nil {
		log.CtxError(ctx, "get conversation failed: conversation_id=%d, error=%v", conversationId, err)
		return nil, toErrcode(err, errcode.ErrInternalServer)
	}
	if conv == nil {
		return nil, errcode.ErrConvNotFound
	}
	return conv, nil
}

// ListUserConversations lists a user's conversations, most recent first
func (s *ConversationService) ListUserConversations(ctx context.Context, userId int64, req entity.PageRequest) (*entity.Page[*entity.ConversationInfo], error) {
	if userId <= 0 {
		return nil, errcode.ErrInvalidParam
	}

	page, err := s.convRepo.ListForUser(ctx, userId, req)
	if err != nil {
		log.CtxError(ctx, "list user conversations failed: user_id=%d, error=%v", userId, err)
		return nil, toErrcode(err, errcode.ErrInternalServer)
	}
	return page, nil
}

package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/mbeoliero/widechat/internal/service"
	"github.com/mbeoliero/widechat/pkg/errcode"
	"github.com/mbeoliero/widechat/pkg/response"
)

// IdempotencyKeyHeader carries the idempotency key when the body does not
const IdempotencyKeyHeader = "Idempotency-Key"

// MessageHandler handles message-related requests
type MessageHandler struct {
	msgService *service.MessageService
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(msgService *service.MessageService) *MessageHandler {
	return &MessageHandler{msgService: msgService}
}

// SendMessage handles send message request
func (h *MessageHandler) SendMessage(ctx context.Context, c *app.RequestContext) {
	var req service.SendMessageRequest
	if err := c.BindJSON(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = string(c.GetHeader(IdempotencyKeyHeader))
	}

	msg, err := h.msgService.SendMessage(ctx, &req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, msg)
}

// ListMessages handles list conversation messages request
func (h *MessageHandler) ListMessages(ctx context.Context, c *app.RequestContext) {
	conversationId, ok := queryInt64(c, "conversation_id")
	if !ok {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	page, err := h.msgService.ListConversationMessages(ctx, conversationId, pageRequest(c))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, page)
}

// ListMessagesBefore handles list messages before a timestamp request
func (h *MessageHandler) ListMessagesBefore(ctx context.Context, c *app.RequestContext) {
	conversationId, ok := queryInt64(c, "conversation_id")
	if !ok {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}
	before, ok := parseTimestamp(c.Query("before_timestamp"))
	if !ok {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	page, err := h.msgService.ListMessagesBefore(ctx, conversationId, before, pageRequest(c))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, page)
}

// ListUserMessages handles list user messages request
func (h *MessageHandler) ListUserMessages(ctx context.Context, c *app.RequestContext) {
	userId, ok := queryInt64(c, "user_id")
	if !ok {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	page, err := h.msgService.ListUserMessages(ctx, userId, pageRequest(c))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, page)
}

package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/mbeoliero/widechat/internal/handler"
	"github.com/mbeoliero/widechat/internal/middleware"
)

// SetupRouter sets up all routes
func SetupRouter(r *route.Engine, handlers *Handlers, allowedOrigins []string) {
	r.Use(middleware.AccessLog(), middleware.CORS(allowedOrigins))

	// Health check
	r.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
	})

	// Message routes
	msgGroup := r.Group("/msg")
	{
		msgGroup.POST("/send", handlers.Message.SendMessage)
		msgGroup.GET("/list", handlers.Message.ListMessages)
		msgGroup.GET("/before", handlers.Message.ListMessagesBefore)
		msgGroup.GET("/user", handlers.Message.ListUserMessages)
	}

	// Conversation routes
	convGroup := r.Group("/conversation")
	{
		convGroup.GET("/list", handlers.Conversation.GetConversationList)
		convGroup.GET("/info", handlers.Conversation.GetConversation)
	}
}

// Handlers holds all HTTP handlers
type Handlers struct {
	Message      *handler.MessageHandler
	Conversation *handler.ConversationHandler
}

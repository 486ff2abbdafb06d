package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chat-relay-server/internal/auth"
	"chat-relay-server/internal/handler"
	"chat-relay-server/internal/middleware"
	"chat-relay-server/internal/relay"
	"chat-relay-server/internal/socketio"
)

type Deps struct {
	Relay       *relay.Engine
	TokenConfig auth.TokenConfig
	Logger      zerolog.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))

	chatHandler := &handler.ChatHandler{Relay: deps.Relay}
	chatLimiter := middleware.NewRateLimiter(60, time.Minute)
	chat := protected.Group("/chat")
	chat.Use(middleware.RateLimitMiddleware(chatLimiter))
	chat.POST("/message", chatHandler.Send(relay.KindMessage))
	chat.POST("/request", chatHandler.Send(relay.KindRequest))
	chat.POST("/request/ack", chatHandler.Send(relay.KindRequestAck))
	chat.POST("/request/accept", chatHandler.Send(relay.KindRequestAccept))
	chat.POST("/request/reject", chatHandler.Send(relay.KindRequestReject))
	chat.POST("/request/cancel", chatHandler.Send(relay.KindRequestCancel))
	chat.POST("/delete", chatHandler.Send(relay.KindDelete))

	presenceHandler := &handler.PresenceHandler{Relay: deps.Relay}
	protected.POST("/presence", presenceHandler.Query)
	protected.GET("/connection", presenceHandler.Connection)

	sio := socketio.NewServer(socketio.Deps{
		Relay:       deps.Relay,
		TokenConfig: deps.TokenConfig,
		Logger:      deps.Logger,
	})
	deps.Relay.SetEmitter(sio)
	r.GET("/socket.io/", gin.WrapH(sio))

	return r
}

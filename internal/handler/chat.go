package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-relay-server/internal/middleware"
	"chat-relay-server/internal/relay"
)

// ChatHandler exposes the directed relay over the request/response API.
// Every event kind goes through the same Send handler; only the kind
// differs per route.
type ChatHandler struct {
	Relay *relay.Engine
}

type directedRequest struct {
	ToUserName     string `json:"toUserName"`
	Message        string `json:"message"`
	Reason         string `json:"reason"`
	EncryptionData string `json:"encryptionData"`
}

func (h *ChatHandler) Send(kind relay.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := middleware.CallerFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			return
		}

		var body directedRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		err := h.Relay.Relay(c.Request.Context(), caller, relay.Request{
			Kind:           kind,
			TargetName:     body.ToUserName,
			Message:        body.Message,
			Reason:         body.Reason,
			EncryptionData: body.EncryptionData,
		})
		if err != nil {
			status, message := relayErrorStatus(err)
			c.JSON(status, gin.H{"error": message})
			return
		}

		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// relayErrorStatus maps relay conditions to caller-facing responses. The
// three 404-class conditions keep distinct messages on purpose.
func relayErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, relay.ErrMissingTarget), errors.Is(err, relay.ErrMissingField):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, relay.ErrSelfTarget):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, relay.ErrTargetNotFound),
		errors.Is(err, relay.ErrNotConnected),
		errors.Is(err, relay.ErrNotOnline):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

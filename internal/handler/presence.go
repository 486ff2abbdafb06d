package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-relay-server/internal/middleware"
	"chat-relay-server/internal/relay"
)

type PresenceHandler struct {
	Relay *relay.Engine
}

// Query reports whether a named user in the caller's tenant is online and
// when it last heartbeated.
func (h *PresenceHandler) Query(c *gin.Context) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body struct {
		UserName string `json:"userName"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	presence, err := h.Relay.PresenceOf(c.Request.Context(), caller.TenantID, body.UserName)
	if err != nil {
		status, message := relayErrorStatus(err)
		c.JSON(status, gin.H{"error": message})
		return
	}

	var lastHeartbeat any
	if presence.LastHeartbeat > 0 {
		lastHeartbeat = presence.LastHeartbeat
	}
	c.JSON(http.StatusOK, gin.H{"online": presence.Online, "lastHeartbeat": lastHeartbeat})
}

// Connection returns the caller's own bound socket handle, null when the
// caller has no live connection.
func (h *PresenceHandler) Connection(c *gin.Context) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	handle, err := h.Relay.ConnectionOf(c.Request.Context(), caller.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	var socketID any
	if handle != "" {
		socketID = handle
	}
	c.JSON(http.StatusOK, gin.H{"userId": caller.ID, "socketId": socketID})
}

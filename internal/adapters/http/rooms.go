package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type roomsHandler struct {
	rooms   core.RoomManager
	history core.MessageSource
	timeout time.Duration
}

func (h *roomsHandler) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.rooms.List()})
}

func (h *roomsHandler) get(c *gin.Context) {
	room, ok := h.rooms.Get(domain.RoomID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": domain.CodeNotFound, "message": "room is not active"})
		return
	}
	c.JSON(http.StatusOK, room.Snapshot())
}

// messages serves the mirrored chat of a room, which outlives the room
// itself.
func (h *roomsHandler) messages(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": domain.CodeNotFound, "message": "no message store"})
		return
	}
	id := domain.RoomID(c.Param("id"))
	if id == "" || len(id) > domain.MaxRoomIDLen {
		c.JSON(http.StatusBadRequest, gin.H{"code": domain.CodeBadPayload, "message": "bad room id"})
		return
	}
	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	msgs, err := h.history.Messages(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		msgs = nil
	case err != nil:
		log.Warn().Err(err).Str("module", "adapters.http").Str("room", string(id)).Msg("load messages")
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": domain.Code(err), "message": "message store unavailable"})
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/mirror/internal/bus"
	intsync "github.com/matheus3301/mirror/internal/sync"
	"go.uber.org/zap"
)

// SyncChats runs one list sync. ?force=true lists from the top and refetches
// every chat; ?older=true pages backwards from the oldest cursor.
func (s *Server) SyncChats(c *gin.Context) {
	res := s.Controller.SyncChats(c.Request.Context(), intsync.ListOptions{
		Force: boolQuery(c, "force"),
		Older: boolQuery(c, "older"),
	})
	c.JSON(resultStatus(res.Success), res)
}

// SyncChat fetches messages for one chat. mode is latest (default), newer or
// backfill; backfill honours ?pages=N.
func (s *Server) SyncChat(c *gin.Context) {
	id := c.Param("id")
	chat, err := s.DB.GetChat(id)
	if err != nil {
		internalError(c, "get chat", err)
		return
	}
	if chat == nil {
		notFound(c, "chat", id)
		return
	}

	ctx := c.Request.Context()
	var res intsync.FetchResult
	switch mode := c.DefaultQuery("mode", "latest"); mode {
	case "latest":
		res = s.Controller.FetchLatest(ctx, id)
	case "newer":
		res = s.Controller.FetchNewer(ctx, id)
	case "backfill":
		res = s.Controller.Backfill(ctx, id, intQuery(c, "pages", 0))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode " + mode})
		return
	}
	c.JSON(resultStatus(res.Success), res)
}

// SyncContacts pulls every CRM contact. ?force=true bypasses the protection
// window and staleness checks.
func (s *Server) SyncContacts(c *gin.Context) {
	res := s.Feed.Run(c.Request.Context(), boolQuery(c, "force"))
	c.JSON(resultStatus(res.Success), res)
}

// Rematch re-evaluates the contact link of every single chat.
func (s *Server) Rematch(c *gin.Context) {
	res, err := s.Engine.FullSweep(c.Request.Context())
	if err != nil {
		s.logger.Error("rematch sweep failed", zap.Error(err))
		internalError(c, "rematch", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SetChatContact pins a chat to a contact. An empty contact_id releases the
// pin and lets identifier matching decide again.
func (s *Server) SetChatContact(c *gin.Context) {
	var req struct {
		ContactID string `json:"contact_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	chat, err := s.DB.GetChat(id)
	if err != nil {
		internalError(c, "get chat", err)
		return
	}
	if chat == nil {
		notFound(c, "chat", id)
		return
	}
	if req.ContactID != "" {
		contact, err := s.DB.GetContact(req.ContactID)
		if err != nil {
			internalError(c, "get contact", err)
			return
		}
		if contact == nil {
			notFound(c, "contact", req.ContactID)
			return
		}
	}

	if err := s.DB.SetContactOverride(id, req.ContactID); err != nil {
		internalError(c, "set contact override", err)
		return
	}
	if req.ContactID == "" {
		if _, err := s.Engine.FullSweep(c.Request.Context()); err != nil {
			s.logger.Warn("rematch after override release failed", zap.Error(err), zap.String("chat_id", id))
		}
	}
	chat, err = s.DB.GetChat(id)
	if err != nil {
		internalError(c, "get chat", err)
		return
	}
	s.Bus.Emit(bus.ChatContactChanged, map[string]string{"chat_id": chat.ID, "contact_id": chat.ContactID})
	c.JSON(http.StatusOK, toChatView(chat))
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ListChats returns chats by activity, newest first. Supports ?limit and ?offset.
func (s *Server) ListChats(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	chats, err := s.DB.ListChats(limit, intQuery(c, "offset", 0))
	if err != nil {
		internalError(c, "list chats", err)
		return
	}
	views := make([]ChatView, 0, len(chats))
	for i := range chats {
		views = append(views, toChatView(&chats[i]))
	}
	c.JSON(http.StatusOK, gin.H{"chats": views, "has_more": len(chats) == limit})
}

func (s *Server) GetChat(c *gin.Context) {
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
	c.JSON(http.StatusOK, toChatView(chat))
}

// ListMessages returns a chat's stored messages newest first. ?before takes a
// sort key for the next page.
func (s *Server) ListMessages(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	msgs, err := s.DB.ListMessages(c.Param("id"), c.Query("before"), limit)
	if err != nil {
		internalError(c, "list messages", err)
		return
	}
	views := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		views = append(views, toMessageView(&msgs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"messages": views, "has_more": len(msgs) == limit})
}

// SendMessage queues a text for sending. The response carries the local
// placeholder ID; the send completes asynchronously.
func (s *Server) SendMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
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
	msgID, err := s.Outbox.Queue(id, req.Text)
	if err != nil {
		s.logger.Error("queue message failed", zap.Error(err), zap.String("chat_id", id))
		internalError(c, "queue message", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": msgID, "status": "sending"})
}

// Package api exposes the daemon's sync actions and local data over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/mirror/internal/bus"
	"github.com/matheus3301/mirror/internal/contacts"
	"github.com/matheus3301/mirror/internal/outbox"
	"github.com/matheus3301/mirror/internal/rematch"
	"github.com/matheus3301/mirror/internal/status"
	"github.com/matheus3301/mirror/internal/store"
	intsync "github.com/matheus3301/mirror/internal/sync"
	"go.uber.org/zap"
)

// Deps are the components the handlers drive.
type Deps struct {
	Profile    string
	Region     string
	DB         *store.DB
	Controller *intsync.Controller
	Feed       *contacts.Feed
	Reconciler *contacts.Reconciler
	Engine     *rematch.Engine
	Outbox     *outbox.Sender
	Machine    *status.Machine
	Bus        *bus.Bus
}

// Server holds the HTTP handlers.
type Server struct {
	Deps
	started time.Time
	logger  *zap.Logger
}

// NewServer creates the handler set.
func NewServer(d Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Deps: d, started: time.Now(), logger: logger}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	s.SetupRoutes(r)
	return r
}

// SetupRoutes registers the routes on router.
func (s *Server) SetupRoutes(router gin.IRouter) {
	router.GET("/status", s.GetStatus)

	sync := router.Group("/sync")
	{
		sync.POST("/chats", s.SyncChats)
		sync.POST("/contacts", s.SyncContacts)
	}
	router.POST("/rematch", s.Rematch)
	router.GET("/duplicates", s.ListDuplicates)

	chats := router.Group("/chats")
	{
		chats.GET("", s.ListChats)
		chats.GET("/:id", s.GetChat)
		chats.POST("/:id/sync", s.SyncChat)
		chats.PUT("/:id/contact", s.SetChatContact)
		chats.GET("/:id/messages", s.ListMessages)
		chats.POST("/:id/messages", s.SendMessage)
	}

	contactRoutes := router.Group("/contacts")
	{
		contactRoutes.GET("", s.ListContacts)
		contactRoutes.POST("", s.CreateContact)
		contactRoutes.GET("/:id", s.GetContact)
		contactRoutes.PATCH("/:id", s.UpdateContact)
		contactRoutes.POST("/:id/merge", s.MergeContact)
		contactRoutes.GET("/:id/duplicates", s.ContactDuplicates)
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Profile        string `json:"profile"`
	Status         string `json:"status"`
	Detail         string `json:"detail,omitempty"`
	UptimeMs       int64  `json:"uptime_ms"`
	Chats          int64  `json:"chats"`
	Messages       int64  `json:"messages"`
	Contacts       int64  `json:"contacts"`
	LastListSyncAt int64  `json:"last_list_sync_at"`
	ListSyncActive bool   `json:"list_sync_active"`
	SchemaVersion  uint   `json:"schema_version"`
	DroppedEvents  uint64 `json:"dropped_events"`
}

func (s *Server) GetStatus(c *gin.Context) {
	chats, messages, contactCount, err := s.DB.Counts()
	if err != nil {
		internalError(c, "count rows", err)
		return
	}
	state, err := s.DB.GetSyncState()
	if err != nil {
		internalError(c, "read sync state", err)
		return
	}
	version, _, err := s.DB.SchemaVersion()
	if err != nil {
		internalError(c, "read schema version", err)
		return
	}
	resp := StatusResponse{
		Profile:       s.Profile,
		Status:        string(s.Machine.Current()),
		Detail:        s.Machine.Detail(),
		UptimeMs:      time.Since(s.started).Milliseconds(),
		Chats:         chats,
		Messages:      messages,
		Contacts:      contactCount,
		SchemaVersion: version,
		DroppedEvents: s.Bus.Dropped(),
	}
	if state != nil {
		resp.LastListSyncAt = state.LastSyncedAt
		resp.ListSyncActive = state.LockID != ""
	}
	c.JSON(http.StatusOK, resp)
}

func internalError(c *gin.Context, what string, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": what + ": " + err.Error()})
}

func notFound(c *gin.Context, what, id string) {
	c.JSON(http.StatusNotFound, gin.H{"error": what + " " + strconv.Quote(id) + " not found"})
}

// contactError maps reconciler errors to HTTP statuses.
func contactError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, contacts.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, contacts.ErrIdentifierInUse):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// boolQuery reads a boolean query parameter; absent or malformed reads as false.
func boolQuery(c *gin.Context, key string) bool {
	v, _ := strconv.ParseBool(c.Query(key))
	return v
}

func intQuery(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

// resultStatus is 200 for a successful action and 502 when the upstream failed.
func resultStatus(success bool) int {
	if success {
		return http.StatusOK
	}
	return http.StatusBadGateway
}

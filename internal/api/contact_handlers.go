package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/mirror/internal/contacts"
	"github.com/matheus3301/mirror/internal/dedupe"
	"github.com/matheus3301/mirror/internal/store"
)

func (s *Server) ListContacts(c *gin.Context) {
	all, err := s.DB.ListContacts()
	if err != nil {
		internalError(c, "list contacts", err)
		return
	}
	views := make([]ContactView, 0, len(all))
	for i := range all {
		views = append(views, toContactView(&all[i]))
	}
	c.JSON(http.StatusOK, gin.H{"contacts": views})
}

func (s *Server) GetContact(c *gin.Context) {
	id := c.Param("id")
	contact, err := s.DB.GetContact(id)
	if err != nil {
		internalError(c, "get contact", err)
		return
	}
	if contact == nil {
		notFound(c, "contact", id)
		return
	}
	c.JSON(http.StatusOK, toContactView(contact))
}

// CreateContact stores a locally created contact.
func (s *Server) CreateContact(c *gin.Context) {
	var req struct {
		FirstName     string   `json:"first_name"`
		LastName      string   `json:"last_name"`
		Email         string   `json:"email"`
		Company       string   `json:"company"`
		Handle        string   `json:"handle"`
		Phone         string   `json:"phone"`
		Phones        []string `json:"phones"`
		SocialHandles []string `json:"social_handles"`
		Notes         string   `json:"notes"`
		Tags          []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.Reconciler.CreateLocal(c.Request.Context(), store.Contact{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		Company:       req.Company,
		Handle:        req.Handle,
		Phone:         req.Phone,
		Phones:        req.Phones,
		SocialHandles: req.SocialHandles,
		Notes:         req.Notes,
		Tags:          req.Tags,
	})
	if err != nil {
		contactError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toContactView(created))
}

// UpdateContact applies a local edit. Absent fields are left unchanged.
func (s *Server) UpdateContact(c *gin.Context) {
	var patch contacts.LocalPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := s.Reconciler.UpdateLocal(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		contactError(c, err)
		return
	}
	c.JSON(http.StatusOK, toContactView(updated))
}

// MergeContact absorbs the contact named by duplicate_id into :id.
func (s *Server) MergeContact(c *gin.Context) {
	var req struct {
		DuplicateID string `json:"duplicate_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	merged, err := s.Reconciler.Merge(c.Request.Context(), c.Param("id"), req.DuplicateID)
	if err != nil {
		contactError(c, err)
		return
	}
	c.JSON(http.StatusOK, toContactView(merged))
}

// ListDuplicates reports every group of contacts sharing a handle or a phone.
func (s *Server) ListDuplicates(c *gin.Context) {
	all, err := s.DB.ListContacts()
	if err != nil {
		internalError(c, "list contacts", err)
		return
	}
	clusters := dedupe.Clusters(all, s.Region)
	if clusters == nil {
		clusters = []dedupe.Cluster{}
	}
	c.JSON(http.StatusOK, gin.H{"clusters": clusters})
}

// ContactDuplicates lists the probable duplicates of one contact, high
// confidence first.
func (s *Server) ContactDuplicates(c *gin.Context) {
	id := c.Param("id")
	target, err := s.DB.GetContact(id)
	if err != nil {
		internalError(c, "get contact", err)
		return
	}
	if target == nil {
		notFound(c, "contact", id)
		return
	}
	all, err := s.DB.ListContacts()
	if err != nil {
		internalError(c, "list contacts", err)
		return
	}
	candidates := dedupe.FindFor(*target, all, s.Region)
	views := make([]DuplicateView, 0, len(candidates))
	for i := range candidates {
		views = append(views, DuplicateView{
			Contact:    toContactView(&candidates[i].Contact),
			Confidence: string(candidates[i].Confidence),
			Reason:     candidates[i].Reason,
		})
	}
	c.JSON(http.StatusOK, gin.H{"duplicates": views})
}

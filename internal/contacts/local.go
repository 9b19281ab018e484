package contacts

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/mirror/internal/bus"
	"github.com/matheus3301/mirror/internal/normalize"
	"github.com/matheus3301/mirror/internal/source"
	"github.com/matheus3301/mirror/internal/store"
	"go.uber.org/zap"
)

// LocalPatch is a user edit to a contact. Nil fields are left unchanged.
type LocalPatch struct {
	FirstName     *string   `json:"first_name,omitempty"`
	LastName      *string   `json:"last_name,omitempty"`
	Email         *string   `json:"email,omitempty"`
	Company       *string   `json:"company,omitempty"`
	Handle        *string   `json:"handle,omitempty"`
	Phone         *string   `json:"phone,omitempty"`
	Phones        *[]string `json:"phones,omitempty"`
	SocialHandles *[]string `json:"social_handles,omitempty"`
	Notes         *string   `json:"notes,omitempty"`
	Tags          *[]string `json:"tags,omitempty"`
	LeadStatus    *string   `json:"lead_status,omitempty"`
	DoNotSync     *bool     `json:"do_not_sync,omitempty"`
}

// CreateLocal stores a contact created by the user. It has no external ID until
// a CRM record with the same handle adopts it.
func (r *Reconciler) CreateLocal(ctx context.Context, c store.Contact) (*store.Contact, error) {
	c.ID = uuid.NewString()
	c.ExternalID = ""
	c.Handle = normalize.Handle(c.Handle)
	c.Phone = strings.TrimSpace(c.Phone)
	if err := r.checkIdentifiers(c.ID, c.Handle, c.Phone); err != nil {
		return nil, err
	}
	now := r.now().UnixMilli()
	c.NormalizedPhones = normalizedPhones(&c, r.region)
	c.CreatedAt = now
	c.LastModifiedAt = now
	c.LastSyncedAt = 0
	if err := r.db.InsertContact(&c); err != nil {
		return nil, err
	}
	r.bus.Emit(bus.ContactUpserted, c.ID)
	r.emitChange(&store.Contact{ID: c.ID}, &c, false)
	return &c, nil
}

// UpdateLocal applies a user edit and stamps lastModifiedAt, which shields the
// contact from external patches for the protection window. The edit is pushed to
// the CRM on a best-effort basis; a failed push is logged and the local edit kept.
func (r *Reconciler) UpdateLocal(ctx context.Context, id string, p LocalPatch) (*store.Contact, error) {
	c, err := r.db.GetContact(id)
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	if c == nil {
		return nil, ErrNotFound
	}
	before := *c

	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&c.FirstName, p.FirstName)
	set(&c.LastName, p.LastName)
	set(&c.Email, p.Email)
	set(&c.Company, p.Company)
	set(&c.Phone, p.Phone)
	set(&c.Notes, p.Notes)
	set(&c.LeadStatus, p.LeadStatus)
	if p.Handle != nil {
		c.Handle = normalize.Handle(*p.Handle)
	}
	if p.Phones != nil {
		c.Phones = *p.Phones
	}
	if p.SocialHandles != nil {
		c.SocialHandles = *p.SocialHandles
	}
	if p.Tags != nil {
		c.Tags = *p.Tags
	}
	if p.DoNotSync != nil {
		c.DoNotSync = *p.DoNotSync
	}
	if err := r.checkIdentifiers(c.ID, c.Handle, c.Phone); err != nil {
		return nil, err
	}
	c.NormalizedPhones = normalizedPhones(c, r.region)
	c.LastModifiedAt = r.now().UnixMilli()

	if err := r.db.SaveContact(c); err != nil {
		return nil, err
	}
	r.bus.Emit(bus.ContactUpserted, c.ID)
	r.emitChange(&before, c, false)
	r.push(ctx, c)
	return c, nil
}

func (r *Reconciler) push(ctx context.Context, c *store.Contact) {
	if r.crm == nil || c.ExternalID == "" || c.DoNotSync {
		return
	}
	err := r.crm.UpdateContact(ctx, c.ExternalID, source.ContactFields{
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		Company:   c.Company,
		Handle:    c.Handle,
		Phone:     c.Phone,
		Notes:     c.Notes,
	})
	if err != nil {
		r.logger.Warn("failed to push contact edit upstream",
			zap.Error(err),
			zap.String("contact_id", c.ID),
			zap.String("external_id", c.ExternalID))
	}
}

func (r *Reconciler) checkIdentifiers(selfID, handle, phone string) error {
	h, err := r.claimHandle(handle, selfID)
	if err != nil {
		return err
	}
	if h != handle {
		return fmt.Errorf("handle %q: %w", handle, ErrIdentifierInUse)
	}
	p, err := r.claimPhone(phone, selfID)
	if err != nil {
		return err
	}
	if p != phone {
		return fmt.Errorf("phone %q: %w", phone, ErrIdentifierInUse)
	}
	return nil
}

// Merge absorbs duplicateID into primaryID. Blank fields of the primary are filled
// from the duplicate, list fields are unioned, the duplicate's ID is appended to
// mergedFrom, and chats linked to the duplicate are pinned to the primary.
func (r *Reconciler) Merge(ctx context.Context, primaryID, duplicateID string) (*store.Contact, error) {
	if primaryID == duplicateID {
		return nil, fmt.Errorf("merge contact %q into itself", primaryID)
	}
	primary, err := r.db.GetContact(primaryID)
	if err != nil {
		return nil, fmt.Errorf("get primary: %w", err)
	}
	dup, err := r.db.GetContact(duplicateID)
	if err != nil {
		return nil, fmt.Errorf("get duplicate: %w", err)
	}
	if primary == nil || dup == nil {
		return nil, ErrNotFound
	}
	before := *primary

	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&primary.ExternalID, dup.ExternalID)
	fill(&primary.Handle, dup.Handle)
	fill(&primary.Phone, dup.Phone)
	fill(&primary.FirstName, dup.FirstName)
	fill(&primary.LastName, dup.LastName)
	fill(&primary.Email, dup.Email)
	fill(&primary.Company, dup.Company)
	fill(&primary.Notes, dup.Notes)
	fill(&primary.LeadStatus, dup.LeadStatus)

	// The duplicate's identifiers survive as history on the primary.
	primary.Phones = union(primary.Phones, dup.Phones)
	if dup.Phone != "" && dup.Phone != primary.Phone {
		primary.Phones = union(primary.Phones, []string{dup.Phone})
	}
	primary.SocialHandles = union(primary.SocialHandles, dup.SocialHandles)
	if dup.Handle != "" && dup.Handle != primary.Handle {
		primary.SocialHandles = union(primary.SocialHandles, []string{dup.Handle})
	}
	primary.Tags = union(primary.Tags, dup.Tags)
	primary.MergedFrom = union(primary.MergedFrom, append(slices.Clone(dup.MergedFrom), dup.ID))
	primary.DoNotSync = primary.DoNotSync || dup.DoNotSync
	primary.NormalizedPhones = normalizedPhones(primary, r.region)
	primary.LastModifiedAt = r.now().UnixMilli()

	moved, err := r.db.MergeContacts(primary, dup.ID)
	if err != nil {
		return nil, err
	}
	r.logger.Info("contacts merged",
		zap.String("primary_id", primary.ID),
		zap.String("duplicate_id", dup.ID),
		zap.Int64("chats_moved", moved))

	r.bus.Emit(bus.ContactUpserted, primary.ID)
	r.emitChange(&before, primary, false)
	return primary, nil
}

func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, v := range b {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

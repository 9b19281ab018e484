// Package contacts reconciles externally-sourced contact records with the local
// contact table and implements the local edit operations on contacts.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/mirror/internal/bus"
	"github.com/matheus3301/mirror/internal/normalize"
	"github.com/matheus3301/mirror/internal/source"
	"github.com/matheus3301/mirror/internal/store"
	"go.uber.org/zap"
)

// DefaultProtectionWindow is how long a local edit shields a contact from external patches.
const DefaultProtectionWindow = 5 * time.Minute

var (
	// ErrMissingExternalID rejects an external record that cannot be keyed.
	ErrMissingExternalID = errors.New("contact record has no external id")
	// ErrNotFound is returned by local operations on an unknown contact.
	ErrNotFound = errors.New("contact not found")
	// ErrIdentifierInUse is returned when a local edit claims another contact's handle or phone.
	ErrIdentifierInUse = errors.New("identifier already used by another contact")
)

// Options configures a Reconciler.
type Options struct {
	Region           string
	ProtectionWindow time.Duration
}

// ApplyOptions modifies a single Apply call.
type ApplyOptions struct {
	// ForceUpdate bypasses the protection window and the staleness check.
	ForceUpdate bool
}

// BatchResult summarizes one Apply call.
type BatchResult struct {
	Processed     int      `json:"processed"`
	Added         int      `json:"added"`
	Updated       int      `json:"updated"`
	Skipped       int      `json:"skipped"`
	Adopted       int      `json:"adopted"`
	Conflicts     int      `json:"conflicts"`
	Errors        int      `json:"errors"`
	ErrorMessages []string `json:"error_messages,omitempty"`
}

func (r *BatchResult) add(o BatchResult) {
	r.Processed += o.Processed
	r.Added += o.Added
	r.Updated += o.Updated
	r.Skipped += o.Skipped
	r.Adopted += o.Adopted
	r.Conflicts += o.Conflicts
	r.Errors += o.Errors
	r.ErrorMessages = append(r.ErrorMessages, o.ErrorMessages...)
}

// Reconciler applies external contact records to the local store.
type Reconciler struct {
	db     *store.DB
	bus    *bus.Bus
	crm    source.ContactSource
	region string
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewReconciler creates a reconciler. crm may be nil, in which case local edits
// are never pushed upstream.
func NewReconciler(db *store.DB, b *bus.Bus, crm source.ContactSource, opts Options, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ProtectionWindow <= 0 {
		opts.ProtectionWindow = DefaultProtectionWindow
	}
	return &Reconciler{
		db:     db,
		bus:    b,
		crm:    crm,
		region: opts.Region,
		window: opts.ProtectionWindow,
		logger: logger,
		now:    time.Now,
	}
}

// Apply reconciles a batch of external records. A failing record is counted and
// collected in the result; it never stops the rest of the batch.
func (r *Reconciler) Apply(ctx context.Context, records []source.ContactRecord, opts ApplyOptions) BatchResult {
	var res BatchResult
	for i := range records {
		if ctx.Err() != nil {
			break
		}
		res.Processed++
		if err := r.applyOne(&records[i], opts.ForceUpdate, &res); err != nil {
			res.Errors++
			res.ErrorMessages = append(res.ErrorMessages, fmt.Sprintf("record %d (%s): %v", i, records[i].ExternalID, err))
			r.logger.Error("failed to apply contact record",
				zap.Error(err),
				zap.Int("index", i),
				zap.String("external_id", records[i].ExternalID))
		}
	}
	r.logger.Info("contact batch applied",
		zap.Int("processed", res.Processed),
		zap.Int("added", res.Added),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors))
	return res
}

func (r *Reconciler) applyOne(rec *source.ContactRecord, force bool, res *BatchResult) error {
	externalID := strings.TrimSpace(rec.ExternalID)
	if externalID == "" {
		return ErrMissingExternalID
	}
	now := r.now().UnixMilli()
	handle := normalize.Handle(rec.Handle)
	phone := strings.TrimSpace(rec.Phone)

	target, err := r.db.GetContactByExternalID(externalID)
	if err != nil {
		return fmt.Errorf("lookup external id: %w", err)
	}

	adopted := false
	if target == nil && handle != "" {
		owner, err := r.db.GetContactByHandle(handle)
		if err != nil {
			return fmt.Errorf("lookup handle: %w", err)
		}
		switch {
		case owner == nil:
		case owner.ExternalID == "":
			target, adopted = owner, true
		default:
			// Prefer a new record over mis-linking a contact that belongs to another CRM record.
			r.logger.Warn("handle owned by another external contact, creating new contact",
				zap.String("handle", handle),
				zap.String("external_id", externalID),
				zap.String("owner_id", owner.ID),
				zap.String("owner_external_id", owner.ExternalID))
			res.Conflicts++
			handle = ""
		}
	}

	if target == nil {
		return r.insert(rec, externalID, handle, phone, now, res)
	}

	before := *target
	if adopted {
		target.ExternalID = externalID
		res.Adopted++
	}

	protected := !force && target.LastModifiedAt > 0 && time.Duration(now-target.LastModifiedAt)*time.Millisecond < r.window
	// A contact never pulled from upstream cannot be stale.
	stale := !force && target.LastSyncedAt > 0 && updatedMillis(rec) <= target.LastSyncedAt
	if protected || stale {
		if adopted {
			if err := r.db.SaveContact(target); err != nil {
				return fmt.Errorf("adopt contact: %w", err)
			}
			r.emitChange(&before, target, true)
		}
		res.Skipped++
		return nil
	}

	if handle != target.Handle {
		if handle, err = r.claimHandle(handle, target.ID); err != nil {
			return err
		}
		if handle == "" && rec.Handle != "" {
			res.Conflicts++
			handle = target.Handle
		}
	}
	if phone != target.Phone {
		if phone, err = r.claimPhone(phone, target.ID); err != nil {
			return err
		}
		if phone == "" && rec.Phone != "" {
			res.Conflicts++
			phone = target.Phone
		}
	}

	patchExternal(target, rec, handle, phone, r.region)
	target.ExternalUpdatedAt = updatedMillis(rec)
	target.LastSyncedAt = now
	if err := r.db.SaveContact(target); err != nil {
		return fmt.Errorf("patch contact: %w", err)
	}
	res.Updated++
	r.bus.Emit(bus.ContactUpserted, target.ID)
	r.emitChange(&before, target, adopted)
	return nil
}

func (r *Reconciler) insert(rec *source.ContactRecord, externalID, handle, phone string, now int64, res *BatchResult) error {
	var err error
	if phone, err = r.claimPhone(phone, ""); err != nil {
		return err
	}
	if phone == "" && strings.TrimSpace(rec.Phone) != "" {
		r.logger.Warn("phone owned by another contact, dropping it from new contact",
			zap.String("phone", rec.Phone),
			zap.String("external_id", externalID))
		res.Conflicts++
	}

	c := &store.Contact{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		CreatedAt:  now,
	}
	patchExternal(c, rec, handle, phone, r.region)
	c.ExternalUpdatedAt = updatedMillis(rec)
	c.LastSyncedAt = now
	if err := r.db.InsertContact(c); err != nil {
		return err
	}
	res.Added++
	r.bus.Emit(bus.ContactUpserted, c.ID)
	r.emitChange(&store.Contact{ID: c.ID}, c, false)
	return nil
}

// claimHandle returns handle if no contact other than selfID owns it, else "".
func (r *Reconciler) claimHandle(handle, selfID string) (string, error) {
	if handle == "" {
		return "", nil
	}
	owner, err := r.db.GetContactByHandle(handle)
	if err != nil {
		return "", fmt.Errorf("lookup handle: %w", err)
	}
	if owner != nil && owner.ID != selfID {
		return "", nil
	}
	return handle, nil
}

// claimPhone returns phone if no contact other than selfID owns it, else "".
func (r *Reconciler) claimPhone(phone, selfID string) (string, error) {
	if phone == "" {
		return "", nil
	}
	owner, err := r.db.GetContactByPhone(phone)
	if err != nil {
		return "", fmt.Errorf("lookup phone: %w", err)
	}
	if owner != nil && owner.ID != selfID {
		return "", nil
	}
	return phone, nil
}

// patchExternal copies the externally-sourced fields of rec onto c. Local-only
// fields (notes, tags, lead status, merge history) are never touched.
func patchExternal(c *store.Contact, rec *source.ContactRecord, handle, phone, region string) {
	c.Handle = handle
	c.Phone = phone
	c.FirstName = strings.TrimSpace(rec.FirstName)
	c.LastName = strings.TrimSpace(rec.LastName)
	c.Email = strings.TrimSpace(rec.Email)
	c.Company = strings.TrimSpace(rec.Company)
	c.Phones = rec.Phones
	c.SocialHandles = rec.SocialHandles
	c.NormalizedPhones = normalizedPhones(c, region)
}

func updatedMillis(rec *source.ContactRecord) int64 {
	if rec.UpdatedAt.IsZero() {
		return 0
	}
	return rec.UpdatedAt.UnixMilli()
}

func normalizedPhones(c *store.Contact, region string) []string {
	return normalize.Phones(region, append([]string{c.Phone}, c.Phones...)...)
}

// emitChange publishes an identifier change when any identifier the matcher reads
// moved, or unconditionally when force is set and the contact carries identifiers.
// Social handle changes ride in ExtraPhones; the rematch side keeps the phone-valued ones.
func (r *Reconciler) emitChange(before, after *store.Contact, force bool) {
	if !identifiersChanged(before, after) && !(force && hasIdentifiers(after)) {
		return
	}
	extra := changedPhones(before.Phones, after.Phones)
	extra = append(extra, changedPhones(before.SocialHandles, after.SocialHandles)...)
	r.bus.Emit(bus.ContactIdentifiersChanged, bus.IdentifierChange{
		ContactID:   after.ID,
		OldHandle:   before.Handle,
		NewHandle:   after.Handle,
		OldPhone:    before.Phone,
		NewPhone:    after.Phone,
		ExtraPhones: extra,
	})
}

func identifiersChanged(before, after *store.Contact) bool {
	return before.Handle != after.Handle ||
		before.Phone != after.Phone ||
		len(changedPhones(before.Phones, after.Phones)) > 0 ||
		len(changedPhones(before.SocialHandles, after.SocialHandles)) > 0
}

func hasIdentifiers(c *store.Contact) bool {
	return c.Handle != "" || c.Phone != "" || len(c.Phones) > 0 || len(c.SocialHandles) > 0
}

// changedPhones returns the entries present in exactly one of a and b.
func changedPhones(a, b []string) []string {
	inA := make(map[string]bool, len(a))
	for _, p := range a {
		inA[p] = true
	}
	inB := make(map[string]bool, len(b))
	var out []string
	for _, p := range b {
		inB[p] = true
		if !inA[p] {
			out = append(out, p)
		}
	}
	for _, p := range a {
		if !inB[p] {
			out = append(out, p)
		}
	}
	return out
}

package contacts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/matheus3301/mirror/internal/bus"
	"github.com/matheus3301/mirror/internal/source"
	"github.com/matheus3301/mirror/internal/store"
	"go.uber.org/zap/zaptest"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeCRM struct {
	records   []source.ContactRecord
	failAt    int // offset that returns an error; -1 disables
	updateErr error
	updates   []string
}

func (f *fakeCRM) ListContacts(_ context.Context, offset, limit int) ([]source.ContactRecord, error) {
	if f.failAt >= 0 && offset == f.failAt {
		return nil, &source.TransportError{Op: "list contacts", Status: 502, Message: "bad gateway"}
	}
	if offset >= len(f.records) {
		return nil, nil
	}
	end := min(offset+limit, len(f.records))
	return f.records[offset:end], nil
}

func (f *fakeCRM) UpdateContact(_ context.Context, externalID string, _ source.ContactFields) error {
	f.updates = append(f.updates, externalID)
	return f.updateErr
}

// clock is a settable time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newReconciler(t *testing.T, db *store.DB, b *bus.Bus, crm source.ContactSource) (*Reconciler, *clock) {
	t.Helper()
	clk := &clock{t: t0}
	r := NewReconciler(db, b, crm, Options{Region: "DE"}, zaptest.NewLogger(t))
	r.now = clk.now
	return r, clk
}

func record(i int) source.ContactRecord {
	return source.ContactRecord{
		ExternalID: fmt.Sprintf("crm-%d", i),
		FirstName:  fmt.Sprintf("Person%d", i),
		Handle:     fmt.Sprintf("person%d", i),
		Phone:      fmt.Sprintf("+4915100000%02d", i),
		UpdatedAt:  t0.Add(-time.Hour),
	}
}

func TestApplyIdempotent(t *testing.T) {
	db := testDB(t)
	r, _ := newReconciler(t, db, nil, nil)
	batch := []source.ContactRecord{record(1), record(2), record(3)}

	first := r.Apply(context.Background(), batch, ApplyOptions{})
	if first.Added != 3 || first.Errors != 0 {
		t.Fatalf("first run = %+v, want added=3 errors=0", first)
	}

	second := r.Apply(context.Background(), batch, ApplyOptions{})
	if second.Added != 0 || second.Updated != 0 {
		t.Errorf("second run = %+v, want added=0 updated=0", second)
	}
	if second.Skipped != 3 {
		t.Errorf("second run skipped = %d, want 3", second.Skipped)
	}

	all, err := db.ListContacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("contacts = %d, want 3", len(all))
	}
}

func TestApplyMalformedRecordDoesNotBlockBatch(t *testing.T) {
	db := testDB(t)
	r, _ := newReconciler(t, db, nil, nil)

	var batch []source.ContactRecord
	for i := 0; i < 10; i++ {
		batch = append(batch, record(i))
	}
	batch[4].ExternalID = ""

	res := r.Apply(context.Background(), batch, ApplyOptions{})
	if res.Processed != 10 || res.Errors != 1 || res.Added != 9 {
		t.Fatalf("result = %+v, want processed=10 errors=1 added=9", res)
	}
	if len(res.ErrorMessages) != 1 {
		t.Errorf("error messages = %v, want one entry", res.ErrorMessages)
	}

	got, err := db.GetContactByExternalID("crm-9")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Error("record after the malformed one was not applied")
	}
}

func TestProtectionWindow(t *testing.T) {
	db := testDB(t)
	r, clk := newReconciler(t, db, nil, nil)

	clk.t = t0.Add(-time.Hour)
	if res := r.Apply(context.Background(), []source.ContactRecord{record(1)}, ApplyOptions{}); res.Added != 1 {
		t.Fatalf("seed = %+v", res)
	}
	c, _ := db.GetContactByExternalID("crm-1")

	// Local edit at T=0.
	clk.t = t0
	notes := "met at the conference"
	if _, err := r.UpdateLocal(context.Background(), c.ID, LocalPatch{Notes: &notes}); err != nil {
		t.Fatal(err)
	}

	update := record(1)
	update.FirstName = "Renamed"
	update.UpdatedAt = t0.Add(time.Minute)

	// T=2min: inside the window, the patch is skipped.
	clk.t = t0.Add(2 * time.Minute)
	res := r.Apply(context.Background(), []source.ContactRecord{update}, ApplyOptions{})
	if res.Skipped != 1 || res.Updated != 0 {
		t.Fatalf("T+2m result = %+v, want skipped=1", res)
	}
	got, _ := db.GetContact(c.ID)
	if got.FirstName != "Person1" {
		t.Errorf("T+2m first name = %q, want unchanged", got.FirstName)
	}

	// T=6min: the window has passed, the same update applies.
	clk.t = t0.Add(6 * time.Minute)
	res = r.Apply(context.Background(), []source.ContactRecord{update}, ApplyOptions{})
	if res.Updated != 1 {
		t.Fatalf("T+6m result = %+v, want updated=1", res)
	}
	got, _ = db.GetContact(c.ID)
	if got.FirstName != "Renamed" {
		t.Errorf("first name = %q, want Renamed", got.FirstName)
	}
	if got.Notes != notes {
		t.Errorf("notes = %q, local-only field was overwritten", got.Notes)
	}
	if got.LastModifiedAt != t0.UnixMilli() {
		t.Errorf("lastModifiedAt = %d, want %d (untouched by external patch)", got.LastModifiedAt, t0.UnixMilli())
	}
	if got.LastSyncedAt != clk.t.UnixMilli() {
		t.Errorf("lastSyncedAt = %d, want %d", got.LastSyncedAt, clk.t.UnixMilli())
	}
}

func TestForceUpdateBypassesWindowAndStaleness(t *testing.T) {
	db := testDB(t)
	r, _ := newReconciler(t, db, nil, nil)
	ctx := context.Background()

	r.Apply(ctx, []source.ContactRecord{record(1)}, ApplyOptions{})
	c, _ := db.GetContactByExternalID("crm-1")
	company := "Local GmbH"
	if _, err := r.UpdateLocal(ctx, c.ID, LocalPatch{Company: &company}); err != nil {
		t.Fatal(err)
	}

	res := r.Apply(ctx, []source.ContactRecord{record(1)}, ApplyOptions{ForceUpdate: true})
	if res.Updated != 1 {
		t.Fatalf("forced result = %+v, want updated=1", res)
	}
	got, _ := db.GetContact(c.ID)
	if got.Company != "" {
		t.Errorf("company = %q, want the external value", got.Company)
	}
}

func TestApplyAdoptsHandleOnlyContact(t *testing.T) {
	db := testDB(t)
	r, clk := newReconciler(t, db, nil, nil)
	ctx := context.Background()

	local, err := r.CreateLocal(ctx, store.Contact{Handle: "@alice99", Notes: "local"})
	if err != nil {
		t.Fatal(err)
	}
	if local.Handle != "alice99" {
		t.Errorf("handle = %q, want leading @ trimmed", local.Handle)
	}

	clk.t = t0.Add(10 * time.Minute)
	rec := source.ContactRecord{ExternalID: "crm-a", FirstName: "Alice", Handle: "alice99", UpdatedAt: t0}
	res := r.Apply(ctx, []source.ContactRecord{rec}, ApplyOptions{})
	if res.Adopted != 1 || res.Updated != 1 || res.Added != 0 {
		t.Fatalf("result = %+v, want adopted=1 updated=1 added=0", res)
	}

	all, _ := db.ListContacts()
	if len(all) != 1 {
		t.Fatalf("contacts = %d, want 1 (no duplicate)", len(all))
	}
	if all[0].ID != local.ID || all[0].ExternalID != "crm-a" || all[0].FirstName != "Alice" {
		t.Errorf("adopted contact = %+v", all[0])
	}
	if all[0].Notes != "local" {
		t.Errorf("notes = %q, want local notes kept", all[0].Notes)
	}
}

func TestApplyAdoptionInsideWindowAttachesIDOnly(t *testing.T) {
	db := testDB(t)
	r, clk := newReconciler(t, db, nil, nil)
	ctx := context.Background()

	local, err := r.CreateLocal(ctx, store.Contact{Handle: "alice99", FirstName: "Ally"})
	if err != nil {
		t.Fatal(err)
	}
	clk.t = t0.Add(time.Minute)
	rec := source.ContactRecord{ExternalID: "crm-a", FirstName: "Alice", Handle: "alice99", UpdatedAt: t0}
	res := r.Apply(ctx, []source.ContactRecord{rec}, ApplyOptions{})
	if res.Adopted != 1 || res.Skipped != 1 {
		t.Fatalf("result = %+v, want adopted=1 skipped=1", res)
	}
	got, _ := db.GetContact(local.ID)
	if got.ExternalID != "crm-a" {
		t.Errorf("external id = %q, want crm-a", got.ExternalID)
	}
	if got.FirstName != "Ally" {
		t.Errorf("first name = %q, want local edit to win", got.FirstName)
	}
}

func TestApplyHandleConflictCreatesNewContact(t *testing.T) {
	db := testDB(t)
	r, _ := newReconciler(t, db, nil, nil)
	ctx := context.Background()

	owner := source.ContactRecord{ExternalID: "crm-a", Handle: "shared", UpdatedAt: t0}
	r.Apply(ctx, []source.ContactRecord{owner}, ApplyOptions{})

	other := source.ContactRecord{ExternalID: "crm-b", FirstName: "Bob", Handle: "shared", UpdatedAt: t0}
	res := r.Apply(ctx, []source.ContactRecord{other}, ApplyOptions{})
	if res.Conflicts != 1 || res.Added != 1 || res.Adopted != 0 {
		t.Fatalf("result = %+v, want conflicts=1 added=1", res)
	}

	a, _ := db.GetContactByExternalID("crm-a")
	b, _ := db.GetContactByExternalID("crm-b")
	if a == nil || b == nil || a.ID == b.ID {
		t.Fatalf("expected two distinct contacts, got %v and %v", a, b)
	}
	if a.Handle != "shared" {
		t.Errorf("owner handle = %q, want shared", a.Handle)
	}
	if b.Handle != "" {
		t.Errorf("new contact handle = %q, want colliding handle dropped", b.Handle)
	}
}

func TestApplyEmitsIdentifierChange(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ch, unsub := b.Subscribe(bus.ContactIdentifiersChanged, 10)
	defer unsub()
	r, clk := newReconciler(t, db, b, nil)
	ctx := context.Background()

	r.Apply(ctx, []source.ContactRecord{record(1)}, ApplyOptions{})
	created := <-ch
	if change := created.Payload.(bus.IdentifierChange); change.NewHandle != "person1" || change.OldHandle != "" {
		t.Errorf("insert change = %+v", change)
	}

	clk.t = t0.Add(time.Hour)
	renamed := record(1)
	renamed.Handle = "person1_new"
	renamed.UpdatedAt = t0.Add(30 * time.Minute)
	r.Apply(ctx, []source.ContactRecord{renamed}, ApplyOptions{})

	select {
	case evt := <-ch:
		change := evt.Payload.(bus.IdentifierChange)
		if change.OldHandle != "person1" || change.NewHandle != "person1_new" {
			t.Errorf("change = %+v, want person1 -> person1_new", change)
		}
	case <-time.After(time.Second):
		t.Fatal("no identifier change event")
	}

	// Unchanged identifiers publish nothing.
	clk.t = t0.Add(2 * time.Hour)
	renamed.FirstName = "Only the name"
	renamed.UpdatedAt = t0.Add(90 * time.Minute)
	r.Apply(ctx, []source.ContactRecord{renamed}, ApplyOptions{})
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %+v", evt.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpdateLocalSocialHandlesEmitChange(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ch, unsub := b.Subscribe(bus.ContactIdentifiersChanged, 10)
	defer unsub()
	r, _ := newReconciler(t, db, b, nil)
	ctx := context.Background()

	c, err := r.CreateLocal(ctx, store.Contact{FirstName: "Alice"})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		t.Fatalf("contact without identifiers published %+v", evt.Payload)
	default:
	}

	socials := []string{"+49 151 12345678"}
	if _, err := r.UpdateLocal(ctx, c.ID, LocalPatch{SocialHandles: &socials}); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		change := evt.Payload.(bus.IdentifierChange)
		if !slices.Equal(change.ExtraPhones, socials) {
			t.Errorf("ExtraPhones = %v, want %v", change.ExtraPhones, socials)
		}
	case <-time.After(time.Second):
		t.Fatal("social handle edit published no identifier change")
	}
}

func TestUpdateLocalPushesBestEffort(t *testing.T) {
	db := testDB(t)
	crm := &fakeCRM{failAt: -1, updateErr: errors.New("crm down")}
	r, _ := newReconciler(t, db, nil, crm)
	ctx := context.Background()

	r.Apply(ctx, []source.ContactRecord{record(1)}, ApplyOptions{})
	c, _ := db.GetContactByExternalID("crm-1")

	email := "p1@example.com"
	got, err := r.UpdateLocal(ctx, c.ID, LocalPatch{Email: &email})
	if err != nil {
		t.Fatalf("UpdateLocal() error = %v, push failure must not fail the edit", err)
	}
	if got.Email != email {
		t.Errorf("email = %q", got.Email)
	}
	stored, _ := db.GetContact(c.ID)
	if stored.Email != email {
		t.Errorf("stored email = %q, want local edit persisted", stored.Email)
	}
	if !slices.Equal(crm.updates, []string{"crm-1"}) {
		t.Errorf("pushes = %v, want [crm-1]", crm.updates)
	}

	dns := true
	if _, err := r.UpdateLocal(ctx, c.ID, LocalPatch{DoNotSync: &dns}); err != nil {
		t.Fatal(err)
	}
	if len(crm.updates) != 1 {
		t.Errorf("pushes = %v, do-not-sync contact was pushed", crm.updates)
	}
}

func TestUpdateLocalErrors(t *testing.T) {
	db := testDB(t)
	r, _ := newReconciler(t, db, nil, nil)
	ctx := context.Background()

	if _, err := r.UpdateLocal(ctx, "missing", LocalPatch{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateLocal(missing) error = %v, want ErrNotFound", err)
	}

	r.Apply(ctx, []source.ContactRecord{record(1), record(2)}, ApplyOptions{})
	c2, _ := db.GetContactByExternalID("crm-2")
	taken := "person1"
	if _, err := r.UpdateLocal(ctx, c2.ID, LocalPatch{Handle: &taken}); !errors.Is(err, ErrIdentifierInUse) {
		t.Errorf("UpdateLocal(taken handle) error = %v, want ErrIdentifierInUse", err)
	}
}

func TestMerge(t *testing.T) {
	db := testDB(t)
	r, _ := newReconciler(t, db, nil, nil)
	ctx := context.Background()

	primary, err := r.CreateLocal(ctx, store.Contact{FirstName: "Alice", Handle: "alice", Tags: []string{"vip"}})
	if err != nil {
		t.Fatal(err)
	}
	dup, err := r.CreateLocal(ctx, store.Contact{
		FirstName: "Alice",
		LastName:  "Smith",
		Handle:    "alice_old",
		Phone:     "+4915112345678",
		Tags:      []string{"lead"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := db.UpsertChat(&store.Chat{ID: "c1", Kind: store.KindSingle, Handle: "alice_old"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.SetChatContact("c1", dup.ID, 1); err != nil {
		t.Fatal(err)
	}

	merged, err := r.Merge(ctx, primary.ID, dup.ID)
	if err != nil {
		t.Fatal(err)
	}
	if merged.LastName != "Smith" || merged.Phone != "+4915112345678" {
		t.Errorf("blank fields not filled: %+v", merged)
	}
	if merged.Handle != "alice" {
		t.Errorf("handle = %q, want primary handle kept", merged.Handle)
	}
	if !slices.Contains(merged.SocialHandles, "alice_old") {
		t.Errorf("social handles = %v, want duplicate handle kept as history", merged.SocialHandles)
	}
	if !slices.Equal(merged.Tags, []string{"vip", "lead"}) {
		t.Errorf("tags = %v", merged.Tags)
	}
	if !slices.Equal(merged.MergedFrom, []string{dup.ID}) {
		t.Errorf("mergedFrom = %v, want [%s]", merged.MergedFrom, dup.ID)
	}

	gone, _ := db.GetContact(dup.ID)
	if gone != nil {
		t.Error("duplicate still stored after merge")
	}
	chat, _ := db.GetChat("c1")
	if chat.ContactID != primary.ID || !chat.ContactOverride {
		t.Errorf("chat link = %q override=%v, want pinned to primary", chat.ContactID, chat.ContactOverride)
	}

	if _, err := r.Merge(ctx, primary.ID, primary.ID); err == nil {
		t.Error("Merge() into itself should fail")
	}
}

func TestFeedPagesThroughCRM(t *testing.T) {
	db := testDB(t)
	crm := &fakeCRM{failAt: -1}
	for i := 0; i < 25; i++ {
		crm.records = append(crm.records, record(i))
	}
	r, _ := newReconciler(t, db, nil, crm)
	f := NewFeed(crm, r, nil, 10, zaptest.NewLogger(t))

	res := f.Run(context.Background(), false)
	if !res.Success || res.Pages != 3 || res.Added != 25 {
		t.Fatalf("result = %+v, want success pages=3 added=25", res)
	}
}

func TestFeedStopsOnTransportError(t *testing.T) {
	db := testDB(t)
	crm := &fakeCRM{failAt: 10}
	for i := 0; i < 25; i++ {
		crm.records = append(crm.records, record(i))
	}
	r, _ := newReconciler(t, db, nil, crm)
	f := NewFeed(crm, r, nil, 10, zaptest.NewLogger(t))

	res := f.Run(context.Background(), false)
	if res.Success || res.Error == "" {
		t.Fatalf("result = %+v, want failure with error", res)
	}
	if res.Added != 10 || res.Pages != 1 {
		t.Errorf("result = %+v, want the first page kept", res)
	}
}

package outbox

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/mirror/internal/bus"
	"github.com/matheus3301/mirror/internal/store"
	"go.uber.org/zap/zaptest"
)

// mockSender records calls and returns configurable results.
type mockSender struct {
	calls []sendCall
	err   error
}

type sendCall struct {
	ChatID string
	Text   string
}

func (m *mockSender) SendMessage(_ context.Context, chatID, text string) (string, error) {
	m.calls = append(m.calls, sendCall{ChatID: chatID, Text: text})
	if m.err != nil {
		return "", m.err
	}
	return "pending-" + chatID, nil
}

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
	if _, err := db.UpsertChat(&store.Chat{ID: "chat-1", Kind: store.KindSingle}); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestQueueInsertsSendingPlaceholder(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, &mockSender{}, nil, zaptest.NewLogger(t))

	id, err := s.Queue("chat-1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, LocalIDPrefix) {
		t.Errorf("id = %q, want %s prefix", id, LocalIDPrefix)
	}
	m, err := db.GetMessage("chat-1", id)
	if err != nil || m == nil {
		t.Fatalf("placeholder missing: %v", err)
	}
	if m.SendStatus != store.StatusSending || !m.FromMe || m.SortKey != "" {
		t.Errorf("placeholder = %+v, want sending, from me, no sort key", m)
	}

	if _, err := s.Queue("missing", "hello"); err == nil {
		t.Error("Queue() to an unknown chat should fail")
	}
}

func TestSenderRecordsPendingID(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{}
	s := NewSender(db, mock, b, zaptest.NewLogger(t))

	ch, unsub := b.Subscribe(bus.MessageSendAck, 10)
	defer unsub()

	id, err := s.Queue("chat-1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	s.processPending(context.Background())

	if len(mock.calls) != 1 || mock.calls[0] != (sendCall{ChatID: "chat-1", Text: "hello"}) {
		t.Fatalf("calls = %+v, want one send of hello", mock.calls)
	}
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 after send", len(pending))
	}

	m, _ := db.GetMessage("chat-1", id)
	if m.SendStatus != store.StatusSending || m.PendingID != "pending-chat-1" {
		t.Errorf("message = %s/%q, want sending with the correlation id", m.SendStatus, m.PendingID)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.MessageSendAck {
			t.Errorf("event kind = %q, want %s", evt.Kind, bus.MessageSendAck)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send_ack event")
	}
}

func TestSenderHandlesFailure(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	s := NewSender(db, &mockSender{err: fmt.Errorf("network error")}, b, zaptest.NewLogger(t))

	ch, unsub := b.Subscribe(bus.MessageSendFailed, 10)
	defer unsub()

	id, err := s.Queue("chat-1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	s.processPending(context.Background())

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}

	m, _ := db.GetMessage("chat-1", id)
	if m.SendStatus != store.StatusFailed || m.SendError != "network error" {
		t.Errorf("message = %s/%q, want failed with the error string", m.SendStatus, m.SendError)
	}
	pending, _ := db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 (should be marked failed)", len(pending))
	}
}

func TestSenderLoopDrainsOutbox(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{}
	s := NewSender(db, mock, nil, zaptest.NewLogger(t))
	s.interval = 10 * time.Millisecond

	if _, err := s.Queue("chat-1", "via loop"); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		pending, err := db.PendingOutbox()
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("outbox not drained by the loop")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/mirror/internal/bus"
	"github.com/matheus3301/mirror/internal/store"
	"go.uber.org/zap"
)

// LocalIDPrefix marks synthetic message IDs of locally composed messages.
const LocalIDPrefix = "local-"

// MessageSender sends a text to a chat and returns the source's correlation ID
// for the pending message.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, text string) (pendingID string, err error)
}

// Sender drains the outbox through the chat source. A successful send leaves the
// local message in 'sending' with its correlation ID until a sync pass confirms it.
type Sender struct {
	db       *store.DB
	sender   MessageSender
	bus      *bus.Bus
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, sender MessageSender, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		sender:   sender,
		bus:      b,
		interval: 500 * time.Millisecond,
		logger:   logger,
	}
}

// Queue records text for sending to chatID and inserts the local placeholder
// message. Returns the placeholder's synthetic ID.
func (s *Sender) Queue(chatID, text string) (string, error) {
	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return "", fmt.Errorf("get chat: %w", err)
	}
	if chat == nil {
		return "", fmt.Errorf("chat %q not found", chatID)
	}
	clientID := LocalIDPrefix + uuid.NewString()
	if err := s.db.QueueOutbox(clientID, chatID, text); err != nil {
		return "", err
	}
	s.bus.Emit(bus.MessagesUpserted, map[string]any{"chat_id": chatID, "msg_id": clientID})
	return clientID, nil
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for an in-flight pass to return.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		pendingID, err := s.sender.SendMessage(ctx, entry.ChatID, entry.Body)
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			if err := s.db.MarkMessageFailed(entry.ChatID, entry.ClientMsgID, err.Error()); err != nil {
				s.logger.Error("failed to mark message failed", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			}
			s.bus.Emit(bus.MessageSendFailed, map[string]string{
				"chat_id":       entry.ChatID,
				"client_msg_id": entry.ClientMsgID,
				"error":         err.Error(),
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, pendingID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		// The placeholder stays 'sending' until a fetched message carries pendingID.
		if err := s.db.SetMessagePending(entry.ChatID, entry.ClientMsgID, pendingID); err != nil {
			s.logger.Error("failed to record pending id", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}

		s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("pending_id", pendingID))
		s.bus.Emit(bus.MessageSendAck, map[string]string{
			"chat_id":       entry.ChatID,
			"client_msg_id": entry.ClientMsgID,
			"pending_id":    pendingID,
		})
	}
}

// Package sync mirrors chats and messages from the chat source into the local store.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/mirror/internal/bus"
	"github.com/matheus3301/mirror/internal/match"
	"github.com/matheus3301/mirror/internal/normalize"
	"github.com/matheus3301/mirror/internal/source"
	"github.com/matheus3301/mirror/internal/store"
	"go.uber.org/zap"
)

// Defaults for Options.
const (
	DefaultMessageWindow = 30
	DefaultPageSize      = 50
	DefaultLockTimeout   = 10 * time.Minute
)

// Options configures a Controller.
type Options struct {
	Region string
	// MessageWindow is the number of latest messages fetched per chat.
	MessageWindow int
	// PageSize is the page size for forward and backward paging.
	PageSize int
	// LockTimeout is the age after which a held list-sync lock is considered abandoned.
	LockTimeout time.Duration
}

// Controller runs list syncs and per-chat message fetches.
type Controller struct {
	db     *store.DB
	src    source.ChatSource
	bus    *bus.Bus
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewController creates a sync controller.
func NewController(db *store.DB, src source.ChatSource, b *bus.Bus, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MessageWindow <= 0 {
		opts.MessageWindow = DefaultMessageWindow
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	return &Controller{
		db:     db,
		src:    src,
		bus:    b,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// ListOptions modifies a list sync.
type ListOptions struct {
	// Force lists from the top and fetches messages for every listed chat.
	Force bool
	// Older pages backwards from the stored oldest cursor.
	Older bool
}

// ListResult summarizes a list sync.
type ListResult struct {
	Success bool `json:"success"`
	// Skipped is set when another list sync holds the lock.
	Skipped          bool     `json:"skipped"`
	ChatsSeen        int      `json:"chats_seen"`
	ChatsCreated     int      `json:"chats_created"`
	ChatsUpdated     int      `json:"chats_updated"`
	MessageFetches   int      `json:"message_fetches"`
	MessagesUpserted int      `json:"messages_upserted"`
	FailedChats      []string `json:"failed_chats,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// SyncChats fetches one page of chat summaries, upserts every chat, links single
// chats to contacts, and fetches the latest messages of chats that need it.
// A failing chat is logged and recorded; the remaining chats still sync.
func (c *Controller) SyncChats(ctx context.Context, opts ListOptions) ListResult {
	var res ListResult
	lockID := uuid.NewString()
	now := c.now()
	acquired, err := c.db.AcquireSyncLock(lockID, now.UnixMilli(), now.Add(-c.opts.LockTimeout).UnixMilli())
	if err != nil {
		res.Error = fmt.Sprintf("acquire sync lock: %v", err)
		return res
	}
	if !acquired {
		c.logger.Info("list sync already running, skipping")
		res.Success, res.Skipped = true, true
		return res
	}
	defer func() {
		if err := c.db.ReleaseSyncLock(lockID); err != nil {
			c.logger.Error("failed to release sync lock", zap.Error(err))
		}
	}()

	state, err := c.db.GetSyncState()
	if err != nil {
		res.Error = fmt.Sprintf("read sync state: %v", err)
		return res
	}
	cursor, dir := "", source.Before
	switch {
	case opts.Older:
		cursor = state.OldestCursor
	case !opts.Force && state.NewestCursor != "":
		cursor, dir = state.NewestCursor, source.After
	}

	page, err := c.src.ListChats(ctx, cursor, dir)
	if err != nil {
		c.logger.Error("list chats failed", zap.Error(err))
		res.Error = err.Error()
		return res
	}

	all, err := c.db.ListContacts()
	if err != nil {
		res.Error = fmt.Sprintf("list contacts: %v", err)
		return res
	}
	idx := match.NewIndex(all, c.opts.Region)

	for i := range page.Items {
		if err := ctx.Err(); err != nil {
			res.Error = err.Error()
			return res
		}
		sum := &page.Items[i]
		res.ChatsSeen++
		if err := c.syncChat(ctx, idx, sum, opts.Force, &res); err != nil {
			res.FailedChats = append(res.FailedChats, sum.ID)
			c.logger.Error("chat sync failed", zap.Error(err), zap.String("chat_id", sum.ID))
		}
	}

	newest, oldest := page.NewestCursor, page.OldestCursor
	if opts.Older {
		newest = ""
	} else if state.OldestCursor != "" {
		oldest = ""
	}
	if err := c.db.SaveCursors(newest, oldest, c.now().UnixMilli()); err != nil {
		res.Error = fmt.Sprintf("save cursors: %v", err)
		return res
	}

	res.Success = true
	c.logger.Info("list sync completed",
		zap.Int("chats", res.ChatsSeen),
		zap.Int("created", res.ChatsCreated),
		zap.Int("fetches", res.MessageFetches),
		zap.Int("messages", res.MessagesUpserted),
		zap.Int("failed", len(res.FailedChats)))
	c.bus.Emit(bus.SyncListCompleted, res)
	return res
}

func (c *Controller) syncChat(ctx context.Context, idx *match.Index, sum *source.ChatSummary, force bool, res *ListResult) error {
	if sum.ID == "" {
		return fmt.Errorf("chat summary has no id")
	}
	prev, err := c.db.GetChat(sum.ID)
	if err != nil {
		return fmt.Errorf("get chat: %w", err)
	}

	chat := &store.Chat{
		ID:              sum.ID,
		Kind:            sum.Kind,
		Title:           sum.Title,
		Network:         sum.Network,
		AccountID:       sum.AccountID,
		Handle:          sum.Handle,
		Phone:           sum.Phone,
		NormalizedPhone: normalize.Phone(sum.Phone, c.opts.Region),
		Email:           sum.Email,
		LastActivityAt:  sum.LastActivity.UnixMilli(),
		UnreadCount:     sum.UnreadCount,
		Archived:        sum.Archived,
		Muted:           sum.Muted,
		Pinned:          sum.Pinned,
		Blocked:         sum.Blocked,
	}
	if chat.Kind != store.KindGroup {
		if contact, rule := idx.MatchChat(chat); contact != nil {
			chat.ContactID = contact.ID
			chat.ContactMatchedAt = c.now().UnixMilli()
			c.logger.Debug("chat matched", zap.String("chat_id", chat.ID), zap.String("contact_id", contact.ID), zap.String("rule", string(rule)))
		}
	}

	created, err := c.db.UpsertChat(chat)
	if err != nil {
		return err
	}
	if created {
		res.ChatsCreated++
	} else {
		res.ChatsUpdated++
	}
	c.bus.Emit(bus.ChatUpserted, chat.ID)

	var syncedAt int64
	if prev != nil {
		syncedAt = prev.LastMessagesSyncedAt
	}
	if !created && !force && chat.LastActivityAt <= syncedAt {
		return nil
	}

	res.MessageFetches++
	n, err := c.fetchLatest(ctx, chat.ID)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	res.MessagesUpserted += n
	return nil
}

// FetchResult summarizes a per-chat message fetch.
type FetchResult struct {
	Success          bool         `json:"success"`
	ChatID           string       `json:"chat_id"`
	Pages            int          `json:"pages"`
	MessagesUpserted int          `json:"messages_upserted"`
	Window           store.Window `json:"window"`
	Error            string       `json:"error,omitempty"`
}

// FetchLatest fetches the most recent message window of a chat.
func (c *Controller) FetchLatest(ctx context.Context, chatID string) FetchResult {
	res := FetchResult{ChatID: chatID}
	n, err := c.fetchLatest(ctx, chatID)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Pages, res.MessagesUpserted = 1, n
	return c.finish(res)
}

func (c *Controller) fetchLatest(ctx context.Context, chatID string) (int, error) {
	page, err := c.src.ListMessages(ctx, source.MessageQuery{
		ChatID:    chatID,
		Direction: source.Before,
		Limit:     c.opts.MessageWindow,
	})
	if err != nil {
		return 0, err
	}
	msgs := toStoreMessages(chatID, page.Items)
	if err := c.writeForward(chatID, msgs, !page.HasMore); err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// FetchNewer pages forward from the newest stored message until upstream has no more.
// A chat without messages gets its latest window instead.
func (c *Controller) FetchNewer(ctx context.Context, chatID string) FetchResult {
	res := FetchResult{ChatID: chatID}
	chat, err := c.db.GetChat(chatID)
	if err != nil || chat == nil {
		res.Error = notFound(chatID, err)
		return res
	}
	cursor := chat.Window.NewestSortKey
	if cursor == "" {
		return c.FetchLatest(ctx, chatID)
	}

	for {
		if err := ctx.Err(); err != nil {
			res.Error = err.Error()
			return res
		}
		page, err := c.src.ListMessages(ctx, source.MessageQuery{
			ChatID:    chatID,
			Cursor:    cursor,
			Direction: source.After,
			Limit:     c.opts.PageSize,
		})
		if err != nil {
			c.logger.Error("fetch newer messages failed", zap.Error(err), zap.String("chat_id", chatID))
			res.Error = err.Error()
			return res
		}
		msgs := toStoreMessages(chatID, page.Items)
		if len(msgs) == 0 {
			break
		}
		if err := c.writeForward(chatID, msgs, false); err != nil {
			res.Error = err.Error()
			return res
		}
		res.Pages++
		res.MessagesUpserted += len(msgs)

		next := maxSortKey(msgs)
		if !page.HasMore || next <= cursor {
			break
		}
		cursor = next
	}
	return c.finish(res)
}

// Backfill pages backward from the oldest stored message. maxPages <= 0 pages until
// upstream reports no more history. Every page boundary checks ctx, so an interrupted
// backfill keeps what it stored and resumes from the stored oldest sort key.
func (c *Controller) Backfill(ctx context.Context, chatID string, maxPages int) FetchResult {
	res := FetchResult{ChatID: chatID}
	chat, err := c.db.GetChat(chatID)
	if err != nil || chat == nil {
		res.Error = notFound(chatID, err)
		return res
	}
	if chat.Window.HasCompleteHistory {
		res.Window = chat.Window
		res.Success = true
		return res
	}
	cursor := chat.Window.OldestSortKey
	if cursor == "" {
		n, err := c.fetchLatest(ctx, chatID)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Pages, res.MessagesUpserted = 1, n
		if chat, err = c.db.GetChat(chatID); err != nil {
			res.Error = err.Error()
			return res
		}
		if chat.Window.HasCompleteHistory || chat.Window.OldestSortKey == "" {
			return c.finish(res)
		}
		cursor = chat.Window.OldestSortKey
	}

	for maxPages <= 0 || res.Pages < maxPages {
		if err := ctx.Err(); err != nil {
			res.Error = err.Error()
			return res
		}
		page, err := c.src.ListMessages(ctx, source.MessageQuery{
			ChatID:    chatID,
			Cursor:    cursor,
			Direction: source.Before,
			Limit:     c.opts.PageSize,
		})
		if err != nil {
			c.logger.Error("backfill page failed", zap.Error(err), zap.String("chat_id", chatID))
			res.Error = err.Error()
			return res
		}
		msgs := toStoreMessages(chatID, page.Items)
		complete := !page.HasMore || len(msgs) == 0
		// Backward pages never touch the derived last-message fields.
		if _, err := c.db.ApplyMessagePage(store.PageWrite{ChatID: chatID, Messages: msgs, Complete: complete}); err != nil {
			res.Error = err.Error()
			return res
		}
		res.Pages++
		res.MessagesUpserted += len(msgs)
		if complete {
			c.logger.Info("chat history complete", zap.String("chat_id", chatID))
			break
		}
		next := minSortKey(msgs)
		if next == "" || next >= cursor {
			break
		}
		cursor = next
	}
	return c.finish(res)
}

// writeForward sorts a forward page, derives the last-message fields and writes
// both in one transaction.
func (c *Controller) writeForward(chatID string, msgs []store.Message, complete bool) error {
	SortAscending(msgs)
	last, err := Derive(msgs)
	if err != nil {
		c.logger.Error("refusing to derive last message", zap.Error(err), zap.String("chat_id", chatID))
		return err
	}
	w, err := c.db.ApplyMessagePage(store.PageWrite{
		ChatID:   chatID,
		Messages: msgs,
		Last:     last,
		SyncedAt: c.now().UnixMilli(),
		Complete: complete,
	})
	if err != nil {
		return err
	}
	c.bus.Emit(bus.MessagesUpserted, map[string]any{"chat_id": chatID, "count": len(msgs), "newest": w.NewestSortKey})
	return nil
}

func (c *Controller) finish(res FetchResult) FetchResult {
	chat, err := c.db.GetChat(res.ChatID)
	if err != nil || chat == nil {
		res.Error = notFound(res.ChatID, err)
		return res
	}
	res.Window = chat.Window
	res.Success = true
	return res
}

func notFound(chatID string, err error) string {
	if err != nil {
		return fmt.Sprintf("get chat %q: %v", chatID, err)
	}
	return fmt.Sprintf("chat %q not found", chatID)
}

func maxSortKey(msgs []store.Message) string {
	var k string
	for i := range msgs {
		k = max(k, msgs[i].SortKey)
	}
	return k
}

func minSortKey(msgs []store.Message) string {
	var k string
	for i := range msgs {
		if s := msgs[i].SortKey; s != "" && (k == "" || s < k) {
			k = s
		}
	}
	return k
}

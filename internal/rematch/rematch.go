// Package rematch keeps the denormalized chat to contact link equal to what the
// identity matcher derives from the chat's identifiers.
package rematch

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/mirror/internal/bus"
	"github.com/matheus3301/mirror/internal/match"
	"github.com/matheus3301/mirror/internal/normalize"
	"github.com/matheus3301/mirror/internal/store"
	"go.uber.org/zap"
)

// Change describes a contact's identifiers before and after a write.
type Change = bus.IdentifierChange

// Result counts the outcome of a rematch run. Matched and Unmatched count writes;
// Unchanged counts chats whose stored link was already correct or is user-pinned.
type Result struct {
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	Unchanged int `json:"unchanged"`
}

// Total is the number of chats examined.
func (r Result) Total() int { return r.Matched + r.Unmatched + r.Unchanged }

// Engine recomputes chat to contact links.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	region string
	logger *zap.Logger
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a rematch engine normalizing phones with region.
func NewEngine(db *store.DB, b *bus.Bus, region string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		region: region,
		logger: logger,
		now:    time.Now,
	}
}

// Start runs a targeted rematch for every contact identifier change published on the bus.
// Dropped events are caught up by the next full sweep.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe(bus.ContactIdentifiersChanged, 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				change, ok := evt.Payload.(Change)
				if !ok {
					continue
				}
				if _, err := e.Targeted(ctx, change); err != nil {
					e.logger.Error("targeted rematch failed", zap.Error(err), zap.String("contact_id", change.ContactID))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the event listener and waits for an in-flight rematch to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

// Targeted recomputes the links of chats plausibly affected by one contact's identifier
// change: chats carrying the old or new handle or phone, and chats linked to the contact.
func (e *Engine) Targeted(ctx context.Context, change Change) (Result, error) {
	var handles []string
	for _, h := range []string{change.OldHandle, change.NewHandle} {
		if h = normalize.Handle(h); h != "" {
			handles = append(handles, h)
		}
	}
	raws := append([]string{change.OldPhone, change.NewPhone}, change.ExtraPhones...)
	phones := normalize.Phones(e.region, raws...)

	chats, err := e.db.ChatsForRematch(handles, phones, change.ContactID)
	if err != nil {
		return Result{}, fmt.Errorf("find rematch candidates: %w", err)
	}
	if len(chats) == 0 {
		return Result{}, nil
	}
	idx, err := e.index()
	if err != nil {
		return Result{}, err
	}
	res, err := e.apply(ctx, idx, chats)
	if err != nil {
		return res, err
	}
	e.logger.Debug("targeted rematch",
		zap.String("contact_id", change.ContactID),
		zap.Int("candidates", len(chats)),
		zap.Int("matched", res.Matched),
		zap.Int("unmatched", res.Unmatched))
	return res, nil
}

// FullSweep recomputes the link of every single chat, writing only differences.
func (e *Engine) FullSweep(ctx context.Context) (Result, error) {
	chats, err := e.db.ListSingleChats()
	if err != nil {
		return Result{}, fmt.Errorf("list chats: %w", err)
	}
	idx, err := e.index()
	if err != nil {
		return Result{}, err
	}
	res, err := e.apply(ctx, idx, chats)
	if err != nil {
		return res, err
	}
	e.logger.Info("full rematch sweep",
		zap.Int("chats", res.Total()),
		zap.Int("matched", res.Matched),
		zap.Int("unmatched", res.Unmatched),
		zap.Int("unchanged", res.Unchanged))
	e.bus.Emit(bus.RematchCompleted, res)
	return res, nil
}

func (e *Engine) index() (*match.Index, error) {
	contacts, err := e.db.ListContacts()
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return match.NewIndex(contacts, e.region), nil
}

func (e *Engine) apply(ctx context.Context, idx *match.Index, chats []store.Chat) (Result, error) {
	var res Result
	for i := range chats {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		c := &chats[i]
		if c.ContactOverride {
			res.Unchanged++
			continue
		}
		var want string
		contact, rule := idx.MatchChat(c)
		if contact != nil {
			want = contact.ID
		}
		if want == c.ContactID {
			res.Unchanged++
			continue
		}
		changed, err := e.db.SetChatContact(c.ID, want, e.now().UnixMilli())
		if err != nil {
			return res, fmt.Errorf("relink chat %q: %w", c.ID, err)
		}
		if !changed {
			// Pinned by the user since the chat was read.
			res.Unchanged++
			continue
		}
		if want == "" {
			res.Unmatched++
		} else {
			res.Matched++
		}
		e.logger.Debug("chat relinked",
			zap.String("chat_id", c.ID),
			zap.String("from", c.ContactID),
			zap.String("to", want),
			zap.String("rule", string(rule)))
		e.bus.Emit(bus.ChatContactChanged, map[string]string{"chat_id": c.ID, "contact_id": want})
	}
	return res, nil
}

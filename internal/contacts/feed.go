package contacts

import (
	"context"

	"github.com/matheus3301/mirror/internal/bus"
	"github.com/matheus3301/mirror/internal/source"
	"go.uber.org/zap"
)

// DefaultPageSize is the number of CRM records requested per page.
const DefaultPageSize = 100

// FeedResult summarizes a full contact pull.
type FeedResult struct {
	BatchResult
	Success bool   `json:"success"`
	Pages   int    `json:"pages"`
	Error   string `json:"error,omitempty"`
}

// Feed pulls every contact from the CRM and applies it through the reconciler.
type Feed struct {
	crm      source.ContactSource
	rec      *Reconciler
	bus      *bus.Bus
	pageSize int
	logger   *zap.Logger
}

// NewFeed creates a contact feed. A non-positive pageSize selects DefaultPageSize.
func NewFeed(crm source.ContactSource, rec *Reconciler, b *bus.Bus, pageSize int, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Feed{crm: crm, rec: rec, bus: b, pageSize: pageSize, logger: logger}
}

// Run pages through the CRM from offset zero. A transport error stops paging;
// pages already applied stay applied and are counted in the result.
func (f *Feed) Run(ctx context.Context, force bool) FeedResult {
	var res FeedResult
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			res.Error = err.Error()
			break
		}
		records, err := f.crm.ListContacts(ctx, offset, f.pageSize)
		if err != nil {
			f.logger.Error("contact feed page failed", zap.Error(err), zap.Int("offset", offset))
			res.Error = err.Error()
			break
		}
		if len(records) == 0 {
			break
		}
		res.Pages++
		res.add(f.rec.Apply(ctx, records, ApplyOptions{ForceUpdate: force}))
		offset += len(records)
		if len(records) < f.pageSize {
			break
		}
	}
	res.Success = res.Error == ""
	f.logger.Info("contact feed finished",
		zap.Bool("success", res.Success),
		zap.Int("pages", res.Pages),
		zap.Int("processed", res.Processed),
		zap.Int("errors", res.Errors))
	f.bus.Emit(bus.SyncContactsCompleted, res)
	return res
}

package sync

import (
	"context"
	"time"

	"github.com/matheus3301/mirror/internal/contacts"
	"github.com/matheus3301/mirror/internal/rematch"
	"github.com/matheus3301/mirror/internal/status"
	"go.uber.org/zap"
)

// ContactFeed pulls the CRM into the contact table.
type ContactFeed interface {
	Run(ctx context.Context, force bool) contacts.FeedResult
}

// Sweeper recomputes every chat to contact link.
type Sweeper interface {
	FullSweep(ctx context.Context) (rematch.Result, error)
}

// Intervals configures the Scheduler. A zero interval disables that job.
type Intervals struct {
	Chats    time.Duration
	Contacts time.Duration
}

// Scheduler triggers periodic list syncs and contact pulls and reflects their
// outcome in the status machine. Jobs run one at a time.
type Scheduler struct {
	ctrl      *Controller
	feed      ContactFeed
	sweeper   Sweeper
	machine   *status.Machine
	intervals Intervals
	logger    *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. feed and sweeper may be nil.
func NewScheduler(ctrl *Controller, feed ContactFeed, sweeper Sweeper, machine *status.Machine, intervals Intervals, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		ctrl:      ctrl,
		feed:      feed,
		sweeper:   sweeper,
		machine:   machine,
		intervals: intervals,
		logger:    logger,
	}
}

// Start runs both jobs once and then on their intervals until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the scheduler and waits for a running job to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	chatC, stopChats := ticker(s.intervals.Chats)
	defer stopChats()
	contactC, stopContacts := ticker(s.intervals.Contacts)
	defer stopContacts()

	if s.intervals.Contacts > 0 {
		s.RunContacts(ctx)
	}
	if s.intervals.Chats > 0 {
		s.RunChats(ctx)
	}

	for {
		select {
		case <-chatC:
			s.RunChats(ctx)
		case <-contactC:
			s.RunContacts(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func ticker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// RunChats performs one scheduled list sync.
func (s *Scheduler) RunChats(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.begin()
	res := s.ctrl.SyncChats(ctx, ListOptions{})
	failure := res.Error
	if failure == "" && len(res.FailedChats) > 0 {
		failure = "message fetch failed for some chats"
	}
	s.end(failure)
}

// RunContacts performs one scheduled contact pull followed by a full rematch sweep,
// which catches up any identifier change event the rematch listener missed.
func (s *Scheduler) RunContacts(ctx context.Context) {
	if s.feed == nil || ctx.Err() != nil {
		return
	}
	s.begin()
	res := s.feed.Run(ctx, false)
	failure := res.Error
	if s.sweeper != nil && ctx.Err() == nil {
		if _, err := s.sweeper.FullSweep(ctx); err != nil {
			s.logger.Error("scheduled rematch sweep failed", zap.Error(err))
			if failure == "" {
				failure = err.Error()
			}
		}
	}
	s.end(failure)
}

func (s *Scheduler) begin() {
	if s.machine == nil {
		return
	}
	if err := s.machine.Transition(status.Syncing); err != nil {
		s.logger.Warn("status transition failed", zap.Error(err))
	}
}

func (s *Scheduler) end(failure string) {
	if s.machine == nil {
		return
	}
	to := status.Idle
	if failure != "" {
		to = status.Degraded
	}
	if err := s.machine.TransitionWithDetail(to, failure); err != nil {
		s.logger.Warn("status transition failed", zap.Error(err))
	}
}

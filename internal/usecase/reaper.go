package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"studyportal/internal/domain"
)

// Reaper periodically drops conversations that have gone quiet, bounding
// memory for long-lived processes.
type Reaper struct {
	conversations *ConversationManager
	bus           domain.EventBus
	logger        *slog.Logger
	maxAge        time.Duration
	cron          *cron.Cron
}

// NewReaper creates a reaper that runs on the given cron schedule
// (e.g. "@every 10m") and reaps conversations idle longer than maxAge.
func NewReaper(conversations *ConversationManager, bus domain.EventBus, schedule string, maxAge time.Duration, logger *slog.Logger) (*Reaper, error) {
	r := &Reaper{
		conversations: conversations,
		bus:           bus,
		logger:        logger,
		maxAge:        maxAge,
		cron:          cron.New(),
	}
	if _, err := r.cron.AddFunc(schedule, r.runOnce); err != nil {
		return nil, domain.NewDomainError("Reaper.New", domain.ErrConfig, err.Error())
	}
	return r, nil
}

func (r *Reaper) runOnce() {
	reaped := r.conversations.ReapStale(r.maxAge)
	if len(reaped) == 0 {
		return
	}
	r.logger.Info("reaped stale conversations", "count", len(reaped))
	for _, userID := range reaped {
		publishEvent(r.bus, context.Background(), domain.EventConversationReaped, userID, nil)
	}
}

// Start begins the schedule.
func (r *Reaper) Start() { r.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

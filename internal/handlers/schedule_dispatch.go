package handlers

import (
	"context"
	"log"
	"time"

	"github.com/PortNumber53/social-autopilot/backend/internal/schedule"
)

// dispatchDueSchedulesOnce notifies each owner whose schedule fires at now's minute. The posting
// pipeline subscribes to these schedule.due events.
func (h *Handler) dispatchDueSchedulesOnce(ctx context.Context, now time.Time) (int, error) {
	if h == nil || h.store == nil {
		return 0, nil
	}
	now = now.UTC().Truncate(time.Minute)
	active, err := h.store.ActiveSchedules(ctx, now)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for _, s := range active {
		if !schedule.IsDue(s, now) {
			continue
		}
		log.Printf("[ScheduleDispatch] due scheduleId=%s userId=%s interval=%d", s.ID, s.UserID, s.MinuteIntervals)
		h.emitEvent(s.UserID, realtimeEvent{
			Type:   "schedule.due",
			ID:     s.ID,
			Status: "due",
			At:     now.Format(time.RFC3339),
		})
		dispatched++
	}
	return dispatched, nil
}

// maxDispatchCatchUp bounds how many minutes one tick replays after the dispatcher fell behind.
const maxDispatchCatchUp = 60

// dispatchSince dispatches every minute after last up to and including now's minute and returns
// the last minute handled. With a zero last only now's minute is dispatched; a minute already
// handled is never dispatched twice.
func (h *Handler) dispatchSince(ctx context.Context, last, now time.Time) (time.Time, int, error) {
	now = now.UTC().Truncate(time.Minute)
	from := now
	if !last.IsZero() {
		from = last.UTC().Truncate(time.Minute).Add(time.Minute)
		if earliest := now.Add(-(maxDispatchCatchUp - 1) * time.Minute); from.Before(earliest) {
			log.Printf("[ScheduleDispatch] skipped missed minutes from=%s to=%s",
				from.Format(time.RFC3339), earliest.Add(-time.Minute).Format(time.RFC3339))
			from = earliest
		}
	}
	total := 0
	for m := from; !m.After(now); m = m.Add(time.Minute) {
		n, err := h.dispatchDueSchedulesOnce(ctx, m)
		if err != nil {
			return last, total, err
		}
		total += n
		last = m
	}
	return last, total, nil
}

// StartScheduleDispatcher checks for due schedules every interval until ctx is cancelled. Minutes
// that fall between ticks (long intervals, ticker drift) are caught up on the next tick.
func (h *Handler) StartScheduleDispatcher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	log.Printf("[ScheduleDispatch] started interval=%s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last time.Time
	run := func() {
		handled, n, err := h.dispatchSince(ctx, last, h.now())
		last = handled
		if err != nil {
			log.Printf("[ScheduleDispatch] error err=%v", err)
			return
		}
		if n > 0 {
			log.Printf("[ScheduleDispatch] dispatched=%d", n)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[ScheduleDispatch] stopped err=%v", ctx.Err())
			return
		case <-ticker.C:
			run()
		}
	}
}

package workers

import (
	"context"
	"log"
	"time"

	"github.com/PortNumber53/social-autopilot/backend/internal/store"
)

// OverCapSource lists users owning more schedules than their tier allows.
type OverCapSource interface {
	OverCapUsers(ctx context.Context) ([]store.OverCap, error)
}

// LimitAuditWorker periodically finds users left above their schedule cap (usually after a
// downgrade) and notifies them. Existing schedules are never deleted; the cap only blocks new ones.
type LimitAuditWorker struct {
	Source          OverCapSource
	Notify          func(userID string, schedules, limit int)
	CheckIntervalMs int // How often to audit (default: 900000 = 15 minutes)
}

// Start runs an audit immediately, then on every tick until ctx is cancelled.
func (w *LimitAuditWorker) Start(ctx context.Context) {
	if w.CheckIntervalMs <= 0 {
		w.CheckIntervalMs = 900000
	}

	ticker := time.NewTicker(time.Duration(w.CheckIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	log.Printf("[LimitAuditWorker] started (interval=%dms)", w.CheckIntervalMs)

	w.audit(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[LimitAuditWorker] stopped")
			return
		case <-ticker.C:
			w.audit(ctx)
		}
	}
}

// audit notifies every over-cap user once and returns how many were found.
func (w *LimitAuditWorker) audit(ctx context.Context) int {
	if w.Source == nil {
		return 0
	}
	users, err := w.Source.OverCapUsers(ctx)
	if err != nil {
		log.Printf("[LimitAuditWorker] error: %v", err)
		return 0
	}
	for _, u := range users {
		log.Printf("[LimitAuditWorker] over cap userId=%s tier=%s schedules=%d limit=%d", u.UserID, u.Tier, u.Schedules, u.Limit)
		if w.Notify != nil {
			w.Notify(u.UserID, u.Schedules, u.Limit)
		}
	}
	if len(users) > 0 {
		log.Printf("[LimitAuditWorker] found %d users over their schedule cap", len(users))
	}
	return len(users)
}

package session

import (
	"context"
	"time"

	"github.com/roundcast/backend/internal/metrics"
)

// RunJanitor expires idle sessions every interval until ctx is cancelled.
func (m *Machine) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.cfg.SessionTTL / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Expire(ctx, m.now()); n > 0 {
				m.logger.Info("expired idle sessions", "count", n)
			}
		}
	}
}

// Expire tears down sessions idle since before now minus the session TTL.
// Users with an event in flight are skipped until the next sweep.
func (m *Machine) Expire(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-m.cfg.SessionTTL)
	expired := 0
	for _, userID := range m.sessions.idle(cutoff) {
		if !m.locks.TryLock(userID) {
			continue
		}
		if s, ok := m.sessions.stale(userID, cutoff); ok {
			m.teardown(ctx, s)
			metrics.SessionsExpiredTotal.Inc()
			m.logger.Info("session expired", "userId", userID, "step", string(s.Step))
			expired++
		}
		m.locks.Unlock(userID)
	}
	return expired
}

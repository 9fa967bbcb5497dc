package syncer

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/painel/internal/domain"
)

// Cooldowns between sync runs of the same tenant and mode. Privileged
// callers (admins, cron) and heavy modes wait longer than the cheap
// hourly refresh a regular user can trigger.
const (
	cooldownDefault         = 5 * time.Minute
	cooldownUserIncremental = 2 * time.Minute
)

// VolumeLimit caps how many rows (opportunities + events) an
// unprivileged incremental run may process.
const VolumeLimit = 3000

// Guard throttles sync runs per tenant and mode. It is process-local;
// running multiple instances multiplies the effective allowance.
type Guard struct {
	mu      sync.Mutex
	granted map[string]time.Time
	now     func() time.Time
}

func NewGuard() *Guard {
	return &Guard{
		granted: make(map[string]time.Time),
		now:     time.Now,
	}
}

func guardKey(clientID uuid.UUID, mode domain.SyncMode) string {
	return clientID.String() + ":" + string(mode)
}

func cooldownFor(mode domain.SyncMode, privileged bool) time.Duration {
	if !privileged && mode == domain.SyncModeIncremental1h {
		return cooldownUserIncremental
	}
	return cooldownDefault
}

// TryAcquire grants a run when the tenant+mode cooldown has elapsed.
// The grant timestamp is recorded immediately, so concurrent callers
// and retries during a running sync are both rejected. Runs that fail
// before persisting anything call Release; once writes start the
// cooldown stands even when the run ends with errors. On rejection the
// remaining wait is returned.
func (g *Guard) TryAcquire(clientID uuid.UUID, mode domain.SyncMode, privileged bool) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := guardKey(clientID, mode)
	cooldown := cooldownFor(mode, privileged)
	now := g.now()

	if grantedAt, ok := g.granted[key]; ok {
		elapsed := now.Sub(grantedAt)
		if elapsed < cooldown {
			return false, cooldown - elapsed
		}
	}

	g.granted[key] = now
	return true, 0
}

// Release forgets a grant so a failed run does not burn the cooldown.
func (g *Guard) Release(clientID uuid.UUID, mode domain.SyncMode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.granted, guardKey(clientID, mode))
}

// lockout.go - Per-username lockout after repeated failed password grants.
package server

import (
	"context"
	"sync"
	"time"
)

type loginAttempt struct {
	count       int
	lastAttempt time.Time
	lockedUntil time.Time
}

// accountLockout locks a username for lockoutDuration once maxAttempts
// failures land within window.
type accountLockout struct {
	mu              sync.Mutex
	attempts        map[string]*loginAttempt
	maxAttempts     int
	lockoutDuration time.Duration
	window          time.Duration
	now             func() time.Time
}

func newAccountLockout(maxAttempts int, lockoutDuration, window time.Duration) *accountLockout {
	return &accountLockout{
		attempts:        make(map[string]*loginAttempt),
		maxAttempts:     maxAttempts,
		lockoutDuration: lockoutDuration,
		window:          window,
		now:             time.Now,
	}
}

// recordFailure counts a failed grant and reports whether the username is
// now locked.
func (al *accountLockout) recordFailure(username string) (locked bool, until time.Time) {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := al.now()
	a, ok := al.attempts[username]
	if !ok {
		a = &loginAttempt{}
		al.attempts[username] = a
	}
	if now.Sub(a.lastAttempt) > al.window {
		a.count = 0
	}
	a.count++
	a.lastAttempt = now

	if a.count >= al.maxAttempts {
		a.lockedUntil = now.Add(al.lockoutDuration)
		return true, a.lockedUntil
	}
	return false, time.Time{}
}

func (al *accountLockout) recordSuccess(username string) {
	al.mu.Lock()
	defer al.mu.Unlock()
	delete(al.attempts, username)
}

func (al *accountLockout) isLocked(username string) (bool, time.Time) {
	al.mu.Lock()
	defer al.mu.Unlock()

	a, ok := al.attempts[username]
	if !ok || a.lockedUntil.IsZero() || !al.now().Before(a.lockedUntil) {
		return false, time.Time{}
	}
	return true, a.lockedUntil
}

// run drops stale entries until ctx is done.
func (al *accountLockout) run(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			al.sweep()
		}
	}
}

func (al *accountLockout) sweep() {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := al.now()
	for username, a := range al.attempts {
		if (a.lockedUntil.IsZero() || now.After(a.lockedUntil)) && now.Sub(a.lastAttempt) > 2*al.window {
			delete(al.attempts, username)
		}
	}
}

package kis

import (
	"context"
	"sync"
	"time"
)

// tokenExpiryMargin forces a refresh shortly before nominal expiry so a
// token never goes stale mid-request.
const tokenExpiryMargin = 60 * time.Second

// credentialCache caches a bearer credential issued by issueFn and
// refreshes it in place. Reads take the fast path under a read lock; a
// stale credential is re-checked after acquiring the write lock so
// concurrent callers trigger exactly one issuance.
type credentialCache struct {
	mu        sync.RWMutex
	value     string
	expiresAt time.Time

	issueFn func(ctx context.Context) (string, time.Duration, error)
	now     func() time.Time
}

func newCredentialCache(issueFn func(ctx context.Context) (string, time.Duration, error)) *credentialCache {
	return &credentialCache{issueFn: issueFn, now: time.Now}
}

func (cc *credentialCache) get(ctx context.Context) (string, error) {
	cc.mu.RLock()
	if cc.validLocked() {
		v := cc.value
		cc.mu.RUnlock()
		return v, nil
	}
	cc.mu.RUnlock()

	cc.mu.Lock()
	defer cc.mu.Unlock()

	// Another caller may have refreshed while this one waited for the lock.
	if cc.validLocked() {
		return cc.value, nil
	}

	value, validFor, err := cc.issueFn(ctx)
	if err != nil {
		return "", err
	}
	cc.value = value
	cc.expiresAt = cc.now().Add(validFor)
	return value, nil
}

func (cc *credentialCache) validLocked() bool {
	return cc.value != "" && cc.now().Before(cc.expiresAt.Add(-tokenExpiryMargin))
}

// invalidate drops the cached credential so the next get re-issues.
func (cc *credentialCache) invalidate() {
	cc.mu.Lock()
	cc.expiresAt = time.Time{}
	cc.mu.Unlock()
}

package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// MemoryLocker is a single-process Locker for deployments without Redis.
// Claims expire by TTL so a lost release cannot wedge an address.
type MemoryLocker struct {
	mu     sync.Mutex
	claims map[string]time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{claims: make(map[string]time.Time)}
}

func (l *MemoryLocker) AcquireIngestLock(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
	ttl time.Duration,
) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := lockKey(chainID, address)
	if expiry, held := l.claims[key]; held && time.Now().Before(expiry) {
		return false, nil
	}
	l.claims[key] = time.Now().Add(ttl)
	return true, nil
}

func (l *MemoryLocker) ReleaseIngestLock(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claims, lockKey(chainID, address))
	return nil
}

func lockKey(chainID domain.ChainID, address string) string {
	return string(chainID) + ":" + address
}

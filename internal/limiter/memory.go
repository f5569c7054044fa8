package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process limiter for database-free demo runs and tests.
// Semantics mirror the PostgreSQL implementation.
type Memory struct {
	mu       sync.Mutex
	entries  map[memKey]*memEntry
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

type memKey struct {
	username string
	ipHash   string
}

type memEntry struct {
	failCount    int
	blockedUntil time.Time
	updatedAt    time.Time
}

// NewMemory constructs an in-memory limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		entries:  make(map[memKey]*memEntry),
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
	}
}

// Allow reports whether login is currently allowed.
func (l *Memory) Allow(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[memKey{username, string(ipHash)}]
	if !ok {
		return true, 0, nil
	}
	if e.blockedUntil.After(time.Now()) {
		return false, time.Until(e.blockedUntil), nil
	}
	return true, 0, nil
}

// Success resets counters for (username, ip).
func (l *Memory) Success(_ context.Context, username string, ipHash []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, memKey{username, string(ipHash)})
	return nil
}

// Failure records a failed attempt; may place a temporary block.
func (l *Memory) Failure(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	k := memKey{username, string(ipHash)}
	e, ok := l.entries[k]
	if !ok || now.Sub(e.updatedAt) > l.window {
		e = &memEntry{}
		l.entries[k] = e
	}
	e.failCount++
	e.updatedAt = now
	if e.failCount >= l.maxFails {
		e.blockedUntil = now.Add(l.blockFor)
		return true, l.blockFor, nil
	}
	return false, 0, nil
}

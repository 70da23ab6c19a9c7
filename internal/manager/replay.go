package manager

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ReplayGuard remembers accepted request digests per identity until they
// fall outside the clock-skew window, so a captured signed request cannot be
// submitted twice. Keying on the signed digest rather than the signature text
// means re-encoding a signature does not make it look new.
type ReplayGuard struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[common.Address]map[common.Hash]time.Time
	now    func() time.Time

	lastSweep time.Time
}

func NewReplayGuard(window time.Duration, now func() time.Time) *ReplayGuard {
	if now == nil {
		now = time.Now
	}
	return &ReplayGuard{
		window: window,
		seen:   make(map[common.Address]map[common.Hash]time.Time),
		now:    now,
	}
}

// Accept records digest for addr. It returns false when the same digest was
// already accepted and has not expired yet.
func (g *ReplayGuard) Accept(addr common.Address, digest common.Hash, signedAt time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastSweep) > g.window {
		g.sweep(now)
	}

	digests, ok := g.seen[addr]
	if !ok {
		digests = make(map[common.Hash]time.Time)
		g.seen[addr] = digests
	}
	if exp, ok := digests[digest]; ok && now.Before(exp) {
		return false
	}
	digests[digest] = signedAt.Add(g.window)
	return true
}

// Len reports how many digests are tracked.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, digests := range g.seen {
		n += len(digests)
	}
	return n
}

func (g *ReplayGuard) sweep(now time.Time) {
	for addr, digests := range g.seen {
		for digest, exp := range digests {
			if !now.Before(exp) {
				delete(digests, digest)
			}
		}
		if len(digests) == 0 {
			delete(g.seen, addr)
		}
	}
	g.lastSweep = now
}

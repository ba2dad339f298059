package chat

import (
	"sync"
	"time"
)

// DefaultPresenceDebounce is how long a user must stay at zero connections
// before an offline broadcast goes out. Long enough to absorb the
// disconnect/reconnect cycle a token refresh causes.
const DefaultPresenceDebounce = 2 * time.Second

// StatusNotifier receives online/offline transitions. Broadcasts are
// fire-and-forget: a missed one is self-healing on the next transition.
type StatusNotifier interface {
	NotifyOnlineStatus(userID int, online bool)
}

// Presence decides when a user's externally visible status flips.
// Online happens on the first connection; offline only after the debounce
// window passes with the user still at zero connections, so a refresh does
// not flicker the status.
type Presence struct {
	registry *ConnectionRegistry
	notifier StatusNotifier
	debounce time.Duration

	mu        sync.Mutex
	pending   map[int]*time.Timer
	announced map[int]struct{} // users whose online status went out
}

func NewPresence(registry *ConnectionRegistry, notifier StatusNotifier, debounce time.Duration) *Presence {
	if debounce <= 0 {
		debounce = DefaultPresenceDebounce
	}
	return &Presence{
		registry:  registry,
		notifier:  notifier,
		debounce:  debounce,
		pending:   make(map[int]*time.Timer),
		announced: make(map[int]struct{}),
	}
}

// HandleConnect is called after the connection has been added to the
// registry. A pending offline check is positively cancelled, and the first
// connection broadcasts the online transition.
func (p *Presence) HandleConnect(userID int) {
	p.mu.Lock()
	if t, ok := p.pending[userID]; ok {
		t.Stop()
		delete(p.pending, userID)
	}
	p.mu.Unlock()

	if p.registry.ConnectionCount(userID) == 1 {
		p.mu.Lock()
		p.announced[userID] = struct{}{}
		p.mu.Unlock()
		p.notifier.NotifyOnlineStatus(userID, true)
	}
}

// HandleDisconnect is called after the connection has been removed from the
// registry. If the user dropped to zero connections, an offline check is
// scheduled; the check re-reads the registry before acting, so a reconnect
// inside the window makes it a no-op even if the timer cannot be stopped in
// time.
func (p *Presence) HandleDisconnect(userID int) {
	if p.registry.ConnectionCount(userID) > 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// A user that was never announced online has no status to retract. This
	// covers the connect path failing partway: the connection is torn down
	// again before the online broadcast ever happened.
	if _, ok := p.announced[userID]; !ok {
		return
	}
	if t, ok := p.pending[userID]; ok {
		t.Stop()
	}
	p.pending[userID] = time.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		delete(p.pending, userID)
		p.mu.Unlock()

		if p.registry.ConnectionCount(userID) == 0 {
			p.mu.Lock()
			delete(p.announced, userID)
			p.mu.Unlock()
			p.notifier.NotifyOnlineStatus(userID, false)
		}
	})
}

func (p *Presence) pendingChecks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

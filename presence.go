package gatherly

import (
	"context"
	"sync"
	"time"
)

// StatusAPI announces the local user's online status.
type StatusAPI interface {
	UpdateStatus(ctx context.Context, userID int64, status string) error
}

// PresenceHeartbeat periodically announces the local user as online, with
// an explicit announce for app-foreground transitions. It is a timer-driven
// path deliberately kept separate from the push channel's event-driven
// sync: liveness announcement and data sync serve different purposes.
type PresenceHeartbeat struct {
	api      StatusAPI
	userID   int64
	interval time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// NewPresenceHeartbeat creates a heartbeat for the given user. A zero
// interval defaults to one minute.
func NewPresenceHeartbeat(api StatusAPI, userID int64, interval time.Duration) *PresenceHeartbeat {
	if interval == 0 {
		interval = time.Minute
	}
	return &PresenceHeartbeat{api: api, userID: userID, interval: interval}
}

// Start begins the periodic announcement. Starting a running heartbeat is
// a no-op.
func (p *PresenceHeartbeat) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				_ = p.api.UpdateStatus(context.Background(), p.userID, "online")
			}
		}
	}()
}

// Announce immediately reports the user online, for foreground
// transitions.
func (p *PresenceHeartbeat) Announce(ctx context.Context) error {
	return p.api.UpdateStatus(ctx, p.userID, "online")
}

// Stop cancels the periodic announcement. Stopping a stopped heartbeat is
// a no-op.
func (p *PresenceHeartbeat) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stopCh)
}

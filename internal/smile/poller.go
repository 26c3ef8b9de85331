package smile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"plugwise-hub/internal/hub"
)

// Client fetches a fresh snapshot from a Smile gateway.
type Client interface {
	Update(ctx context.Context) (*GatewayData, error)
}

// Snapshot is the latest gateway state plus its reachability.
type Snapshot struct {
	Data      *GatewayData
	Available bool
	FetchedAt time.Time
}

// Poller refreshes the gateway snapshot on a fixed interval and publishes
// updates on the hub event bus. Polls are strictly sequential; a slow
// gateway delays the next tick instead of stacking requests.
type Poller struct {
	client   Client
	events   *hub.EventBus
	logger   *slog.Logger
	interval time.Duration

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewPoller creates a poller. The interval must be positive.
func NewPoller(client Client, events *hub.EventBus, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		client:   client,
		events:   events,
		logger:   logger.With("component", "smile"),
		interval: interval,
	}
}

// Snapshot returns the most recent gateway snapshot. Data is nil until the
// first successful poll.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Run polls until the context is canceled. The first poll happens
// immediately so consumers do not wait a full interval for initial state.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	data, err := p.client.Update(ctx)
	if err != nil {
		p.logger.Warn("gateway update failed", "err", err)
		p.mu.Lock()
		p.snapshot.Available = false
		p.snapshot.FetchedAt = time.Now()
		snap := p.snapshot
		p.mu.Unlock()
		p.events.Emit(hub.Event{Type: hub.EventGatewayUpdate, Data: snap})
		return
	}

	snap := Snapshot{Data: data, Available: true, FetchedAt: time.Now()}
	p.mu.Lock()
	p.snapshot = snap
	p.mu.Unlock()

	p.events.Emit(hub.Event{Type: hub.EventGatewayUpdate, Data: snap})

	notes := AggregateNotifications(data.Meta.Notifications)
	if len(notes.Messages) > 0 {
		p.events.Emit(hub.Event{Type: hub.EventNotification, Data: notes})
	}
}

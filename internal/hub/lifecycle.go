// Package hub owns the Plugwise USB-stick lifecycle and the device registry.
package hub

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"plugwise-hub/internal/stick"
	"plugwise-hub/internal/store"
)

// State is the lifecycle position of the hub.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateInitializing
	StateDiscoveringCoordinator
	StateScanning
	StateRunning
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateDiscoveringCoordinator:
		return "discovering_coordinator"
	case StateScanning:
		return "scanning"
	case StateRunning:
		return "running"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// ErrNotReady marks a setup failure as retryable: the caller should try
// again later instead of treating it as fatal. The wrapped stage error
// carries the distinct failure kind for diagnostics.
var ErrNotReady = errors.New("setup not ready")

// Config holds hub configuration.
type Config struct {
	// StageTimeout bounds each lifecycle stage. Zero means no deadline.
	StageTimeout time.Duration

	// AcceptJoins makes the stick accept new join requests automatically;
	// when false, joins require an explicit add-device command.
	AcceptJoins bool
}

// Hub drives the stick through connect → initialize → discover coordinator →
// scan → running, and owns the node registry once running. Stages are
// strictly sequential; each blocking stick call is dispatched to a worker
// goroutine so the caller's scheduler is never stalled.
type Hub struct {
	stick    stick.Stick
	store    store.Store
	events   *EventBus
	registry *Registry
	logger   *slog.Logger
	cfg      Config

	mu        sync.Mutex
	state     State
	connected bool
	unsubJoin func()

	shutdownOnce sync.Once
}

// New creates a hub around a stick driver and a store.
func New(s stick.Stick, db store.Store, events *EventBus, cfg Config, logger *slog.Logger) *Hub {
	h := &Hub{
		stick:  s,
		store:  db,
		events: events,
		logger: logger,
		cfg:    cfg,
		state:  StateDisconnected,
	}
	h.registry = NewRegistry(h)
	return h
}

// State returns the current lifecycle state.
func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Events returns the event bus.
func (h *Hub) Events() *EventBus {
	return h.events
}

// Registry returns the device registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Store returns the store.
func (h *Hub) Store() store.Store {
	return h.store
}

func (h *Hub) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
	h.events.Emit(Event{Type: EventNetworkState, Data: s.String()})
}

// Setup runs the forward half of the state machine. Every failure is
// surfaced as ErrNotReady (wrapped around the distinct stage error) so the
// caller retries later; it is never fatal to the process. Any failure after
// a successful connect disconnects exactly once before returning, so the
// transport is never leaked.
func (h *Hub) Setup(ctx context.Context) error {
	h.setState(StateConnecting)
	h.logger.Debug("connecting to plugwise USB-stick")
	if err := h.runStage(ctx, "connect", h.stick.Connect); err != nil {
		if errors.Is(err, stick.ErrTimeout) {
			// The port opened far enough to need cleanup.
			h.mu.Lock()
			h.connected = true
			h.mu.Unlock()
			return h.abort(err)
		}
		h.logger.Error("connecting to plugwise USB-stick failed", "err", err)
		h.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	h.mu.Lock()
	h.connected = true
	h.mu.Unlock()

	h.setState(StateInitializing)
	h.logger.Debug("initializing USB-stick")
	if err := h.runStage(ctx, "initialize", h.stick.Initialize); err != nil {
		h.logger.Error("initializing plugwise USB-stick failed", "err", err)
		return h.abort(err)
	}

	h.setState(StateDiscoveringCoordinator)
	h.logger.Debug("discovering circle+ node")
	if err := h.runStage(ctx, "discover coordinator", h.stick.DiscoverCoordinator); err != nil {
		// Network down is operational, not configuration; log it apart.
		if errors.Is(err, stick.ErrNetworkDown) {
			h.logger.Warn("plugwise network down")
		} else {
			h.logger.Warn("failed to reach circle+ node", "err", err)
		}
		return h.abort(err)
	}

	h.setState(StateScanning)
	h.logger.Debug("scanning for registered nodes")
	if err := h.runStage(ctx, "scan", h.stick.Scan); err != nil {
		h.logger.Warn("node scan failed", "err", err)
		return h.abort(err)
	}

	if err := h.registry.SyncNodes(); err != nil {
		h.logger.Error("sync nodes", "err", err)
	}
	h.logger.Info("discovered nodes",
		"found", len(h.stick.Nodes()), "registered", h.stick.JoinedNodes())

	h.stick.AutoUpdate()

	h.loadOptions()
	h.mu.Lock()
	accept := h.cfg.AcceptJoins
	h.mu.Unlock()
	h.stick.AllowJoinRequests(true, accept)
	if accept {
		h.logger.Debug("stick accepts new join requests automatically")
		h.mu.Lock()
		h.unsubJoin = h.stick.SubscribeJoinRequests(h.registry.HandleJoinRequest)
		h.mu.Unlock()
	} else {
		h.logger.Debug("stick requires manual confirmation of join requests")
	}

	h.setState(StateRunning)
	return nil
}

// loadOptions applies the persisted hub options. A stored accept-joins value
// wins over the config default; the first run persists the default.
func (h *Hub) loadOptions() {
	st, err := h.store.GetHubState()
	if errors.Is(err, store.ErrNotFound) {
		st = &store.HubState{AcceptJoins: h.cfg.AcceptJoins, SchemaVersion: 1}
		if err := h.store.SaveHubState(st); err != nil {
			h.logger.Warn("persist hub options", "err", err)
		}
		return
	}
	if err != nil {
		h.logger.Warn("load hub options", "err", err)
		return
	}
	h.mu.Lock()
	h.cfg.AcceptJoins = st.AcceptJoins
	h.mu.Unlock()
}

// AcceptJoins reports whether new join requests are accepted automatically.
func (h *Hub) AcceptJoins() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg.AcceptJoins
}

// SetAcceptJoins switches between automatic and manual join acceptance,
// persists the choice, and applies it to a running stick immediately.
func (h *Hub) SetAcceptJoins(accept bool) error {
	st, err := h.store.GetHubState()
	if errors.Is(err, store.ErrNotFound) {
		st = &store.HubState{SchemaVersion: 1}
	} else if err != nil {
		return fmt.Errorf("load hub options: %w", err)
	}
	st.AcceptJoins = accept
	if err := h.store.SaveHubState(st); err != nil {
		return fmt.Errorf("persist hub options: %w", err)
	}

	h.mu.Lock()
	h.cfg.AcceptJoins = accept
	running := h.state == StateRunning
	h.mu.Unlock()

	if running {
		h.stick.AllowJoinRequests(true, accept)
		h.mu.Lock()
		if accept && h.unsubJoin == nil {
			h.unsubJoin = h.stick.SubscribeJoinRequests(h.registry.HandleJoinRequest)
		} else if !accept && h.unsubJoin != nil {
			h.unsubJoin()
			h.unsubJoin = nil
		}
		h.mu.Unlock()
	}

	h.logger.Info("join acceptance updated", "accept", accept)
	return nil
}

// runStage dispatches a blocking stick call to a worker goroutine and waits
// for it, bounded by the stage timeout. A deadline expiry maps to
// stick.ErrTimeout.
func (h *Hub) runStage(ctx context.Context, name string, fn func() error) error {
	if h.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.StageTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", name, stick.ErrTimeout)
	}
}

// abort disconnects after a failed stage and wraps the failure as retryable.
func (h *Hub) abort(stageErr error) error {
	h.setState(StateDisconnecting)
	if err := h.disconnect(); err != nil {
		h.logger.Error("disconnect after failed setup", "err", err)
	}
	h.setState(StateDisconnected)
	return fmt.Errorf("%w: %w", ErrNotReady, stageErr)
}

// disconnect runs the stick disconnect off-scheduler, at most once per
// connect. Safe when the stick never connected.
func (h *Hub) disconnect() error {
	h.mu.Lock()
	connected := h.connected
	h.connected = false
	h.mu.Unlock()
	if !connected {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return h.runStage(ctx, "disconnect", h.stick.Disconnect)
}

// Shutdown tears the hub down: releases the join listener, drains entity
// subscriptions, and disconnects the stick exactly once. Safe to invoke
// after a partially failed Setup and when the stick is already disconnected.
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.mu.Lock()
		if h.unsubJoin != nil {
			h.unsubJoin()
			h.unsubJoin = nil
		}
		h.mu.Unlock()

		h.registry.Close()

		h.setState(StateDisconnecting)
		if err := h.disconnect(); err != nil {
			h.logger.Error("disconnect", "err", err)
		}
		h.setState(StateDisconnected)
		h.logger.Info("hub stopped")
	})
}

// ParseMAC normalizes a Plugwise MAC: colons stripped, uppercased, 16 hex
// characters.
func ParseMAC(s string) (string, error) {
	mac := strings.ToUpper(strings.ReplaceAll(s, ":", ""))
	if len(mac) != 16 {
		return "", fmt.Errorf("mac address must be 16 hex chars, got %d", len(mac))
	}
	if _, err := hex.DecodeString(mac); err != nil {
		return "", fmt.Errorf("parse mac address: %w", err)
	}
	return mac, nil
}

package hub

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"plugwise-hub/internal/stick"
	"plugwise-hub/internal/store"
)

// Entity capability identifiers, matching the discovery platform names.
const (
	CapabilitySwitch       = "switch"
	CapabilityBinarySensor = "binary_sensor"
	CapabilitySensor       = "sensor"
)

// sensorEntityKeys are the measurement entities every node carries.
var sensorEntityKeys = []string{
	"power_1s", "power_8s", "energy_consumption_today",
	"ping", "RSSI_in", "RSSI_out",
}

// Entity is one externally visible aspect of a node: a relay switch, a
// motion binary sensor, or a measurement sensor.
type Entity struct {
	MAC        string
	Capability string
	Key        string
	UniqueID   string

	mu        sync.Mutex
	available bool
	unsubs    []func()
}

// Available reports whether the entity currently serves values.
func (e *Entity) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

func (e *Entity) setAvailable(v bool) {
	e.mu.Lock()
	e.available = v
	e.mu.Unlock()
}

func (e *Entity) drain() {
	e.mu.Lock()
	unsubs := e.unsubs
	e.unsubs = nil
	e.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// Registry projects stick nodes into entities, persists them, and relays
// node callbacks onto the event bus. One registry per hub.
type Registry struct {
	hub    *Hub
	logger *slog.Logger

	mu       sync.RWMutex
	entities map[string][]*Entity
}

// NewRegistry creates an empty registry bound to a hub.
func NewRegistry(h *Hub) *Registry {
	return &Registry{
		hub:      h,
		logger:   h.logger.With("component", "registry"),
		entities: make(map[string][]*Entity),
	}
}

// capabilitiesFor derives entity capabilities from node features. Every node
// gets measurement sensors; a relay adds a switch, motion adds a binary
// sensor.
func capabilitiesFor(features []string) []string {
	caps := []string{}
	for _, f := range features {
		switch f {
		case stick.FeatureRelay:
			caps = append(caps, CapabilitySwitch)
		case stick.FeatureMotion:
			caps = append(caps, CapabilityBinarySensor)
		}
	}
	caps = append(caps, CapabilitySensor)
	return caps
}

// entityKeysFor expands a capability into the entity keys it contributes.
func entityKeysFor(capability string) []string {
	switch capability {
	case CapabilitySwitch:
		return []string{"relay"}
	case CapabilityBinarySensor:
		return []string{"motion"}
	case CapabilitySensor:
		return sensorEntityKeys
	}
	return nil
}

// SyncNodes walks the stick's node table after a scan: persists each node,
// builds its entities, and wires the node callbacks. Idempotent; nodes
// already attached are skipped.
func (r *Registry) SyncNodes() error {
	for mac, node := range r.hub.stick.Nodes() {
		if node == nil {
			continue
		}
		r.mu.RLock()
		_, attached := r.entities[mac]
		r.mu.RUnlock()
		if attached {
			continue
		}
		if err := r.attach(node); err != nil {
			return fmt.Errorf("attach node %s: %w", mac, err)
		}
	}
	return nil
}

// attach persists a node and builds its entity set with live callbacks.
func (r *Registry) attach(node stick.Node) error {
	mac := node.MAC()
	caps := capabilitiesFor(node.Features())

	var entities []*Entity
	var entityIDs []string
	for _, capability := range caps {
		for _, key := range entityKeysFor(capability) {
			e := &Entity{
				MAC:        mac,
				Capability: capability,
				Key:        key,
				UniqueID:   mac + "-" + key,
				available:  node.Available(),
			}
			entities = append(entities, e)
			entityIDs = append(entityIDs, e.UniqueID)
		}
	}
	sort.Strings(entityIDs)

	if err := r.persist(node, caps, entityIDs); err != nil {
		return err
	}

	for _, e := range entities {
		r.subscribeEntity(node, e)
	}

	r.mu.Lock()
	r.entities[mac] = entities
	r.mu.Unlock()

	r.logger.Debug("node attached",
		"mac", mac, "model", node.HardwareModel(), "entities", len(entities))
	return nil
}

// persist writes the node record, keeping the original join time when the
// node was seen before.
func (r *Registry) persist(node stick.Node, caps, entityIDs []string) error {
	mac := node.MAC()
	now := time.Now()
	rec := &store.Node{
		MAC:             mac,
		HardwareModel:   node.HardwareModel(),
		FirmwareVersion: node.FirmwareVersion(),
		Capabilities:    caps,
		EntityIDs:       entityIDs,
		Available:       node.Available(),
		JoinedAt:        now,
		LastSeen:        now,
		Properties:      map[string]any{},
	}
	if prev, err := r.hub.store.GetNode(mac); err == nil {
		rec.JoinedAt = prev.JoinedAt
		if prev.Properties != nil {
			rec.Properties = prev.Properties
		}
	}
	return r.hub.store.SaveNode(rec)
}

// subscribeEntity wires an entity to its node callbacks. A panic inside an
// update never crosses the callback boundary; the entity is marked
// unavailable instead.
func (r *Registry) subscribeEntity(node stick.Node, e *Entity) {
	handle := func(fn func()) func() {
		return func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("entity update failed",
						"unique_id", e.UniqueID, "panic", rec)
					e.setAvailable(false)
				}
			}()
			fn()
		}
	}

	unsubAvail := node.Subscribe(stick.NodeEventAvailability, handle(func() {
		r.onAvailability(node, e)
	}))
	e.unsubs = append(e.unsubs, unsubAvail)

	var valueEvent string
	switch e.Capability {
	case CapabilitySwitch:
		valueEvent = stick.NodeEventRelay
	case CapabilityBinarySensor:
		valueEvent = stick.NodeEventMotion
	case CapabilitySensor:
		valueEvent = stick.NodeEventPower
	}
	if valueEvent == "" {
		return
	}
	unsubValue := node.Subscribe(valueEvent, handle(func() {
		r.onValue(node, e)
	}))
	e.unsubs = append(e.unsubs, unsubValue)
}

func (r *Registry) onAvailability(node stick.Node, e *Entity) {
	available := node.Available()
	e.setAvailable(available)
	if err := r.hub.store.UpdateNode(e.MAC, func(n *store.Node) error {
		n.Available = available
		n.LastSeen = time.Now()
		return nil
	}); err != nil {
		r.logger.Warn("persist availability", "mac", e.MAC, "err", err)
	}
	r.hub.events.Emit(Event{Type: EventPropertyUpdate, Data: PropertyUpdate{
		MAC: e.MAC, Property: "available", Value: available,
	}})
}

func (r *Registry) onValue(node stick.Node, e *Entity) {
	value, ok := node.Value(e.Key)
	if !ok {
		return
	}
	e.setAvailable(true)
	if err := r.hub.store.UpdateNode(e.MAC, func(n *store.Node) error {
		if n.Properties == nil {
			n.Properties = map[string]any{}
		}
		n.Properties[e.Key] = value
		n.LastSeen = time.Now()
		return nil
	}); err != nil {
		r.logger.Warn("persist property", "mac", e.MAC, "key", e.Key, "err", err)
	}
	r.hub.events.Emit(Event{Type: EventPropertyUpdate, Data: PropertyUpdate{
		MAC: e.MAC, Property: e.Key, Value: value,
	}})
}

// PropertyUpdate is the payload of EventPropertyUpdate.
type PropertyUpdate struct {
	MAC      string `json:"mac"`
	Property string `json:"property"`
	Value    any    `json:"value"`
}

// JoinNotification is the payload of EventJoinRequest.
type JoinNotification struct {
	MAC     string `json:"mac"`
	Model   string `json:"model"`
	Message string `json:"message"`
}

// JoinRequestMessage renders the operator notification for a freshly joined
// device. Only the MAC tail is shown; the full address stays out of
// notification surfaces.
func JoinRequestMessage(model, mac string) string {
	tail := mac
	if len(mac) > 5 {
		tail = mac[len(mac)-5:]
	}
	return fmt.Sprintf(
		"A new Plugwise device has been joined : \n\n - %s (%s)\n\nPlease configure this device at the device dashboard",
		model, tail,
	)
}

// HandleJoinRequest is invoked by the stick when a node joined the network.
// The node is attached like any scanned node and operators are notified.
func (r *Registry) HandleJoinRequest(mac string) {
	node, ok := r.hub.stick.Nodes()[mac]
	if !ok || node == nil {
		r.logger.Warn("join request for unknown node", "mac", mac)
		return
	}
	if err := r.attach(node); err != nil {
		r.logger.Error("attach joined node", "mac", mac, "err", err)
		return
	}

	r.hub.events.Emit(Event{Type: EventNodeJoined, Data: mac})
	r.hub.events.Emit(Event{Type: EventJoinRequest, Data: JoinNotification{
		MAC:     mac,
		Model:   node.HardwareModel(),
		Message: JoinRequestMessage(node.HardwareModel(), mac),
	}})
	r.logger.Info("node joined", "mac", mac, "model", node.HardwareModel())
}

// AddNode asks the stick to admit a node into the network. The join itself
// completes asynchronously via HandleJoinRequest.
func (r *Registry) AddNode(mac string) error {
	parsed, err := ParseMAC(mac)
	if err != nil {
		return err
	}
	if err := r.hub.stick.NodeJoin(parsed); err != nil {
		return fmt.Errorf("join node %s: %w", parsed, err)
	}
	r.logger.Info("node join requested", "mac", parsed)
	return nil
}

// RemoveNode unjoins a node from the network, detaches its entities, and
// deletes the stored record.
func (r *Registry) RemoveNode(mac string) error {
	parsed, err := ParseMAC(mac)
	if err != nil {
		return err
	}
	if err := r.hub.stick.NodeUnjoin(parsed); err != nil {
		return fmt.Errorf("unjoin node %s: %w", parsed, err)
	}
	r.detach(parsed)
	if err := r.hub.store.DeleteNode(parsed); err != nil {
		return fmt.Errorf("delete node %s: %w", parsed, err)
	}
	r.hub.events.Emit(Event{Type: EventNodeLeft, Data: parsed})
	r.logger.Info("node removed", "mac", parsed)
	return nil
}

// SwitchRelay flips a node's relay.
func (r *Registry) SwitchRelay(mac string, on bool) error {
	parsed, err := ParseMAC(mac)
	if err != nil {
		return err
	}
	node, ok := r.hub.stick.Nodes()[parsed]
	if !ok || node == nil {
		return fmt.Errorf("node %s: %w", parsed, store.ErrNotFound)
	}
	return node.SwitchRelay(on)
}

// Entities returns the live entity set for a node, nil if not attached.
func (r *Registry) Entities(mac string) []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[mac]
}

// detach drains a node's entity subscriptions and forgets them.
func (r *Registry) detach(mac string) {
	r.mu.Lock()
	entities := r.entities[mac]
	delete(r.entities, mac)
	r.mu.Unlock()
	for _, e := range entities {
		e.drain()
	}
}

// Close drains every entity subscription.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.entities
	r.entities = make(map[string][]*Entity)
	r.mu.Unlock()
	for _, entities := range all {
		for _, e := range entities {
			e.drain()
		}
	}
}

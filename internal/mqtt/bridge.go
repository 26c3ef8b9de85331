//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"plugwise-hub/internal/hub"
	"plugwise-hub/internal/smile"
	"plugwise-hub/internal/store"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge connects the Plugwise hub to MQTT with HA autodiscovery.
type Bridge struct {
	client pahomqtt.Client
	hub    *hub.Hub
	prefix string
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc

	// Per-node state accumulator.
	mu     sync.Mutex
	states map[string]map[string]any // MAC -> property map
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(h *hub.Hub, cfg Config, logger *slog.Logger) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		hub:    h,
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
		states: make(map[string]map[string]any),
		ctx:    ctx,
		cancel: cancel,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("plugwise-hub").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAllDiscovery()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to hub events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.hub.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event hub.Event) {
	switch event.Type {
	case hub.EventPropertyUpdate:
		b.handlePropertyUpdate(event)
	case hub.EventNodeJoined:
		b.handleNodeJoined(event)
	case hub.EventNodeLeft:
		b.handleNodeLeft(event)
	case hub.EventJoinRequest:
		b.handleJoinRequest(event)
	case hub.EventGatewayUpdate:
		b.handleGatewayUpdate(event)
	case hub.EventNotification:
		b.handleNotification(event)
	case hub.EventNetworkState:
		if state, ok := event.Data.(string); ok {
			b.publish(b.prefix+"/bridge/network", []byte(state), true)
		}
	}
}

func (b *Bridge) handlePropertyUpdate(event hub.Event) {
	u, ok := event.Data.(hub.PropertyUpdate)
	if !ok {
		return
	}

	b.mu.Lock()
	state, ok := b.states[u.MAC]
	if !ok {
		state = make(map[string]any)
		b.states[u.MAC] = state
	}
	state[u.Property] = haValue(u.Property, u.Value)
	if node, err := b.hub.Store().GetNode(u.MAC); err == nil {
		state["last_seen"] = node.LastSeen.Format(time.RFC3339)
	}
	payload := mustJSON(state)
	b.mu.Unlock()

	b.publish(b.prefix+"/"+u.MAC, payload, true)
}

func (b *Bridge) handleNodeJoined(event hub.Event) {
	mac, ok := event.Data.(string)
	if !ok {
		return
	}
	node, err := b.hub.Store().GetNode(mac)
	if err != nil {
		b.logger.Warn("joined node not in store", "mac", mac)
		return
	}
	b.publishNodeDiscovery(node)
	b.subscribeNodeCommands(node)
}

func (b *Bridge) handleNodeLeft(event hub.Event) {
	mac, ok := event.Data.(string)
	if !ok {
		return
	}
	for _, msg := range buildRemoveDiscovery(mac) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.mu.Lock()
	delete(b.states, mac)
	b.mu.Unlock()
}

func (b *Bridge) handleJoinRequest(event hub.Event) {
	note, ok := event.Data.(hub.JoinNotification)
	if !ok {
		return
	}
	b.publish(b.prefix+"/bridge/notify", mustJSON(note), false)
}

func (b *Bridge) handleGatewayUpdate(event hub.Event) {
	snap, ok := event.Data.(smile.Snapshot)
	if !ok {
		return
	}
	availability := "offline"
	if snap.Available {
		availability = "online"
	}
	b.publish(b.prefix+"/gateway/availability", []byte(availability), true)
	if snap.Data != nil {
		b.publish(b.prefix+"/gateway", mustJSON(snap.Data), true)
	}
}

func (b *Bridge) handleNotification(event hub.Event) {
	notes, ok := event.Data.(smile.Notifications)
	if !ok {
		return
	}
	b.publish(b.prefix+"/gateway/notifications", mustJSON(notes.Messages), true)
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publishAllDiscovery() {
	nodes, err := b.hub.Store().ListNodes()
	if err != nil {
		b.logger.Error("list nodes for discovery", "err", err)
		return
	}
	for _, node := range nodes {
		b.publishNodeDiscovery(node)
	}
}

func (b *Bridge) publishNodeDiscovery(node *store.Node) {
	for _, msg := range buildDiscovery(node, b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "mac", node.MAC, "model", node.HardwareModel)
}

func (b *Bridge) subscribeCommands() {
	nodes, err := b.hub.Store().ListNodes()
	if err != nil {
		b.logger.Error("list nodes for command subscription", "err", err)
		return
	}
	for _, node := range nodes {
		b.subscribeNodeCommands(node)
	}

	// Bridge-level device management.
	b.client.Subscribe(b.prefix+"/bridge/request/device/add", 1,
		func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleDeviceRequest(msg.Payload(), b.hub.Registry().AddNode)
		})
	b.client.Subscribe(b.prefix+"/bridge/request/device/remove", 1,
		func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleDeviceRequest(msg.Payload(), b.hub.Registry().RemoveNode)
		})
}

func (b *Bridge) subscribeNodeCommands(node *store.Node) {
	if !hasCapability(node, "switch") {
		return
	}
	mac := node.MAC
	b.client.Subscribe(b.prefix+"/"+mac+"/set", 1,
		func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleRelayCommand(mac, msg.Payload())
		})
}

func (b *Bridge) handleRelayCommand(mac string, payload []byte) {
	var cmd map[string]any
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command JSON", "mac", mac, "err", err)
		return
	}
	state, ok := cmd["relay"].(string)
	if !ok {
		return
	}

	var on bool
	switch strings.ToUpper(state) {
	case "ON":
		on = true
	case "OFF":
		on = false
	default:
		return
	}

	if err := b.hub.Registry().SwitchRelay(mac, on); err != nil {
		b.logger.Warn("relay command failed", "mac", mac, "err", err)
		return
	}
	b.handlePropertyUpdate(hub.Event{
		Type: hub.EventPropertyUpdate,
		Data: hub.PropertyUpdate{MAC: mac, Property: "relay", Value: on},
	})
}

func (b *Bridge) handleDeviceRequest(payload []byte, fn func(mac string) error) {
	var req struct {
		MAC string `json:"mac"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Warn("invalid device request", "err", err)
		return
	}
	if err := fn(req.MAC); err != nil {
		b.logger.Warn("device request failed", "mac", req.MAC, "err", err)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func hasCapability(node *store.Node, capability string) bool {
	for _, c := range node.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// haValue converts relay and motion booleans to the ON/OFF strings Home
// Assistant expects; everything else passes through.
func haValue(property string, value any) any {
	if property != "relay" && property != "motion" {
		return value
	}
	if on, ok := value.(bool); ok {
		if on {
			return "ON"
		}
		return "OFF"
	}
	return value
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

package stick

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// SimStick is an in-process stick driver backed by a fabricated Circle mesh.
// It lets the daemon run end to end without hardware: nodes produce drifting
// power readings, relays switch instantly, and joins are honored for any
// well-formed MAC. The lifecycle sequencing and failure handling above the
// driver behave exactly as with a real stick.
type SimStick struct {
	logger *slog.Logger

	mu         sync.Mutex
	nodes      map[string]*simNode
	allowJoin  bool
	autoAccept bool
	joinSubs   map[uint64]func(mac string)
	nextSub    uint64
	stopAuto   chan struct{}
}

// NewSimStick creates a simulated stick pre-seeded with a few Circle plugs.
func NewSimStick(logger *slog.Logger) *SimStick {
	s := &SimStick{
		logger:   logger.With("component", "simstick"),
		nodes:    make(map[string]*simNode),
		joinSubs: make(map[uint64]func(mac string)),
	}
	s.seed("000D6F0001A1B2C3", "Circle+", []string{FeatureRelay, FeaturePower, FeatureEnergy, FeaturePing, FeatureRSSI})
	s.seed("000D6F0001D4E5F6", "Circle", []string{FeatureRelay, FeaturePower, FeatureEnergy, FeaturePing, FeatureRSSI})
	s.seed("000D6F0001112233", "Scan", []string{FeatureMotion, FeaturePing, FeatureRSSI})
	return s
}

func (s *SimStick) Connect() error             { return nil }
func (s *SimStick) Initialize() error          { return nil }
func (s *SimStick) DiscoverCoordinator() error { return nil }
func (s *SimStick) Scan() error                { return nil }

func (s *SimStick) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopAuto != nil {
		close(s.stopAuto)
		s.stopAuto = nil
	}
	return nil
}

func (s *SimStick) Nodes() map[string]Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Node, len(s.nodes))
	for mac, n := range s.nodes {
		out[mac] = n
	}
	return out
}

func (s *SimStick) JoinedNodes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

func (s *SimStick) NodeJoin(mac string) error {
	mac = strings.ToUpper(mac)
	s.mu.Lock()
	if _, ok := s.nodes[mac]; ok {
		s.mu.Unlock()
		return fmt.Errorf("node %s already joined", mac)
	}
	s.mu.Unlock()

	s.seed(mac, "Circle", []string{FeatureRelay, FeaturePower, FeatureEnergy, FeaturePing, FeatureRSSI})
	s.notifyJoin(mac)
	return nil
}

func (s *SimStick) NodeUnjoin(mac string) error {
	mac = strings.ToUpper(mac)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[mac]; !ok {
		return fmt.Errorf("node %s not joined", mac)
	}
	delete(s.nodes, mac)
	return nil
}

func (s *SimStick) AllowJoinRequests(join, accept bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowJoin = join
	s.autoAccept = accept
}

func (s *SimStick) SubscribeJoinRequests(fn func(mac string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.joinSubs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.joinSubs, id)
	}
}

// AutoUpdate starts the periodic reading refresh. Each tick nudges every
// powered node's wattage and fires its power subscriptions.
func (s *SimStick) AutoUpdate() {
	s.mu.Lock()
	if s.stopAuto != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stopAuto = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.refresh()
			}
		}
	}()
}

func (s *SimStick) refresh() {
	s.mu.Lock()
	nodes := make([]*simNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	s.mu.Unlock()

	for _, n := range nodes {
		n.tick()
	}
}

func (s *SimStick) notifyJoin(mac string) {
	s.mu.Lock()
	subs := make([]func(string), 0, len(s.joinSubs))
	for _, fn := range s.joinSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(mac)
	}
}

func (s *SimStick) seed(mac, model string, features []string) {
	n := &simNode{
		mac:      strings.ToUpper(mac),
		model:    model,
		firmware: "2011-06-27",
		features: features,
		values:   make(map[string]any),
		subs:     make(map[string]map[uint64]func()),
	}
	if n.hasFeature(FeatureRelay) {
		n.values["relay"] = true
	}
	if n.hasFeature(FeatureMotion) {
		n.values["motion"] = false
	}
	if n.hasFeature(FeaturePower) {
		n.values["power_1s"] = 5 + rand.Float64()*50
		n.values["power_8s"] = n.values["power_1s"]
	}
	if n.hasFeature(FeatureEnergy) {
		n.values["energy_consumption_today"] = rand.Float64() * 2
	}
	if n.hasFeature(FeaturePing) {
		n.values["ping"] = 20 + rand.Intn(40)
	}
	if n.hasFeature(FeatureRSSI) {
		n.values["RSSI_in"] = -40 - rand.Intn(30)
		n.values["RSSI_out"] = -40 - rand.Intn(30)
	}

	s.mu.Lock()
	s.nodes[n.mac] = n
	s.mu.Unlock()
}

type simNode struct {
	mac      string
	model    string
	firmware string
	features []string

	mu      sync.Mutex
	values  map[string]any
	subs    map[string]map[uint64]func()
	nextSub uint64
}

func (n *simNode) MAC() string             { return n.mac }
func (n *simNode) HardwareModel() string   { return n.model }
func (n *simNode) FirmwareVersion() string { return n.firmware }
func (n *simNode) Available() bool         { return true }
func (n *simNode) Features() []string      { return n.features }

func (n *simNode) Value(feature string) (any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.values[feature]
	return v, ok
}

func (n *simNode) SwitchRelay(on bool) error {
	if !n.hasFeature(FeatureRelay) {
		return fmt.Errorf("node %s has no relay", n.mac)
	}
	n.mu.Lock()
	n.values["relay"] = on
	if !on {
		n.values["power_1s"] = 0.0
		n.values["power_8s"] = 0.0
	}
	n.mu.Unlock()
	n.fire(NodeEventRelay)
	n.fire(NodeEventPower)
	return nil
}

func (n *simNode) Subscribe(event string, fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs[event] == nil {
		n.subs[event] = make(map[uint64]func())
	}
	id := n.nextSub
	n.nextSub++
	n.subs[event][id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[event], id)
	}
}

// tick drifts the power reading of a switched-on node and fires the power
// subscriptions.
func (n *simNode) tick() {
	if !n.hasFeature(FeaturePower) {
		return
	}
	n.mu.Lock()
	if on, ok := n.values["relay"].(bool); ok && !on {
		n.mu.Unlock()
		return
	}
	w, _ := n.values["power_1s"].(float64)
	w += rand.Float64()*4 - 2
	if w < 0 {
		w = 0
	}
	n.values["power_1s"] = w
	n.values["power_8s"] = w
	if e, ok := n.values["energy_consumption_today"].(float64); ok {
		n.values["energy_consumption_today"] = e + w*10/3600/1000
	}
	n.mu.Unlock()
	n.fire(NodeEventPower)
}

func (n *simNode) fire(event string) {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.subs[event]))
	for _, fn := range n.subs[event] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (n *simNode) hasFeature(f string) bool {
	for _, have := range n.features {
		if have == f {
			return true
		}
	}
	return false
}

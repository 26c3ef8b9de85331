package hub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"plugwise-hub/internal/stick"
	"plugwise-hub/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory Store for tests.
type memStore struct {
	mu    sync.Mutex
	nodes map[string]*store.Node
	hub   *store.HubState
}

func newMemStore() *memStore {
	return &memStore{nodes: make(map[string]*store.Node)}
}

func (s *memStore) SaveNode(node *store.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *node
	s.nodes[node.MAC] = &cp
	return nil
}

func (s *memStore) GetNode(mac string) (*store.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[mac]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *node
	return &cp, nil
}

func (s *memStore) DeleteNode(mac string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, mac)
	return nil
}

func (s *memStore) ListNodes() ([]*store.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		cp := *node
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) UpdateNode(mac string, fn func(node *store.Node) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[mac]
	if !ok {
		return store.ErrNotFound
	}
	return fn(node)
}

func (s *memStore) SaveHubState(state *store.HubState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.hub = &cp
	return nil
}

func (s *memStore) GetHubState() (*store.HubState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hub == nil {
		return nil, store.ErrNotFound
	}
	cp := *s.hub
	return &cp, nil
}

func (s *memStore) Close() error { return nil }

// fakeNode implements stick.Node for tests.
type fakeNode struct {
	mu           sync.Mutex
	mac          string
	model        string
	fw           string
	avail        bool
	features     []string
	values       map[string]any
	panicOnValue bool
	relayLog     []bool
	subs         map[string][]func()
}

func newFakeNode(mac, model string, features ...string) *fakeNode {
	return &fakeNode{
		mac:      mac,
		model:    model,
		fw:       "2011-06-27",
		avail:    true,
		features: features,
		values:   make(map[string]any),
		subs:     make(map[string][]func()),
	}
}

func (n *fakeNode) MAC() string             { return n.mac }
func (n *fakeNode) HardwareModel() string   { return n.model }
func (n *fakeNode) FirmwareVersion() string { return n.fw }

func (n *fakeNode) Available() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.avail
}

func (n *fakeNode) Features() []string { return n.features }

func (n *fakeNode) Value(feature string) (any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.panicOnValue {
		panic("value read failed")
	}
	v, ok := n.values[feature]
	return v, ok
}

func (n *fakeNode) SwitchRelay(on bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.relayLog = append(n.relayLog, on)
	return nil
}

func (n *fakeNode) Subscribe(event string, fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs[event] = append(n.subs[event], fn)
	return func() {}
}

func (n *fakeNode) setValue(key string, v any) {
	n.mu.Lock()
	n.values[key] = v
	n.mu.Unlock()
}

func (n *fakeNode) fire(event string) {
	n.mu.Lock()
	fns := append([]func(){}, n.subs[event]...)
	n.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// fakeStick implements stick.Stick for tests and counts disconnects.
type fakeStick struct {
	mu sync.Mutex

	connectErr  error
	connectHang time.Duration
	initErr     error
	discoverErr error
	scanErr     error

	connects    int
	disconnects int

	nodes map[string]stick.Node

	allowJoin   bool
	allowAccept bool
	joinFn      func(mac string)

	joins   []string
	unjoins []string
}

func newFakeStick(nodes ...stick.Node) *fakeStick {
	s := &fakeStick{nodes: make(map[string]stick.Node)}
	for _, n := range nodes {
		s.nodes[n.MAC()] = n
	}
	return s
}

func (s *fakeStick) Connect() error {
	s.mu.Lock()
	s.connects++
	hang := s.connectHang
	err := s.connectErr
	s.mu.Unlock()
	if hang > 0 {
		time.Sleep(hang)
	}
	return err
}

func (s *fakeStick) Initialize() error          { return s.initErr }
func (s *fakeStick) DiscoverCoordinator() error { return s.discoverErr }
func (s *fakeStick) Scan() error                { return s.scanErr }

func (s *fakeStick) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	return nil
}

func (s *fakeStick) Nodes() map[string]stick.Node { return s.nodes }
func (s *fakeStick) JoinedNodes() int             { return len(s.nodes) }

func (s *fakeStick) NodeJoin(mac string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins = append(s.joins, mac)
	return nil
}

func (s *fakeStick) NodeUnjoin(mac string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unjoins = append(s.unjoins, mac)
	return nil
}

func (s *fakeStick) AllowJoinRequests(join, accept bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowJoin = join
	s.allowAccept = accept
}

func (s *fakeStick) SubscribeJoinRequests(fn func(mac string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinFn = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.joinFn = nil
	}
}

func (s *fakeStick) AutoUpdate() {}

func (s *fakeStick) disconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

func newTestHub(s *fakeStick, cfg Config) (*Hub, *memStore) {
	logger := testLogger()
	db := newMemStore()
	return New(s, db, NewEventBus(logger), cfg, logger), db
}

func TestSetupConnectFailureDoesNotDisconnect(t *testing.T) {
	fs := newFakeStick()
	fs.connectErr = stick.ErrPort
	h, _ := newTestHub(fs, Config{})

	err := h.Setup(context.Background())
	if err == nil {
		t.Fatal("expected setup error")
	}
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("error should be retryable, got %v", err)
	}
	if !errors.Is(err, stick.ErrPort) {
		t.Errorf("error should wrap the port failure, got %v", err)
	}
	if got := fs.disconnectCount(); got != 0 {
		t.Errorf("disconnects = %d, want 0", got)
	}
	if h.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", h.State())
	}
}

func TestSetupLaterFailuresDisconnectExactlyOnce(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*fakeStick)
		wrapped error
	}{
		{"initialize", func(s *fakeStick) { s.initErr = stick.ErrStickInit }, stick.ErrStickInit},
		{"discover circle+", func(s *fakeStick) { s.discoverErr = stick.ErrCirclePlus }, stick.ErrCirclePlus},
		{"network down", func(s *fakeStick) { s.discoverErr = stick.ErrNetworkDown }, stick.ErrNetworkDown},
		{"scan", func(s *fakeStick) { s.scanErr = stick.ErrTimeout }, stick.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeStick()
			tt.mutate(fs)
			h, _ := newTestHub(fs, Config{})

			err := h.Setup(context.Background())
			if err == nil {
				t.Fatal("expected setup error")
			}
			if !errors.Is(err, ErrNotReady) {
				t.Errorf("error should be retryable, got %v", err)
			}
			if !errors.Is(err, tt.wrapped) {
				t.Errorf("error should wrap %v, got %v", tt.wrapped, err)
			}
			if got := fs.disconnectCount(); got != 1 {
				t.Errorf("disconnects = %d, want 1", got)
			}
			if h.State() != StateDisconnected {
				t.Errorf("state = %v, want disconnected", h.State())
			}

			// Teardown after a failed setup must not disconnect again.
			h.Shutdown()
			if got := fs.disconnectCount(); got != 1 {
				t.Errorf("disconnects after shutdown = %d, want 1", got)
			}
		})
	}
}

func TestSetupConnectTimeoutDisconnects(t *testing.T) {
	fs := newFakeStick()
	fs.connectHang = 200 * time.Millisecond
	h, _ := newTestHub(fs, Config{StageTimeout: 20 * time.Millisecond})

	err := h.Setup(context.Background())
	if !errors.Is(err, stick.ErrTimeout) {
		t.Fatalf("error should map to timeout, got %v", err)
	}
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("error should be retryable, got %v", err)
	}
	if got := fs.disconnectCount(); got != 1 {
		t.Errorf("disconnects = %d, want 1", got)
	}
}

func TestSetupSuccess(t *testing.T) {
	circle := newFakeNode("000D6F0000A1B2C3", "Circle+", stick.FeatureRelay, stick.FeaturePower)
	scan := newFakeNode("000D6F0000D4E5F6", "Scan", stick.FeatureMotion)
	fs := newFakeStick(circle, scan)
	h, db := newTestHub(fs, Config{AcceptJoins: true})

	if err := h.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if h.State() != StateRunning {
		t.Fatalf("state = %v, want running", h.State())
	}
	if !fs.allowJoin || !fs.allowAccept {
		t.Errorf("join requests = (%v, %v), want (true, true)", fs.allowJoin, fs.allowAccept)
	}
	if fs.joinFn == nil {
		t.Error("join request callback not registered")
	}

	rec, err := db.GetNode("000D6F0000A1B2C3")
	if err != nil {
		t.Fatalf("node not persisted: %v", err)
	}
	if rec.HardwareModel != "Circle+" {
		t.Errorf("model = %q, want Circle+", rec.HardwareModel)
	}

	h.Shutdown()
	if got := fs.disconnectCount(); got != 1 {
		t.Errorf("disconnects = %d, want 1", got)
	}
	// Idempotent.
	h.Shutdown()
	if got := fs.disconnectCount(); got != 1 {
		t.Errorf("disconnects after second shutdown = %d, want 1", got)
	}
}

func TestSetupManualJoinSkipsSubscription(t *testing.T) {
	fs := newFakeStick()
	h, _ := newTestHub(fs, Config{AcceptJoins: false})

	if err := h.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !fs.allowJoin || fs.allowAccept {
		t.Errorf("join requests = (%v, %v), want (true, false)", fs.allowJoin, fs.allowAccept)
	}
	if fs.joinFn != nil {
		t.Error("join request callback should not be registered in manual mode")
	}
	h.Shutdown()
}

func TestSetupPrefersPersistedAcceptJoins(t *testing.T) {
	fs := newFakeStick()
	h, db := newTestHub(fs, Config{AcceptJoins: false})

	// A previously persisted option wins over the config default.
	if err := db.SaveHubState(&store.HubState{AcceptJoins: true, SchemaVersion: 1}); err != nil {
		t.Fatal(err)
	}

	if err := h.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !fs.allowAccept {
		t.Error("stored accept-joins option not applied")
	}
	if fs.joinFn == nil {
		t.Error("join request callback not registered")
	}
	h.Shutdown()
}

func TestSetupPersistsDefaultAcceptJoins(t *testing.T) {
	fs := newFakeStick()
	h, db := newTestHub(fs, Config{AcceptJoins: true})

	if err := h.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	st, err := db.GetHubState()
	if err != nil {
		t.Fatalf("hub state not persisted: %v", err)
	}
	if !st.AcceptJoins {
		t.Error("persisted accept_joins = false, want true")
	}
	h.Shutdown()
}

func TestSetAcceptJoinsTogglesRunningStick(t *testing.T) {
	fs := newFakeStick()
	h, db := newTestHub(fs, Config{AcceptJoins: true})

	if err := h.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := h.SetAcceptJoins(false); err != nil {
		t.Fatalf("set accept joins: %v", err)
	}
	if fs.allowAccept {
		t.Error("stick still auto-accepting after toggle off")
	}
	if fs.joinFn != nil {
		t.Error("join callback still registered after toggle off")
	}
	st, err := db.GetHubState()
	if err != nil {
		t.Fatal(err)
	}
	if st.AcceptJoins {
		t.Error("persisted accept_joins = true, want false")
	}

	if err := h.SetAcceptJoins(true); err != nil {
		t.Fatalf("set accept joins: %v", err)
	}
	if !fs.allowAccept {
		t.Error("stick not auto-accepting after toggle on")
	}
	if fs.joinFn == nil {
		t.Error("join callback not registered after toggle on")
	}
	if !h.AcceptJoins() {
		t.Error("AcceptJoins() = false after toggle on")
	}
	h.Shutdown()
}

func TestParseMAC(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"000D6F0000A1B2C3", "000D6F0000A1B2C3", false},
		{"000d6f0000a1b2c3", "000D6F0000A1B2C3", false},
		{"00:0D:6F:00:00:A1:B2:C3", "000D6F0000A1B2C3", false},
		{"000D6F", "", true},
		{"000D6F0000A1B2CZ", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMAC(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMAC(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMAC(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMAC(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

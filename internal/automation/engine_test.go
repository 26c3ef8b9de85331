//go:build !no_automation

package automation

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"plugwise-hub/internal/hub"
	"plugwise-hub/internal/stick"
	"plugwise-hub/internal/store"
)

type stubStick struct {
	mu      sync.Mutex
	unjoins []string
}

func (s *stubStick) Connect() error             { return nil }
func (s *stubStick) Initialize() error          { return nil }
func (s *stubStick) DiscoverCoordinator() error { return nil }
func (s *stubStick) Scan() error                { return nil }
func (s *stubStick) Disconnect() error          { return nil }
func (s *stubStick) Nodes() map[string]stick.Node {
	return nil
}
func (s *stubStick) JoinedNodes() int        { return 0 }
func (s *stubStick) NodeJoin(_ string) error { return nil }
func (s *stubStick) NodeUnjoin(mac string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unjoins = append(s.unjoins, mac)
	return nil
}
func (s *stubStick) AllowJoinRequests(_, _ bool) {}
func (s *stubStick) SubscribeJoinRequests(_ func(mac string)) func() {
	return func() {}
}
func (s *stubStick) AutoUpdate() {}

func (s *stubStick) unjoined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.unjoins))
	copy(out, s.unjoins)
	return out
}

func newTestEngine(t *testing.T) (*Engine, *Manager, *stubStick, *hub.Hub) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	fs := &stubStick{}
	h := hub.New(fs, db, hub.NewEventBus(logger), hub.Config{}, logger)

	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	e := NewEngine(h, mgr, logger)
	t.Cleanup(e.Stop)
	return e, mgr, fs, h
}

func TestRunLuaCodeCapturesLogs(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`
		plugwise.log("first")
		plugwise.log("second")
	`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 2 || res.Logs[0] != "first" || res.Logs[1] != "second" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestRunLuaCodeError(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`this is not lua`)
	if res.OK {
		t.Fatal("expected failure")
	}
	if res.Error == "" {
		t.Error("error message empty")
	}
}

func TestRunLuaCodeSandbox(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`
		if os ~= nil then error("os leaked") end
		if io ~= nil then error("io leaked") end
		if require ~= nil then error("require leaked") end
	`)
	if !res.OK {
		t.Fatalf("sandbox check failed: %s", res.Error)
	}
}

func TestRunLuaCodeReadsStoredProperty(t *testing.T) {
	e, _, _, h := newTestEngine(t)

	err := h.Store().SaveNode(&store.Node{
		MAC:        "000D6F0000A1B2C3",
		Properties: map[string]any{"power_1s": 42.5},
	})
	if err != nil {
		t.Fatal(err)
	}

	res := e.RunLuaCode(`
		local v = plugwise.get_property("000D6F0000A1B2C3", "power_1s")
		plugwise.log(tostring(v))
	`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "42.5" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestScriptHandlerReceivesMatchingEvent(t *testing.T) {
	e, mgr, fs, h := newTestEngine(t)

	_, err := mgr.Save(&Script{
		ID:   "watcher",
		Meta: ScriptMeta{Name: "watcher", Enabled: true},
		LuaCode: `
			plugwise.on("property_update", {mac = "000D6F0000A1B2C3", property = "power_1s"}, function(ev)
				plugwise.unjoin(ev.mac)
			end)
		`,
	})
	if err != nil {
		t.Fatal(err)
	}

	e.Start()

	// A non-matching property must not trigger the handler.
	h.Events().Emit(hub.Event{Type: hub.EventPropertyUpdate, Data: hub.PropertyUpdate{
		MAC: "000D6F0000A1B2C3", Property: "ping", Value: 12,
	}})
	h.Events().Emit(hub.Event{Type: hub.EventPropertyUpdate, Data: hub.PropertyUpdate{
		MAC: "000D6F0000A1B2C3", Property: "power_1s", Value: 42.5,
	}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(fs.unjoined()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got := fs.unjoined()
	if len(got) != 1 || got[0] != "000D6F0000A1B2C3" {
		t.Errorf("unjoins = %v, want exactly one for 000D6F0000A1B2C3", got)
	}
}

func TestReloadStopsDisabledScript(t *testing.T) {
	e, mgr, _, _ := newTestEngine(t)

	s, err := mgr.Save(&Script{
		ID:      "toggle",
		Meta:    ScriptMeta{Name: "toggle", Enabled: true},
		LuaCode: `plugwise.log("up")`,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatalf("reload: %v", err)
	}
	e.mu.Lock()
	running := len(e.vms)
	e.mu.Unlock()
	if running != 1 {
		t.Fatalf("running scripts = %d, want 1", running)
	}

	s.Meta.Enabled = false
	if _, err := mgr.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatalf("reload disabled: %v", err)
	}
	e.mu.Lock()
	running = len(e.vms)
	e.mu.Unlock()
	if running != 0 {
		t.Errorf("running scripts = %d, want 0", running)
	}
}

func TestStartScriptBadCode(t *testing.T) {
	e, mgr, _, _ := newTestEngine(t)

	s, err := mgr.Save(&Script{
		ID:      "broken",
		Meta:    ScriptMeta{Name: "broken", Enabled: true},
		LuaCode: `plugwise.on(`,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.ReloadScript(s.ID); err == nil {
		t.Error("expected error for broken script")
	} else if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q does not name the script", err)
	}
}

package stick

import (
	"io"
	"log/slog"
	"testing"
)

func newSim() *SimStick {
	return NewSimStick(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSimStickJoinAndUnjoin(t *testing.T) {
	s := newSim()
	before := s.JoinedNodes()

	var joined string
	unsub := s.SubscribeJoinRequests(func(mac string) { joined = mac })
	defer unsub()

	if err := s.NodeJoin("000d6f0009999999"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined != "000D6F0009999999" {
		t.Errorf("join notification = %q", joined)
	}
	if s.JoinedNodes() != before+1 {
		t.Errorf("joined nodes = %d, want %d", s.JoinedNodes(), before+1)
	}
	if err := s.NodeJoin("000D6F0009999999"); err == nil {
		t.Error("duplicate join accepted")
	}

	if err := s.NodeUnjoin("000D6F0009999999"); err != nil {
		t.Fatalf("unjoin: %v", err)
	}
	if err := s.NodeUnjoin("000D6F0009999999"); err == nil {
		t.Error("double unjoin accepted")
	}
}

func TestSimNodeSwitchRelay(t *testing.T) {
	s := newSim()
	node, ok := s.Nodes()["000D6F0001D4E5F6"]
	if !ok {
		t.Fatal("seeded circle missing")
	}

	fired := 0
	unsub := node.Subscribe(NodeEventRelay, func() { fired++ })
	defer unsub()

	if err := node.SwitchRelay(false); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if fired != 1 {
		t.Errorf("relay events = %d, want 1", fired)
	}
	if v, _ := node.Value("relay"); v != false {
		t.Errorf("relay = %v, want false", v)
	}
	if w, _ := node.Value("power_1s"); w != 0.0 {
		t.Errorf("power after off = %v, want 0", w)
	}
}

func TestSimNodeNoRelayFeature(t *testing.T) {
	s := newSim()
	node, ok := s.Nodes()["000D6F0001112233"]
	if !ok {
		t.Fatal("seeded scan module missing")
	}
	if err := node.SwitchRelay(true); err == nil {
		t.Error("relay switch on relayless node accepted")
	}
}

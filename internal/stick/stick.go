// Package stick defines the contract for a Plugwise USB-stick driver.
// The wire protocol itself lives in the driver implementation; this package
// owns the interface, the failure taxonomy, and the serial transport.
package stick

// Feature identifiers reported by nodes. A node exposing FeatureRelay gets a
// switch entity, FeatureMotion gets a motion binary sensor; every node gets
// the generic sensor entities.
const (
	FeatureRelay  = "relay"
	FeatureMotion = "motion"
	FeaturePower  = "power"
	FeatureEnergy = "energy"
	FeaturePing   = "ping"
	FeatureRSSI   = "RSSI"
)

// Node event kinds for Subscribe.
const (
	NodeEventAvailability = "availability"
	NodeEventRelay        = "relay"
	NodeEventMotion       = "motion"
	NodeEventPower        = "power"
)

// Node is a single device on the Plugwise mesh.
type Node interface {
	MAC() string
	HardwareModel() string
	FirmwareVersion() string
	Available() bool
	Features() []string

	// Value returns the latest reading for a feature key (power watts,
	// relay state, motion state, ...). The second result reports whether
	// the node has produced a reading for that key yet.
	Value(feature string) (any, bool)

	// SwitchRelay sets the relay state on nodes with FeatureRelay.
	SwitchRelay(on bool) error

	// Subscribe registers a callback for a node event kind and returns the
	// matching unsubscribe function. Callers own their subscriptions and
	// must drain them before teardown.
	Subscribe(event string, fn func()) (unsubscribe func())
}

// Stick is the USB transceiver coordinating the Plugwise mesh. All methods
// up to Disconnect are blocking; the hub dispatches them off its scheduler.
type Stick interface {
	// Connect opens the physical channel. Fails with ErrPort when the
	// device path cannot be opened.
	Connect() error

	// Initialize performs the protocol handshake with the stick firmware.
	Initialize() error

	// DiscoverCoordinator locates the Circle+ head-end node. Fails with
	// ErrCirclePlus when it is unreachable or ErrNetworkDown when the mesh
	// is not responding at all.
	DiscoverCoordinator() error

	// Scan discovers all registered nodes; afterwards Nodes reflects them.
	Scan() error

	Disconnect() error

	// Nodes returns the discovered nodes keyed by MAC. Entries may be nil
	// for registered-but-unsupported hardware.
	Nodes() map[string]Node
	JoinedNodes() int

	// NodeJoin instructs the stick to accept the next join attempt from
	// the given MAC; NodeUnjoin formally removes an already-joined node.
	NodeJoin(mac string) error
	NodeUnjoin(mac string) error

	// AllowJoinRequests controls whether join requests are honored and
	// whether they are accepted automatically.
	AllowJoinRequests(join, accept bool)

	// SubscribeJoinRequests registers a callback invoked with the MAC of a
	// newly joined node. Returns the unsubscribe function.
	SubscribeJoinRequests(fn func(mac string)) (unsubscribe func())

	// AutoUpdate starts the stick's periodic node refresh.
	AutoUpdate()
}

//go:build !no_mqtt

package mqtt

import (
	"fmt"

	"plugwise-hub/internal/store"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/plugwise_000D.../power_1s/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SwVersion    string   `json:"sw_version,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Device            haDevice `json:"device"`
}

// nodeDisplayName returns a display name for the node.
func nodeDisplayName(node *store.Node) string {
	if node.HardwareModel != "" {
		return node.HardwareModel + " " + macTail(node.MAC)
	}
	return node.MAC
}

func macTail(mac string) string {
	if len(mac) > 5 {
		return mac[len(mac)-5:]
	}
	return mac
}

// nodeIdentifier returns the unique identifier for the HA device registry.
func nodeIdentifier(node *store.Node) string {
	return "plugwise_" + node.MAC
}

// sensorSpec describes one measurement entity for discovery.
type sensorSpec struct {
	key         string
	suffix      string
	deviceClass string
	unit        string
	stateClass  string
}

var sensorSpecs = []sensorSpec{
	{"power_1s", "Power", "power", "W", "measurement"},
	{"power_8s", "Power average", "power", "W", "measurement"},
	{"energy_consumption_today", "Energy today", "energy", "kWh", "total_increasing"},
	{"ping", "Ping", "", "ms", "measurement"},
	{"RSSI_in", "RSSI in", "", "", "measurement"},
	{"RSSI_out", "RSSI out", "", "", "measurement"},
}

// buildDiscovery generates HA discovery messages for a node based on its
// capabilities.
func buildDiscovery(node *store.Node, prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/" + node.MAC
	nodeID := nodeIdentifier(node)
	displayName := nodeDisplayName(node)

	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "Plugwise",
		Model:        node.HardwareModel,
		SwVersion:    node.FirmwareVersion,
		Name:         displayName,
	}

	var msgs []discoveryMsg

	if hasCapability(node, "switch") {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/switch/%s/relay/config", nodeID),
			Payload: mustJSON(haDiscovery{
				Name:              displayName,
				UniqueID:          node.MAC + "-relay",
				StateTopic:        stateTopic,
				CommandTopic:      stateTopic + "/set",
				AvailabilityTopic: avail,
				ValueTemplate:     "{{ value_json.relay }}",
				PayloadOn:         "ON",
				PayloadOff:        "OFF",
				Device:            haDev,
			}),
		})
	}

	if hasCapability(node, "binary_sensor") {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/binary_sensor/%s/motion/config", nodeID),
			Payload: mustJSON(haDiscovery{
				Name:              displayName + " Motion",
				UniqueID:          node.MAC + "-motion",
				StateTopic:        stateTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     "{{ value_json.motion }}",
				DeviceClass:       "motion",
				PayloadOn:         "ON",
				PayloadOff:        "OFF",
				Device:            haDev,
			}),
		})
	}

	for _, spec := range sensorSpecs {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, spec.key),
			Payload: mustJSON(haDiscovery{
				Name:              displayName + " " + spec.suffix,
				UniqueID:          node.MAC + "-" + spec.key,
				StateTopic:        stateTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", spec.key),
				UnitOfMeasurement: spec.unit,
				DeviceClass:       spec.deviceClass,
				StateClass:        spec.stateClass,
				Device:            haDev,
			}),
		})
	}

	return msgs
}

// buildRemoveDiscovery generates empty retained messages to remove a node
// from HA.
func buildRemoveDiscovery(mac string) []discoveryMsg {
	nodeID := "plugwise_" + mac

	components := []struct{ comp, obj string }{
		{"switch", "relay"},
		{"binary_sensor", "motion"},
	}
	for _, spec := range sensorSpecs {
		components = append(components, struct{ comp, obj string }{"sensor", spec.key})
	}

	var msgs []discoveryMsg
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", c.comp, nodeID, c.obj),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}

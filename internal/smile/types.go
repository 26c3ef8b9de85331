// Package smile projects raw Plugwise Smile gateway snapshots into
// user-facing state: icons, thermostat flags, and notification views.
package smile

// DeviceState is the raw attribute map the gateway client reports for one
// device. Values are heterogeneous (strings, booleans, numbers). Snapshots
// are read-only from this package's perspective.
type DeviceState map[string]any

// Preset is a (heating, cooling) setpoint pair.
type Preset struct {
	Heating float64 `json:"heating"`
	Cooling float64 `json:"cooling"`
}

// Meta is the network-wide element of a gateway snapshot.
type Meta struct {
	GatewayID     string                       `json:"gateway_id"`
	HeaterID      string                       `json:"heater_id"`
	ActiveDevice  bool                         `json:"active_device"`
	Notifications map[string]map[string]string `json:"notifications"`
	Presets       map[string]Preset            `json:"presets"`
}

// GatewayData is one poll snapshot: network-wide metadata plus the
// per-device state mapping. Device keys are a superset of any device id
// referenced by Meta.
type GatewayData struct {
	Meta    Meta                   `json:"meta"`
	Devices map[string]DeviceState `json:"devices"`
}

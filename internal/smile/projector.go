package smile

import (
	"errors"
	"fmt"
)

// ErrPresetNotFound is returned when a preset lookup misses. Callers asked
// for a key the table is contracted to hold, so the miss propagates instead
// of defaulting.
var ErrPresetNotFound = errors.New("preset not found")

// PresetTemp resolves the setpoint for a preset: the cooling setpoint when
// cooling is active, the heating setpoint otherwise.
func PresetTemp(preset string, coolingActive bool, presets map[string]Preset) (float64, error) {
	p, ok := presets[preset]
	if !ok {
		return 0, fmt.Errorf("preset %q: %w", preset, ErrPresetNotFound)
	}
	if coolingActive {
		return p.Cooling, nil
	}
	return p.Heating, nil
}

// Thermostat projects heating/cooling state for one device out of a gateway
// snapshot. A nil result means "unknown", which is distinct from false.
type Thermostat struct {
	data     GatewayData
	deviceID string
}

// NewThermostat creates a projection for the given device id over a
// snapshot. The snapshot is read, never mutated.
func NewThermostat(data GatewayData, deviceID string) *Thermostat {
	return &Thermostat{data: data, deviceID: deviceID}
}

// CoolingActive reports whether the heater device is actively cooling.
// Returns nil when no heater device is configured.
func (t *Thermostat) CoolingActive() *bool {
	heaterID := t.data.Meta.HeaterID
	if heaterID == "" {
		return nil
	}
	if v, ok := t.data.Devices[heaterID]["cooling_active"].(bool); ok {
		return &v
	}
	return nil
}

// CoolingState reports whether the zone is being cooled.
func (t *Thermostat) CoolingState() *bool {
	return t.resolveHVACState("cooling_state", "cooling")
}

// HeatingState reports whether the zone is being heated.
func (t *Thermostat) HeatingState() *bool {
	return t.resolveHVACState("heating_state", "heating")
}

// resolveHVACState derives a heating/cooling flag in two steps: the default
// comes from the heater device's own flag, then a control_state reported by
// the specific device overrides it. Some gateway firmware reports
// authoritative per-zone control state, so the override must win.
// Nil unless the network's active-device flag is set.
func (t *Thermostat) resolveHVACState(heaterFlag, mode string) *bool {
	if !t.data.Meta.ActiveDevice {
		return nil
	}

	var state *bool
	if v, ok := t.data.Devices[t.data.Meta.HeaterID][heaterFlag].(bool); ok {
		state = &v
	}

	if cs, ok := t.data.Devices[t.deviceID]["control_state"]; ok {
		s, _ := cs.(string)
		override := s == mode
		state = &override
	}

	return state
}

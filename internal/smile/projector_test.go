package smile

import (
	"errors"
	"testing"
)

func TestPresetTemp(t *testing.T) {
	presets := map[string]Preset{
		"home": {Heating: 20.5, Cooling: 23.0},
		"away": {Heating: 16.0, Cooling: 26.0},
	}

	tests := []struct {
		name    string
		preset  string
		cooling bool
		want    float64
	}{
		{"home heating", "home", false, 20.5},
		{"home cooling", "home", true, 23.0},
		{"away heating", "away", false, 16.0},
		{"away cooling", "away", true, 26.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PresetTemp(tt.preset, tt.cooling, presets)
			if err != nil {
				t.Fatalf("PresetTemp: %v", err)
			}
			if got != tt.want {
				t.Errorf("PresetTemp(%q, %v) = %v, want %v", tt.preset, tt.cooling, got, tt.want)
			}
		})
	}

	if _, err := PresetTemp("vacation", false, presets); !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("missing preset should return ErrPresetNotFound, got %v", err)
	}
}

func snapshotWith(activeDevice bool, heater DeviceState, zone DeviceState) GatewayData {
	data := GatewayData{
		Meta: Meta{
			GatewayID:    "gw",
			HeaterID:     "heater",
			ActiveDevice: activeDevice,
		},
		Devices: map[string]DeviceState{},
	}
	if heater != nil {
		data.Devices["heater"] = heater
	}
	if zone != nil {
		data.Devices["zone"] = zone
	}
	return data
}

func TestThermostatStatesNilWithoutActiveDevice(t *testing.T) {
	data := snapshotWith(false, DeviceState{"heating_state": true, "cooling_state": true}, nil)
	th := NewThermostat(data, "zone")

	if th.HeatingState() != nil {
		t.Error("heating state should be unknown without an active device")
	}
	if th.CoolingState() != nil {
		t.Error("cooling state should be unknown without an active device")
	}
}

func TestThermostatDefaultFromHeaterFlags(t *testing.T) {
	data := snapshotWith(true, DeviceState{"heating_state": true, "cooling_state": false}, nil)
	th := NewThermostat(data, "zone")

	if got := th.HeatingState(); got == nil || !*got {
		t.Errorf("heating state = %v, want true", got)
	}
	if got := th.CoolingState(); got == nil || *got {
		t.Errorf("cooling state = %v, want false", got)
	}
}

func TestThermostatControlStateOverrides(t *testing.T) {
	// The heater flags say heating; the zone's own control state says
	// cooling and must win for both projections.
	data := snapshotWith(true,
		DeviceState{"heating_state": true, "cooling_state": false},
		DeviceState{"control_state": "cooling"},
	)
	th := NewThermostat(data, "zone")

	if got := th.HeatingState(); got == nil || *got {
		t.Errorf("heating state = %v, want false", got)
	}
	if got := th.CoolingState(); got == nil || !*got {
		t.Errorf("cooling state = %v, want true", got)
	}
}

func TestThermostatControlStateNonString(t *testing.T) {
	// A malformed control state still overrides, resolving to false.
	data := snapshotWith(true,
		DeviceState{"heating_state": true},
		DeviceState{"control_state": 7},
	)
	th := NewThermostat(data, "zone")

	if got := th.HeatingState(); got == nil || *got {
		t.Errorf("heating state = %v, want false", got)
	}
}

func TestThermostatMissingHeaterFlag(t *testing.T) {
	data := snapshotWith(true, DeviceState{}, nil)
	th := NewThermostat(data, "zone")

	if th.HeatingState() != nil {
		t.Error("heating state should be unknown without a heater flag")
	}
}

func TestCoolingActive(t *testing.T) {
	data := snapshotWith(true, DeviceState{"cooling_active": true}, nil)
	if got := NewThermostat(data, "zone").CoolingActive(); got == nil || !*got {
		t.Errorf("cooling active = %v, want true", got)
	}

	data.Meta.HeaterID = ""
	if got := NewThermostat(data, "zone").CoolingActive(); got != nil {
		t.Errorf("cooling active without heater = %v, want nil", got)
	}
}

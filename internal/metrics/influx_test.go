package metrics

import (
	"testing"
	"time"

	"plugwise-hub/internal/hub"
)

func TestPointFor(t *testing.T) {
	ts := time.Now()

	tests := []struct {
		name   string
		update hub.PropertyUpdate
		want   bool
	}{
		{"power", hub.PropertyUpdate{MAC: "A", Property: "power_1s", Value: 42.5}, true},
		{"energy", hub.PropertyUpdate{MAC: "A", Property: "energy_consumption_today", Value: 1.2}, true},
		{"integer value", hub.PropertyUpdate{MAC: "A", Property: "power_8s", Value: 40}, true},
		{"relay is not a measurement", hub.PropertyUpdate{MAC: "A", Property: "relay", Value: true}, false},
		{"non-numeric value", hub.PropertyUpdate{MAC: "A", Property: "power_1s", Value: "on"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := pointFor(tt.update, ts)
			if ok != tt.want {
				t.Fatalf("pointFor = %v, want %v", ok, tt.want)
			}
			if !ok {
				return
			}
			if got := p.Name(); got != measurements[tt.update.Property] {
				t.Errorf("measurement = %q, want %q", got, measurements[tt.update.Property])
			}
		})
	}
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{42.5, 42.5, true},
		{float32(1.5), 1.5, true},
		{7, 7, true},
		{int64(9), 9, true},
		{"12", 0, false},
		{true, 0, false},
		{nil, 0, false},
	}

	for _, tt := range tests {
		got, ok := toFloat(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("toFloat(%v) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

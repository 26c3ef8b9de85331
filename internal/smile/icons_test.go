package smile

import "testing"

func TestIconFor(t *testing.T) {
	tests := []struct {
		category string
		state    bool
		want     string
	}{
		{"cooling", false, CoolingIcon},
		{"cooling", true, CoolingIcon},
		{"dhw-heating", false, FlameIcon},
		{"dhw and cooling", true, CoolingIcon},
		{"dhw and heating", false, HeatingIcon},
		{"heating", true, HeatingIcon},
		{"idle", false, IdleIcon},

		{"dhw_state", true, FlowOnIcon},
		{"dhw_state", false, FlowOffIcon},
		{"flame_state", true, FlameIcon},
		{"flame_state", false, IdleIcon},
		{"slave_boiler_state", true, FlameIcon},
		{"slave_boiler_state", false, IdleIcon},
		{"plugwise_notification", true, NotificationIcon},
		{"plugwise_notification", false, NoNotificationIcon},

		{"bogus", true, ""},
		{"", false, ""},
	}

	for _, tt := range tests {
		if got := IconFor(tt.category, tt.state); got != tt.want {
			t.Errorf("IconFor(%q, %v) = %q, want %q", tt.category, tt.state, got, tt.want)
		}
	}
}

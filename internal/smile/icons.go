package smile

// Icon identifiers handed to consumers (material design icon names, the
// vocabulary the source gateway UI uses).
const (
	CoolingIcon        = "mdi:snowflake"
	FlameIcon          = "mdi:fire"
	FlowOffIcon        = "mdi:water-pump-off"
	FlowOnIcon         = "mdi:water-pump"
	HeatingIcon        = "mdi:radiator"
	IdleIcon           = "mdi:circle-off-outline"
	NotificationIcon   = "mdi:mailbox-up-outline"
	NoNotificationIcon = "mdi:mailbox-outline"
)

// IconFor selects the icon for a state category.
//
// Device-state categories (cooling, heating, idle and the dhw combinations)
// map to a fixed icon and ignore state. Binary-sensor categories pick
// between an active and an inactive icon. An unknown category returns the
// empty string; this is a lookup-table contract, not a validated enum, so
// unknown keys fall through instead of erroring.
func IconFor(category string, state bool) string {
	switch category {
	// Device state
	case "cooling":
		return CoolingIcon
	case "dhw-heating":
		return FlameIcon
	case "dhw and cooling":
		return CoolingIcon
	case "dhw and heating":
		return HeatingIcon
	case "heating":
		return HeatingIcon
	case "idle":
		return IdleIcon

	// Binary sensors
	case "dhw_state":
		if state {
			return FlowOnIcon
		}
		return FlowOffIcon
	case "flame_state", "slave_boiler_state":
		if state {
			return FlameIcon
		}
		return IdleIcon
	case "plugwise_notification":
		if state {
			return NotificationIcon
		}
		return NoNotificationIcon
	}

	return ""
}

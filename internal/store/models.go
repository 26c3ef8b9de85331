package store

import "time"

// Node represents a Plugwise mesh device known to the hub.
type Node struct {
	MAC             string         `json:"mac"`
	HardwareModel   string         `json:"hardware_model,omitempty"`
	FirmwareVersion string         `json:"firmware_version,omitempty"`
	Capabilities    []string       `json:"capabilities,omitempty"`
	EntityIDs       []string       `json:"entity_ids,omitempty"`
	Available       bool           `json:"available"`
	JoinedAt        time.Time      `json:"joined_at"`
	LastSeen        time.Time      `json:"last_seen"`
	Properties      map[string]any `json:"properties,omitempty"`
}

// HubState holds persisted hub configuration.
type HubState struct {
	USBPath string `json:"usb_path"`

	// AcceptJoins controls whether newly discovered nodes are accepted
	// automatically or require a manual confirmation step.
	AcceptJoins bool `json:"accept_joins"`

	SchemaVersion int `json:"schema_version"`
}

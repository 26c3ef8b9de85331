package hub

import (
	"log/slog"
	"strings"

	"plugwise-hub/internal/store"
)

// uniqueIDMigrations maps legacy entity unique-ID suffixes to their current
// names. Order matters: the first matching suffix wins and the rest are not
// consulted. This reconciles naming changes across software versions without
// losing historical data association.
var uniqueIDMigrations = []struct {
	old, new string
}{
	{"last_second", "power_1s"},
	{"last_8_seconds", "power_8s"},
	{"day_consumption", "energy_consumption_today"},
	{"rtt", "ping"},
	{"rssi_in", "RSSI_in"},
	{"rssi_out", "RSSI_out"},
	{"relay_state", "relay"},
}

// MigrateUniqueID rewrites a persisted entity unique ID when its suffix
// matches a legacy name. Non-matching IDs are returned unchanged; the
// second result reports whether a rewrite happened.
func MigrateUniqueID(id string) (string, bool) {
	for _, m := range uniqueIDMigrations {
		if strings.HasSuffix(id, m.old) {
			return id[:len(id)-len(m.old)] + m.new, true
		}
	}
	return id, false
}

// MigrateStoredUniqueIDs runs the one-time suffix migration over every
// persisted node's entity IDs. Called once at load, before entities are
// created from the store.
func MigrateStoredUniqueIDs(st store.Store, logger *slog.Logger) error {
	nodes, err := st.ListNodes()
	if err != nil {
		return err
	}

	for _, node := range nodes {
		changed := false
		for i, id := range node.EntityIDs {
			if migrated, ok := MigrateUniqueID(id); ok {
				logger.Info("migrated unique id", "mac", node.MAC, "old", id, "new", migrated)
				node.EntityIDs[i] = migrated
				changed = true
			}
		}
		if !changed {
			continue
		}
		ids := node.EntityIDs
		if err := st.UpdateNode(node.MAC, func(n *store.Node) error {
			n.EntityIDs = ids
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

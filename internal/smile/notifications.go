package smile

import (
	"sort"
	"strings"
)

// Severities is the fixed severity set the gateway tags notifications with.
// Any unrecognized tag is normalized to "other" before bucketing.
var Severities = []string{"other", "info", "warning", "error"}

// Notifications holds the two derived views over the gateway's raw
// notification map.
type Notifications struct {
	// Attributes groups message texts per severity under "<SEVERITY>_msg"
	// keys. Nil when the snapshot carried no notifications at all, which
	// distinguishes "no data" from "data with zero notifications".
	Attributes map[string][]string

	// Messages maps notification id to "<Severity>: <message>". When one id
	// carries several severity entries only one survives; the winner is
	// unspecified (last processed). Known upstream quirk, kept as-is.
	Messages map[string]string
}

// AggregateNotifications computes both notification views from the raw
// per-id severity/message map of a snapshot.
func AggregateNotifications(notify map[string]map[string]string) Notifications {
	result := Notifications{Messages: make(map[string]string)}

	if len(notify) == 0 {
		return result
	}

	result.Attributes = make(map[string][]string, len(Severities))
	for _, severity := range Severities {
		result.Attributes[strings.ToUpper(severity)+"_msg"] = []string{}
	}

	ids := make([]string, 0, len(notify))
	for id := range notify {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for tag, msg := range notify[id] {
			if !recognizedSeverity(tag) {
				tag = "other"
			}
			key := strings.ToUpper(tag) + "_msg"
			result.Attributes[key] = append(result.Attributes[key], msg)
			result.Messages[id] = titleCase(tag) + ": " + msg
		}
	}

	return result
}

func recognizedSeverity(tag string) bool {
	for _, s := range Severities {
		if s == tag {
			return true
		}
	}
	return false
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

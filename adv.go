package tile

import "strings"

// Advertisement is one advertisement record delivered by a Driver scan.
type Advertisement struct {
	Addr      Addr
	LocalName string
	Services  []string
	RSSI      int
}

// HasService reports whether the record advertises the given service UUID.
func (a Advertisement) HasService(uuid string) bool {
	for _, s := range a.Services {
		if strings.EqualFold(s, uuid) {
			return true
		}
	}
	return false
}

// AdvHandler handles advertisement.
type AdvHandler func(a Advertisement)

// AdvFilter returns true if the advertisement matches specified condition.
type AdvFilter func(a Advertisement) bool

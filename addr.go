package tile

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Addr represents a BLE end point address.
// It's a MAC address on Linux or a CoreBluetooth device UUID on OS X.
type Addr interface {
	String() string
	Bytes() []byte
}

// NewAddr creates an Addr from string
func NewAddr(s string) Addr {
	return addr(strings.ToUpper(s))
}

type addr string

func (a addr) String() string {
	return string(a)
}

func (a addr) Bytes() []byte {
	out, err := hex.DecodeString(normalizeHex(a.String()))
	if err != nil {
		logger().Warnf("error decoding address %v: %v", a.String(), err)
	}

	return out
}

// AddrEqual compares two addresses ignoring case and separator style.
func AddrEqual(a, b Addr) bool {
	return normalizeHex(a.String()) == normalizeHex(b.String())
}

func normalizeHex(s string) string {
	return strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(s))
}

// DeriveAddr computes the BLE address a Tile is expected to advertise from
// its tile ID: the first 6 bytes of the decoded ID with the two high bits of
// the first byte forced to 11, as required for random static addresses.
//
// The result is a hint, not authoritative. Some firmware generations rotate
// their address, which is why the matcher keeps fallback tiers instead of
// filtering on this value.
func DeriveAddr(tileID string) (Addr, error) {
	id := normalizeHex(tileID)
	if len(id) < 12 {
		return nil, &InvalidIdentityError{Reason: fmt.Sprintf("tile ID too short: %d hex chars, need 12", len(id))}
	}

	b, err := hex.DecodeString(id[:12])
	if err != nil {
		return nil, &InvalidIdentityError{Reason: "tile ID is not valid hex"}
	}

	b[0] = b[0]&0x3F | 0xC0

	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return addr(strings.Join(parts, ":")), nil
}

// MatchAddrToTileID reports which of the given tile IDs derives the scanned
// address. It exists to verify the derivation against real hardware.
func MatchAddrToTileID(a Addr, tileIDs []string) (string, bool) {
	for _, id := range tileIDs {
		derived, err := DeriveAddr(id)
		if err != nil {
			continue
		}
		if AddrEqual(a, derived) {
			return id, true
		}
	}
	return "", false
}

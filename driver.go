// Package tile implements the reverse-engineered Tile tracker protocol on top
// of an injected BLE driver: address derivation, advertisement matching, the
// challenge-response authentication handshake, secure channel establishment,
// and HMAC-signed ring commands.
//
// The radio itself is not part of this package. A Driver supplies scanning,
// connecting, characteristic writes and notifications; driver/tinygo provides
// one backed by tinygo.org/x/bluetooth, and tests inject simulated devices.
package tile

import "context"

// Tile GATT UUIDs. These are fixed by the device firmware and must match
// bit-exactly for interoperability.
const (
	// ServiceUUID is advertised by every Tile tracker.
	ServiceUUID = "0000feed-0000-1000-8000-00805f9b34fb"
	// CommandCharUUID accepts MEP command frames.
	CommandCharUUID = "9d410018-35d6-f4dd-ba60-e7bd8dc491c0"
	// ResponseCharUUID notifies MEP response frames.
	ResponseCharUUID = "9d410019-35d6-f4dd-ba60-e7bd8dc491c0"
	// TileIDCharUUID holds the device's own tile ID.
	TileIDCharUUID = "9d410007-35d6-f4dd-ba60-e7bd8dc491c0"
)

// Driver is the capability this package requires from the host's BLE stack.
type Driver interface {
	// Scan streams advertisement records until ctx is done. The returned
	// channel is closed when scanning stops.
	Scan(ctx context.Context) (<-chan Advertisement, error)

	// Connect opens a GATT link to the device at addr.
	Connect(ctx context.Context, a Addr) (Conn, error)
}

// Conn is one GATT link to a tracker.
type Conn interface {
	// WriteCharacteristic writes value to the characteristic with the given UUID.
	WriteCharacteristic(uuid string, value []byte) error

	// Subscribe registers f for notifications on the characteristic with the
	// given UUID and returns an unsubscribe function.
	Subscribe(uuid string, f func(value []byte)) (unsubscribe func(), err error)

	// Close tears the link down.
	Close() error
}

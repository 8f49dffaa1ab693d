package tile

import "fmt"

// InvalidIdentityError reports a malformed tile ID or an auth key of the
// wrong length. It is returned before any radio I/O happens.
type InvalidIdentityError struct {
	Reason string
}

func (e *InvalidIdentityError) Error() string {
	return "tile: invalid identity: " + e.Reason
}

// DeviceNotFoundError reports that the scan timeout elapsed without any
// matching or fallback candidate.
type DeviceNotFoundError struct {
	TileID string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("tile: device %s not found in BLE range", shortID(e.TileID))
}

// ConnectionError reports a GATT connect, write or subscribe failure.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tile: connection: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or undersized response at a handshake or
// channel step.
type ProtocolError struct {
	Step   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tile: protocol: %s: %s", e.Step, e.Reason)
}

// AuthenticationError reports a signature mismatch during the handshake.
// It is fatal: the device did not prove knowledge of the auth key, or ours
// does not match. Key material is deliberately absent from the message.
type AuthenticationError struct{}

func (e *AuthenticationError) Error() string {
	return "tile: authentication failed: signed response mismatch"
}

// UnsupportedFeatureError reports firmware that explicitly rejects BLE-triggered
// ringing. Callers should fall back to a cloud-based ring path.
type UnsupportedFeatureError struct{}

func (e *UnsupportedFeatureError) Error() string {
	return "tile: firmware does not support BLE-triggered ring"
}

// shortID truncates a tile ID for diagnostics. Tile IDs are opaque but still
// identify a user's device, so logs and errors carry only a prefix.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

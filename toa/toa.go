// Package toa implements the Tile Over Air wire format: command identifiers,
// the connectionless MEP envelope used before a channel exists, and the
// counter-bound HMAC-signed channel message codec.
//
// Everything here is pure; counters and keys are owned by the session layer.
package toa

import "bytes"

// TOA command identifiers.
const (
	CmdChannelOpen = 0x10 // open a secure channel, payload randA
	CmdTDI         = 0x13 // Tile Device Info request
	CmdAuth        = 0x14 // authentication challenge, payload randA
	CmdSong        = 0x05 // audio playback command family
	CmdTRM         = 0x18 // ring control command family
)

// SONG transaction types.
const (
	SongPlay     = 0x02
	SongFeatures = 0x06
)

// TRM transaction types.
const (
	TRMStop = 0x02
)

// ConnectionlessID is the 5-byte marker that frames every message sent
// outside an established channel. It also salts channel key derivation.
var ConnectionlessID = []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF}

// Envelope wraps cmd and payload in a connectionless MEP frame.
func Envelope(cmd byte, payload []byte) []byte {
	out := make([]byte, 0, len(ConnectionlessID)+1+len(payload))
	out = append(out, ConnectionlessID...)
	out = append(out, cmd)
	out = append(out, payload...)
	return out
}

// StripEnvelope removes the connectionless marker from a response if present.
// Firmware generations disagree on whether notifications carry the marker, so
// frames without it pass through unchanged.
func StripEnvelope(frame []byte) []byte {
	if bytes.HasPrefix(frame, ConnectionlessID) {
		return frame[len(ConnectionlessID):]
	}
	return frame
}

// RingPayload builds the SONG play payload: transaction, flags, volume level
// and ring duration in seconds.
func RingPayload(volume, seconds byte) []byte {
	return []byte{CmdSong, SongPlay, 0x01, volume, seconds}
}

// SongFeaturesPayload builds the SONG feature query payload.
func SongFeaturesPayload() []byte {
	return []byte{CmdSong, SongFeatures}
}

// StopPayload builds the TRM stop-ring payload. The device accepts it in a
// plain connectionless envelope, without channel signing.
func StopPayload() []byte {
	return []byte{CmdTRM, TRMStop}
}

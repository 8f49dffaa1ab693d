package toa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Signed channel message layout constants.
const (
	// MessageSize is the fixed size of the authenticated message:
	// le_u32(counter) || direction || length || payload, zero-padded.
	MessageSize = 32
	// SigSize is the truncated HMAC-SHA256 signature length on the wire.
	SigSize = 4
	// MaxPayload is what fits in a MessageSize message after the header.
	MaxPayload = MessageSize - 4 - 1 - 1

	// DirectionOut marks client-to-device messages, DirectionIn the reverse.
	DirectionOut = 0x01
	DirectionIn  = 0x00
)

// ErrBadSignature reports a signature mismatch on an incoming channel frame.
var ErrBadSignature = errors.New("toa: channel frame signature mismatch")

// Sign computes the truncated signature over the counter-bound message. The
// counter must never be reused within a session: it is the replay protection.
func Sign(key []byte, counter uint32, direction byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, errors.Errorf("toa: payload %d bytes exceeds max %d", len(payload), MaxPayload)
	}

	msg := make([]byte, MessageSize)
	binary.LittleEndian.PutUint32(msg[0:4], counter)
	msg[4] = direction
	msg[5] = byte(len(payload))
	copy(msg[6:], payload)

	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)[:SigSize], nil
}

// BuildSigned assembles the wire frame for a channel command:
// channel byte, payload, truncated signature.
func BuildSigned(key []byte, channel byte, counter uint32, payload []byte) ([]byte, error) {
	sig, err := Sign(key, counter, DirectionOut, payload)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(payload)+SigSize)
	out = append(out, channel)
	out = append(out, payload...)
	out = append(out, sig...)
	return out, nil
}

// VerifySigned checks an incoming channel frame against the expected counter
// and returns its payload with the channel byte and signature stripped.
func VerifySigned(key []byte, counter uint32, frame []byte) ([]byte, error) {
	if len(frame) < 1+SigSize {
		return nil, errors.Errorf("toa: channel frame too short: %d bytes", len(frame))
	}

	data, receivedSig := frame[:len(frame)-SigSize], frame[len(frame)-SigSize:]
	payload := data[1:] // drop channel byte

	expected, err := Sign(key, counter, DirectionIn, payload)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(expected, receivedSig) {
		return nil, ErrBadSignature
	}

	return payload, nil
}

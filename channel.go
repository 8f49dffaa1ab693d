package tile

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ringfinder/tile/toa"
)

// establishPayload is the observed channel-establish body. Its meaning is
// not documented by the firmware; it is reproduced bit-exactly.
var establishPayload = []byte{0x12, 0x13}

// openChannel negotiates the secure command channel after a verified
// handshake: a channel-open exchange, key derivation, then a signed
// establish frame.
//
// The establish step is tolerant. Some firmware variants never acknowledge
// it, and some acknowledge with a signature that does not verify. Both are
// logged loudly and the operation continues; whether this is firmware
// diversity or a protocol bug upstream is unresolved, so reliability is
// surfaced in logs rather than by failing the ring.
func (op *operation) openChannel(ctx context.Context) error {
	if op.hsState != hsVerified {
		return errors.New("tile: channel open before verified handshake")
	}

	resp, err := op.link.request(ctx, toa.Envelope(toa.CmdChannelOpen, op.sess.randA), op.respTimeout)
	if err != nil {
		return wrapTimeout(err, "channel open")
	}

	body := toa.StripEnvelope(resp)
	if len(body) < 2 {
		return &ProtocolError{Step: "channel open", Reason: errors.Errorf("response too short: %d bytes", len(body)).Error()}
	}

	op.sess.channelByte = body[0]
	op.sess.channelData = append([]byte(nil), body[1:]...)
	op.sess.channelKey = deriveChannelKey(op.key, op.sess.randA, op.sess.channelData, op.sess.channelByte)
	op.log.Debugf("channel 0x%02x open, key %s", op.sess.channelByte, redactKey(op.sess.channelKey))

	frame, err := op.sess.signNext(establishPayload)
	if err != nil {
		return err
	}

	resp, err = op.link.request(ctx, frame, op.establishTimeout)
	switch {
	case errors.Is(err, errResponseTimeout):
		op.log.Warnf("no channel-establish response from %s within %v; continuing optimistically", shortID(op.tileID), op.establishTimeout)
		return nil
	case err != nil:
		return err
	}

	if _, verr := op.sess.verifySigned(resp); verr != nil {
		op.log.Warnf("channel-establish response failed verification (%v); continuing optimistically", verr)
	}
	return nil
}

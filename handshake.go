package tile

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ringfinder/tile/toa"
)

// Handshake states. The machine only moves forward; a failed handshake ends
// the operation.
type handshakeState int

const (
	hsIdle handshakeState = iota
	hsTdiRequested
	hsNonceSent
	hsVerified
	hsFailed
)

// AuthResult reports the outcome of the handshake, including which signed
// response construction the device accepted. Returning the method (instead
// of mutating shared state through a callback) lets callers remember it.
type AuthResult struct {
	Verified bool
	Method   AuthStrategy
}

// authenticate runs the challenge-response handshake:
// a TDI probe, then our nonce, then verification of the device's signed
// response against the ordered strategy list.
func (op *operation) authenticate(ctx context.Context) (AuthResult, error) {
	if op.hsState != hsIdle {
		return AuthResult{}, errors.New("tile: handshake already ran in this session")
	}

	// Device info probe. The content is not interpreted; an undersized
	// response means we are not talking to Tile firmware.
	op.hsState = hsTdiRequested
	resp, err := op.link.request(ctx, toa.Envelope(toa.CmdTDI, []byte{0x01}), op.respTimeout)
	if err != nil {
		op.hsState = hsFailed
		return AuthResult{}, wrapTimeout(err, "tdi")
	}
	if body := toa.StripEnvelope(resp); len(body) < 5 {
		op.hsState = hsFailed
		return AuthResult{}, &ProtocolError{Step: "tdi", Reason: errors.Errorf("response too short: %d bytes", len(body)).Error()}
	}

	op.hsState = hsNonceSent
	resp, err = op.link.request(ctx, toa.Envelope(toa.CmdAuth, op.sess.randA), op.respTimeout)
	if err != nil {
		op.hsState = hsFailed
		return AuthResult{}, wrapTimeout(err, "auth")
	}

	randT, sresT, perr := parseAuthResponse(toa.StripEnvelope(resp))
	if perr != nil {
		op.hsState = hsFailed
		return AuthResult{}, perr
	}
	op.sess.randT = randT

	method, ok := op.verifySres(sresT)
	if !ok {
		op.hsState = hsFailed
		return AuthResult{}, &AuthenticationError{}
	}

	op.hsState = hsVerified
	op.log.Debugf("handshake verified for %s (method %v)", shortID(op.tileID), method)

	if method != StrategyTOA && op.cache != nil {
		if err := op.cache.Store(op.tileID, method); err != nil {
			op.log.Warnf("remembering auth method %v: %v", method, err)
		}
	}

	return AuthResult{Verified: true, Method: method}, nil
}

// parseAuthResponse splits the envelope-stripped auth response into the
// device nonce and the signed response. Two shapes exist in the field,
// disambiguated by length.
func parseAuthResponse(body []byte) (randT, sresT []byte, err error) {
	switch {
	case len(body) == 15:
		// TOA format: prefix, 10-byte nonce, 4-byte signed response.
		return body[1:11], body[11:15], nil
	case len(body) >= 17:
		// Legacy format: prefix, 8-byte nonce, 8-byte signed response.
		return body[1:9], body[9:17], nil
	default:
		return nil, nil, &ProtocolError{Step: "auth", Reason: errors.Errorf("unexpected response length %d", len(body)).Error()}
	}
}

// verifySres checks the device's signed response against the strategy list:
// a cached method for this tile first, then the canonical construction, then
// the historical alternates.
func (op *operation) verifySres(sresT []byte) (AuthStrategy, bool) {
	for _, s := range op.strategyOrder() {
		expected := ComputeSres(s, op.key, op.sess.randA, op.sess.randT, len(sresT))
		if sresMatch(expected, sresT) {
			return s, true
		}
	}
	return 0, false
}

func (op *operation) strategyOrder() []AuthStrategy {
	if op.cache == nil {
		return Strategies
	}
	cached, ok := op.cache.Load(op.tileID)
	if !ok {
		return Strategies
	}

	order := []AuthStrategy{cached}
	for _, s := range Strategies {
		if s != cached {
			order = append(order, s)
		}
	}
	return order
}

func wrapTimeout(err error, step string) error {
	if errors.Is(err, errResponseTimeout) {
		return &ConnectionError{Op: step, Err: err}
	}
	return err
}

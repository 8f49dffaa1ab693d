package tile

import (
	"crypto/rand"

	"github.com/pkg/errors"

	"github.com/ringfinder/tile/toa"
)

// randASize is the length of the locally generated handshake nonce.
const randASize = 14

// Session holds the ephemeral secrets and counters for one operation against
// one tracker. Sessions are never shared: two operations, even against the
// same tile, get independent counter state. All secrets are discarded on
// teardown.
type Session struct {
	randA       []byte
	randT       []byte
	channelByte byte
	channelData []byte
	channelKey  []byte

	txCounter uint32
	rxCounter uint32
}

func newSession() (*Session, error) {
	randA := make([]byte, randASize)
	if _, err := rand.Read(randA); err != nil {
		return nil, errors.Wrap(err, "tile: generating session nonce")
	}
	return &Session{randA: randA}, nil
}

// nextTx advances and returns the outgoing counter. Pre-increment: the value
// 0 is never signed, and no value is reused within the session.
func (s *Session) nextTx() uint32 {
	s.txCounter++
	return s.txCounter
}

// nextRx advances and returns the incoming counter. The advance is
// speculative; rollbackRx undoes it when verification fails.
func (s *Session) nextRx() uint32 {
	s.rxCounter++
	return s.rxCounter
}

func (s *Session) rollbackRx() {
	s.rxCounter--
}

// established reports whether a channel key exists. Signing before the
// handshake verified would sign with a nil key, so callers gate on this.
func (s *Session) established() bool {
	return len(s.channelKey) == 16
}

// signNext builds an outgoing channel frame bound to the next tx counter.
func (s *Session) signNext(payload []byte) ([]byte, error) {
	if !s.established() {
		return nil, errors.New("tile: channel not established")
	}
	return toa.BuildSigned(s.channelKey, s.channelByte, s.nextTx(), payload)
}

// verifySigned checks an incoming channel frame, advancing the rx counter
// only when the signature matches.
func (s *Session) verifySigned(frame []byte) ([]byte, error) {
	n := s.nextRx()
	payload, err := toa.VerifySigned(s.channelKey, n, frame)
	if err != nil {
		s.rollbackRx()
		return nil, err
	}
	return payload, nil
}

// destroy zeroes the session's key material.
func (s *Session) destroy() {
	for _, b := range [][]byte{s.randA, s.randT, s.channelData, s.channelKey} {
		for i := range b {
			b[i] = 0
		}
	}
	s.channelKey = nil
}

package tile

import (
	"bytes"
	"context"
	"crypto/hmac"
	"sync"

	"github.com/pkg/errors"

	"github.com/ringfinder/tile/toa"
)

// simDriver scripts a scan result stream and fronts one simulated tile.
type simDriver struct {
	advs []Advertisement
	tile *simTile

	mu       sync.Mutex
	connects int
	closes   int
}

func (d *simDriver) Scan(ctx context.Context) (<-chan Advertisement, error) {
	ch := make(chan Advertisement, len(d.advs)+1)
	go func() {
		defer close(ch)
		for _, a := range d.advs {
			select {
			case ch <- a:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (d *simDriver) Connect(ctx context.Context, a Addr) (Conn, error) {
	d.mu.Lock()
	d.connects++
	d.mu.Unlock()

	if d.tile == nil {
		return nil, errors.New("sim: no device at " + a.String())
	}
	return &simConn{drv: d, tile: d.tile}, nil
}

func (d *simDriver) connectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

func (d *simDriver) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

type simConn struct {
	drv  *simDriver
	tile *simTile
}

func (c *simConn) WriteCharacteristic(uuid string, value []byte) error {
	if uuid != CommandCharUUID {
		return errors.Errorf("sim: write to unexpected characteristic %s", uuid)
	}
	c.tile.handle(value)
	return nil
}

func (c *simConn) Subscribe(uuid string, f func([]byte)) (func(), error) {
	if uuid != ResponseCharUUID {
		return nil, errors.Errorf("sim: subscribe to unexpected characteristic %s", uuid)
	}
	c.tile.notify = f
	return func() { c.tile.notify = nil }, nil
}

func (c *simConn) Close() error {
	c.drv.mu.Lock()
	c.drv.closes++
	c.drv.mu.Unlock()
	return nil
}

// Auth response shapes a simulated tile can produce.
const (
	shapeTOA    = "toa"    // 15 bytes: prefix + 10-byte nonce + 4-byte sres
	shapeLegacy = "legacy" // 17 bytes: prefix + 8-byte nonce + 8-byte sres
	shapeShort  = "short"  // 14 bytes stripped: rejected by the handshake
)

// simTile emulates Tile firmware behind a GATT link: it answers TDI, the
// auth challenge, channel open, and verifies signed channel frames the way
// the real device does.
type simTile struct {
	key          []byte
	shape        string
	sresStrategy AuthStrategy
	tdiShort     bool
	ackEstablish bool
	rejectRing   bool

	notify func([]byte)

	channelByte byte
	channelKey  []byte
	deviceTx    uint32
	deviceRx    uint32

	signedOK   int
	badSig     int
	ringVolume byte
	ringSecs   byte
	rings      int
	stops      int
	cmds       []byte // connectionless command bytes, in arrival order
}

func newSimTile(key []byte) *simTile {
	return &simTile{
		key:          key,
		shape:        shapeTOA,
		sresStrategy: StrategyTOA,
		channelByte:  0x21,
	}
}

func (t *simTile) send(b []byte) {
	if t.notify != nil {
		t.notify(b)
	}
}

func (t *simTile) handle(frame []byte) {
	if bytes.HasPrefix(frame, toa.ConnectionlessID) {
		body := frame[len(toa.ConnectionlessID):]
		if len(body) == 0 {
			return
		}
		t.cmds = append(t.cmds, body[0])
		t.handleConnectionless(body[0], body[1:])
		return
	}
	t.handleSigned(frame)
}

func (t *simTile) handleConnectionless(cmd byte, payload []byte) {
	switch cmd {
	case toa.CmdTDI:
		if t.tdiShort {
			t.send(toa.Envelope(toa.CmdTDI, []byte{0x01}))
			return
		}
		t.send(toa.Envelope(toa.CmdTDI, []byte{0x01, 0x02, 0x03, 0x04}))

	case toa.CmdAuth:
		randA := append([]byte(nil), payload...)
		t.send(t.authResponse(randA))

	case toa.CmdChannelOpen:
		randA := append([]byte(nil), payload...)
		data := []byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7}
		t.channelKey = deriveChannelKey(t.key, randA, data, t.channelByte)
		t.send(toa.Envelope(t.channelByte, data))

	case toa.CmdTRM:
		if len(payload) > 0 && payload[0] == toa.TRMStop {
			t.stops++
		}
	}
}

func (t *simTile) authResponse(randA []byte) []byte {
	switch t.shape {
	case shapeShort:
		return toa.Envelope(toa.CmdAuth, make([]byte, 13)) // 14 bytes stripped

	case shapeLegacy:
		randT := []byte{30, 31, 32, 33, 34, 35, 36, 37}
		sres := make([]byte, 8)
		copy(sres, ComputeSres(t.sresStrategy, t.key, randA, randT, 8))
		body := append(append([]byte(nil), randT...), sres...)
		return toa.Envelope(toa.CmdAuth, body) // 17 bytes stripped

	default:
		randT := []byte{30, 31, 32, 33, 34, 35, 36, 37, 38, 39}
		sres := make([]byte, 4)
		copy(sres, ComputeSres(t.sresStrategy, t.key, randA, randT, 4))
		body := append(append([]byte(nil), randT...), sres...)
		return toa.Envelope(toa.CmdAuth, body) // 15 bytes stripped
	}
}

// handleSigned verifies a channel frame against the device's own rx counter,
// mirroring the firmware's replay check.
func (t *simTile) handleSigned(frame []byte) {
	if len(frame) < 1+toa.SigSize || t.channelKey == nil {
		t.badSig++
		return
	}

	payload := frame[1 : len(frame)-toa.SigSize]
	sig := frame[len(frame)-toa.SigSize:]

	expected, err := toa.Sign(t.channelKey, t.deviceRx+1, toa.DirectionOut, payload)
	if err != nil || !hmac.Equal(expected, sig) {
		t.badSig++
		return
	}
	t.deviceRx++
	t.signedOK++

	if len(payload) == 0 {
		return
	}
	switch {
	case payload[0] == toa.CmdSong && len(payload) >= 5 && payload[1] == toa.SongPlay:
		t.rings++
		t.ringVolume = payload[3]
		t.ringSecs = payload[4]
		if t.rejectRing {
			t.respondSigned([]byte{toa.CmdSong, 0x20})
		}
	case payload[0] == 0x12: // channel establish
		if t.ackEstablish {
			t.respondSigned([]byte{0x12, 0x01})
		}
	}
}

func (t *simTile) respondSigned(payload []byte) {
	t.deviceTx++
	sig, err := toa.Sign(t.channelKey, t.deviceTx, toa.DirectionIn, payload)
	if err != nil {
		return
	}
	frame := append([]byte{t.channelByte}, payload...)
	t.send(append(frame, sig...))
}

func (t *simTile) sawCommand(cmd byte) bool {
	for _, c := range t.cmds {
		if c == cmd {
			return true
		}
	}
	return false
}

// memCache is a map-backed StrategyCache for tests.
type memCache struct {
	mu sync.Mutex
	m  map[string]AuthStrategy
}

func newMemCache() *memCache {
	return &memCache{m: map[string]AuthStrategy{}}
}

func (c *memCache) Load(tileID string) (AuthStrategy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[tileID]
	return s, ok
}

func (c *memCache) Store(tileID string, s AuthStrategy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[tileID] = s
	return nil
}

func (c *memCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = map[string]AuthStrategy{}
	return nil
}

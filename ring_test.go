package tile

import (
	"context"
	"testing"
	"time"
)

func testAdvs() []Advertisement {
	return []Advertisement{
		{Addr: NewAddr("C3:A7:57:B8:47:9C"), Services: []string{ServiceUUID}, RSSI: -55},
	}
}

func newTestClient(t *testing.T, d Driver, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithScanTimeout(200 * time.Millisecond),
		WithConnectTimeout(time.Second),
		WithResponseTimeout(time.Second),
		WithEstablishTimeout(20 * time.Millisecond),
		WithRingResponseWait(30 * time.Millisecond),
		WithSettleDelay(0),
	}
	c, err := NewClient(d, append(base, opts...)...)
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	return c
}

func TestRingSuccessWithoutAnyAcks(t *testing.T) {
	// Default sim: no establish ack, no ring ack — the tolerant happy path.
	sim := newSimTile(testKey)
	d := &simDriver{advs: testAdvs(), tile: sim}

	err := newTestClient(t, d).Ring(context.Background(), testTileID, testKey, VolumeHigh, 10)
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}

	if sim.rings != 1 {
		t.Fatalf("expected 1 ring frame but got %d", sim.rings)
	}
	if sim.ringVolume != 3 || sim.ringSecs != 10 {
		t.Fatalf("expected volume 3 duration 10 but got %d/%d", sim.ringVolume, sim.ringSecs)
	}
	if d.closeCount() != 1 {
		t.Fatalf("expected connection closed once but got %d", d.closeCount())
	}
}

func TestRingSignedFrameCountersStrictlyIncrease(t *testing.T) {
	// The sim verifies each signed frame against its own sequential rx
	// counter; any repeat or gap shows up as a bad signature.
	sim := newSimTile(testKey)
	d := &simDriver{advs: testAdvs(), tile: sim}

	if err := newTestClient(t, d).Ring(context.Background(), testTileID, testKey, VolumeMed, 30); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}

	// establish + feature query + ring
	if sim.signedOK != 3 {
		t.Fatalf("expected 3 verified signed frames but got %d", sim.signedOK)
	}
	if sim.badSig != 0 {
		t.Fatalf("expected no signature failures but got %d", sim.badSig)
	}
}

func TestRingWithEstablishAck(t *testing.T) {
	sim := newSimTile(testKey)
	sim.ackEstablish = true
	d := &simDriver{advs: testAdvs(), tile: sim}

	if err := newTestClient(t, d).Ring(context.Background(), testTileID, testKey, VolumeLow, 5); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if sim.rings != 1 {
		t.Fatalf("expected 1 ring frame but got %d", sim.rings)
	}
}

func TestRingLegacyAuthShape(t *testing.T) {
	sim := newSimTile(testKey)
	sim.shape = shapeLegacy
	d := &simDriver{advs: testAdvs(), tile: sim}

	if err := newTestClient(t, d).Ring(context.Background(), testTileID, testKey, VolumeMed, 15); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if sim.rings != 1 {
		t.Fatalf("expected 1 ring frame but got %d", sim.rings)
	}
}

func TestRingDeviceNotFound(t *testing.T) {
	d := &simDriver{advs: nil, tile: newSimTile(testKey)}

	err := newTestClient(t, d).Ring(context.Background(), testTileID, testKey, VolumeMed, 30)
	if _, ok := err.(*DeviceNotFoundError); !ok {
		t.Fatalf("expected *DeviceNotFoundError but got %v", err)
	}
	if d.connectCount() != 0 {
		t.Fatalf("expected no connection attempt but got %d", d.connectCount())
	}
}

func TestRingBadAuthResponseLength(t *testing.T) {
	sim := newSimTile(testKey)
	sim.shape = shapeShort
	d := &simDriver{advs: testAdvs(), tile: sim}

	err := newTestClient(t, d).Ring(context.Background(), testTileID, testKey, VolumeMed, 30)
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected *ProtocolError but got %v", err)
	}

	// The handshake aborted, so no channel work may have happened.
	if sim.sawCommand(0x10) {
		t.Fatalf("expected no channel-open after failed handshake")
	}
	if d.closeCount() != 1 {
		t.Fatalf("expected connection closed once but got %d", d.closeCount())
	}
}

func TestRingShortTdiResponse(t *testing.T) {
	sim := newSimTile(testKey)
	sim.tdiShort = true
	d := &simDriver{advs: testAdvs(), tile: sim}

	err := newTestClient(t, d).Ring(context.Background(), testTileID, testKey, VolumeMed, 30)
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected *ProtocolError but got %v", err)
	}
}

func TestRingAuthKeyMismatch(t *testing.T) {
	wrongKey := append([]byte(nil), testKey...)
	wrongKey[0] ^= 0xff
	sim := newSimTile(wrongKey)
	d := &simDriver{advs: testAdvs(), tile: sim}

	err := newTestClient(t, d).Ring(context.Background(), testTileID, testKey, VolumeMed, 30)
	if _, ok := err.(*AuthenticationError); !ok {
		t.Fatalf("expected *AuthenticationError but got %v", err)
	}
	if d.closeCount() != 1 {
		t.Fatalf("expected connection closed once but got %d", d.closeCount())
	}
}

func TestRingUnsupportedFirmware(t *testing.T) {
	sim := newSimTile(testKey)
	sim.rejectRing = true
	d := &simDriver{advs: testAdvs(), tile: sim}

	err := newTestClient(t, d).Ring(context.Background(), testTileID, testKey, VolumeMed, 30)
	if _, ok := err.(*UnsupportedFeatureError); !ok {
		t.Fatalf("expected *UnsupportedFeatureError but got %v", err)
	}
}

func TestRingStrategyFallbackRemembered(t *testing.T) {
	sim := newSimTile(testKey)
	sim.sresStrategy = StrategyLegacyConcat
	d := &simDriver{advs: testAdvs(), tile: sim}
	cache := newMemCache()

	err := newTestClient(t, d, WithStrategyCache(cache)).Ring(context.Background(), testTileID, testKey, VolumeMed, 30)
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}

	s, ok := cache.Load(testTileID)
	if !ok {
		t.Fatalf("expected the accepted method to be cached")
	}
	if s != StrategyLegacyConcat {
		t.Fatalf("expected %v cached but got %v instead", StrategyLegacyConcat, s)
	}
}

func TestRingRejectsBadIdentity(t *testing.T) {
	d := &simDriver{advs: testAdvs(), tile: newSimTile(testKey)}
	c := newTestClient(t, d)

	if err := c.Ring(context.Background(), "short", testKey, VolumeMed, 30); err == nil {
		t.Fatalf("expected error for short tile ID but got nil")
	}
	if err := c.Ring(context.Background(), testTileID, testKey[:10], VolumeMed, 30); err == nil {
		t.Fatalf("expected error for short auth key but got nil")
	}
	if err := c.Ring(context.Background(), testTileID, testKey, Volume(9), 30); err == nil {
		t.Fatalf("expected error for invalid volume but got nil")
	}
	if err := c.Ring(context.Background(), testTileID, testKey, VolumeMed, 0); err == nil {
		t.Fatalf("expected error for zero duration but got nil")
	}

	// Validation failures must never touch the radio.
	if d.connectCount() != 0 {
		t.Fatalf("expected no connection attempt but got %d", d.connectCount())
	}
}

func TestStopRingUnauthenticated(t *testing.T) {
	sim := newSimTile(testKey)
	d := &simDriver{advs: testAdvs(), tile: sim}

	if err := newTestClient(t, d).StopRing(context.Background(), testTileID, testKey); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}

	if sim.stops != 1 {
		t.Fatalf("expected 1 stop frame but got %d", sim.stops)
	}
	// Stop uses the connectionless envelope only: no handshake traffic.
	if sim.sawCommand(0x13) || sim.sawCommand(0x14) || sim.sawCommand(0x10) {
		t.Fatalf("expected no handshake commands but saw % X", sim.cmds)
	}
	if d.closeCount() != 1 {
		t.Fatalf("expected connection closed once but got %d", d.closeCount())
	}
}

func TestDiagnoseAddrs(t *testing.T) {
	d := &simDriver{advs: []Advertisement{
		{Addr: NewAddr("C3:A7:57:B8:47:9C"), Services: []string{ServiceUUID}, RSSI: -55},
		{Addr: NewAddr("AA:BB:CC:DD:EE:FF"), Services: []string{ServiceUUID}, RSSI: -60},
		{Addr: NewAddr("11:22:33:44:55:66"), RSSI: -70}, // not a tile
	}}

	found, err := newTestClient(t, d).DiagnoseAddrs(context.Background(), []string{testTileID})
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}

	if len(found) != 2 {
		t.Fatalf("expected 2 tile-service devices but got %d", len(found))
	}
	if found["C3:A7:57:B8:47:9C"] != testTileID {
		t.Fatalf("expected derived address mapped to %s but got %q", testTileID, found["C3:A7:57:B8:47:9C"])
	}
	if found["AA:BB:CC:DD:EE:FF"] != "" {
		t.Fatalf("expected unmatched address to map to empty ID")
	}
}

package tile

import (
	"context"
	"fmt"
	"time"

	"github.com/ringfinder/tile/toa"
)

// Volume is the ring loudness level.
type Volume byte

const (
	VolumeLow  Volume = 1
	VolumeMed  Volume = 2
	VolumeHigh Volume = 3
)

// ParseVolume maps the usual config spellings to a Volume.
func ParseVolume(s string) (Volume, error) {
	switch s {
	case "low", "LOW", "1":
		return VolumeLow, nil
	case "med", "medium", "MED", "2":
		return VolumeMed, nil
	case "high", "HIGH", "3":
		return VolumeHigh, nil
	}
	return 0, fmt.Errorf("tile: unknown volume %q", s)
}

// Client rings Tile trackers over an injected BLE Driver.
//
// Each Ring/StopRing call is one sequential session: scan, connect,
// handshake, channel, command, disconnect. Calls for different tiles are
// independent and may run concurrently. Calls against the same tile must not
// overlap; the package does not serialize them.
type Client struct {
	driver Driver
	log    Logger
	cache  StrategyCache

	scanTimeout      time.Duration
	connectTimeout   time.Duration
	respTimeout      time.Duration
	establishTimeout time.Duration
	settleDelay      time.Duration
	ringResponseWait time.Duration
	queryFeatures    bool
}

// NewClient builds a Client on the given driver.
func NewClient(d Driver, opts ...Option) (*Client, error) {
	if d == nil {
		return nil, fmt.Errorf("tile: driver must not be nil")
	}

	c := &Client{
		driver:           d,
		log:              GetLogger(),
		scanTimeout:      DefaultScanTimeout,
		connectTimeout:   DefaultConnectTimeout,
		respTimeout:      DefaultResponseTimeout,
		establishTimeout: DefaultEstablishTimeout,
		settleDelay:      DefaultSettleDelay,
		ringResponseWait: DefaultRingResponseWait,
		queryFeatures:    true,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// operation is the per-call state bundle: one session, one link, one tile.
type operation struct {
	tileID string
	key    []byte
	link   *link
	sess   *Session
	cache  StrategyCache
	log    Logger

	respTimeout      time.Duration
	establishTimeout time.Duration
	hsState          handshakeState
}

// Ring locates the tile, authenticates, establishes the secure channel and
// issues the ring command at the given volume for the given duration.
//
// A nil return means the ring frame went out; most firmware does not
// acknowledge ringing at all. *UnsupportedFeatureError means this firmware
// generation rejects BLE-triggered ringing and the caller should use a
// cloud ring instead.
func (c *Client) Ring(ctx context.Context, tileID string, authKey []byte, volume Volume, durationSeconds int) error {
	if err := validateIdentity(tileID, authKey); err != nil {
		return err
	}
	if volume < VolumeLow || volume > VolumeHigh {
		return &InvalidIdentityError{Reason: fmt.Sprintf("volume %d out of range", volume)}
	}
	if durationSeconds < 1 || durationSeconds > 255 {
		return &InvalidIdentityError{Reason: fmt.Sprintf("duration %ds out of range 1..255", durationSeconds)}
	}

	return c.withConnection(ctx, tileID, authKey, func(ctx context.Context, op *operation) error {
		if _, err := op.authenticate(ctx); err != nil {
			return err
		}
		if err := op.openChannel(ctx); err != nil {
			return err
		}

		if c.queryFeatures {
			// Fire-and-forget probe; no firmware variant is known to
			// require the answer before ringing.
			if frame, err := op.sess.signNext(toa.SongFeaturesPayload()); err == nil {
				if err := op.link.send(frame); err != nil {
					return err
				}
			}
		}

		if err := sleepCtx(ctx, c.settleDelay); err != nil {
			return err
		}

		frame, err := op.sess.signNext(toa.RingPayload(byte(volume), byte(durationSeconds)))
		if err != nil {
			return err
		}
		if err := op.link.send(frame); err != nil {
			return err
		}
		op.log.Infof("ring frame sent to %s (volume %d, %ds)", shortID(tileID), volume, durationSeconds)

		// Ringing is normally unacknowledged. A SONG response here is the
		// firmware telling us it cannot ring over BLE.
		if resp, ok := op.link.awaitNotification(ctx, c.ringResponseWait); ok {
			payload, verr := op.sess.verifySigned(resp)
			if verr != nil {
				payload = toa.StripEnvelope(resp)
			}
			if len(payload) > 0 && payload[0] == toa.CmdSong {
				op.log.Warnf("firmware rejected ring command for %s", shortID(tileID))
				return &UnsupportedFeatureError{}
			}
		}
		return nil
	})
}

// StopRing silences the tile. The device accepts the stop frame in the
// unauthenticated connectionless envelope, so no handshake is needed.
func (c *Client) StopRing(ctx context.Context, tileID string, authKey []byte) error {
	if err := validateIdentity(tileID, authKey); err != nil {
		return err
	}

	return c.withConnection(ctx, tileID, authKey, func(ctx context.Context, op *operation) error {
		if err := op.link.send(toa.Envelope(toa.CmdTRM, []byte{toa.TRMStop})); err != nil {
			return err
		}
		op.log.Infof("stop-ring frame sent to %s", shortID(tileID))
		return nil
	})
}

// DiagnoseAddrs scans for nearby devices advertising the Tile service and
// maps each discovered address to the tile ID it derives from, if any.
// It exists to verify address derivation against real hardware.
func (c *Client) DiagnoseAddrs(ctx context.Context, tileIDs []string) (map[string]string, error) {
	sctx, cancel := context.WithTimeout(ctx, c.scanTimeout)
	defer cancel()

	ch, err := c.driver.Scan(sctx)
	if err != nil {
		return nil, &ConnectionError{Op: "scan", Err: err}
	}

	found := make(map[string]string)
	for a := range ch {
		if !a.HasService(ServiceUUID) {
			continue
		}
		id, _ := MatchAddrToTileID(a.Addr, tileIDs)
		found[a.Addr.String()] = id
	}
	return found, nil
}

// withConnection runs fn inside a fully scoped session: derive, match,
// connect, subscribe on entry; destroy secrets and disconnect on every exit
// path, success or failure.
func (c *Client) withConnection(ctx context.Context, tileID string, authKey []byte, fn func(context.Context, *operation) error) error {
	derived, err := DeriveAddr(tileID)
	if err != nil {
		return err
	}

	log := c.log.ChildLogger(map[string]interface{}{"tile": shortID(tileID)})

	a, err := matchAdvertisement(ctx, c.driver, tileID, derived, c.scanTimeout, log)
	if err != nil {
		return err
	}

	l, err := openLink(ctx, c.driver, a, c.connectTimeout, log)
	if err != nil {
		return err
	}
	defer l.close()

	sess, err := newSession()
	if err != nil {
		return err
	}
	defer sess.destroy()

	op := &operation{
		tileID:           tileID,
		key:              authKey,
		link:             l,
		sess:             sess,
		cache:            c.cache,
		log:              log,
		respTimeout:      c.respTimeout,
		establishTimeout: c.establishTimeout,
	}
	return fn(ctx, op)
}

func validateIdentity(tileID string, authKey []byte) error {
	if len(normalizeHex(tileID)) < 12 {
		return &InvalidIdentityError{Reason: "tile ID too short"}
	}
	if len(authKey) != AuthKeySize {
		return &InvalidIdentityError{Reason: fmt.Sprintf("auth key must be %d bytes, got %d", AuthKeySize, len(authKey))}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return &ConnectionError{Op: "settle delay", Err: ctx.Err()}
	}
}

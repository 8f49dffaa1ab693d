package tile

import (
	"time"

	"github.com/pkg/errors"
)

// Defaults, tuned against real hardware.
const (
	DefaultScanTimeout      = 15 * time.Second
	DefaultConnectTimeout   = 30 * time.Second
	DefaultResponseTimeout  = 5 * time.Second
	DefaultEstablishTimeout = 2 * time.Second

	// DefaultSettleDelay is the pause between channel establishment and the
	// ring frame. Ringing immediately is silently lost on some firmware
	// while its connection parameters are still renegotiating.
	DefaultSettleDelay = 2500 * time.Millisecond

	// DefaultRingResponseWait is how long Ring listens for a firmware
	// rejection after the fire-and-forget ring frame.
	DefaultRingResponseWait = time.Second
)

// An Option is a configuration function, which configures the Client.
type Option func(*Client) error

// WithScanTimeout bounds the advertisement scan.
func WithScanTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("tile: scan timeout must be positive")
		}
		c.scanTimeout = d
		return nil
	}
}

// WithConnectTimeout bounds the GATT connect.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("tile: connect timeout must be positive")
		}
		c.connectTimeout = d
		return nil
	}
}

// WithResponseTimeout bounds each write/await-notification cycle.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("tile: response timeout must be positive")
		}
		c.respTimeout = d
		return nil
	}
}

// WithEstablishTimeout bounds the wait for the channel-establish
// acknowledgement, which many firmware variants never send.
func WithEstablishTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("tile: establish timeout must be positive")
		}
		c.establishTimeout = d
		return nil
	}
}

// WithRingResponseWait bounds the listen for a firmware rejection after the
// ring frame.
func WithRingResponseWait(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("tile: ring response wait must be positive")
		}
		c.ringResponseWait = d
		return nil
	}
}

// WithSettleDelay overrides the pause before the ring frame.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return errors.New("tile: settle delay must not be negative")
		}
		c.settleDelay = d
		return nil
	}
}

// WithStrategyCache installs a cache of known auth methods per tile.
func WithStrategyCache(sc StrategyCache) Option {
	return func(c *Client) error {
		c.cache = sc
		return nil
	}
}

// WithLogger overrides the package logger for this client.
func WithLogger(l Logger) Option {
	return func(c *Client) error {
		if l == nil {
			return errors.New("tile: logger must not be nil")
		}
		c.log = l
		return nil
	}
}

// WithoutFeatureQuery skips the optional song-feature probe before ringing.
func WithoutFeatureQuery() Option {
	return func(c *Client) error {
		c.queryFeatures = false
		return nil
	}
}

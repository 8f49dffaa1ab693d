// Package tinygo implements tile.Driver on tinygo.org/x/bluetooth, which
// backs onto BlueZ on Linux, CoreBluetooth on macOS and WinRT on Windows.
package tinygo

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"github.com/ringfinder/tile"
)

// Driver adapts the host adapter to the tile.Driver capability interface.
type Driver struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	svcUUID bluetooth.UUID
}

// New returns a Driver on the platform's default adapter. The adapter is
// powered on lazily on first use.
func New() (*Driver, error) {
	svc, err := bluetooth.ParseUUID(tile.ServiceUUID)
	if err != nil {
		return nil, errors.Wrap(err, "tinygo: parsing tile service UUID")
	}
	return &Driver{
		adapter: bluetooth.DefaultAdapter,
		svcUUID: svc,
	}, nil
}

func (d *Driver) enable() error {
	d.enableOnce.Do(func() {
		d.enableErr = d.adapter.Enable()
	})
	return d.enableErr
}

// Scan streams advertisements until ctx is done. tinygo's Scan blocks and
// delivers results on a callback, so it runs in its own goroutine with a
// watcher that stops it on cancellation.
func (d *Driver) Scan(ctx context.Context) (<-chan tile.Advertisement, error) {
	if err := d.enable(); err != nil {
		return nil, errors.Wrap(err, "tinygo: enabling adapter")
	}

	ch := make(chan tile.Advertisement, 16)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			d.adapter.StopScan()
		case <-done:
		}
	}()

	go func() {
		defer close(ch)
		defer close(done)

		err := d.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			a := tile.Advertisement{
				Addr:      tile.NewAddr(r.Address.String()),
				LocalName: r.LocalName(),
				RSSI:      int(r.RSSI),
			}
			if r.HasServiceUUID(d.svcUUID) {
				a.Services = []string{tile.ServiceUUID}
			}
			select {
			case ch <- a:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			tile.GetLogger().Warnf("tinygo: scan ended: %v", err)
		}
	}()

	return ch, nil
}

// Connect opens a GATT link. tinygo's Connect blocks with its own timeout;
// ctx cancellation abandons the attempt rather than interrupting it.
func (d *Driver) Connect(ctx context.Context, a tile.Addr) (tile.Conn, error) {
	if err := d.enable(); err != nil {
		return nil, errors.Wrap(err, "tinygo: enabling adapter")
	}

	var addr bluetooth.Address
	addr.Set(a.String())

	type result struct {
		dev bluetooth.Device
		err error
	}
	ch := make(chan result, 1)
	go func() {
		dev, err := d.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- result{dev, err}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "tinygo: connect to %s", a)
	case r := <-ch:
		if r.err != nil {
			return nil, errors.Wrapf(r.err, "tinygo: connect to %s", a)
		}
		return &conn{dev: r.dev, svcUUID: d.svcUUID, chars: map[string]bluetooth.DeviceCharacteristic{}}, nil
	}
}

var _ tile.Driver = (*Driver)(nil)

type conn struct {
	dev     bluetooth.Device
	svcUUID bluetooth.UUID

	mu    sync.Mutex
	chars map[string]bluetooth.DeviceCharacteristic
}

// characteristic discovers and caches a characteristic on the tile service.
func (c *conn) characteristic(uuid string) (bluetooth.DeviceCharacteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.chars[uuid]; ok {
		return ch, nil
	}

	cu, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, errors.Wrapf(err, "tinygo: parsing UUID %s", uuid)
	}

	svcs, err := c.dev.DiscoverServices([]bluetooth.UUID{c.svcUUID})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, errors.Wrap(err, "tinygo: discovering tile service")
	}
	if len(svcs) == 0 {
		return bluetooth.DeviceCharacteristic{}, errors.New("tinygo: tile service not found")
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{cu})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, errors.Wrapf(err, "tinygo: discovering characteristic %s", uuid)
	}
	if len(chars) == 0 {
		return bluetooth.DeviceCharacteristic{}, errors.Errorf("tinygo: characteristic %s not found", uuid)
	}

	c.chars[uuid] = chars[0]
	return chars[0], nil
}

func (c *conn) WriteCharacteristic(uuid string, value []byte) error {
	ch, err := c.characteristic(uuid)
	if err != nil {
		return err
	}
	_, err = ch.WriteWithoutResponse(value)
	return err
}

func (c *conn) Subscribe(uuid string, f func([]byte)) (func(), error) {
	ch, err := c.characteristic(uuid)
	if err != nil {
		return nil, err
	}
	if err := ch.EnableNotifications(func(buf []byte) { f(buf) }); err != nil {
		return nil, errors.Wrapf(err, "tinygo: enabling notifications on %s", uuid)
	}
	return func() {
		// Passing a nil handler tears the subscription down.
		_ = ch.EnableNotifications(nil)
	}, nil
}

func (c *conn) Close() error {
	return c.dev.Disconnect()
}

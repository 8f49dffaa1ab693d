package tile

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// errResponseTimeout marks a write that got no notification in time. Some
// protocol steps tolerate it (channel establishment), most do not.
var errResponseTimeout = errors.New("tile: timed out awaiting response")

// link wraps one GATT connection with the discipline the MEP transport
// requires: a subscription on the response characteristic and at most one
// in-flight write/await-response pair at a time.
type link struct {
	conn Conn
	log  Logger

	mu    sync.Mutex // serializes request/send cycles
	notif chan []byte
	unsub func()

	closeOnce sync.Once
}

// openLink connects to addr and subscribes to the response characteristic.
// On any later failure path the caller must call close; openLink itself
// cleans up if the subscription fails.
func openLink(ctx context.Context, d Driver, a Addr, timeout time.Duration, log Logger) (*link, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.Connect(cctx, a)
	if err != nil {
		return nil, &ConnectionError{Op: "connect " + a.String(), Err: err}
	}

	l := &link{
		conn:  conn,
		log:   log,
		notif: make(chan []byte, 8),
	}

	unsub, err := conn.Subscribe(ResponseCharUUID, func(value []byte) {
		b := make([]byte, len(value))
		copy(b, value)
		select {
		case l.notif <- b:
		default:
			log.Warnf("dropping notification, %d bytes: response queue full", len(b))
		}
	})
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{Op: "subscribe response characteristic", Err: err}
	}
	l.unsub = unsub

	return l, nil
}

// request writes frame to the command characteristic and waits for the next
// notification, up to timeout.
func (l *link) request(ctx context.Context, frame []byte, timeout time.Duration) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.drain()

	if err := l.conn.WriteCharacteristic(CommandCharUUID, frame); err != nil {
		return nil, &ConnectionError{Op: "write command", Err: err}
	}

	return l.await(ctx, timeout)
}

// send writes frame without awaiting a response.
func (l *link) send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.conn.WriteCharacteristic(CommandCharUUID, frame); err != nil {
		return &ConnectionError{Op: "write command", Err: err}
	}
	return nil
}

// awaitNotification waits for an unsolicited notification after a
// fire-and-forget write. A timeout is not an error here.
func (l *link) awaitNotification(ctx context.Context, timeout time.Duration) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	resp, err := l.await(ctx, timeout)
	if err != nil {
		return nil, false
	}
	return resp, true
}

// await blocks for the next notification. Caller must hold mu.
func (l *link) await(ctx context.Context, timeout time.Duration) ([]byte, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case resp := <-l.notif:
		return resp, nil
	case <-t.C:
		return nil, errResponseTimeout
	case <-ctx.Done():
		return nil, &ConnectionError{Op: "awaiting response", Err: ctx.Err()}
	}
}

// drain discards stale notifications left over from a prior cycle.
// Caller must hold mu.
func (l *link) drain() {
	for {
		select {
		case <-l.notif:
		default:
			return
		}
	}
}

// close unsubscribes and tears the connection down. Safe to call more than
// once; every operation exit path runs through here.
func (l *link) close() {
	l.closeOnce.Do(func() {
		if l.unsub != nil {
			l.unsub()
		}
		if err := l.conn.Close(); err != nil {
			l.log.Warnf("disconnect: %v", err)
		}
	})
}

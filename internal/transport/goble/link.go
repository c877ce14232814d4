package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/instep/internal/bledb"
	"github.com/srg/instep/internal/transport"
)

// link is one live go-ble connection. Characteristics are cached from
// profile discovery, keyed by normalized UUID.
//
// Notification payloads handed to Subscribe callbacks are only valid for
// the duration of the callback; the underlying library may reuse buffers.
type link struct {
	address string
	client  ble.Client
	logger  *logrus.Logger

	mu     sync.Mutex
	chars  map[string]*ble.Characteristic
	subs   map[string]struct{}
	closed bool
}

func (l *link) Address() string { return l.address }

func (l *link) characteristic(charUUID string) (*ble.Characteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, transport.ErrNotConnected
	}
	c, ok := l.chars[bledb.NormalizeUUID(charUUID)]
	if !ok {
		return nil, &transport.NotFoundError{Resource: "characteristic", UUID: charUUID}
	}
	return c, nil
}

func (l *link) Subscribe(charUUID string, fn func(data []byte)) error {
	c, err := l.characteristic(charUUID)
	if err != nil {
		return err
	}
	if c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate == 0 {
		return fmt.Errorf("characteristic %q does not support notifications", charUUID)
	}
	ind := c.Property&ble.CharNotify == 0

	if err := transport.NormalizeError(l.client.Subscribe(c, ind, func(data []byte) {
		fn(data)
	})); err != nil {
		return fmt.Errorf("subscribe %s: %w", charUUID, err)
	}

	l.mu.Lock()
	l.subs[bledb.NormalizeUUID(charUUID)] = struct{}{}
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"address":   l.address,
		"char_uuid": charUUID,
	}).Debug("Subscribed to notifications")
	return nil
}

func (l *link) Unsubscribe(charUUID string) error {
	c, err := l.characteristic(charUUID)
	if err != nil {
		return err
	}

	// Try both delivery modes; fail only when both do.
	err1 := transport.NormalizeError(l.client.Unsubscribe(c, false))
	err2 := transport.NormalizeError(l.client.Unsubscribe(c, true))
	if err1 != nil && err2 != nil {
		return fmt.Errorf("unsubscribe %s: notify=%v, indicate=%v", charUUID, err1, err2)
	}

	l.mu.Lock()
	delete(l.subs, bledb.NormalizeUUID(charUUID))
	l.mu.Unlock()
	return nil
}

func (l *link) Read(ctx context.Context, charUUID string) ([]byte, error) {
	c, err := l.characteristic(charUUID)
	if err != nil {
		return nil, err
	}

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := l.client.ReadCharacteristic(c)
		ch <- result{data: data, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("read %s: %w", charUUID, transport.NormalizeError(r.err))
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("read %s: %w", charUUID, ctx.Err())
	}
}

func (l *link) Write(ctx context.Context, charUUID string, data []byte, withResponse bool) error {
	c, err := l.characteristic(charUUID)
	if err != nil {
		return err
	}

	ch := make(chan error, 1)
	go func() {
		ch <- l.client.WriteCharacteristic(c, data, !withResponse)
	}()

	select {
	case err := <-ch:
		if err != nil {
			return fmt.Errorf("write %s: %w", charUUID, transport.NormalizeError(err))
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("write %s: %w", charUUID, ctx.Err())
	}
}

func (l *link) ReadRSSI() int {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return 0
	}
	return l.client.ReadRSSI()
}

func (l *link) Disconnected() <-chan struct{} {
	return l.client.Disconnected()
}

// Close tears the link down. Best-effort on the remote side: unsubscribe
// failures and an unreachable peer do not prevent local cleanup.
func (l *link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	subs := make([]string, 0, len(l.subs))
	for uuid := range l.subs {
		subs = append(subs, uuid)
	}
	l.subs = make(map[string]struct{})
	l.mu.Unlock()

	for _, uuid := range subs {
		c, ok := l.chars[uuid]
		if !ok {
			continue
		}
		if err := l.client.Unsubscribe(c, false); err != nil {
			l.logger.WithFields(logrus.Fields{
				"char_uuid": uuid,
				"error":     err,
			}).Debug("Unsubscribe during close failed")
		}
	}

	err := l.client.CancelConnection()
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"address": l.address,
			"error":   err,
		}).Warn("BLE connection closed with errors")
		return nil
	}
	l.logger.WithField("address", l.address).Info("BLE connection closed")
	return nil
}

// Package transport abstracts the platform BLE stack behind the small
// surface the insole session needs: scan, dial, subscribe, read, write,
// link-loss detection. The goble subpackage implements it on go-ble/ble;
// tests substitute their own implementations.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Advertisement is a single received advertising report.
type Advertisement interface {
	Addr() string
	LocalName() string
	RSSI() int
	Connectable() bool
	Services() []string
	ManufacturerData() []byte
}

// Adapter is the platform radio. Scan runs until ctx is cancelled and is
// restartable; the handler is called for every report. Dial connects to a
// known address and discovers the GATT profile.
type Adapter interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	Dial(ctx context.Context, address string) (Link, error)
}

// Link is one live connection. Characteristic UUIDs are accepted in any
// spelling and normalized internally. Close is idempotent and succeeds
// locally even when the remote end is gone.
type Link interface {
	Address() string
	Subscribe(charUUID string, fn func(data []byte)) error
	Unsubscribe(charUUID string) error
	Read(ctx context.Context, charUUID string) ([]byte, error)
	Write(ctx context.Context, charUUID string, data []byte, withResponse bool) error
	ReadRSSI() int

	// Disconnected is closed when the link drops, solicited or not.
	Disconnected() <-chan struct{}
	Close() error
}

// ConnectReason classifies why a connection attempt failed.
type ConnectReason string

const (
	NotFound ConnectReason = "not_found"
	Timeout  ConnectReason = "timeout"
	Refused  ConnectReason = "refused"
)

// ConnectError reports a failed connect attempt.
type ConnectError struct {
	Reason  ConnectReason
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Reason)
	if e.Address != "" {
		msg = fmt.Sprintf("connect %s: %s", e.Address, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is allows errors.Is to compare ConnectError values by Reason.
func (e *ConnectError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Sentinels for errors.Is matching against ConnectError reasons.
var (
	ErrNotFound = &ConnectError{Reason: NotFound}
	ErrTimeout  = &ConnectError{Reason: Timeout}
	ErrRefused  = &ConnectError{Reason: Refused}
)

// DiscoveryError reports that the adapter itself is unusable: radio off,
// missing permissions, no HCI device. Unrecoverable without user action.
type DiscoveryError struct {
	Op  string
	Err error
}

func (e *DiscoveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("discovery %s failed", e.Op)
	}
	return fmt.Sprintf("discovery %s failed: %v", e.Op, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// NotFoundError reports a missing GATT resource on a live link.
type NotFoundError struct {
	Resource string // "service" or "characteristic"
	UUID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.UUID)
}

var ErrNotConnected = errors.New("not connected")

// ClassifyDialError maps a raw dial failure onto the ConnectError taxonomy.
// Context expiry means the peripheral never answered in time; everything
// else is treated as the device refusing or dropping the attempt.
func ClassifyDialError(address string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		// Caller-initiated cancellation is not a connect failure.
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &ConnectError{Reason: Timeout, Address: address, Err: err}
	case containsIgnoreCase(err.Error(), "can't find"),
		containsIgnoreCase(err.Error(), "not found"):
		return &ConnectError{Reason: NotFound, Address: address, Err: err}
	default:
		return &ConnectError{Reason: Refused, Address: address, Err: err}
	}
}

// NormalizeError maps known go-ble error strings to the transport taxonomy
// so callers can match with errors.Is even if upstream wording drifts.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "timeout"),
		containsIgnoreCase(msg, "timed out"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

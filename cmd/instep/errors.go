package main

import (
	"errors"
	"fmt"

	"github.com/srg/instep/internal/transport"
	"github.com/srg/instep/session"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE link dropped while a command was
	// running and the session did not (or could not) recover it. Distinct
	// from transport.ErrNotConnected, which marks an attempt to use a
	// session that never connected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError maps internal errors onto messages that tell the user
// what to try next.
func FormatUserError(err error) string {
	var discErr *transport.DiscoveryError
	switch {
	case errors.Is(err, transport.ErrNotFound):
		return fmt.Sprintf("%v; make sure the insole is charged and advertising, then retry with 'instep scan'", err)
	case errors.Is(err, transport.ErrTimeout):
		return fmt.Sprintf("%v; the device may be out of range, move closer and retry", err)
	case errors.Is(err, session.ErrRetriesExhausted):
		return fmt.Sprintf("%v; the link kept dropping, check signal strength and battery", err)
	case errors.Is(err, session.ErrNoModel):
		return fmt.Sprintf("%v; pass --model or load the device's schema with --schema", err)
	case errors.As(err, &discErr):
		return fmt.Sprintf("%v; check that the Bluetooth adapter is present and powered (see --adapter-id)", err)
	}
	return err.Error()
}

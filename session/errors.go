package session

import "errors"

var (
	// ErrAlreadyStarted is returned when StartDiscovery or Connect is
	// called on a session that already ran. Sessions are single-use.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrRetriesExhausted carries on the final StateChange when the
	// reconnect budget runs out. Use errors.Is; the last dial failure is
	// wrapped alongside it.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

	// ErrNoModel is returned when no registered model matches the target
	// device and none was pinned in the config.
	ErrNoModel = errors.New("no device model matched")

	// ErrNoStatusChannel is returned by device information operations
	// when the resolved model declares no such channel.
	ErrNoStatusChannel = errors.New("model declares no device information channel")
)

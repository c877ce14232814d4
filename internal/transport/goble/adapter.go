// Package goble implements transport.Adapter on go-ble/ble.
package goble

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/instep/internal/bledb"
	"github.com/srg/instep/internal/transport"
)

// DeviceFactory creates ble.Device instances. A variable so tests can
// substitute a fake radio.
var DeviceFactory = newPlatformDevice

// Adapter owns one platform BLE device. The device is created lazily on
// first use so that constructing an Adapter never touches the radio, and
// is shared by all scans and dials issued through this Adapter. No global
// default device is installed.
type Adapter struct {
	logger *logrus.Logger
	opts   []ble.Option

	mu  sync.Mutex
	dev ble.Device
}

// NewAdapter returns an Adapter logging through logger. Options are
// forwarded to the platform device, e.g. ble.OptDeviceID to pick an HCI
// adapter on Linux.
func NewAdapter(logger *logrus.Logger, opts ...ble.Option) *Adapter {
	return &Adapter{logger: logger, opts: opts}
}

func (a *Adapter) device() (ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return a.dev, nil
	}
	dev, err := DeviceFactory(a.opts...)
	if err != nil {
		return nil, &transport.DiscoveryError{Op: "open adapter", Err: err}
	}
	a.dev = dev
	return dev, nil
}

// Scan runs the radio scan until ctx ends, invoking handler per report.
// A scan window ending (cancellation or deadline) is a normal return.
func (a *Adapter) Scan(ctx context.Context, allowDup bool, handler func(transport.Advertisement)) error {
	dev, err := a.device()
	if err != nil {
		return err
	}

	a.logger.WithField("allow_dup", allowDup).Debug("Starting BLE scan")
	err = dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(newAdvertisement(adv))
	})
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return nil
	default:
		return &transport.DiscoveryError{Op: "scan", Err: err}
	}
}

// Dial connects to address and discovers the GATT profile. Failures are
// classified onto the transport.ConnectError taxonomy.
func (a *Adapter) Dial(ctx context.Context, address string) (transport.Link, error) {
	dev, err := a.device()
	if err != nil {
		return nil, err
	}

	a.logger.WithField("address", address).Debug("Dialing BLE device")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, transport.ClassifyDialError(address, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			a.logger.WithField("error", cancelErr).Warn("Failed to cancel connection after discovery failure")
		}
		return nil, &transport.ConnectError{Reason: transport.Refused, Address: address, Err: err}
	}

	chars := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			chars[bledb.NormalizeUUID(c.UUID.String())] = c
		}
	}

	a.logger.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(profile.Services),
		"characteristics": len(chars),
	}).Info("BLE device connected")

	return &link{
		address: address,
		client:  client,
		chars:   chars,
		subs:    make(map[string]struct{}),
		logger:  a.logger,
	}, nil
}

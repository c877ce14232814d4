package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/instep/internal/transport"
)

// advertisement wraps ble.Advertisement as a transport.Advertisement.
type advertisement struct {
	adv ble.Advertisement
}

func newAdvertisement(adv ble.Advertisement) transport.Advertisement {
	return &advertisement{adv: adv}
}

func (a *advertisement) Addr() string             { return a.adv.Addr().String() }
func (a *advertisement) LocalName() string        { return a.adv.LocalName() }
func (a *advertisement) RSSI() int                { return a.adv.RSSI() }
func (a *advertisement) Connectable() bool        { return a.adv.Connectable() }
func (a *advertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }

func (a *advertisement) Services() []string {
	svcs := a.adv.Services()
	out := make([]string, len(svcs))
	for i, s := range svcs {
		out[i] = s.String()
	}
	return out
}

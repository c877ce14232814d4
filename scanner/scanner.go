package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/instep/insole"
	"github.com/srg/instep/internal/bledb"
	"github.com/srg/instep/internal/ring"
	"github.com/srg/instep/internal/transport"
	"github.com/srg/instep/internal/transport/goble"
	"github.com/srg/instep/schema"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// EventType marks if the device was newly discovered or updated
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

// Candidate is one discovered device and its latest advertising state.
// Handle.Model names the matched schema model, empty when none matched.
type Candidate struct {
	Handle      insole.DeviceHandle
	RSSI        int
	Connectable bool
	Seen        int
	FirstSeen   time.Time
	LastSeen    time.Time
}

type Event struct {
	Type      EventType
	Candidate Candidate
}

// Scanner handles insole discovery
type Scanner struct {
	devices  *hashmap.Map[string, Candidate]
	events   *ring.Ring[Event]
	registry *schema.Registry
	logger   *logrus.Logger

	adapter  transport.Adapter
	scanOpts *Options
}

// Options configures scanning behavior
type Options struct {
	// Duration bounds the scan when positive; the context still wins.
	Duration time.Duration `default:"10s"`

	// AllowDuplicates re-delivers reports from known devices so RSSI,
	// Seen and LastSeen stay fresh during the scan.
	AllowDuplicates bool `default:"true"`

	// NamePrefix keeps only devices whose advertised name starts with
	// the prefix, case-insensitive.
	NamePrefix string

	// Addresses keeps only the listed peripheral addresses.
	Addresses []string

	// ServiceUUIDs keeps only devices advertising at least one of the
	// listed services, in any UUID spelling.
	ServiceUUIDs []string

	// MinRSSI drops reports weaker than the floor (dBm) when non-zero.
	MinRSSI int

	// KnownOnly keeps only devices matching a registered model.
	KnownOnly bool
}

// DefaultOptions returns default scanning options
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// New creates a scanner. A nil adapter selects the platform radio, a nil
// registry the built-in model set.
func New(adapter transport.Adapter, registry *schema.Registry, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if registry == nil {
		registry = schema.Default()
	}
	if adapter == nil {
		adapter = goble.NewAdapter(logger)
	}

	return &Scanner{
		events:   ring.New[Event](100),
		registry: registry,
		logger:   logger,
		adapter:  adapter,
	}
}

// Scan performs discovery with the provided options and returns the
// devices seen, keyed by lowercased address. It blocks until the context
// or the configured duration ends.
func (s *Scanner) Scan(ctx context.Context, opts *Options, progressCallback ProgressCallback) (map[string]Candidate, error) {
	s.devices = hashmap.New[string, Candidate]()

	if opts == nil {
		opts = DefaultOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	s.scanOpts = opts
	defer func() {
		s.scanOpts = nil
	}()
	err := s.adapter.Scan(ctx, opts.AllowDuplicates, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	devices := make(map[string]Candidate, s.devices.Len())
	s.devices.Range(func(key string, c Candidate) bool {
		devices[key] = c
		return true
	})

	return devices, nil
}

// handleAdvertisement updates an existing candidate or admits a new one
func (s *Scanner) handleAdvertisement(adv transport.Advertisement) {
	opts := s.scanOpts
	if !s.shouldIncludeDevice(adv, opts) {
		return
	}
	model := s.registry.MatchAdvertisement(adv.LocalName())
	if opts.KnownOnly && model == nil {
		return
	}

	key := strings.ToLower(adv.Addr())
	now := time.Now()

	c, existing := s.devices.Get(key)
	if existing {
		// Advertisements without a scan response omit the name; a later
		// report may fill it in, which can change side and model.
		if name := adv.LocalName(); name != "" && name != c.Handle.Name {
			c.Handle.Name = name
			c.Handle.Side = insole.SideFromName(name)
			if m := s.registry.MatchAdvertisement(name); m != nil {
				c.Handle.Model = m.Name
			}
		}
		c.RSSI = adv.RSSI()
		c.Connectable = adv.Connectable()
		c.Seen++
		c.LastSeen = now
	} else {
		name := adv.LocalName()
		modelName := ""
		if model != nil {
			modelName = model.Name
		}
		c = Candidate{
			Handle: insole.DeviceHandle{
				Address: adv.Addr(),
				Name:    name,
				Side:    insole.SideFromName(name),
				Model:   modelName,
			},
			RSSI:        adv.RSSI(),
			Connectable: adv.Connectable(),
			Seen:        1,
			FirstSeen:   now,
			LastSeen:    now,
		}
		s.logger.WithFields(logrus.Fields{
			"device":  c.Handle.Name,
			"address": c.Handle.Address,
			"rssi":    c.RSSI,
			"model":   c.Handle.Model,
		}).Info("Discovered new device")
	}
	s.devices.Set(key, c)

	event := Event{Candidate: c}
	if existing {
		event.Type = EventUpdated
	} else {
		event.Type = EventNew
	}
	s.events.Put(event)
}

// shouldIncludeDevice applies the address, name, signal and service filters
func (s *Scanner) shouldIncludeDevice(adv transport.Advertisement, opts *Options) bool {
	if opts.MinRSSI != 0 && adv.RSSI() < opts.MinRSSI {
		return false
	}

	if opts.NamePrefix != "" {
		name := strings.ToLower(adv.LocalName())
		if !strings.HasPrefix(name, strings.ToLower(opts.NamePrefix)) {
			return false
		}
	}

	if len(opts.Addresses) > 0 {
		allowed := false
		for _, a := range opts.Addresses {
			if strings.EqualFold(a, adv.Addr()) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) > 0 {
		required := bledb.NormalizeUUIDs(opts.ServiceUUIDs)
		advertised := bledb.NormalizeUUIDs(adv.Services())
		hasRequired := false
		for _, r := range required {
			for _, u := range advertised {
				if r == u {
					hasRequired = true
					break
				}
			}
			if hasRequired {
				break
			}
		}
		if !hasRequired {
			return false
		}
	}

	return true
}

// Candidates returns a snapshot of discovered devices, strongest signal
// first.
func (s *Scanner) Candidates() []Candidate {
	if s.devices == nil {
		return nil
	}
	out := make([]Candidate, 0, s.devices.Len())
	s.devices.Range(func(key string, c Candidate) bool {
		out = append(out, c)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Handle.Address < out[j].Handle.Address
	})
	return out
}

// Events returns a read-only channel of device events
func (s *Scanner) Events() <-chan Event {
	return s.events.C()
}

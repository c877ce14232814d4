// Package schema declares per-model sensor channel layouts and decodes
// raw notification payloads into typed samples.
//
// The wireless packet schema is fixed by the hardware vendor; models are
// configuration data, validated up front and matched against the device at
// connect time. The ORPHE CORE contract ships built in; additional models
// load from YAML.
package schema

import (
	"fmt"

	"github.com/srg/instep/internal/bledb"
)

// ChannelLayout selects the decode routine for a channel.
type ChannelLayout string

const (
	LayoutAccelerometer ChannelLayout = "accelerometer"
	LayoutGyroscope     ChannelLayout = "gyroscope"
	LayoutQuaternion    ChannelLayout = "quaternion"
	LayoutPressure      ChannelLayout = "pressure"
	LayoutBattery       ChannelLayout = "battery"
	LayoutDeviceStatus  ChannelLayout = "device-status"
	LayoutSensorFrames  ChannelLayout = "sensor-frames"
)

// SampleFormat is the wire format of one value.
type SampleFormat string

const (
	FormatInt16   SampleFormat = "int16"
	FormatUint16  SampleFormat = "uint16"
	FormatUint8   SampleFormat = "uint8"
	FormatFloat32 SampleFormat = "float32"
)

func (f SampleFormat) width() int {
	switch f {
	case FormatUint8:
		return 1
	case FormatInt16, FormatUint16:
		return 2
	case FormatFloat32:
		return 4
	default:
		return 0
	}
}

// ByteOrder of multi-byte values. Little-endian unless declared otherwise;
// the ORPHE wire format is big-endian.
type ByteOrder string

const (
	LittleEndian ByteOrder = "little"
	BigEndian    ByteOrder = "big"
)

// DefaultNormTolerance bounds |norm-1| for a quaternion to count as a
// confident rotation.
const DefaultNormTolerance = 0.05

// Channel declares one characteristic-level stream of a model.
type Channel struct {
	UUID   string        `yaml:"uuid"`
	Name   string        `yaml:"name"`
	Layout ChannelLayout `yaml:"layout"`

	// Format and Order default per layout: int16 for motion values,
	// uint8 for pressure; little-endian.
	Format SampleFormat `yaml:"format,omitempty"`
	Order  ByteOrder    `yaml:"order,omitempty"`

	// Scale multiplies decoded integer values; 0 means 1.0. RangeScaled
	// layouts use the device range amplitude over the int16 span instead
	// (accelerometer and gyroscope only).
	Scale       float64 `yaml:"scale,omitempty"`
	RangeScaled bool    `yaml:"range_scaled,omitempty"`

	// Zones is the pressure zone count, fixed per device model.
	Zones int `yaml:"zones,omitempty"`

	// NormTolerance overrides DefaultNormTolerance for quaternions.
	NormTolerance float64 `yaml:"norm_tolerance,omitempty"`

	// Notify marks channels the session subscribes to on every connect.
	Notify bool `yaml:"notify,omitempty"`

	uuid string // normalized, set by validate
}

func (c *Channel) effectiveScale() float64 {
	if c.Scale == 0 {
		return 1
	}
	return c.Scale
}

func (c *Channel) normTolerance() float64 {
	if c.NormTolerance == 0 {
		return DefaultNormTolerance
	}
	return c.NormTolerance
}

// expectedLen returns the exact payload length for fixed-width layouts,
// or -1 when the layout validates length itself.
func (c *Channel) expectedLen() int {
	switch c.Layout {
	case LayoutAccelerometer, LayoutGyroscope:
		return 3 * c.Format.width()
	case LayoutQuaternion:
		return 4 * c.Format.width()
	case LayoutPressure:
		return c.Zones * c.Format.width()
	case LayoutBattery:
		return 1
	case LayoutDeviceStatus:
		return infoRecordLen
	default:
		return -1
	}
}

// Ranges carries the device-configured sensor amplitudes used by
// range-scaled layouts. Zero values fall back to the smallest range.
type Ranges struct {
	AccelG  int
	GyroDPS int
}

func (r Ranges) accelAmplitude() float64 {
	if r.AccelG == 0 {
		return 2
	}
	return float64(r.AccelG)
}

func (r Ranges) gyroAmplitude() float64 {
	if r.GyroDPS == 0 {
		return 250
	}
	return float64(r.GyroDPS)
}

// Model is one device model's wire contract.
type Model struct {
	Name string `yaml:"name"`

	// Match is a case-insensitive substring of the advertised name that
	// identifies this model during scans.
	Match string `yaml:"match,omitempty"`

	Channels []*Channel `yaml:"channels"`

	index map[string]*Channel // normalized uuid → channel
}

// Validate checks the declaration and builds lookup state. It must be
// called (directly or via Registry.Register) before Decode.
func (m *Model) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("model: name is required")
	}
	if len(m.Channels) == 0 {
		return fmt.Errorf("model %q: at least one channel is required", m.Name)
	}

	m.index = make(map[string]*Channel, len(m.Channels))
	for i, ch := range m.Channels {
		if ch.UUID == "" {
			return fmt.Errorf("model %q: channel %d: uuid is required", m.Name, i)
		}
		ch.uuid = bledb.NormalizeUUID(ch.UUID)
		if _, dup := m.index[ch.uuid]; dup {
			return fmt.Errorf("model %q: duplicate channel uuid %q", m.Name, ch.UUID)
		}

		switch ch.Layout {
		case LayoutAccelerometer, LayoutGyroscope, LayoutQuaternion:
			if ch.Format == "" {
				ch.Format = FormatInt16
			}
		case LayoutPressure:
			if ch.Format == "" {
				ch.Format = FormatUint8
			}
			if ch.Zones < 1 || ch.Zones > 64 {
				return fmt.Errorf("model %q: channel %q: pressure zones must be 1..64, got %d", m.Name, ch.UUID, ch.Zones)
			}
		case LayoutBattery, LayoutDeviceStatus, LayoutSensorFrames:
			// Fixed wire formats; per-value format declarations do not apply.
			if ch.Format != "" {
				return fmt.Errorf("model %q: channel %q: layout %q has a fixed format", m.Name, ch.UUID, ch.Layout)
			}
		default:
			return fmt.Errorf("model %q: channel %q: unknown layout %q", m.Name, ch.UUID, ch.Layout)
		}

		switch ch.Format {
		case "", FormatInt16, FormatUint16, FormatUint8, FormatFloat32:
		default:
			return fmt.Errorf("model %q: channel %q: unknown format %q", m.Name, ch.UUID, ch.Format)
		}

		switch ch.Order {
		case "":
			ch.Order = LittleEndian
		case LittleEndian, BigEndian:
		default:
			return fmt.Errorf("model %q: channel %q: unknown byte order %q", m.Name, ch.UUID, ch.Order)
		}

		if ch.RangeScaled {
			switch ch.Layout {
			case LayoutAccelerometer, LayoutGyroscope:
			default:
				return fmt.Errorf("model %q: channel %q: range_scaled requires an accelerometer or gyroscope layout", m.Name, ch.UUID)
			}
			if ch.Scale != 0 {
				return fmt.Errorf("model %q: channel %q: scale and range_scaled are mutually exclusive", m.Name, ch.UUID)
			}
		}
		if ch.NormTolerance < 0 {
			return fmt.Errorf("model %q: channel %q: norm_tolerance must not be negative", m.Name, ch.UUID)
		}

		m.index[ch.uuid] = ch
	}
	return nil
}

// Channel returns the channel declared for a characteristic UUID, nil when
// the UUID is not part of the model.
func (m *Model) Channel(charUUID string) *Channel {
	return m.index[bledb.NormalizeUUID(charUUID)]
}

// NotifyChannels lists channels the session subscribes to, in declaration
// order.
func (m *Model) NotifyChannels() []*Channel {
	var out []*Channel
	for _, ch := range m.Channels {
		if ch.Notify {
			out = append(out, ch)
		}
	}
	return out
}

// StatusChannel returns the channel holding the device information record,
// nil when the model has none.
func (m *Model) StatusChannel() *Channel {
	for _, ch := range m.Channels {
		if ch.Layout == LayoutDeviceStatus {
			return ch
		}
	}
	return nil
}

// Matches reports whether an advertised name identifies this model.
func (m *Model) Matches(name string) bool {
	if m.Match == "" || name == "" {
		return false
	}
	return containsFold(name, m.Match)
}

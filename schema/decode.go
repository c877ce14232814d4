package schema

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/srg/instep/insole"
)

// DecodeReason classifies a decode failure.
type DecodeReason string

const (
	MalformedPacket DecodeReason = "malformed_packet"
	UnknownChannel  DecodeReason = "unknown_channel"
)

// DecodeError reports a rejected notification. Decode failures are
// per-notification and never fatal to a session.
type DecodeError struct {
	Reason  DecodeReason
	Channel string
	Msg     string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: channel %s", e.Reason, e.Channel)
	}
	return fmt.Sprintf("%s: channel %s: %s", e.Reason, e.Channel, e.Msg)
}

// Is allows errors.Is to compare DecodeError values by Reason.
func (e *DecodeError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Sentinels for errors.Is matching against DecodeError reasons.
var (
	ErrMalformedPacket = &DecodeError{Reason: MalformedPacket}
	ErrUnknownChannel  = &DecodeError{Reason: UnknownChannel}
)

func malformed(ch string, format string, args ...interface{}) error {
	return &DecodeError{Reason: MalformedPacket, Channel: ch, Msg: fmt.Sprintf(format, args...)}
}

// Decode maps one raw notification onto typed events. Pure and reentrant:
// all inputs are parameters, the payload is consumed and not retained.
// Single-record layouts yield exactly one event; the composite vendor
// stream yields one event per packed frame record.
func (m *Model) Decode(ranges Ranges, h insole.DeviceHandle, charUUID string, payload []byte, at time.Time) ([]insole.Event, error) {
	ch := m.Channel(charUUID)
	if ch == nil {
		return nil, &DecodeError{Reason: UnknownChannel, Channel: charUUID}
	}

	if want := ch.expectedLen(); want >= 0 && len(payload) != want {
		return nil, malformed(ch.UUID, "length %d, want %d", len(payload), want)
	}

	switch ch.Layout {
	case LayoutAccelerometer:
		return m.decodeVector(ch, insole.KindAccelerometer, ranges, h, payload, at)
	case LayoutGyroscope:
		return m.decodeVector(ch, insole.KindGyroscope, ranges, h, payload, at)
	case LayoutQuaternion:
		return m.decodeQuaternion(ch, h, payload, at)
	case LayoutPressure:
		return m.decodePressure(ch, h, payload, at)
	case LayoutBattery:
		return []insole.Event{insole.DeviceStatus{
			Handle:  h,
			At:      at,
			Battery: int(payload[0]),
		}}, nil
	case LayoutDeviceStatus:
		rec, err := DecodeInfoRecord(payload)
		if err != nil {
			return nil, err
		}
		return []insole.Event{rec.Status(h, at)}, nil
	case LayoutSensorFrames:
		return decodeSensorFrames(ch, ranges, h, payload, at)
	default:
		// Unreachable after Validate.
		return nil, &DecodeError{Reason: UnknownChannel, Channel: charUUID, Msg: string(ch.Layout)}
	}
}

func (m *Model) decodeVector(ch *Channel, kind insole.ChannelKind, ranges Ranges, h insole.DeviceHandle, b []byte, at time.Time) ([]insole.Event, error) {
	scale := ch.effectiveScale()
	if ch.RangeScaled {
		switch kind {
		case insole.KindAccelerometer:
			scale = ranges.accelAmplitude() / 32768
		case insole.KindGyroscope:
			scale = ranges.gyroAmplitude() / 32768
		}
	}

	v, err := readValues(ch, b, 3, scale)
	if err != nil {
		return nil, err
	}
	return []insole.Event{insole.SensorSample{
		Handle: h,
		At:     at,
		Kind:   kind,
		Vec:    insole.Vec3{X: v[0], Y: v[1], Z: v[2]},
	}}, nil
}

func (m *Model) decodeQuaternion(ch *Channel, h insole.DeviceHandle, b []byte, at time.Time) ([]insole.Event, error) {
	v, err := readValues(ch, b, 4, ch.effectiveScale())
	if err != nil {
		return nil, err
	}
	q := insole.Quat{W: v[0], X: v[1], Y: v[2], Z: v[3]}
	return []insole.Event{insole.SensorSample{
		Handle:        h,
		At:            at,
		Kind:          insole.KindQuaternion,
		Quat:          q,
		LowConfidence: math.Abs(q.Norm()-1) > ch.normTolerance(),
	}}, nil
}

func (m *Model) decodePressure(ch *Channel, h insole.DeviceHandle, b []byte, at time.Time) ([]insole.Event, error) {
	v, err := readValues(ch, b, ch.Zones, ch.effectiveScale())
	if err != nil {
		return nil, err
	}
	return []insole.Event{insole.SensorSample{
		Handle:   h,
		At:       at,
		Kind:     insole.KindPressure,
		Pressure: v,
	}}, nil
}

// readValues decodes n consecutive values in the channel's format and
// order, applying scale to integer formats. Length is already validated.
func readValues(ch *Channel, b []byte, n int, scale float64) ([]float64, error) {
	w := ch.Format.width()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		chunk := b[i*w : i*w+w]
		switch ch.Format {
		case FormatInt16:
			out[i] = float64(int16(decodeU16(chunk, ch.Order))) * scale
		case FormatUint16:
			out[i] = float64(decodeU16(chunk, ch.Order)) * scale
		case FormatUint8:
			out[i] = float64(chunk[0]) * scale
		case FormatFloat32:
			out[i] = float64(math.Float32frombits(decodeU32(chunk, ch.Order)))
		default:
			return nil, malformed(ch.UUID, "unsupported format %q", ch.Format)
		}
	}
	return out, nil
}

func decodeU16(b []byte, order ByteOrder) uint16 {
	if order == BigEndian {
		return binary.BigEndian.Uint16(b)
	}
	return binary.LittleEndian.Uint16(b)
}

func decodeU32(b []byte, order ByteOrder) uint32 {
	if order == BigEndian {
		return binary.BigEndian.Uint32(b)
	}
	return binary.LittleEndian.Uint32(b)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

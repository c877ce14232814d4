package schema

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/srg/instep/insole"
	"github.com/srg/instep/internal/bledb"
)

// ORPHE CORE wire contract, firmware v3 line.
//
// Sensor notifications arrive on a single characteristic as composite
// packets: a fixed 8-byte header (type, 16-bit serial, wall-clock time of
// day) followed by a type-specific run of frame records. All multi-byte
// values are big-endian. Motion values are int16 over the full range span;
// the physical amplitude comes from the range indices in the device
// information record.

// Packet types carried in byte 0 of a sensor notification.
const (
	packetTypeLegacy   = 0x28 // pre-v3 record format, not decoded
	packetTypeMotion   = 0x32 // quaternion + gyro + accel, 4 frames
	packetTypePressure = 0x37 // gyro + accel + pressure, 4 frames
	packetTypeCombined = 0x38 // quaternion + gyro + accel + pressure, 2 frames
)

const (
	frameHeaderLen = 8

	// Motion frames carry a trailing byte giving the clock advance in ms
	// over the previous frame; the frame anchored at the header clock
	// omits it.
	motionFrameCount = 4
	motionFrameLen   = 21
	motionPacketLen  = frameHeaderLen + motionFrameCount*motionFrameLen - 1

	pressureFrameCount = 4
	pressureFrameLen   = 24
	pressurePacketLen  = frameHeaderLen + pressureFrameCount*pressureFrameLen

	combinedFrameCount = 2
	combinedFrameLen   = 32
	combinedPacketLen  = frameHeaderLen + combinedFrameCount*combinedFrameLen

	framePressureZones = 6
)

// infoRecordLen is the size of the device information record.
const infoRecordLen = 20

// SettleDelay is how long the device needs after a configuration write
// before reads and further commands return consistent data.
const SettleDelay = 500 * time.Millisecond

var (
	accelRanges = [4]int{2, 4, 8, 16}
	gyroRanges  = [4]int{250, 500, 1000, 2000}
)

// StreamingMode selects the notification format and rate the device emits
// after the streaming command.
type StreamingMode byte

const (
	// StreamingLegacy keeps the pre-v3 record format at 200 Hz.
	StreamingLegacy StreamingMode = 0x01
	// StreamingMotion emits gyro, accelerometer and pressure at 200 Hz.
	StreamingMotion StreamingMode = 0x03
	// StreamingFull adds the quaternion at 100 Hz. Device default.
	StreamingFull StreamingMode = 0x04
)

// DefaultStreamingMode matches the device power-on default.
const DefaultStreamingMode = StreamingFull

func (m StreamingMode) Valid() bool {
	switch m {
	case StreamingLegacy, StreamingMotion, StreamingFull:
		return true
	}
	return false
}

func (m StreamingMode) String() string {
	switch m {
	case StreamingLegacy:
		return "legacy-200hz"
	case StreamingMotion:
		return "motion-200hz"
	case StreamingFull:
		return "full-100hz"
	default:
		return fmt.Sprintf("mode-0x%02x", byte(m))
	}
}

// EncodeStreamingCommand builds the streaming-mode command written to the
// device information characteristic.
func EncodeStreamingCommand(m StreamingMode) ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("streaming mode %d: must be 1, 3 or 4", byte(m))
	}
	return []byte{0x0D, byte(m)}, nil
}

// OrpheCore returns the built-in ORPHE CORE model: one notify channel
// carrying composite sensor frames and the readable device information
// record.
func OrpheCore() *Model {
	m := &Model{
		Name:  "ORPHE CORE",
		Match: "INS",
		Channels: []*Channel{
			{
				UUID:   bledb.OrpheSensorValuesUUID,
				Name:   "sensor values",
				Layout: LayoutSensorFrames,
				Order:  BigEndian,
				Notify: true,
			},
			{
				UUID:   bledb.OrpheDeviceInfoUUID,
				Name:   "device information",
				Layout: LayoutDeviceStatus,
				Order:  BigEndian,
			},
		},
	}
	if err := m.Validate(); err != nil {
		panic("schema: built-in model: " + err.Error())
	}
	return m
}

// InfoRecord is the decoded device information record. Reserved bytes are
// regenerated on encode, so a read-modify-write round trip preserves the
// device configuration.
type InfoRecord struct {
	Battery      int // percent
	Mount        insole.Mount
	AccelRangeG  int
	GyroRangeDPS int
	Version      byte
}

// DecodeInfoRecord parses the 20-byte information record. The trailing
// checksum is advisory on read and not enforced; out-of-range sensor range
// indices are rejected because the decoder cannot scale without them.
func DecodeInfoRecord(b []byte) (InfoRecord, error) {
	if len(b) != infoRecordLen {
		return InfoRecord{}, malformed("device-status", "length %d, want %d", len(b), infoRecordLen)
	}
	accIdx, gyroIdx := int(b[8]), int(b[9])
	if accIdx >= len(accelRanges) {
		return InfoRecord{}, malformed("device-status", "accelerometer range index %d out of range", accIdx)
	}
	if gyroIdx >= len(gyroRanges) {
		return InfoRecord{}, malformed("device-status", "gyroscope range index %d out of range", gyroIdx)
	}
	return InfoRecord{
		Battery:      int(b[0]),
		Mount:        decodeMount(b[1]),
		AccelRangeG:  accelRanges[accIdx],
		GyroRangeDPS: gyroRanges[gyroIdx],
		Version:      b[18],
	}, nil
}

// Encode builds the writable information record with the checksum of bytes
// 0 through 18 in byte 19.
func (r InfoRecord) Encode() ([]byte, error) {
	accIdx := rangeIndex(accelRanges[:], r.AccelRangeG)
	if accIdx < 0 {
		return nil, fmt.Errorf("accelerometer range %d g: must be one of %v", r.AccelRangeG, accelRanges)
	}
	gyroIdx := rangeIndex(gyroRanges[:], r.GyroRangeDPS)
	if gyroIdx < 0 {
		return nil, fmt.Errorf("gyroscope range %d deg/s: must be one of %v", r.GyroRangeDPS, gyroRanges)
	}
	mount, err := encodeMount(r.Mount)
	if err != nil {
		return nil, err
	}

	b := []byte{
		0x09, mount, 0x00, 0x00,
		0x01, 0x00, 0x3C, byte(accIdx),
		byte(gyroIdx), 0x00, 0x00, 0x00,
		0xFF, 0x00, 0x00, 0x00,
		0x00, 0x00, r.Version, 0x00,
	}
	b[infoRecordLen-1] = recordChecksum(b[:infoRecordLen-1])
	return b, nil
}

// Status converts the record into the published device snapshot.
func (r InfoRecord) Status(h insole.DeviceHandle, at time.Time) insole.DeviceStatus {
	return insole.DeviceStatus{
		Handle:       h,
		At:           at,
		Battery:      r.Battery,
		Firmware:     strconv.Itoa(int(r.Version)),
		Mount:        r.Mount,
		AccelRangeG:  r.AccelRangeG,
		GyroRangeDPS: r.GyroRangeDPS,
	}
}

// Ranges returns the sensor amplitudes the decoder scales with.
func (r InfoRecord) Ranges() Ranges {
	return Ranges{AccelG: r.AccelRangeG, GyroDPS: r.GyroRangeDPS}
}

func rangeIndex(table []int, v int) int {
	for i, t := range table {
		if t == v {
			return i
		}
	}
	return -1
}

func recordChecksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Mount byte: bit 0 selects left/right, bit 1 selects plantar/dorsal.
func decodeMount(b byte) insole.Mount {
	m := insole.Mount{Side: insole.SideLeft, Surface: insole.SurfacePlantar}
	if b&0x01 != 0 {
		m.Side = insole.SideRight
	}
	if b&0x02 != 0 {
		m.Surface = insole.SurfaceDorsal
	}
	return m
}

func encodeMount(m insole.Mount) (byte, error) {
	var b byte
	switch m.Side {
	case insole.SideLeft:
	case insole.SideRight:
		b |= 0x01
	default:
		return 0, fmt.Errorf("mount side is required")
	}
	switch m.Surface {
	case insole.SurfacePlantar:
	case insole.SurfaceDorsal:
		b |= 0x02
	default:
		return 0, fmt.Errorf("mount surface is required")
	}
	return b, nil
}

// frameHeader is the leading 8 bytes of every sensor packet.
type frameHeader struct {
	serial uint16
	clock  time.Time
}

// parseFrameHeader reads the serial and the device time of day. The clock
// carries no date; it is projected onto the receipt day. An out-of-range
// clock yields a zero time rather than rejecting the packet, since the
// sensor payload is still usable.
func parseFrameHeader(b []byte, at time.Time) frameHeader {
	hdr := frameHeader{serial: binary.BigEndian.Uint16(b[1:3])}
	hh, mm, ss := int(b[3]), int(b[4]), int(b[5])
	ms := int(b[6])<<8 | int(b[7])
	if hh < 24 && mm < 60 && ss < 60 && ms < 1000 {
		hdr.clock = time.Date(at.Year(), at.Month(), at.Day(), hh, mm, ss, ms*int(time.Millisecond), at.Location())
	}
	return hdr
}

// decodeSensorFrames splits a composite packet into per-frame samples.
// Frames are packed newest first on the wire; samples are emitted oldest
// first so consumers see a chronological stream.
func decodeSensorFrames(ch *Channel, ranges Ranges, h insole.DeviceHandle, b []byte, at time.Time) ([]insole.Event, error) {
	if len(b) == 0 {
		return nil, malformed(ch.UUID, "empty packet")
	}
	switch b[0] {
	case packetTypeLegacy:
		// Recognized so it does not poison the stream; carries nothing
		// the v3 contract decodes.
		return nil, nil
	case packetTypeMotion:
		if len(b) != motionPacketLen {
			return nil, malformed(ch.UUID, "motion packet length %d, want %d", len(b), motionPacketLen)
		}
		return decodeMotionPacket(ch, ranges, h, b, at), nil
	case packetTypePressure:
		if len(b) != pressurePacketLen {
			return nil, malformed(ch.UUID, "pressure packet length %d, want %d", len(b), pressurePacketLen)
		}
		return decodePressurePacket(ranges, h, b, at), nil
	case packetTypeCombined:
		if len(b) != combinedPacketLen {
			return nil, malformed(ch.UUID, "combined packet length %d, want %d", len(b), combinedPacketLen)
		}
		return decodeCombinedPacket(ch, ranges, h, b, at), nil
	default:
		return nil, malformed(ch.UUID, "unknown packet type 0x%02x", b[0])
	}
}

func decodeMotionPacket(ch *Channel, ranges Ranges, h insole.DeviceHandle, b []byte, at time.Time) []insole.Event {
	hdr := parseFrameHeader(b, at)
	tol := ch.normTolerance()
	accScale := ranges.accelAmplitude() / 32768
	gyroScale := ranges.gyroAmplitude() / 32768

	events := make([]insole.Event, 0, 3*motionFrameCount)
	clock := hdr.clock
	for n := 0; n < motionFrameCount; n++ {
		i := motionFrameCount - 1 - n
		off := frameHeaderLen + motionFrameLen*i
		if i != motionFrameCount-1 && !clock.IsZero() {
			clock = clock.Add(time.Duration(b[off+20]) * time.Millisecond)
		}
		seed := insole.SensorSample{Handle: h, At: at, DeviceTime: clock, Serial: hdr.serial, Frame: n}

		s := seed
		s.Kind = insole.KindAccelerometer
		s.Vec = vec3At(b[off+14:], accScale)
		events = append(events, s)

		s = seed
		s.Kind = insole.KindGyroscope
		s.Vec = vec3At(b[off+8:], gyroScale)
		events = append(events, s)

		s = seed
		s.Kind = insole.KindQuaternion
		s.Quat = quatAt(b[off:])
		s.LowConfidence = math.Abs(s.Quat.Norm()-1) > tol
		events = append(events, s)
	}
	return events
}

func decodePressurePacket(ranges Ranges, h insole.DeviceHandle, b []byte, at time.Time) []insole.Event {
	hdr := parseFrameHeader(b, at)
	accScale := ranges.accelAmplitude() / 32768
	gyroScale := ranges.gyroAmplitude() / 32768

	// The 24-byte frame carries no clock delta; every frame reports the
	// header clock.
	events := make([]insole.Event, 0, 3*pressureFrameCount)
	for n := 0; n < pressureFrameCount; n++ {
		i := pressureFrameCount - 1 - n
		off := frameHeaderLen + pressureFrameLen*i
		seed := insole.SensorSample{Handle: h, At: at, DeviceTime: hdr.clock, Serial: hdr.serial, Frame: n}

		s := seed
		s.Kind = insole.KindAccelerometer
		s.Vec = vec3At(b[off+6:], accScale)
		events = append(events, s)

		s = seed
		s.Kind = insole.KindGyroscope
		s.Vec = vec3At(b[off:], gyroScale)
		events = append(events, s)

		s = seed
		s.Kind = insole.KindPressure
		s.Pressure = pressureAt(b[off+12:])
		events = append(events, s)
	}
	return events
}

func decodeCombinedPacket(ch *Channel, ranges Ranges, h insole.DeviceHandle, b []byte, at time.Time) []insole.Event {
	hdr := parseFrameHeader(b, at)
	tol := ch.normTolerance()
	accScale := ranges.accelAmplitude() / 32768
	gyroScale := ranges.gyroAmplitude() / 32768

	events := make([]insole.Event, 0, 4*combinedFrameCount)
	for n := 0; n < combinedFrameCount; n++ {
		i := combinedFrameCount - 1 - n
		off := frameHeaderLen + combinedFrameLen*i
		seed := insole.SensorSample{Handle: h, At: at, DeviceTime: hdr.clock, Serial: hdr.serial, Frame: n}

		s := seed
		s.Kind = insole.KindAccelerometer
		s.Vec = vec3At(b[off+14:], accScale)
		events = append(events, s)

		s = seed
		s.Kind = insole.KindGyroscope
		s.Vec = vec3At(b[off+8:], gyroScale)
		events = append(events, s)

		s = seed
		s.Kind = insole.KindQuaternion
		s.Quat = quatAt(b[off:])
		s.LowConfidence = math.Abs(s.Quat.Norm()-1) > tol
		events = append(events, s)

		s = seed
		s.Kind = insole.KindPressure
		s.Pressure = pressureAt(b[off+20:])
		events = append(events, s)
	}
	return events
}

func i16BE(b []byte) float64 {
	return float64(int16(binary.BigEndian.Uint16(b)))
}

// quatAt reads four components at a fixed 1/32768 scale. Orientation is
// already normalized on the device and never range-scaled.
func quatAt(b []byte) insole.Quat {
	return insole.Quat{
		W: i16BE(b) / 32768,
		X: i16BE(b[2:]) / 32768,
		Y: i16BE(b[4:]) / 32768,
		Z: i16BE(b[6:]) / 32768,
	}
}

func vec3At(b []byte, scale float64) insole.Vec3 {
	return insole.Vec3{
		X: i16BE(b) * scale,
		Y: i16BE(b[2:]) * scale,
		Z: i16BE(b[4:]) * scale,
	}
}

// pressureAt reads the six zone values. Raw sensor units; zone calibration
// is device-specific and left to consumers.
func pressureAt(b []byte) []float64 {
	out := make([]float64, framePressureZones)
	for j := range out {
		out[j] = float64(binary.BigEndian.Uint16(b[2*j:]))
	}
	return out
}

package insole

import (
	"math"
	"time"
)

// ChannelKind is the sensor stream a sample belongs to.
type ChannelKind int

const (
	KindAccelerometer ChannelKind = iota
	KindGyroscope
	KindQuaternion
	KindPressure
)

func (k ChannelKind) String() string {
	switch k {
	case KindAccelerometer:
		return "accelerometer"
	case KindGyroscope:
		return "gyroscope"
	case KindQuaternion:
		return "quaternion"
	case KindPressure:
		return "pressure"
	default:
		return "unknown"
	}
}

// Vec3 is a three-axis reading: acceleration in g or angular rate in deg/s.
type Vec3 struct {
	X, Y, Z float64
}

// Quat is an orientation quaternion.
type Quat struct {
	W, X, Y, Z float64
}

// Norm returns the quaternion magnitude; 1 for a valid rotation.
func (q Quat) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// SensorSample is one decoded reading. Immutable once constructed; the
// field set in use depends on Kind: Vec for accelerometer and gyroscope,
// Quat for quaternion, Pressure for pressure.
type SensorSample struct {
	Handle DeviceHandle

	// At is the receipt time (carries Go's monotonic reading). DeviceTime
	// is the device clock from the packet header, zero when the layout
	// does not encode one.
	At         time.Time
	DeviceTime time.Time

	// Serial and Frame locate the sample inside the vendor packet stream:
	// Serial is the packet sequence number, Frame the index within the
	// packet. Both zero for single-record layouts.
	Serial uint16
	Frame  int

	Kind     ChannelKind
	Vec      Vec3
	Quat     Quat
	Pressure []float64

	// LowConfidence marks samples that failed a validity check (such as
	// quaternion unit norm) but are delivered anyway; interpretation is
	// the consumer's policy.
	LowConfidence bool
}

// DeviceStatus is the device-level state snapshot. Replaced whole on every
// update, never patched.
type DeviceStatus struct {
	Handle DeviceHandle
	At     time.Time

	Battery  int // percent, 0..100
	Firmware string
	Mount    Mount

	// Sensor range amplitudes currently configured on the device. Zero
	// when the model does not report them.
	AccelRangeG  int
	GyroRangeDPS int

	RSSI int // dBm at the time of the snapshot, 0 when unknown
}

// StateChange reports one session state transition. Err is non-nil when a
// failure caused the transition.
type StateChange struct {
	Handle DeviceHandle
	At     time.Time
	From   SessionState
	To     SessionState
	Err    error
}

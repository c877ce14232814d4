package insole

import "time"

// Event is the telemetry stream union: SensorSample, DeviceStatus or
// StateChange. The set is closed; switch on the concrete type.
type Event interface {
	Device() DeviceHandle
	Time() time.Time

	isEvent()
}

func (s SensorSample) Device() DeviceHandle { return s.Handle }
func (s SensorSample) Time() time.Time      { return s.At }
func (SensorSample) isEvent()               {}

func (s DeviceStatus) Device() DeviceHandle { return s.Handle }
func (s DeviceStatus) Time() time.Time      { return s.At }
func (DeviceStatus) isEvent()               {}

func (c StateChange) Device() DeviceHandle { return c.Handle }
func (c StateChange) Time() time.Time      { return c.At }
func (StateChange) isEvent()               {}

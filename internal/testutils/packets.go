package testutils

import "encoding/binary"

// CombinedPacket builds a 100 Hz streaming notification: two frames, each
// carrying quaternion, gyro, accel and pressure areas. The sensor areas
// are zero except the quaternion W word, set to unit so decoded samples
// pass the norm check. Both frames share the header clock.
func CombinedPacket(serial uint16, hh, mm, ss, ms int) []byte {
	b := make([]byte, 72)
	b[0] = 0x38
	binary.BigEndian.PutUint16(b[1:3], serial)
	b[3], b[4], b[5] = byte(hh), byte(mm), byte(ss)
	binary.BigEndian.PutUint16(b[6:8], uint16(ms))
	for n := 0; n < 2; n++ {
		off := 8 + 32*n
		binary.BigEndian.PutUint16(b[off:off+2], 32767) // W ~ 1.0
	}
	return b
}

// InfoRecordBytes builds a device information record as the device
// reports it on a read: battery, mount byte, range table indexes and
// firmware version, with a valid trailing checksum.
func InfoRecordBytes(battery, mount, accIdx, gyroIdx, version byte) []byte {
	b := make([]byte, 20)
	b[0] = battery
	b[1] = mount
	b[8] = accIdx
	b[9] = gyroIdx
	b[18] = version
	sum := 0
	for _, v := range b[:19] {
		sum += int(v)
	}
	b[19] = byte(sum & 0xFF)
	return b
}

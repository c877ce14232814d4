package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/instep/insole"
	"github.com/srg/instep/internal/bledb"
	"github.com/srg/instep/internal/testutils"
	"github.com/srg/instep/internal/transport"
	"github.com/srg/instep/schema"
)

const (
	testAddr   = "AA:BB:CC:DD:EE:01"
	sensorChar = bledb.OrpheSensorValuesUUID
	infoChar   = bledb.OrpheDeviceInfoUUID
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// testConfig shrinks every delay so reconnect paths run in milliseconds.
func testConfig(a transport.Adapter) Config {
	return Config{
		Adapter:        a,
		ConnectTimeout: time.Second,
		CommandTimeout: time.Second,
		SettleDelay:    time.Millisecond,
		Backoff: BackoffConfig{
			Initial:    time.Millisecond,
			Max:        4 * time.Millisecond,
			Multiplier: 2,
			Jitter:     0.1,
		},
		Logger: quietLogger(),
	}
}

// testPeripheral scripts an insole reporting battery 82, mount
// right/plantar, 8 g, 2000 deg/s, firmware 11.
func testPeripheral() *testutils.FakePeripheral {
	return testutils.NewPeripheral(testAddr, "INS-R").
		WithValue(infoChar, testutils.InfoRecordBytes(82, 0x01, 2, 3, 11))
}

// startSession runs discovery against the adapter and returns the session
// with a subscription attached before the first state change.
func startSession(t *testing.T, cfg Config) (*Session, *Subscription) {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	sub := s.Subscribe()
	t.Cleanup(func() { _ = s.Disconnect() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.StartDiscovery(ctx, Filter{NamePrefix: "INS"}))
	return s, sub
}

func nextEvent(t *testing.T, sub *Subscription) insole.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "event stream ended early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return nil
	}
}

func expectState(t *testing.T, sub *Subscription, to insole.SessionState) insole.StateChange {
	t.Helper()
	ev := nextEvent(t, sub)
	sc, ok := ev.(insole.StateChange)
	require.True(t, ok, "expected a state change, got %T", ev)
	require.Equal(t, to.String(), sc.To.String())
	return sc
}

// waitState discards events until the wanted transition arrives.
func waitState(t *testing.T, sub *Subscription, to insole.SessionState) insole.StateChange {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "stream ended before reaching %s", to)
			if sc, isChange := ev.(insole.StateChange); isChange && sc.To == to {
				return sc
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", to)
		}
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

// waitSubscribedLink waits for the n-th dialed link to finish its
// subscription setup.
func waitSubscribedLink(t *testing.T, a *testutils.FakeAdapter, n int) *testutils.FakeLink {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		links := a.Links()
		if len(links) >= n && links[n-1].IsSubscribed(sensorChar) {
			return links[n-1]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("link %d never subscribed", n)
	return nil
}

func TestSessionConnectPublishesLifecycle(t *testing.T) {
	p := testPeripheral()
	a := testutils.NewFakeAdapter().WithPeripheral(p)
	s, sub := startSession(t, testConfig(a))

	sc := expectState(t, sub, insole.StateScanning)
	assert.Equal(t, insole.StateIdle, sc.From)
	expectState(t, sub, insole.StateConnecting)
	expectState(t, sub, insole.StateConnected)

	ev := nextEvent(t, sub)
	ds, ok := ev.(insole.DeviceStatus)
	require.True(t, ok, "expected a device status, got %T", ev)
	assert.Equal(t, 82, ds.Battery)
	assert.Equal(t, "11", ds.Firmware)
	assert.Equal(t, insole.Mount{Side: insole.SideRight, Surface: insole.SurfacePlantar}, ds.Mount)
	assert.Equal(t, 8, ds.AccelRangeG)
	assert.Equal(t, 2000, ds.GyroRangeDPS)
	assert.Equal(t, -58, ds.RSSI)

	assert.Equal(t, insole.StateConnected, s.State())
	assert.Equal(t, -58, s.RSSI())

	h := s.Handle()
	assert.Equal(t, testAddr, h.Address)
	assert.Equal(t, "INS-R", h.Name)
	assert.Equal(t, insole.SideRight, h.Side)
	assert.Equal(t, "ORPHE CORE", h.Model)

	status, ok := s.Status()
	require.True(t, ok)
	assert.Equal(t, 82, status.Battery)

	// Entry wrote the default streaming mode with response.
	writes := p.WritesTo(infoChar)
	require.Len(t, writes, 1)
	assert.Equal(t, []byte{0x0D, 0x04}, writes[0].Data)
	assert.True(t, writes[0].WithResponse)
	assert.True(t, a.LastLink().IsSubscribed(sensorChar))

	require.NoError(t, s.Disconnect())
	waitState(t, sub, insole.StateDisconnected)
	_, open := <-sub.Events()
	assert.False(t, open, "stream must close after the final state change")
	assert.NoError(t, s.Err())
	assert.Equal(t, 0, s.RSSI())
}

func TestSessionStreamsDecodedSamples(t *testing.T) {
	p := testPeripheral()
	a := testutils.NewFakeAdapter().WithPeripheral(p)
	s, sub := startSession(t, testConfig(a))

	waitState(t, sub, insole.StateConnected)
	_, ok := nextEvent(t, sub).(insole.DeviceStatus)
	require.True(t, ok)

	link := a.LastLink()
	require.True(t, link.Notify(sensorChar, testutils.CombinedPacket(42, 13, 14, 15, 250)))

	wantKinds := []insole.ChannelKind{
		insole.KindAccelerometer, insole.KindGyroscope, insole.KindQuaternion, insole.KindPressure,
		insole.KindAccelerometer, insole.KindGyroscope, insole.KindQuaternion, insole.KindPressure,
	}
	for i, want := range wantKinds {
		ev := nextEvent(t, sub)
		ss, isSample := ev.(insole.SensorSample)
		require.True(t, isSample, "event %d: expected a sample, got %T", i, ev)
		assert.Equal(t, want.String(), ss.Kind.String(), "event %d", i)
		assert.Equal(t, uint16(42), ss.Serial)
		assert.Equal(t, i/4, ss.Frame)
		assert.Equal(t, 13, ss.DeviceTime.Hour())
		assert.Equal(t, 14, ss.DeviceTime.Minute())
		assert.Equal(t, 15, ss.DeviceTime.Second())
		assert.Equal(t, 250_000_000, ss.DeviceTime.Nanosecond())
		if ss.Kind == insole.KindQuaternion {
			assert.InDelta(t, 1.0, ss.Quat.W, 0.001)
			assert.False(t, ss.LowConfidence)
		}
		if ss.Kind == insole.KindPressure {
			assert.Len(t, ss.Pressure, 6)
		}
	}

	// The ranges read from the device scale raw sensor words: 8192 counts
	// at 8 g is 2 g. Frame 0 is the oldest frame, stored in the last
	// block, so its accelerometer X lands at bytes 54..55.
	pkt := testutils.CombinedPacket(43, 13, 14, 15, 255)
	pkt[54], pkt[55] = 0x20, 0x00
	require.True(t, link.Notify(sensorChar, pkt))

	ev := nextEvent(t, sub)
	ss, isSample := ev.(insole.SensorSample)
	require.True(t, isSample)
	require.Equal(t, insole.KindAccelerometer, ss.Kind)
	assert.Equal(t, 0, ss.Frame)
	assert.InDelta(t, 2.0, ss.Vec.X, 1e-9)

	waitUntil(t, func() bool { return s.Stats().Samples == 16 }, "samples not counted")
	assert.Equal(t, int64(2), s.Stats().Notifications)
}

func TestSessionBadNotificationsDoNotPoisonStream(t *testing.T) {
	p := testPeripheral()
	a := testutils.NewFakeAdapter().WithPeripheral(p)
	s, sub := startSession(t, testConfig(a))

	waitState(t, sub, insole.StateConnected)
	nextEvent(t, sub) // device status
	link := a.LastLink()

	// Unknown packet type, then a truncated motion packet.
	link.Notify(sensorChar, []byte{0x99, 0x00, 0x01})
	link.Notify(sensorChar, []byte{0x32, 0x00, 0x01, 13, 14, 15})
	waitUntil(t, func() bool { return s.Stats().DecodeErrors == 2 }, "decode errors not counted")

	// The legacy packet type is recognized and ignored.
	link.Notify(sensorChar, []byte{0x28, 0x00, 0x01, 13, 14, 15, 0, 0})
	waitUntil(t, func() bool { return s.Stats().Notifications == 3 }, "notification not counted")
	assert.Equal(t, int64(2), s.Stats().DecodeErrors)

	// A valid packet still decodes.
	link.Notify(sensorChar, testutils.CombinedPacket(1, 1, 2, 3, 4))
	ev := nextEvent(t, sub)
	_, isSample := ev.(insole.SensorSample)
	require.True(t, isSample, "got %T", ev)
	assert.Equal(t, insole.StateConnected, s.State())
}

func TestSessionSerialGapAccounting(t *testing.T) {
	p := testPeripheral()
	a := testutils.NewFakeAdapter().WithPeripheral(p)
	s, sub := startSession(t, testConfig(a))

	waitState(t, sub, insole.StateConnected)
	nextEvent(t, sub) // device status
	link := a.LastLink()

	// 65533 seeds, 65534 is consecutive, 65534 -> 1 wraps losing 2,
	// 1 -> 2 is consecutive, 2 -> 6 loses 3.
	for _, serial := range []uint16{65533, 65534, 1, 2, 6} {
		link.Notify(sensorChar, testutils.CombinedPacket(serial, 1, 2, 3, 4))
	}

	waitUntil(t, func() bool { return s.Stats().Samples == 40 }, "samples not all published")
	assert.Equal(t, int64(5), s.Stats().LostFrames)
	assert.Equal(t, int64(5), s.Stats().Notifications)
}

func TestSessionLinkLossTriggersReconnect(t *testing.T) {
	p := testPeripheral()
	a := testutils.NewFakeAdapter().WithPeripheral(p)
	s, sub := startSession(t, testConfig(a))

	waitState(t, sub, insole.StateConnected)
	nextEvent(t, sub) // device status
	a.LastLink().Drop()

	// Between link loss and recovery no sample may reach subscribers.
	sawReconnecting := false
	for {
		ev := nextEvent(t, sub)
		if sc, isChange := ev.(insole.StateChange); isChange {
			if sc.To == insole.StateReconnecting {
				sawReconnecting = true
				assert.Equal(t, insole.StateConnected, sc.From)
				assert.Error(t, sc.Err)
				continue
			}
			if sc.To == insole.StateConnected {
				break
			}
		}
		_, isSample := ev.(insole.SensorSample)
		require.False(t, isSample, "sample published while not connected")
	}
	require.True(t, sawReconnecting, "missing reconnecting transition")

	link2 := waitSubscribedLink(t, a, 2)
	waitUntil(t, func() bool { return s.Stats().Reconnects == 1 }, "reconnect not counted")
	assert.Equal(t, 2, a.Dials())

	// The handshake ran again on the fresh link.
	writes := p.WritesTo(infoChar)
	require.Len(t, writes, 2)
	assert.Equal(t, []byte{0x0D, 0x04}, writes[1].Data)

	// Status was re-read, then telemetry resumes.
	ev := nextEvent(t, sub)
	_, isStatus := ev.(insole.DeviceStatus)
	require.True(t, isStatus, "got %T", ev)

	require.True(t, link2.Notify(sensorChar, testutils.CombinedPacket(9, 1, 2, 3, 4)))
	ev = nextEvent(t, sub)
	_, isSample := ev.(insole.SensorSample)
	require.True(t, isSample, "got %T", ev)
}

func TestSessionDisableReconnect(t *testing.T) {
	p := testPeripheral()
	a := testutils.NewFakeAdapter().WithPeripheral(p)
	cfg := testConfig(a)
	cfg.DisableReconnect = true
	s, sub := startSession(t, cfg)

	waitState(t, sub, insole.StateConnected)
	nextEvent(t, sub) // device status
	a.LastLink().Drop()

	sc := expectState(t, sub, insole.StateDisconnected)
	assert.Equal(t, insole.StateConnected, sc.From)
	assert.Error(t, sc.Err)

	waitDone(t, s)
	assert.Error(t, s.Err())
	assert.Equal(t, 1, a.Dials())
}

func TestSessionReconnectExhaustion(t *testing.T) {
	p := testPeripheral()
	a := testutils.NewFakeAdapter().WithPeripheral(p)
	cfg := testConfig(a)
	cfg.MaxReconnectAttempts = 2
	s, sub := startSession(t, cfg)

	waitState(t, sub, insole.StateConnected)

	dialErr := errors.New("radio jammed")
	a.FailDials(dialErr, dialErr)
	a.LastLink().Drop()

	waitState(t, sub, insole.StateReconnecting)
	sc := waitState(t, sub, insole.StateDisconnected)
	require.Error(t, sc.Err)

	waitDone(t, s)
	assert.ErrorIs(t, s.Err(), ErrRetriesExhausted)
	assert.ErrorIs(t, s.Err(), dialErr)
	assert.Equal(t, 3, a.Dials())
}

func TestSessionDisconnectDuringBackoff(t *testing.T) {
	p := testPeripheral()
	a := testutils.NewFakeAdapter().WithPeripheral(p)
	cfg := testConfig(a)
	cfg.MaxReconnectAttempts = -1
	cfg.Backoff = BackoffConfig{
		Initial:    10 * time.Second,
		Max:        10 * time.Second,
		Multiplier: 2,
		Jitter:     0.1,
	}
	s, sub := startSession(t, cfg)

	waitState(t, sub, insole.StateConnected)
	a.LastLink().Drop()
	waitState(t, sub, insole.StateReconnecting)

	start := time.Now()
	require.NoError(t, s.Disconnect())
	assert.Less(t, time.Since(start), 2*time.Second, "disconnect must not wait out the backoff")
	assert.Equal(t, insole.StateDisconnected, s.State())
	assert.NoError(t, s.Err(), "an explicit disconnect is clean")
}

func TestSessionEntryFailureEndsFirstConnect(t *testing.T) {
	tests := []struct {
		name    string
		script  func(p *testutils.FakePeripheral)
		wantMsg string
	}{
		{
			name:    "status read fails",
			script:  func(p *testutils.FakePeripheral) { p.WithReadError(infoChar, errors.New("gatt timeout")) },
			wantMsg: "device information",
		},
		{
			name:    "subscription rejected",
			script:  func(p *testutils.FakePeripheral) { p.WithSubscribeError(sensorChar, errors.New("cccd write rejected")) },
			wantMsg: "subscribe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPeripheral()
			tt.script(p)
			a := testutils.NewFakeAdapter().WithPeripheral(p)
			s, err := New(testConfig(a))
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err = s.StartDiscovery(ctx, Filter{NamePrefix: "INS"})
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantMsg)
			assert.Equal(t, insole.StateDisconnected, s.State())
			assert.Error(t, s.Err())
		})
	}
}

func TestSessionScanFailures(t *testing.T) {
	t.Run("no matching device", func(t *testing.T) {
		a := testutils.NewFakeAdapter().
			WithAdvertisement(testutils.NewAdvertisement("11:22:33:44:55:66", "Toothbrush"))
		s, err := New(testConfig(a))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err = s.StartDiscovery(ctx, Filter{NamePrefix: "INS"})
		require.ErrorIs(t, err, transport.ErrNotFound)
		assert.Equal(t, insole.StateDisconnected, s.State())
		assert.Error(t, s.Err())
	})

	t.Run("adapter unusable", func(t *testing.T) {
		scanErr := &transport.DiscoveryError{Op: "scan", Err: errors.New("no hci device")}
		a := testutils.NewFakeAdapter().WithScanError(scanErr)
		s, err := New(testConfig(a))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = s.StartDiscovery(ctx, Filter{NamePrefix: "INS"})
		var derr *transport.DiscoveryError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, insole.StateFailed, s.State())
		assert.Error(t, s.Err())
	})
}

func TestSessionScanFilters(t *testing.T) {
	// Two insoles in range; the address filter must pick the second.
	left := testutils.NewPeripheral("AA:BB:CC:DD:EE:02", "INS-L").
		WithValue(infoChar, testutils.InfoRecordBytes(50, 0x00, 0, 0, 9))
	right := testPeripheral()
	a := testutils.NewFakeAdapter().WithPeripheral(left).WithPeripheral(right)

	s, err := New(testConfig(a))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Disconnect() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.StartDiscovery(ctx, Filter{Address: "aa:bb:cc:dd:ee:01"}))
	assert.Equal(t, testAddr, s.Handle().Address)
	assert.Equal(t, insole.SideRight, s.Handle().Side)
}

func TestSessionConnectDirect(t *testing.T) {
	t.Run("model from name", func(t *testing.T) {
		a := testutils.NewFakeAdapter().WithPeripheral(testPeripheral())
		s, err := New(testConfig(a))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Disconnect() })

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, s.Connect(ctx, insole.DeviceHandle{Address: testAddr, Name: "INS-R"}))
		assert.Equal(t, insole.StateConnected, s.State())
		assert.Equal(t, 1, a.Dials())
		require.NotNil(t, s.Model())
		assert.Equal(t, "ORPHE CORE", s.Model().Name)
	})

	t.Run("no model resolvable", func(t *testing.T) {
		a := testutils.NewFakeAdapter().WithPeripheral(testPeripheral())
		s, err := New(testConfig(a))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = s.Connect(ctx, insole.DeviceHandle{Address: testAddr, Name: "Mystery"})
		require.ErrorIs(t, err, ErrNoModel)
		assert.Equal(t, insole.StateFailed, s.State())
		assert.Equal(t, 0, a.Dials())
	})
}

func TestSessionSingleUse(t *testing.T) {
	a := testutils.NewFakeAdapter().WithPeripheral(testPeripheral())
	s, _ := startSession(t, testConfig(a))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, s.StartDiscovery(ctx, Filter{}), ErrAlreadyStarted)
	assert.ErrorIs(t, s.Connect(ctx, insole.DeviceHandle{Address: testAddr}), ErrAlreadyStarted)
}

func TestSessionCommandsRequireConnection(t *testing.T) {
	s, err := New(testConfig(testutils.NewFakeAdapter()))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = s.ReadInfo(ctx)
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.ErrorIs(t, s.WriteInfo(ctx, schema.InfoRecord{}), transport.ErrNotConnected)
	assert.ErrorIs(t, s.SetStreamingMode(ctx, schema.StreamingMotion), transport.ErrNotConnected)
}

func TestSessionInfoRoundTrip(t *testing.T) {
	p := testPeripheral()
	a := testutils.NewFakeAdapter().WithPeripheral(p)
	s, sub := startSession(t, testConfig(a))
	waitState(t, sub, insole.StateConnected)
	nextEvent(t, sub) // device status

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rec, err := s.ReadInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.InfoRecord{
		Battery:      82,
		Mount:        insole.Mount{Side: insole.SideRight, Surface: insole.SurfacePlantar},
		AccelRangeG:  8,
		GyroRangeDPS: 2000,
		Version:      11,
	}, rec)

	// Reconfigure to left/dorsal at 4 g and 500 deg/s. The device would
	// report the new configuration afterwards, so the scripted read value
	// changes with it.
	p.SetValue(infoChar, testutils.InfoRecordBytes(80, 0x02, 1, 1, 11))
	require.NoError(t, s.WriteInfo(ctx, schema.InfoRecord{
		Mount:        insole.Mount{Side: insole.SideLeft, Surface: insole.SurfaceDorsal},
		AccelRangeG:  4,
		GyroRangeDPS: 500,
		Version:      11,
	}))

	writes := p.WritesTo(infoChar)
	require.Len(t, writes, 2) // streaming command, then the record
	cfgWrite := writes[1]
	require.Len(t, cfgWrite.Data, 20)
	assert.Equal(t, byte(0x09), cfgWrite.Data[0])
	assert.Equal(t, byte(0x02), cfgWrite.Data[1])
	assert.Equal(t, byte(1), cfgWrite.Data[7])
	assert.Equal(t, byte(1), cfgWrite.Data[8])
	assert.True(t, cfgWrite.WithResponse)

	// The refreshed status reaches both the accessor and the stream.
	ev := nextEvent(t, sub)
	ds, ok := ev.(insole.DeviceStatus)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, 80, ds.Battery)
	assert.Equal(t, insole.Mount{Side: insole.SideLeft, Surface: insole.SurfaceDorsal}, ds.Mount)

	status, ok := s.Status()
	require.True(t, ok)
	assert.Equal(t, 4, status.AccelRangeG)

	// Subsequent decoding scales with the new range: 8192 counts at 4 g
	// is 1 g.
	pkt := testutils.CombinedPacket(5, 1, 2, 3, 4)
	pkt[54], pkt[55] = 0x20, 0x00
	require.True(t, a.LastLink().Notify(sensorChar, pkt))
	first := nextEvent(t, sub)
	ss, isSample := first.(insole.SensorSample)
	require.True(t, isSample)
	assert.InDelta(t, 1.0, ss.Vec.X, 1e-9)

	require.NoError(t, s.SetStreamingMode(ctx, schema.StreamingMotion))
	writes = p.WritesTo(infoChar)
	require.Len(t, writes, 3)
	assert.Equal(t, []byte{0x0D, 0x03}, writes[2].Data)
}

func TestSessionSkipStreamingCommand(t *testing.T) {
	p := testPeripheral()
	a := testutils.NewFakeAdapter().WithPeripheral(p)
	cfg := testConfig(a)
	cfg.SkipStreamingCommand = true
	s, sub := startSession(t, cfg)

	waitState(t, sub, insole.StateConnected)
	ev := nextEvent(t, sub)
	_, ok := ev.(insole.DeviceStatus)
	require.True(t, ok, "status must still be read, got %T", ev)

	assert.Empty(t, p.WritesTo(infoChar))
	assert.True(t, a.LastLink().IsSubscribed(sensorChar))
	assert.Equal(t, insole.StateConnected, s.State())
}

func TestSessionFanOut(t *testing.T) {
	p := testPeripheral()
	a := testutils.NewFakeAdapter().WithPeripheral(p)
	s, subA := startSession(t, testConfig(a))

	waitState(t, subA, insole.StateConnected)
	nextEvent(t, subA) // device status

	subB := s.SubscribeBuffer(16)
	link := a.LastLink()
	require.True(t, link.Notify(sensorChar, testutils.CombinedPacket(1, 1, 2, 3, 4)))

	for i := 0; i < 8; i++ {
		evA := nextEvent(t, subA)
		evB := nextEvent(t, subB)
		sa, okA := evA.(insole.SensorSample)
		sb, okB := evB.(insole.SensorSample)
		require.True(t, okA)
		require.True(t, okB)
		assert.Equal(t, sa.Kind, sb.Kind, "event %d", i)
		assert.Equal(t, sa.Serial, sb.Serial, "event %d", i)
	}

	subB.Cancel()
	_, open := <-subB.Events()
	assert.False(t, open, "cancelled subscription must close")

	// The remaining subscriber keeps receiving.
	require.True(t, link.Notify(sensorChar, testutils.CombinedPacket(2, 1, 2, 3, 4)))
	ev := nextEvent(t, subA)
	ss, isSample := ev.(insole.SensorSample)
	require.True(t, isSample)
	assert.Equal(t, uint16(2), ss.Serial)
}

func TestSessionLateSubscriber(t *testing.T) {
	a := testutils.NewFakeAdapter()
	s, err := New(testConfig(a))
	require.NoError(t, err)
	require.NoError(t, s.Disconnect())

	assert.Equal(t, insole.StateDisconnected, s.State())
	sub := s.Subscribe()
	_, open := <-sub.Events()
	assert.False(t, open, "a finished session hands out a closed stream")
}

func TestSessionSlowSubscriberDropsOldest(t *testing.T) {
	p := testPeripheral()
	a := testutils.NewFakeAdapter().WithPeripheral(p)
	cfg := testConfig(a)
	cfg.StreamBuffer = 4
	s, sub := startSession(t, cfg)

	// Do not consume: the three state changes and the status snapshot
	// fill the buffer exactly.
	link := waitSubscribedLink(t, a, 1)
	link.Notify(sensorChar, testutils.CombinedPacket(6, 1, 2, 3, 4))
	link.Notify(sensorChar, testutils.CombinedPacket(7, 1, 2, 3, 4))
	waitUntil(t, func() bool { return s.Stats().Samples == 16 }, "samples not published")

	// Every sample displaced an older event; the newest four survive.
	assert.Equal(t, int64(16), s.Stats().Dropped)
	assert.Equal(t, int64(16), sub.Dropped())
	for i := 0; i < 4; i++ {
		ev := nextEvent(t, sub)
		ss, isSample := ev.(insole.SensorSample)
		require.True(t, isSample, "survivor %d: got %T", i, ev)
		assert.Equal(t, uint16(7), ss.Serial)
		assert.Equal(t, 1, ss.Frame)
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected buffered event %T", ev)
	default:
	}
}

func TestSessionDisconnectIdempotent(t *testing.T) {
	a := testutils.NewFakeAdapter().WithPeripheral(testPeripheral())
	s, sub := startSession(t, testConfig(a))
	waitState(t, sub, insole.StateConnected)

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
	waitDone(t, s)
	assert.Equal(t, insole.StateDisconnected, s.State())
}

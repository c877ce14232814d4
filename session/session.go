// Package session maintains a live connection to one insole device. It
// owns the whole lifecycle: discovery, connect, the per-connect handshake
// (device information read, streaming command, subscriptions), decoding
// notifications into telemetry events, reconnecting with backoff when the
// link drops, and fanning events out to subscribers.
//
// A Session is single-use: acquire with StartDiscovery or Connect, consume
// events via Subscribe, end with Disconnect. Once it reaches a terminal
// state it never leaves it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/instep/insole"
	"github.com/srg/instep/internal/groutine"
	"github.com/srg/instep/internal/ring"
	"github.com/srg/instep/internal/transport"
	"github.com/srg/instep/schema"
)

// Filter narrows discovery to one device. Empty fields match everything;
// a device must pass every set field.
type Filter struct {
	// Address matches the peripheral address exactly, case-insensitive.
	Address string
	// NamePrefix matches the start of the advertised name, case-insensitive.
	NamePrefix string
}

// Stats are life-to-date session counters.
type Stats struct {
	Notifications int64 // raw notifications received from the link
	Samples       int64 // decoded sensor samples published
	DecodeErrors  int64 // notifications the decoder rejected
	LostFrames    int64 // packets missing according to serial-number gaps
	Reconnects    int64 // successful recoveries after link loss
	Dropped       int64 // events lost to subscriber buffer overflow
}

// ingestBuffer absorbs notification bursts between supervisor reads. At
// the device's top notification rate this holds several seconds of
// packets.
const ingestBuffer = 512

type runPhase int

const (
	phaseIdle runPhase = iota
	phaseRunning
	phaseDone
)

// notification is one raw characteristic update, captured on the
// transport callback and decoded on the supervisor goroutine.
type notification struct {
	char string
	data []byte
	at   time.Time
}

// Session drives one device connection. Create with New; all methods are
// safe for concurrent use.
type Session struct {
	cfg      Config
	log      *logrus.Entry
	adapter  transport.Adapter
	registry *schema.Registry

	// lifeCtx spans the whole session; stop is the only way to cancel it.
	// done closes when the session reached a terminal state and the event
	// stream ended.
	lifeCtx context.Context
	stop    context.CancelFunc
	done    chan struct{}
	endOnce sync.Once

	bc      *broadcaster
	backoff *backoff

	mu      sync.RWMutex
	phase   runPhase
	closing bool
	state   insole.SessionState
	handle  insole.DeviceHandle
	model   *schema.Model
	ranges  schema.Ranges
	link    transport.Link
	status  *insole.DeviceStatus
	err     error

	// Serial-gap tracking for the composite telemetry channel. Carried
	// across reconnects: the device keeps counting while we are away.
	haveSerial bool
	prevSerial uint16

	notifications atomic.Int64
	samples       atomic.Int64
	decodeErrors  atomic.Int64
	lostFrames    atomic.Int64
	reconnects    atomic.Int64
	dropped       atomic.Int64
}

// New creates an idle session. The configuration is validated once here;
// zero fields take their documented defaults.
func New(cfg Config) (*Session, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	lifeCtx, stop := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		adapter:  cfg.Adapter,
		registry: cfg.Registry,
		lifeCtx:  lifeCtx,
		stop:     stop,
		done:     make(chan struct{}),
		bc:       newBroadcaster(),
		backoff:  newBackoff(cfg.Backoff),
		state:    insole.StateIdle,
	}
	s.log = cfg.Logger.WithField("session", uuid.NewString()[:8])
	return s, nil
}

// StartDiscovery scans for the first device matching the filter, connects
// to it and completes the streaming handshake. It returns once telemetry
// is flowing (or with the failure that stopped acquisition); afterwards a
// supervisor goroutine keeps the session alive until Disconnect or retry
// exhaustion. ctx bounds acquisition only, not the session lifetime.
func (s *Session) StartDiscovery(ctx context.Context, filter Filter) error {
	if err := s.begin(); err != nil {
		return err
	}
	acqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Disconnect must abort a blocked acquisition too.
	unwatch := context.AfterFunc(s.lifeCtx, cancel)
	defer unwatch()

	handle, model, err := s.locate(acqCtx, filter)
	if err != nil {
		s.failAcquire(err)
		return err
	}
	s.setTarget(handle, model)
	return s.establish(acqCtx)
}

// Connect dials a known device directly, skipping discovery. The model is
// resolved from the pinned configuration or the handle.
func (s *Session) Connect(ctx context.Context, handle insole.DeviceHandle) error {
	if err := s.begin(); err != nil {
		return err
	}
	model, err := s.resolveModel(handle)
	if err != nil {
		s.finishTo(insole.StateFailed, err)
		return err
	}
	s.setTarget(handle, model)

	acqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unwatch := context.AfterFunc(s.lifeCtx, cancel)
	defer unwatch()

	return s.establish(acqCtx)
}

// Disconnect ends the session from any state and blocks until it reached
// a terminal state and the event stream closed. Idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.phase == phaseIdle {
		s.phase = phaseDone
		s.mu.Unlock()
		s.finishTo(insole.StateDisconnected, nil)
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	s.stop()
	<-s.done
	return nil
}

// Done closes when the session reached a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Subscribe attaches a consumer to the event stream. Delivery starts at
// subscription time; nothing is replayed. A consumer that falls behind
// loses its oldest buffered events.
func (s *Session) Subscribe() *Subscription {
	return s.bc.subscribe(s.cfg.StreamBuffer)
}

// SubscribeBuffer attaches a consumer with its own buffer size instead of
// the configured default. Buffers below 1 are raised to 1.
func (s *Session) SubscribeBuffer(n int) *Subscription {
	if n < 1 {
		n = 1
	}
	return s.bc.subscribe(n)
}

// State returns the current lifecycle state.
func (s *Session) State() insole.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Handle returns the device this session is bound to. Zero until
// discovery matched or Connect was called.
func (s *Session) Handle() insole.DeviceHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

// Model returns the resolved device model, nil before acquisition.
func (s *Session) Model() *schema.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Status returns the latest device status snapshot, if one was read.
func (s *Session) Status() (insole.DeviceStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == nil {
		return insole.DeviceStatus{}, false
	}
	return *s.status, true
}

// Err returns the error that ended the session: nil while running and
// after a clean disconnect.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Notifications: s.notifications.Load(),
		Samples:       s.samples.Load(),
		DecodeErrors:  s.decodeErrors.Load(),
		LostFrames:    s.lostFrames.Load(),
		Reconnects:    s.reconnects.Load(),
		Dropped:       s.dropped.Load(),
	}
}

// RSSI reads the current link signal strength, 0 when not connected.
func (s *Session) RSSI() int {
	s.mu.RLock()
	link := s.link
	connected := s.state == insole.StateConnected
	s.mu.RUnlock()
	if !connected || link == nil {
		return 0
	}
	return link.ReadRSSI()
}

// ReadInfo reads and decodes the device information record from the live
// link. Fails with transport.ErrNotConnected outside the connected state.
func (s *Session) ReadInfo(ctx context.Context) (schema.InfoRecord, error) {
	link, st, err := s.commandTarget()
	if err != nil {
		return schema.InfoRecord{}, err
	}
	readCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()
	data, err := link.Read(readCtx, st.UUID)
	if err != nil {
		return schema.InfoRecord{}, err
	}
	return schema.DecodeInfoRecord(data)
}

// WriteInfo writes a configuration record, waits out the settle period
// and refreshes the published device status so subscribers observe the
// new configuration.
func (s *Session) WriteInfo(ctx context.Context, rec schema.InfoRecord) error {
	link, st, err := s.commandTarget()
	if err != nil {
		return err
	}
	data, err := rec.Encode()
	if err != nil {
		return err
	}
	if err := s.writeCommand(ctx, link, st.UUID, data); err != nil {
		return err
	}
	return s.refreshStatus(ctx, link, st)
}

// SetStreamingMode switches the device's notification format on the live
// link. The change does not survive device power cycles.
func (s *Session) SetStreamingMode(ctx context.Context, mode schema.StreamingMode) error {
	link, st, err := s.commandTarget()
	if err != nil {
		return err
	}
	cmd, err := schema.EncodeStreamingCommand(mode)
	if err != nil {
		return err
	}
	return s.writeCommand(ctx, link, st.UUID, cmd)
}

// begin moves the session out of idle exactly once.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != phaseIdle {
		return ErrAlreadyStarted
	}
	s.phase = phaseRunning
	return nil
}

func (s *Session) setTarget(h insole.DeviceHandle, m *schema.Model) {
	s.mu.Lock()
	s.handle = h
	s.model = m
	s.mu.Unlock()
}

func (s *Session) isClosing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closing
}

// transition moves the state machine and publishes the StateChange.
// State changes are delivered regardless of state; only samples and
// status snapshots are gated on being connected.
func (s *Session) transition(to insole.SessionState, cause error) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	if to.Terminal() {
		s.err = cause
	}
	h := s.handle
	s.mu.Unlock()

	fields := logrus.Fields{"from": from.String(), "to": to.String()}
	if cause != nil {
		fields["cause"] = cause
	}
	s.log.WithFields(fields).Info("Session state changed")

	if n := s.bc.publish(insole.StateChange{
		Handle: h,
		At:     time.Now(),
		From:   from,
		To:     to,
		Err:    cause,
	}); n > 0 {
		s.dropped.Add(int64(n))
	}
}

// finishTo performs the terminal transition, closes the event stream and
// releases Disconnect waiters. Only the first call has any effect.
func (s *Session) finishTo(to insole.SessionState, cause error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.phase = phaseDone
		s.mu.Unlock()

		s.transition(to, cause)
		s.bc.close()
		s.stop()
		close(s.done)
	})
}

// failAcquire maps an acquisition failure onto a terminal state. Adapter
// failures are unrecoverable; anything else, including not finding the
// device in time, ends as a plain disconnect.
func (s *Session) failAcquire(err error) {
	var derr *transport.DiscoveryError
	switch {
	case s.isClosing():
		s.finishTo(insole.StateDisconnected, nil)
	case errors.As(err, &derr):
		s.finishTo(insole.StateFailed, err)
	default:
		s.finishTo(insole.StateDisconnected, err)
	}
}

// locate scans until one advertisement passes the filter and resolves to
// a model. Runs in the scanning state; the scan is stopped on the first
// match.
func (s *Session) locate(ctx context.Context, filter Filter) (insole.DeviceHandle, *schema.Model, error) {
	s.transition(insole.StateScanning, nil)
	s.log.WithFields(logrus.Fields{
		"address":     filter.Address,
		"name_prefix": filter.NamePrefix,
	}).Info("Scanning for device")

	var (
		matchMu sync.Mutex
		handle  insole.DeviceHandle
		model   *schema.Model
		found   bool
	)
	scanCtx, stopScan := context.WithCancel(ctx)
	defer stopScan()

	err := s.adapter.Scan(scanCtx, false, func(adv transport.Advertisement) {
		m := s.matchAdvertisement(filter, adv)
		if m == nil {
			return
		}
		matchMu.Lock()
		if !found {
			found = true
			handle = insole.DeviceHandle{
				Address: adv.Addr(),
				Name:    adv.LocalName(),
				Side:    insole.SideFromName(adv.LocalName()),
				Model:   m.Name,
			}
			model = m
			s.log.WithFields(logrus.Fields{
				"device":  handle.Name,
				"address": handle.Address,
				"rssi":    adv.RSSI(),
				"model":   m.Name,
			}).Info("Discovered matching device")
		}
		matchMu.Unlock()
		stopScan()
	})

	matchMu.Lock()
	defer matchMu.Unlock()
	if found {
		return handle, model, nil
	}
	if err != nil {
		return insole.DeviceHandle{}, nil, err
	}
	// The scan ended without a match, so ctx expired or was cancelled.
	return insole.DeviceHandle{}, nil, &transport.ConnectError{Reason: transport.NotFound, Err: ctx.Err()}
}

// matchAdvertisement applies the filter and resolves the device model.
// A device that passes the filter but resolves to no model is skipped:
// without a model its packets cannot be decoded.
func (s *Session) matchAdvertisement(filter Filter, adv transport.Advertisement) *schema.Model {
	name := adv.LocalName()
	if filter.Address != "" && !strings.EqualFold(filter.Address, adv.Addr()) {
		return nil
	}
	if filter.NamePrefix != "" && !hasPrefixFold(name, filter.NamePrefix) {
		return nil
	}
	if s.cfg.Model != "" {
		m, _ := s.registry.Find(s.cfg.Model)
		if filter.Address == "" && !m.Matches(name) {
			// Pinned model without an explicit target address: the name
			// must still identify the model.
			return nil
		}
		return m
	}
	return s.registry.MatchAdvertisement(name)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// resolveModel picks the model for a direct connect: the pinned
// configuration wins, then the handle's recorded model, then a match on
// the device name.
func (s *Session) resolveModel(h insole.DeviceHandle) (*schema.Model, error) {
	if s.cfg.Model != "" {
		m, _ := s.registry.Find(s.cfg.Model)
		return m, nil
	}
	if h.Model != "" {
		if m, ok := s.registry.Find(h.Model); ok {
			return m, nil
		}
	}
	if h.Name != "" {
		if m := s.registry.MatchAdvertisement(h.Name); m != nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w for device %q", ErrNoModel, h.String())
}

// establish dials the target, runs the handshake and hands the live link
// to the supervisor goroutine. The first connect is fully synchronous so
// the caller returns with telemetry flowing.
func (s *Session) establish(ctx context.Context) error {
	s.transition(insole.StateConnecting, nil)

	link, err := s.dial(ctx)
	if err != nil {
		s.failAcquire(err)
		return err
	}

	in := ring.New[notification](ingestBuffer)
	s.attach(link)
	s.transition(insole.StateConnected, nil)
	if err := s.connectedEntry(ctx, link, in); err != nil {
		link.Close()
		s.failAcquire(err)
		return err
	}

	groutine.Go(s.lifeCtx, "session-supervise", func(runCtx context.Context) {
		s.supervise(runCtx, link, in)
	})
	return nil
}

func (s *Session) dial(ctx context.Context) (transport.Link, error) {
	h := s.Handle()
	s.log.WithField("address", h.Address).Info("Connecting")

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	return s.adapter.Dial(dialCtx, h.Address)
}

func (s *Session) attach(link transport.Link) {
	s.mu.Lock()
	s.link = link
	s.mu.Unlock()
}

// supervise owns the session after acquisition: it pumps one link until
// it drops, then runs the reconnect loop, until the session ends.
func (s *Session) supervise(ctx context.Context, link transport.Link, in *ring.Ring[notification]) {
	for {
		cause := s.serve(ctx, link, in)
		link.Close()

		if ctx.Err() != nil || s.isClosing() {
			s.finishTo(insole.StateDisconnected, nil)
			return
		}
		if s.cfg.DisableReconnect {
			s.finishTo(insole.StateDisconnected, cause)
			return
		}

		s.transition(insole.StateReconnecting, cause)
		var err error
		link, in, err = s.redial(ctx)
		if err != nil {
			if s.isClosing() || errors.Is(err, context.Canceled) {
				s.finishTo(insole.StateDisconnected, nil)
			} else {
				s.finishTo(insole.StateDisconnected, err)
			}
			return
		}
	}
}

// serve decodes notifications from one link until it drops or the
// session stops. Returns the reason the link ended.
func (s *Session) serve(ctx context.Context, link transport.Link, in *ring.Ring[notification]) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-link.Disconnected():
			s.log.WithField("address", link.Address()).Warn("Link lost")
			return fmt.Errorf("link to %s lost", link.Address())
		case n := <-in.C():
			s.handleNotification(n)
		}
	}
}

// connectedEntry runs the per-connect handshake. A fresh link carries no
// subscription or mode memory, so the full sequence runs on every entry
// to the connected state: status read, streaming command, subscriptions.
func (s *Session) connectedEntry(ctx context.Context, link transport.Link, in *ring.Ring[notification]) error {
	if st := s.Model().StatusChannel(); st != nil {
		if err := s.refreshStatus(ctx, link, st); err != nil {
			return fmt.Errorf("device information: %w", err)
		}
		if !s.cfg.SkipStreamingCommand {
			cmd, err := schema.EncodeStreamingCommand(s.cfg.StreamingMode)
			if err != nil {
				return err
			}
			if err := s.writeCommand(ctx, link, st.UUID, cmd); err != nil {
				return fmt.Errorf("streaming command: %w", err)
			}
		}
	}

	for _, ch := range s.Model().NotifyChannels() {
		charUUID := ch.UUID
		err := link.Subscribe(charUUID, func(data []byte) {
			// The transport may reuse its buffer after the callback.
			buf := make([]byte, len(data))
			copy(buf, data)
			in.Put(notification{char: charUUID, data: buf, at: time.Now()})
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", charUUID, err)
		}
	}
	return nil
}

// refreshStatus reads the device information characteristic, updates the
// decode ranges and publishes the resulting status snapshot.
func (s *Session) refreshStatus(ctx context.Context, link transport.Link, st *schema.Channel) error {
	readCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()
	data, err := link.Read(readCtx, st.UUID)
	if err != nil {
		return err
	}

	events, err := s.Model().Decode(s.currentRanges(), s.Handle(), st.UUID, data, time.Now())
	if err != nil {
		return err
	}
	for _, ev := range events {
		ds, ok := ev.(insole.DeviceStatus)
		if !ok {
			continue
		}
		ds.RSSI = link.ReadRSSI()
		s.setStatus(ds)
		s.publish(ds)
	}
	return nil
}

func (s *Session) setStatus(ds insole.DeviceStatus) {
	s.mu.Lock()
	s.status = &ds
	if ds.AccelRangeG != 0 || ds.GyroRangeDPS != 0 {
		s.ranges = schema.Ranges{AccelG: ds.AccelRangeG, GyroDPS: ds.GyroRangeDPS}
	}
	s.mu.Unlock()
}

func (s *Session) currentRanges() schema.Ranges {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ranges
}

// writeCommand writes to a control characteristic with response and waits
// out the device's settle period.
func (s *Session) writeCommand(ctx context.Context, link transport.Link, charUUID string, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()
	if err := link.Write(writeCtx, charUUID, data, true); err != nil {
		return err
	}
	return s.settle(ctx)
}

func (s *Session) settle(ctx context.Context) error {
	if s.cfg.SettleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(s.cfg.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// handleNotification decodes one raw notification and publishes the
// resulting events. Decode failures are counted and logged, never fatal.
func (s *Session) handleNotification(n notification) {
	s.notifications.Add(1)

	events, err := s.Model().Decode(s.currentRanges(), s.Handle(), n.char, n.data, n.at)
	if err != nil {
		s.decodeErrors.Add(1)
		s.log.WithError(err).WithField("characteristic", n.char).Debug("Dropped undecodable notification")
		return
	}
	if len(events) == 0 {
		return
	}

	s.trackSerial(n.char, events)
	for _, ev := range events {
		s.publish(ev)
	}
}

// trackSerial accounts for packets missing between consecutive composite
// notifications. Serial numbers wrap at 16 bits; the first packet after
// session start only seeds the tracker.
func (s *Session) trackSerial(char string, events []insole.Event) {
	ch := s.Model().Channel(char)
	if ch == nil || ch.Layout != schema.LayoutSensorFrames {
		return
	}
	first, ok := events[0].(insole.SensorSample)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveSerial {
		gap := int(first.Serial) - int(s.prevSerial)
		if gap < 0 {
			gap += 65536
		}
		if gap > 1 {
			s.lostFrames.Add(int64(gap - 1))
			s.log.WithFields(logrus.Fields{
				"from": s.prevSerial,
				"to":   first.Serial,
				"lost": gap - 1,
			}).Warn("Telemetry gap detected")
		}
	}
	s.prevSerial = first.Serial
	s.haveSerial = true
}

// publish delivers a telemetry event to subscribers. Samples and status
// snapshots flow only while connected; during reconnects they are
// discarded so consumers never see data from a half-established link.
func (s *Session) publish(ev insole.Event) {
	s.mu.RLock()
	connected := s.state == insole.StateConnected
	s.mu.RUnlock()
	if !connected {
		return
	}
	if _, ok := ev.(insole.SensorSample); ok {
		s.samples.Add(1)
	}
	if n := s.bc.publish(ev); n > 0 {
		s.dropped.Add(int64(n))
	}
}

// redial runs dial attempts under the backoff schedule until one lands,
// the attempt budget runs out or the session stops. A dial that connects
// but fails the handshake counts as a failed attempt.
func (s *Session) redial(ctx context.Context) (transport.Link, *ring.Ring[notification], error) {
	s.backoff.Reset()
	var lastErr error

	for {
		if limit := s.cfg.MaxReconnectAttempts; limit >= 0 && s.backoff.Attempts() >= limit {
			err := fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, s.backoff.Attempts())
			if lastErr != nil {
				err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, s.backoff.Attempts(), lastErr)
			}
			return nil, nil, err
		}

		delay := s.backoff.Next()
		s.log.WithFields(logrus.Fields{
			"attempt": s.backoff.Attempts(),
			"delay":   delay,
		}).Info("Reconnecting after backoff")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, nil, ctx.Err()
		case <-t.C:
		}

		link, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = err
			s.log.WithError(err).Warn("Reconnect attempt failed")
			continue
		}

		in := ring.New[notification](ingestBuffer)
		s.attach(link)
		s.transition(insole.StateConnected, nil)
		if err := s.connectedEntry(ctx, link, in); err != nil {
			link.Close()
			s.transition(insole.StateReconnecting, err)
			lastErr = err
			s.log.WithError(err).Warn("Handshake failed after reconnect")
			continue
		}

		s.reconnects.Add(1)
		return link, in, nil
	}
}

// commandTarget snapshots the live link and the device information
// channel for a one-shot operation.
func (s *Session) commandTarget() (transport.Link, *schema.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != insole.StateConnected || s.link == nil {
		return nil, nil, transport.ErrNotConnected
	}
	st := s.model.StatusChannel()
	if st == nil {
		return nil, nil, ErrNoStatusChannel
	}
	return s.link, st, nil
}

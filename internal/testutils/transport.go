// Package testutils provides scripted BLE fakes for tests: an in-memory
// transport.Adapter with configurable peripherals, plus builders for the
// vendor packet formats. Nothing here touches a radio.
package testutils

import (
	"context"
	"strings"
	"sync"

	"github.com/srg/instep/internal/bledb"
	"github.com/srg/instep/internal/transport"
)

// FakeAdvertisement is a canned advertising report.
type FakeAdvertisement struct {
	address     string
	name        string
	rssi        int
	connectable bool
	services    []string
	manufData   []byte
}

// NewAdvertisement creates a connectable advertisement with a default RSSI.
func NewAdvertisement(address, name string) *FakeAdvertisement {
	return &FakeAdvertisement{
		address:     address,
		name:        name,
		rssi:        -50,
		connectable: true,
	}
}

func (a *FakeAdvertisement) WithRSSI(rssi int) *FakeAdvertisement {
	a.rssi = rssi
	return a
}

func (a *FakeAdvertisement) WithConnectable(c bool) *FakeAdvertisement {
	a.connectable = c
	return a
}

func (a *FakeAdvertisement) WithServices(uuids ...string) *FakeAdvertisement {
	a.services = append(a.services, uuids...)
	return a
}

func (a *FakeAdvertisement) WithManufacturerData(data []byte) *FakeAdvertisement {
	a.manufData = data
	return a
}

func (a *FakeAdvertisement) Addr() string             { return a.address }
func (a *FakeAdvertisement) LocalName() string        { return a.name }
func (a *FakeAdvertisement) RSSI() int                { return a.rssi }
func (a *FakeAdvertisement) Connectable() bool        { return a.connectable }
func (a *FakeAdvertisement) Services() []string       { return a.services }
func (a *FakeAdvertisement) ManufacturerData() []byte { return a.manufData }

// FakeWrite is one recorded characteristic write.
type FakeWrite struct {
	Char         string
	Data         []byte
	WithResponse bool
}

// FakePeripheral is one simulated device: its advertisement identity and
// its GATT behavior. A peripheral is shared by every link dialed to it,
// so scripted values and recorded writes survive reconnects.
type FakePeripheral struct {
	mu      sync.Mutex
	address string
	name    string
	rssi    int

	values    map[string][]byte
	readErrs  map[string]error
	writeErrs map[string]error
	subErrs   map[string]error
	writes    []FakeWrite
}

// NewPeripheral creates a peripheral with no characteristics scripted.
func NewPeripheral(address, name string) *FakePeripheral {
	return &FakePeripheral{
		address:   address,
		name:      name,
		rssi:      -58,
		values:    make(map[string][]byte),
		readErrs:  make(map[string]error),
		writeErrs: make(map[string]error),
		subErrs:   make(map[string]error),
	}
}

func (p *FakePeripheral) WithRSSI(rssi int) *FakePeripheral {
	p.rssi = rssi
	return p
}

// WithValue scripts the characteristic's read value. UUIDs are accepted
// in short or full form.
func (p *FakePeripheral) WithValue(charUUID string, data []byte) *FakePeripheral {
	p.SetValue(charUUID, data)
	return p
}

func (p *FakePeripheral) WithReadError(charUUID string, err error) *FakePeripheral {
	p.mu.Lock()
	p.readErrs[bledb.NormalizeUUID(charUUID)] = err
	p.mu.Unlock()
	return p
}

func (p *FakePeripheral) WithWriteError(charUUID string, err error) *FakePeripheral {
	p.mu.Lock()
	p.writeErrs[bledb.NormalizeUUID(charUUID)] = err
	p.mu.Unlock()
	return p
}

func (p *FakePeripheral) WithSubscribeError(charUUID string, err error) *FakePeripheral {
	p.mu.Lock()
	p.subErrs[bledb.NormalizeUUID(charUUID)] = err
	p.mu.Unlock()
	return p
}

// Advertisement derives the advertising report this peripheral would emit.
func (p *FakePeripheral) Advertisement() *FakeAdvertisement {
	return NewAdvertisement(p.address, p.name).WithRSSI(p.rssi)
}

// SetValue updates a characteristic's read value at runtime.
func (p *FakePeripheral) SetValue(charUUID string, data []byte) {
	p.mu.Lock()
	p.values[bledb.NormalizeUUID(charUUID)] = data
	p.mu.Unlock()
}

// Writes returns every write recorded across all links, oldest first.
func (p *FakePeripheral) Writes() []FakeWrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]FakeWrite, len(p.writes))
	copy(out, p.writes)
	return out
}

// WritesTo returns the recorded writes for one characteristic.
func (p *FakePeripheral) WritesTo(charUUID string) []FakeWrite {
	norm := bledb.NormalizeUUID(charUUID)
	var out []FakeWrite
	for _, w := range p.Writes() {
		if w.Char == norm {
			out = append(out, w)
		}
	}
	return out
}

// FakeAdapter implements transport.Adapter over scripted peripherals.
// Scan delivers each registered advertisement once, then blocks until the
// context ends, mirroring a radio whose neighborhood went quiet.
type FakeAdapter struct {
	mu          sync.Mutex
	peripherals map[string]*FakePeripheral
	advs        []transport.Advertisement
	scanErr     error
	dialErrs    []error
	dials       int
	links       []*FakeLink
}

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{peripherals: make(map[string]*FakePeripheral)}
}

// WithPeripheral registers a dialable peripheral and its advertisement.
func (a *FakeAdapter) WithPeripheral(p *FakePeripheral) *FakeAdapter {
	a.mu.Lock()
	a.peripherals[strings.ToLower(p.address)] = p
	a.advs = append(a.advs, p.Advertisement())
	a.mu.Unlock()
	return a
}

// WithAdvertisement registers a report with no dialable peripheral behind
// it, such as a neighbor device the session should skip.
func (a *FakeAdapter) WithAdvertisement(adv transport.Advertisement) *FakeAdapter {
	a.mu.Lock()
	a.advs = append(a.advs, adv)
	a.mu.Unlock()
	return a
}

// WithScanError makes Scan fail immediately with err.
func (a *FakeAdapter) WithScanError(err error) *FakeAdapter {
	a.mu.Lock()
	a.scanErr = err
	a.mu.Unlock()
	return a
}

// FailDials queues errors consumed by subsequent Dial calls, one per
// attempt. A nil entry lets that attempt through.
func (a *FakeAdapter) FailDials(errs ...error) *FakeAdapter {
	a.mu.Lock()
	a.dialErrs = append(a.dialErrs, errs...)
	a.mu.Unlock()
	return a
}

// Dials reports how many Dial calls were made.
func (a *FakeAdapter) Dials() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dials
}

// LastLink returns the most recently dialed link, nil before the first.
func (a *FakeAdapter) LastLink() *FakeLink {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.links) == 0 {
		return nil
	}
	return a.links[len(a.links)-1]
}

// Links returns every link handed out, oldest first.
func (a *FakeAdapter) Links() []*FakeLink {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*FakeLink, len(a.links))
	copy(out, a.links)
	return out
}

func (a *FakeAdapter) Scan(ctx context.Context, allowDup bool, handler func(transport.Advertisement)) error {
	a.mu.Lock()
	scanErr := a.scanErr
	advs := make([]transport.Advertisement, len(a.advs))
	copy(advs, a.advs)
	a.mu.Unlock()

	if scanErr != nil {
		return scanErr
	}
	for _, adv := range advs {
		if ctx.Err() != nil {
			return nil
		}
		handler(adv)
	}
	<-ctx.Done()
	return nil
}

func (a *FakeAdapter) Dial(ctx context.Context, address string) (transport.Link, error) {
	a.mu.Lock()
	a.dials++
	var scripted error
	if len(a.dialErrs) > 0 {
		scripted = a.dialErrs[0]
		a.dialErrs = a.dialErrs[1:]
	}
	p := a.peripherals[strings.ToLower(address)]
	a.mu.Unlock()

	if scripted != nil {
		return nil, scripted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &transport.ConnectError{Reason: transport.NotFound, Address: address}
	}

	link := &FakeLink{
		peripheral: p,
		subs:       make(map[string]func([]byte)),
		down:       make(chan struct{}),
	}
	a.mu.Lock()
	a.links = append(a.links, link)
	a.mu.Unlock()
	return link, nil
}

// FakeLink is one live connection to a FakePeripheral. Tests push
// notifications with Notify and sever the link with Drop.
type FakeLink struct {
	peripheral *FakePeripheral

	mu       sync.Mutex
	subs     map[string]func([]byte)
	closed   bool
	down     chan struct{}
	downOnce sync.Once
}

func (l *FakeLink) Address() string { return l.peripheral.address }

func (l *FakeLink) Subscribe(charUUID string, fn func(data []byte)) error {
	norm := bledb.NormalizeUUID(charUUID)

	l.peripheral.mu.Lock()
	err := l.peripheral.subErrs[norm]
	l.peripheral.mu.Unlock()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return transport.ErrNotConnected
	}
	l.subs[norm] = fn
	return nil
}

func (l *FakeLink) Unsubscribe(charUUID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs, bledb.NormalizeUUID(charUUID))
	return nil
}

func (l *FakeLink) Read(ctx context.Context, charUUID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	norm := bledb.NormalizeUUID(charUUID)

	l.peripheral.mu.Lock()
	defer l.peripheral.mu.Unlock()
	if err := l.peripheral.readErrs[norm]; err != nil {
		return nil, err
	}
	data, ok := l.peripheral.values[norm]
	if !ok {
		return nil, &transport.NotFoundError{Resource: "characteristic", UUID: charUUID}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (l *FakeLink) Write(ctx context.Context, charUUID string, data []byte, withResponse bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	norm := bledb.NormalizeUUID(charUUID)

	l.peripheral.mu.Lock()
	defer l.peripheral.mu.Unlock()
	if err := l.peripheral.writeErrs[norm]; err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	l.peripheral.writes = append(l.peripheral.writes, FakeWrite{
		Char:         norm,
		Data:         buf,
		WithResponse: withResponse,
	})
	return nil
}

func (l *FakeLink) ReadRSSI() int {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return 0
	}
	return l.peripheral.rssi
}

func (l *FakeLink) Disconnected() <-chan struct{} { return l.down }

func (l *FakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.Drop()
	return nil
}

// Drop severs the link as an unsolicited loss: Disconnected closes and
// further notifications stop.
func (l *FakeLink) Drop() {
	l.downOnce.Do(func() {
		close(l.down)
	})
}

// Notify delivers a notification to the subscribed handler, if any.
// Returns false when nothing was delivered. The handler runs on the
// caller's goroutine, like a transport callback would.
func (l *FakeLink) Notify(charUUID string, data []byte) bool {
	l.mu.Lock()
	fn := l.subs[bledb.NormalizeUUID(charUUID)]
	closed := l.closed
	l.mu.Unlock()
	if closed || fn == nil {
		return false
	}
	fn(data)
	return true
}

// IsSubscribed reports whether a handler is registered for the
// characteristic.
func (l *FakeLink) IsSubscribed(charUUID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.subs[bledb.NormalizeUUID(charUUID)]
	return ok
}

package seqsif

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/mxlink/mxlink"
)

func TestInitSignalsReadyImmediately(t *testing.T) {
	s := New(Config{Hostname: "test"})
	ready := false
	s.Init(func() { ready = true })
	if !ready {
		t.Fatal("Init did not call ready")
	}
}

func TestRegisterLifecycle(t *testing.T) {
	s := New(Config{Hostname: "test", UDPPorts: 1, TCPPorts: 1})
	var events []mxlink.InterfaceEvent
	s.OnChange(func(ev mxlink.InterfaceEvent) { events = append(events, ev) })

	if err := s.SetLinkUp(); err != errNotRegistered {
		t.Errorf("got %v, expected errNotRegistered before Register", err)
	}
	if err := s.AddrAcquisitionStart(); err != errNotRegistered {
		t.Errorf("got %v, expected errNotRegistered before Register", err)
	}

	mac := [6]byte{2, 0, 0, 1, 2, 3}
	if err := s.Register(mac); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(mac); err == nil {
		t.Error("second Register should fail")
	}
	if s.Stack() == nil {
		t.Fatal("stack not constructed by Register")
	}
	if len(events) != 1 || events[0] != mxlink.InterfaceEventUp {
		t.Errorf("events = %v, expected a single interface-up", events)
	}
}

func TestSetLinkEdgeDetection(t *testing.T) {
	s := New(Config{UDPPorts: 1})
	var events []mxlink.InterfaceEvent
	if err := s.Register([6]byte{2, 0, 0, 4, 5, 6}); err != nil {
		t.Fatal(err)
	}
	s.OnChange(func(ev mxlink.InterfaceEvent) { events = append(events, ev) })

	s.SetLinkUp()
	s.SetLinkUp() // Repeat: no edge, no event.
	s.SetLinkDown()
	s.SetLinkDown()

	want := []mxlink.InterfaceEvent{mxlink.InterfaceEventLinkUp, mxlink.InterfaceEventLinkDown}
	if len(events) != len(want) {
		t.Fatalf("events = %v, expected %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %v, expected %v", i, events[i], want[i])
		}
	}
	if s.IsLinkUp() {
		t.Error("link still up after SetLinkDown")
	}
	if s.HasAddr() {
		t.Error("no address should be assigned without an exchange")
	}
}

func TestAddrAcquisitionRestartAfterStop(t *testing.T) {
	s := New(Config{Hostname: "test", UDPPorts: 1})
	if err := s.Register([6]byte{2, 0, 0, 0xa, 0xb, 0xc}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddrAcquisitionStart(); err != nil {
		t.Fatal(err)
	}
	if err := s.AddrAcquisitionStop(); err != nil {
		t.Fatal(err)
	}
	// The stop aborted the exchange and released the DHCP port, so a
	// fresh acquisition must be accepted.
	if err := s.AddrAcquisitionStart(); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	if err := s.AddrAcquisitionStop(); err != nil {
		t.Fatal(err)
	}
}

func TestAddrAcquisitionStopWithoutAddr(t *testing.T) {
	s := New(Config{UDPPorts: 1})
	if err := s.Register([6]byte{2, 0, 0, 7, 8, 9}); err != nil {
		t.Fatal(err)
	}
	fired := 0
	s.OnChange(func(mxlink.InterfaceEvent) { fired++ })
	if err := s.AddrAcquisitionStop(); err != nil {
		t.Fatal(err)
	}
	if fired != 0 {
		t.Error("stop without an address should not fire a change event")
	}
	if s.HasAddr() {
		t.Error("HasAddr true after stop")
	}
}

// memTransport is an in-memory frame transport for pump tests.
type memTransport struct {
	mu      sync.Mutex
	inbound [][]byte
	sent    [][]byte
}

func (m *memTransport) RecvFrame(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inbound) == 0 {
		return 0, nil
	}
	frame := m.inbound[0]
	m.inbound = m.inbound[1:]
	return copy(b, frame), nil
}

func (m *memTransport) SendFrame(b []byte) error {
	m.mu.Lock()
	m.sent = append(m.sent, append([]byte{}, b...))
	m.mu.Unlock()
	return nil
}

func (m *memTransport) sentFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte{}, m.sent...)
}

func TestPumpMovesFramesAndCounters(t *testing.T) {
	s := New(Config{UDPPorts: 1})
	if err := s.Register([6]byte{2, 0, 0, 0xd, 0xe, 0xf}); err != nil {
		t.Fatal(err)
	}
	tr := &memTransport{inbound: [][]byte{make([]byte, 60)}}
	ctx := &mxlink.DataplaneCtx{SendQueue: make(chan *mxlink.PacketBuffer, 2)}
	go s.Pump(ctx, tr)

	outbound := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	pkt := &mxlink.PacketBuffer{}
	pkt.Len = copy(pkt.Data[:], outbound)
	pkt.DMALen = pkt.Len
	ctx.TxPending.Add(1)
	ctx.SendQueue <- pkt

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(tr.sentFrames()) >= 1 && ctx.TxPending.Load() == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if ctx.TxPending.Load() != 0 {
		t.Errorf("TxPending = %d after transmit", ctx.TxPending.Load())
	}
	if ctx.RxPending.Load() != 0 {
		t.Errorf("RxPending = %d after inbound frame was consumed", ctx.RxPending.Load())
	}
	found := false
	for _, f := range tr.sentFrames() {
		if bytes.Equal(f, outbound) {
			found = true
		}
	}
	if !found {
		t.Fatalf("queued frame never reached the transport, sent %d frames", len(tr.sentFrames()))
	}
}

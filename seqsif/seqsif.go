// Package seqsif adapts the seqs userspace TCP/IP stack to the
// mxlink.Interface contract: interface registration, link state and
// DHCP-backed address acquisition.
package seqsif

import (
	"errors"
	"net/netip"
	"sync"
	"time"

	"log/slog"

	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/stacks"

	"github.com/mxlink/mxlink"
)

// Full ethernet frame size handled by the stack.
const mtu = mxlink.MTU + 14

// dhcpPollInterval paces the wait for a DHCP offer.
const dhcpPollInterval = 500 * time.Millisecond

var errNotRegistered = errors.New("seqsif: interface not registered")

type Config struct {
	// Hostname requested in DHCP exchanges.
	Hostname string
	// RequestedAddr, if valid, is asked of the DHCP server.
	RequestedAddr netip.Addr
	// UDPPorts and TCPPorts size the stack's port tables. One extra
	// UDP port is always reserved for the DHCP client.
	UDPPorts uint16
	TCPPorts uint16
	Logger   *slog.Logger
}

// Interface implements mxlink.Interface on a stacks.PortStack.
// Construct with New, then let the connection manager drive it.
type Interface struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	stack     *stacks.PortStack
	dhcpc     *stacks.DHCPClient
	linkUp    bool
	addr      netip.Addr
	acquiring bool
	// gen invalidates offer pollers from acquisitions that were
	// stopped before completing.
	gen      uint32
	onchange func(mxlink.InterfaceEvent)
}

func New(cfg Config) *Interface {
	return &Interface{cfg: cfg, logger: cfg.Logger}
}

// Init implements mxlink.Interface. The userspace stack has no
// separate init thread, so readiness is immediate.
func (s *Interface) Init(ready func()) {
	if ready != nil {
		ready()
	}
}

// Register constructs the port stack with the module's hardware
// address and arms the interface administratively up.
func (s *Interface) Register(mac [6]byte) error {
	s.mu.Lock()
	if s.stack != nil {
		s.mu.Unlock()
		return errors.New("seqsif: interface already registered")
	}
	s.stack = stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             mac,
		MaxOpenPortsUDP: int(s.cfg.UDPPorts) + 1, // DHCP client port.
		MaxOpenPortsTCP: int(s.cfg.TCPPorts),
		MTU:             mtu,
		Logger:          s.logger,
	})
	s.dhcpc = stacks.NewDHCPClient(s.stack, dhcp.DefaultClientPort)
	cb := s.onchange
	s.mu.Unlock()
	if cb != nil {
		cb(mxlink.InterfaceEventUp)
	}
	return nil
}

func (s *Interface) SetLinkUp() error   { return s.setLink(true) }
func (s *Interface) SetLinkDown() error { return s.setLink(false) }

func (s *Interface) setLink(up bool) error {
	s.mu.Lock()
	if s.stack == nil {
		s.mu.Unlock()
		return errNotRegistered
	}
	changed := s.linkUp != up
	s.linkUp = up
	cb := s.onchange
	s.mu.Unlock()
	if changed && cb != nil {
		if up {
			cb(mxlink.InterfaceEventLinkUp)
		} else {
			cb(mxlink.InterfaceEventLinkDown)
		}
	}
	return nil
}

// AddrAcquisitionStart begins a DHCP exchange. A second start while an
// exchange is in flight is a no-op.
func (s *Interface) AddrAcquisitionStart() error {
	s.mu.Lock()
	if s.stack == nil {
		s.mu.Unlock()
		return errNotRegistered
	}
	if s.acquiring {
		s.mu.Unlock()
		return nil
	}
	// Reset any previous exchange; BeginRequest refuses a client that
	// is mid-exchange or done, and Abort releases its UDP port.
	s.dhcpc.Abort()
	err := s.dhcpc.BeginRequest(stacks.DHCPRequestConfig{
		RequestedAddr: s.cfg.RequestedAddr,
		Xid:           uint32(time.Now().Nanosecond()),
		Hostname:      s.cfg.Hostname,
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.acquiring = true
	gen := s.gen
	s.mu.Unlock()
	go s.awaitOffer(gen)
	return nil
}

// awaitOffer polls the DHCP exchange to completion and installs the
// offered address on the stack.
func (s *Interface) awaitOffer(gen uint32) {
	for {
		s.mu.Lock()
		if s.gen != gen || !s.acquiring {
			s.mu.Unlock()
			return // Acquisition stopped underneath us.
		}
		done := s.dhcpc.IsDone()
		s.mu.Unlock()
		if done {
			break
		}
		time.Sleep(dhcpPollInterval)
	}
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	ip := s.dhcpc.Offer()
	s.stack.SetAddr(ip) // Install only after the exchange completes.
	s.addr = ip
	s.acquiring = false
	cb := s.onchange
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.Info("seqsif:dhcp-offer", slog.String("addr", ip.String()))
	}
	if cb != nil {
		cb(mxlink.InterfaceEventAddrChange)
	}
}

// AddrAcquisitionStop abandons any in-flight exchange and releases the
// assigned address.
func (s *Interface) AddrAcquisitionStop() error {
	s.mu.Lock()
	if s.stack == nil {
		s.mu.Unlock()
		return errNotRegistered
	}
	s.gen++
	s.acquiring = false
	s.dhcpc.Abort()
	hadAddr := s.addr.IsValid()
	if hadAddr {
		s.stack.SetAddr(netip.AddrFrom4([4]byte{}))
	}
	s.addr = netip.Addr{}
	cb := s.onchange
	s.mu.Unlock()
	if hadAddr && cb != nil {
		cb(mxlink.InterfaceEventAddrChange)
	}
	return nil
}

func (s *Interface) IsLinkUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkUp
}

func (s *Interface) HasAddr() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr.IsValid()
}

func (s *Interface) Addr() netip.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Interface) OnChange(fn func(mxlink.InterfaceEvent)) {
	s.mu.Lock()
	s.onchange = fn
	s.mu.Unlock()
}

// Stack returns the underlying port stack, nil before Register. Used
// by dataplane workers and socket owners.
func (s *Interface) Stack() *stacks.PortStack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stack
}

// HandleEth fills b with the next outbound frame the stack wants
// transmitted, returning its length, zero when idle.
func (s *Interface) HandleEth(b []byte) (int, error) {
	stack := s.Stack()
	if stack == nil {
		return 0, errNotRegistered
	}
	return stack.HandleEth(b)
}

// RecvEth submits an inbound frame to the stack.
func (s *Interface) RecvEth(frame []byte) error {
	stack := s.Stack()
	if stack == nil {
		return errNotRegistered
	}
	return stack.RecvEth(frame)
}

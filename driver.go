package mxlink

import (
	"net/netip"
	"time"
)

// Mode selects the wireless module's role.
type Mode uint8

const (
	ModeStation Mode = iota + 1
	ModeAP
)

// Driver is the command surface of the wireless module's control plane.
// Implementations frame requests over the SPI transport; all calls are
// bounded by the given timeout and return the module's verdict.
type Driver interface {
	SetMode(mode Mode, timeout time.Duration) error
	Connect(ssid, psk string, timeout time.Duration) error
	Disconnect(timeout time.Duration) error
	// RequestVersion writes the module's firmware revision into dst and
	// returns the number of bytes written.
	RequestVersion(dst []byte, timeout time.Duration) (int, error)
	HardwareAddress(timeout time.Duration) ([6]byte, error)
	// OnStatusChange registers the single status indication callback.
	// The callback may run on the control-plane goroutine and must not
	// block.
	OnStatusChange(fn func(Status))
}

// InterfaceEvent identifies a change on the IP stack's network interface.
type InterfaceEvent uint8

const (
	InterfaceEventUp InterfaceEvent = iota + 1
	InterfaceEventDown
	InterfaceEventLinkUp
	InterfaceEventLinkDown
	InterfaceEventAddrChange
)

// Interface is the slice of the IP stack the connection manager drives.
// The manager holds a non-owning handle: it toggles link state and
// address acquisition but never tears the interface down.
type Interface interface {
	// Init brings up the stack's internals. ready is invoked once the
	// stack accepts requests; it may run on another goroutine.
	Init(ready func())
	// Register adds and arms the interface with the module's hardware
	// address. A failure here is unrecoverable for the caller.
	Register(mac [6]byte) error
	SetLinkUp() error
	SetLinkDown() error
	// AddrAcquisitionStart begins obtaining an address for the
	// interface (DHCP or equivalent); Stop releases the address and
	// ends the exchange.
	AddrAcquisitionStart() error
	AddrAcquisitionStop() error
	IsLinkUp() bool
	HasAddr() bool
	// Addr returns the interface address, invalid while unassigned.
	Addr() netip.Addr
	// OnChange registers the callback invoked on any interface flag or
	// address transition. The callback must not block.
	OnChange(fn func(InterfaceEvent))
}

// ConfigStore provides read-only access to host configuration entries.
// Entries are re-read on every association attempt so live
// reconfiguration takes effect on the next connect.
type ConfigStore interface {
	GetEntry(key string) []byte
}

// Well-known ConfigStore keys.
const (
	KeyPreferredSSID        = "wifi_preferred_ap_ssid"
	KeyPreferredCredentials = "wifi_preferred_ap_credentials"
)

package mxlink

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// FirmwareRevisionSize is the capacity reserved for the module's
// firmware revision string, excluding the terminating NUL.
const FirmwareRevisionSize = 24

// Config collects the collaborators a Conn drives. Driver, Interface
// and Store are mandatory; worker functions and Logger may be nil.
type Config struct {
	Driver    Driver
	Interface Interface
	Store     ConfigStore
	// Dataplane and ControlPlane are the worker bodies spawned before
	// the run loop begins normal operation. They own their context for
	// the process lifetime.
	Dataplane    DataplaneFunc
	ControlPlane ControlPlaneFunc
	Logger       *slog.Logger
}

// Conn is the connection manager for one wireless module. It owns the
// module's association lifecycle and keeps the IP interface's link and
// address state synchronized with it. Create with New, then call Run
// on a dedicated goroutine; Run does not return.
type Conn struct {
	cfg    Config
	logger *slog.Logger

	// status is written only by the driver's status callback and read
	// from the run loop and association waits.
	status atomic.Uint32
	// last is the run loop's private last-observed status.
	last Status

	events *EventWord

	fwrev [FirmwareRevisionSize + 1]byte
	mac   [6]byte

	dataplane    DataplaneCtx
	controlPlane ControlPlaneCtx

	started atomic.Bool
	sleep   func(time.Duration)

	mu        sync.Mutex
	netlinkCb func(InterfaceEvent)
}

func New(cfg Config) (*Conn, error) {
	if cfg.Driver == nil || cfg.Interface == nil || cfg.Store == nil {
		return nil, errors.New("mxlink: Driver, Interface and Store are required")
	}
	c := &Conn{
		cfg:    cfg,
		logger: cfg.Logger,
		events: NewEventWord(),
		sleep:  time.Sleep,
	}
	return c, nil
}

// Status returns the module status last reported by the driver.
func (c *Conn) Status() Status {
	return Status(c.status.Load())
}

// FirmwareRevision returns the revision recorded during module
// bring-up, empty until bring-up completes. The underlying buffer is
// written only by the Run goroutine during bring-up; call from other
// goroutines only once bring-up is done (any status indication or
// interface event implies it).
func (c *Conn) FirmwareRevision() string {
	n := 0
	for n < FirmwareRevisionSize && c.fwrev[n] != 0 {
		n++
	}
	return string(c.fwrev[:n])
}

// HardwareAddr6 returns the module's 6-byte MAC address recorded
// during bring-up. Like FirmwareRevision, it is valid only after
// bring-up completes.
func (c *Conn) HardwareAddr6() ([6]byte, error) {
	if c.mac == [6]byte{} {
		return [6]byte{}, errors.New("hardware address not acquired")
	}
	return c.mac, nil
}

// onStatusChanged is the driver's status indication callback. It may
// run on the control-plane goroutine; the atomic store before the post
// keeps the (status, notification) pairing consistent for readers.
func (c *Conn) onStatusChanged(newStatus Status) {
	old := Status(c.status.Swap(uint32(newStatus)))
	c.debug("status-notify",
		slog.String("old", old.String()),
		slog.String("new", newStatus.String()),
	)
	c.events.Post(EvStatusUpdate)
}

// onInterfaceEvent is the IP interface's change callback.
func (c *Conn) onInterfaceEvent(ev InterfaceEvent) {
	var bits Events
	switch ev {
	case InterfaceEventUp:
		bits = EvInterfaceUp
	case InterfaceEventDown:
		bits = EvInterfaceDown
	case InterfaceEventLinkUp:
		bits = EvLinkUp
	case InterfaceEventLinkDown:
		bits = EvLinkDown
	case InterfaceEventAddrChange:
		bits = EvIPChange
	}
	if bits != 0 {
		c.events.Post(bits)
	}
	c.mu.Lock()
	cb := c.netlinkCb
	c.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

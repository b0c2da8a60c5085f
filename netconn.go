package mxlink

import (
	"time"

	"log/slog"
)

// watchdogInterval bounds the run loop's event wait so link and
// association state are re-evaluated periodically even with no events.
const watchdogInterval = 30 * time.Second

// Run is the connection manager's entry point: it initializes the IP
// stack, spawns the worker planes, performs module bring-up, registers
// the network interface and then services events forever. Failures to
// associate or to acquire an address are retried on the next wakeup;
// Run only panics on unrecoverable startup errors (interface
// registration), matching the system's no-degraded-mode policy.
func (c *Conn) Run() {
	drv, itf := c.cfg.Driver, c.cfg.Interface

	c.started.Store(true)

	itf.Init(func() { c.events.Post(EvReady) })
	c.events.Wait(EvReady, waitForever)

	c.startWorkers()

	drv.OnStatusChange(c.onStatusChanged)

	// Blocks until the module answers both identity queries.
	c.bringUpModule()

	itf.OnChange(c.onInterfaceEvent)
	if err := itf.Register(c.mac); err != nil {
		panic("mxlink: interface registration failed: " + err.Error())
	}

	// Module associated before the interface existed: sync immediately.
	if c.Status().IsAssociated() {
		c.setLink(true)
		if err := itf.AddrAcquisitionStart(); err != nil {
			c.logerr("run:addr-start", slog.String("err", err.Error()))
		}
	}

	c.last = StatusNone
	for {
		if st := c.Status(); st != StatusStationUp && st != StatusStationGotIP {
			c.connectToAP()
		}

		got := c.events.WaitAny(evAll, watchdogInterval)
		if got == 0 {
			continue
		}
		c.trace("run:wake", slog.Uint64("events", uint64(got)))

		// One status read per iteration. An update arriving mid-dispatch
		// keeps its pending bit and is dispatched on the next wake; a
		// fresh read here would record it as already observed.
		st := c.Status()
		if got.Has(EvStatusUpdate) && st != c.last {
			c.applyLinkAction(st)

			switch {
			case st < StatusStationUp:
				c.connectToAP()
			case !itf.IsLinkUp() && itf.HasAddr():
				// Link lost with an address still assigned: release it.
				if err := itf.AddrAcquisitionStop(); err != nil {
					c.logerr("run:addr-stop", slog.String("err", err.Error()))
				}
			case itf.IsLinkUp() && !itf.HasAddr():
				if err := itf.AddrAcquisitionStart(); err != nil {
					c.logerr("run:addr-start", slog.String("err", err.Error()))
				}
			}
		}

		if got.Has(EvReconnectRequest) {
			if err := drv.Disconnect(disconnectTimeout); err != nil {
				c.logerr("run:disconnect", slog.String("err", err.Error()))
			}
			c.connectToAP()
		}

		c.last = st
	}
}

// applyLinkAction maps a module status to the interface's link state.
// Unrecognized statuses fail safe to link up rather than leaving the
// interface in an undefined state.
func (c *Conn) applyLinkAction(st Status) {
	switch st {
	case StatusStationUp, StatusStationGotIP, StatusAPUp:
		c.setLink(true)
	case StatusNone, StatusStationDown, StatusAPDown:
		c.setLink(false)
	default:
		c.warn("unknown module status indication", slog.Uint64("status", uint64(st)))
		c.setLink(true)
	}
}

func (c *Conn) setLink(up bool) {
	var err error
	if up {
		err = c.cfg.Interface.SetLinkUp()
	} else {
		err = c.cfg.Interface.SetLinkDown()
	}
	if err != nil {
		c.logerr("run:set-link", slog.Bool("up", up), slog.String("err", err.Error()))
	}
}

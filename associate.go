package mxlink

import (
	"time"

	"log/slog"
)

// Timeouts for module control-plane requests. Connect is bounded by
// the module's own association retries and gets a larger budget.
const (
	defaultTimeout    = 10 * time.Second
	connectTimeout    = 120 * time.Second
	disconnectTimeout = 1 * time.Second
)

// connectToAP performs one association attempt: configure station
// mode, read the preferred network from the config store and issue a
// connect request, then wait for status convergence. Retrying is the
// run loop's job, not this function's. Reports whether the module is
// associated on return; an already-associated module short-circuits
// true.
func (c *Conn) connectToAP() bool {
	status := c.Status()
	if status == StatusNone || status == StatusStationDown {
		if err := c.cfg.Driver.SetMode(ModeStation, defaultTimeout); err != nil {
			c.logerr("connect:set-mode", slog.String("err", err.Error()))
		}

		// Re-read credentials every attempt so a reconfiguration
		// through the store takes effect on the next connect.
		ssid := string(c.cfg.Store.GetEntry(KeyPreferredSSID))
		psk := string(c.cfg.Store.GetEntry(KeyPreferredCredentials))

		err := c.cfg.Driver.Connect(ssid, psk, connectTimeout)
		if err != nil {
			c.logerr("connect:request",
				slog.String("ssid", ssid),
				slog.String("err", err.Error()),
			)
		} else {
			c.waitForStatus(StatusStationUp, defaultTimeout)
		}
	}
	return c.Status().IsAssociated()
}

// waitForStatus blocks until the module status equals target or
// timeout elapses, reporting success. Every status update wakes the
// loop and is re-checked, so a transient intermediate status does not
// end the wait early; the remaining budget is recomputed after each
// wakeup rather than reset.
func (c *Conn) waitForStatus(target Status, timeout time.Duration) bool {
	if c.Status() == target {
		return true
	}
	deadline := time.Now().Add(timeout)
	var observed Events
	for c.Status() != target {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		observed |= c.events.Wait(EvStatusUpdate, remaining)
	}
	// Re-raise the consumed update so the run loop's multiplexer still
	// observes the transition this wait converged on.
	if observed != 0 {
		c.events.Post(observed)
	}
	return c.Status() == target
}

// RequestReconnect asks the run loop to drop the current association
// and connect again, e.g. after the preferred network changed in the
// config store. Callable from any goroutine; the request is handled
// cooperatively at the loop's next wakeup. Returns false if Run has
// not started yet.
func (c *Conn) RequestReconnect() bool {
	if !c.started.Load() {
		return false
	}
	c.events.Post(EvReconnectRequest)
	return true
}

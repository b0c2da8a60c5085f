package mxlink

import (
	"net"
	"time"

	"log/slog"
)

const bringupRetryInterval = 10 * time.Second

// bringUpModule queries the module's firmware revision and hardware
// address until both succeed, sleeping a fixed interval between
// attempts. The hardware address is only queried once a revision query
// succeeded. This is a startup gate: the system does not proceed until
// the module responds.
func (c *Conn) bringUpModule() {
	for {
		n, err := c.cfg.Driver.RequestVersion(c.fwrev[:FirmwareRevisionSize], waitForever)
		if err != nil {
			c.logerr("bringup:version", slog.String("err", err.Error()))
		} else {
			if n > FirmwareRevisionSize {
				n = FirmwareRevisionSize
			}
			// NUL termination holds even for maximum-length payloads;
			// the array reserves one byte past FirmwareRevisionSize.
			c.fwrev[n] = 0

			var mac [6]byte
			mac, err = c.cfg.Driver.HardwareAddress(waitForever)
			if err != nil {
				c.logerr("bringup:hwaddr", slog.String("err", err.Error()))
			} else {
				c.mac = mac
			}
		}

		if err != nil {
			c.sleep(bringupRetryInterval)
			continue
		}

		c.info("bringup:done",
			slog.String("fw", c.FirmwareRevision()),
			slog.String("mac", net.HardwareAddr(c.mac[:]).String()),
		)
		return
	}
}

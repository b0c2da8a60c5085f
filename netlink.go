// Netlink surface of the mxlink connection manager.

package mxlink

import (
	"net"

	"log/slog"

	"tinygo.org/x/drivers/netlink"
)

// NetConnect requests a fresh association. The actual connect happens
// cooperatively on the run loop.
func (c *Conn) NetConnect() error {
	if !c.RequestReconnect() {
		return netlink.ErrNotSupported
	}
	return nil
}

// NetDisconnect drops the current association without scheduling a
// reconnect. The run loop will still retry on its next wakeup.
func (c *Conn) NetDisconnect() {
	if err := c.cfg.Driver.Disconnect(disconnectTimeout); err != nil {
		c.logerr("netlink:disconnect", slog.String("err", err.Error()))
	}
}

// NetNotify registers cb for link up/down transitions in netlink
// terms. Address changes carry no netlink equivalent and are not
// forwarded. A nil cb unregisters.
func (c *Conn) NetNotify(cb func(netlink.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb == nil {
		c.netlinkCb = nil
		return
	}
	c.netlinkCb = func(ev InterfaceEvent) {
		switch ev {
		case InterfaceEventUp, InterfaceEventLinkUp:
			cb(netlink.EventNetUp)
		case InterfaceEventDown, InterfaceEventLinkDown:
			cb(netlink.EventNetDown)
		}
	}
}

func (c *Conn) GetHardwareAddr() (net.HardwareAddr, error) {
	mac, err := c.HardwareAddr6()
	if err != nil {
		return nil, err
	}
	return net.HardwareAddr(mac[:]), nil
}

func (c *Conn) GetIPAddr() (net.IP, error) {
	addr := c.cfg.Interface.Addr()
	if !addr.IsValid() {
		return nil, netlink.ErrNotSupported
	}
	return net.IP(addr.AsSlice()), nil
}

package mxlink

import (
	"net/netip"
	"testing"
	"time"
)

// startRun spins up a full connection manager over the fakes with a
// driver that associates shortly after every connect request.
func startRun(t *testing.T) (*Conn, *fakeDriver, *fakeInterface) {
	t.Helper()
	drv := &fakeDriver{version: "V2.3.4", mac: [6]byte{2, 0, 0, 1, 2, 3}}
	drv.onConnect = func() {
		go func() {
			time.Sleep(2 * time.Millisecond)
			drv.report(StatusStationUp)
		}()
	}
	itf := &fakeInterface{}
	c := newTestConn(t, drv, itf)
	go c.Run()
	return c, drv, itf
}

func TestRunAssociatesAndArmsInterface(t *testing.T) {
	c, drv, itf := startRun(t)

	if !waitCond(t, time.Second, func() bool {
		_, starts, _ := itf.counts()
		return itf.IsLinkUp() && starts >= 1
	}) {
		t.Fatal("run loop never raised the link and started address acquisition")
	}
	itf.mu.Lock()
	registered := itf.registered
	itf.mu.Unlock()
	if registered != drv.mac {
		t.Errorf("registered mac %v, expected module mac %v", registered, drv.mac)
	}
	if fw := c.FirmwareRevision(); fw != "V2.3.4" {
		t.Errorf("firmware revision = %q after bring-up", fw)
	}
}

func TestRunRepeatedStatusIsIdempotent(t *testing.T) {
	_, drv, itf := startRun(t)
	if !waitCond(t, time.Second, itf.IsLinkUp) {
		t.Fatal("link never came up")
	}
	linkUps0, starts0, _ := itf.counts()

	// Same status again: observed, but no state transition replayed.
	drv.report(StatusStationUp)
	time.Sleep(50 * time.Millisecond)
	linkUps, starts, _ := itf.counts()
	if linkUps != linkUps0 || starts != starts0 {
		t.Errorf("link-up calls %d->%d, acquisition starts %d->%d; expected no replay",
			linkUps0, linkUps, starts0, starts)
	}
}

func TestRunStartsAcquisitionOncePerLinkUp(t *testing.T) {
	c, drv, itf := startRun(t)
	if !waitCond(t, time.Second, func() bool {
		_, starts, _ := itf.counts()
		return starts == 1
	}) {
		t.Fatal("address acquisition never started")
	}

	// Address acquired: the StationGotIp transition must not restart it.
	itf.mu.Lock()
	itf.addr = netip.AddrFrom4([4]byte{192, 168, 1, 7})
	itf.mu.Unlock()
	drv.report(StatusStationGotIP)
	time.Sleep(50 * time.Millisecond)
	_, starts, _ := itf.counts()
	if starts != 1 {
		t.Errorf("acquisition starts = %d, expected exactly 1", starts)
	}
	if c.Status() != StatusStationGotIP {
		t.Errorf("status = %s", c.Status().String())
	}
}

func TestRunDropReleasesAddress(t *testing.T) {
	_, drv, itf := startRun(t)
	if !waitCond(t, time.Second, itf.IsLinkUp) {
		t.Fatal("link never came up")
	}
	itf.mu.Lock()
	itf.addr = netip.AddrFrom4([4]byte{192, 168, 1, 7})
	itf.mu.Unlock()

	// AP down lowers the link without triggering station reassociation,
	// leaving the stale address for the loop to release.
	drv.report(StatusAPDown)

	if !waitCond(t, time.Second, func() bool {
		_, _, stops := itf.counts()
		return !itf.IsLinkUp() && stops >= 1
	}) {
		t.Fatal("link drop did not lower the link and release the address")
	}
}

func TestRunStatusChangeDuringDispatchIsNotLost(t *testing.T) {
	drv := &fakeDriver{version: "V2.3.4", mac: [6]byte{2, 0, 0, 1, 2, 3}}
	drv.onConnect = func() {
		go func() {
			time.Sleep(2 * time.Millisecond)
			drv.report(StatusStationUp)
		}()
	}
	itf := &fakeInterface{}
	held := make(chan struct{})
	release := make(chan struct{})
	itf.startHook = func() {
		select {
		case <-held: // Only the first acquisition is held.
		default:
			close(held)
			<-release
		}
	}
	c := newTestConn(t, drv, itf)
	go c.Run()

	select {
	case <-held:
	case <-time.After(time.Second):
		t.Fatal("run loop never reached address acquisition")
	}
	// The module drops the association while the loop is still inside
	// the dispatch body for the link-up transition.
	drv.mu.Lock()
	drv.onConnect = nil
	drv.connectErr = errDriverBusy
	drv.mu.Unlock()
	drv.report(StatusStationDown)
	close(release)

	if !waitCond(t, time.Second, func() bool { return !itf.IsLinkUp() }) {
		t.Fatalf("link still up after module reported %s mid-dispatch", c.Status().String())
	}
}

func TestRunReconnectRequest(t *testing.T) {
	c, drv, itf := startRun(t)
	if !waitCond(t, time.Second, itf.IsLinkUp) {
		t.Fatal("link never came up")
	}
	_, connects0, _ := drv.calls()

	drv.mu.Lock()
	drv.onDisconnect = func() { drv.report(StatusStationDown) }
	drv.mu.Unlock()
	if !c.RequestReconnect() {
		t.Fatal("RequestReconnect rejected while running")
	}

	if !waitCond(t, time.Second, func() bool {
		_, connects, disconnects := drv.calls()
		return disconnects >= 1 && connects > connects0
	}) {
		t.Fatal("reconnect request did not drop and redo the association")
	}
	if !waitCond(t, time.Second, func() bool { return c.Status() == StatusStationUp }) {
		t.Fatal("module did not reassociate after reconnect")
	}
}

func TestRunSyncsPreexistingAssociation(t *testing.T) {
	drv := &fakeDriver{version: "V2.3.4", mac: [6]byte{2, 0, 0, 9, 9, 9}}
	itf := &fakeInterface{}
	c := newTestConn(t, drv, itf)
	// Module associated before the manager started, e.g. warm restart.
	c.status.Store(uint32(StatusStationUp))
	go c.Run()

	if !waitCond(t, time.Second, func() bool {
		_, starts, _ := itf.counts()
		return itf.IsLinkUp() && starts >= 1
	}) {
		t.Fatal("preexisting association was not synchronized at startup")
	}
	_, connects, _ := drv.calls()
	if connects != 0 {
		t.Errorf("connect calls = %d, expected none for an associated module", connects)
	}
}

func TestApplyLinkActionFailSafe(t *testing.T) {
	itf := &fakeInterface{}
	c := newTestConn(t, &fakeDriver{}, itf)
	c.applyLinkAction(Status(99))
	if !itf.IsLinkUp() {
		t.Error("unknown status should fail safe to link up")
	}
	c.applyLinkAction(StatusAPDown)
	if itf.IsLinkUp() {
		t.Error("AP down should lower the link")
	}
}

package mxlink

import (
	"errors"
	"sync/atomic"

	"log/slog"

	"golang.org/x/exp/constraints"
)

// MTU is the maximum IP payload carried in one ethernet frame to the
// module.
const MTU = 1500

// maxFrameLen is MTU plus the ethernet header.
const maxFrameLen = MTU + 14

// Queue and buffer sizing for the worker planes.
const (
	planeQueueLen        = 8
	controlPlaneQueueLen = 4
)

// Worker priorities in the vendor's RTOS port. Goroutines have no
// priorities; the values are logged at spawn for trace correlation
// with embedded builds.
const (
	dataplanePriority    = 25
	controlPlanePriority = 24
)

var errTxQueueFull = errors.New("mxlink: dataplane send queue full")

// PacketBuffer is one outbound frame handed to the dataplane worker.
// DMALen is Len rounded up to the SPI transfer word size.
type PacketBuffer struct {
	Len    int
	DMALen int
	Data   [maxFrameLen]byte
}

// DataplaneFunc is the body of the dataplane worker: it moves bulk
// frames between the SPI transport and the IP interface for the
// process lifetime. Ownership of ctx transfers to the worker.
type DataplaneFunc func(ctx *DataplaneCtx)

// ControlPlaneFunc is the body of the control-plane worker: it
// sequences command/response exchanges with the module and delivers
// status indications through OnStatus.
type ControlPlaneFunc func(ctx *ControlPlaneCtx)

// DataplaneCtx is passed once at worker spawn. The worker owns the
// receive side of SendQueue and the counters' producer side.
type DataplaneCtx struct {
	// SendQueue carries outbound frames from SendEth to the transport.
	SendQueue chan *PacketBuffer
	// ControlSendQueue carries framed control requests to the transport.
	ControlSendQueue chan *PacketBuffer
	// ControlResponseBuf carries raw control responses back to the
	// control-plane worker.
	ControlResponseBuf chan []byte

	// RxPending counts inbound frames taken off the transport but not
	// yet consumed by the stack; TxPending counts frames queued on
	// SendQueue but not yet transmitted.
	RxPending atomic.Uint32
	TxPending atomic.Uint32

	// Events is the orchestration consumer's event word; the worker
	// posts EvIPChange-class bits it detects at the transport level.
	Events *EventWord
	// Interface receives inbound frames via its packet input.
	Interface Interface

	// done closes when the worker returns; recorded into the
	// control-plane context so it can observe its peer.
	done chan struct{}
}

// ControlPlaneCtx is passed once at worker spawn.
type ControlPlaneCtx struct {
	// OnStatus delivers decoded status indications; wired to the
	// Conn's status callback.
	OnStatus func(Status)
	// ResponseBuf and SendQueue are shared with the dataplane context.
	ResponseBuf chan []byte
	SendQueue   chan *PacketBuffer
	// Events is the control-plane consumer's own event word, distinct
	// from the orchestration one, for response waits.
	Events *EventWord
	// DataplaneDone is recorded after the dataplane worker spawns.
	DataplaneDone <-chan struct{}
}

// startWorkers constructs the shared queues, wires both worker
// contexts and spawns the configured workers. Nil worker functions are
// allowed for hosts that pump the transport elsewhere.
func (c *Conn) startWorkers() {
	responseBuf := make(chan []byte, controlPlaneQueueLen)
	controlSend := make(chan *PacketBuffer, controlPlaneQueueLen)

	c.dataplane = DataplaneCtx{
		SendQueue:          make(chan *PacketBuffer, planeQueueLen),
		ControlSendQueue:   controlSend,
		ControlResponseBuf: responseBuf,
		Events:             c.events,
		Interface:          c.cfg.Interface,
		done:               make(chan struct{}),
	}
	c.controlPlane = ControlPlaneCtx{
		OnStatus:    c.onStatusChanged,
		ResponseBuf: responseBuf,
		SendQueue:   controlSend,
		Events:      NewEventWord(),
	}

	if c.cfg.Dataplane != nil {
		c.trace("workers:dataplane", slog.Int("prio", dataplanePriority))
		go func() {
			defer close(c.dataplane.done)
			c.cfg.Dataplane(&c.dataplane)
		}()
		c.controlPlane.DataplaneDone = c.dataplane.done
	}
	if c.cfg.ControlPlane != nil {
		c.trace("workers:controlplane", slog.Int("prio", controlPlanePriority))
		go c.cfg.ControlPlane(&c.controlPlane)
	}
}

// SendEth queues an ethernet frame for transmission by the dataplane
// worker. It never blocks; a full queue returns an error and the
// frame is dropped, as the transport is already saturated.
func (c *Conn) SendEth(pkt []byte) error {
	if len(pkt) > maxFrameLen {
		return errors.New("mxlink: frame exceeds MTU")
	}
	buf := &PacketBuffer{}
	buf.Len = copy(buf.Data[:], pkt)
	// SPI DMA moves whole words.
	buf.DMALen = int(alignup(uint32(buf.Len), 4))
	select {
	case c.dataplane.SendQueue <- buf:
		c.dataplane.TxPending.Add(1)
		return nil
	default:
		return errTxQueueFull
	}
}

// TxPacketsWaiting reports frames queued but not yet moved by the
// dataplane worker.
func (c *Conn) TxPacketsWaiting() uint32 {
	return c.dataplane.TxPending.Load()
}

// RxPacketsWaiting reports inbound frames the dataplane worker has
// read but not yet handed to the stack.
func (c *Conn) RxPacketsWaiting() uint32 {
	return c.dataplane.RxPending.Load()
}

// alignup rounds `val` up to nearest multiple of `align`. `align` must be a power of 2.
func alignup[T constraints.Unsigned](val, align T) T {
	return (val + align - 1) &^ (align - 1)
}

package seqsif

import (
	"context"
	"time"

	"log/slog"

	"github.com/mxlink/mxlink"
)

const backoffMax = 500 * time.Millisecond

// Transport moves raw ethernet frames over the SPI link.
type Transport interface {
	// RecvFrame reads at most one pending inbound frame into b,
	// returning its length, zero when none is pending.
	RecvFrame(b []byte) (int, error)
	// SendFrame transmits one outbound frame.
	SendFrame(b []byte) error
}

// Pump is a ready-made dataplane worker body bridging tr and the
// interface's stack. Wire it as the Dataplane worker:
//
//	cfg.Dataplane = func(ctx *mxlink.DataplaneCtx) { itf.Pump(ctx, tr) }
//
// It never returns.
func (s *Interface) Pump(ctx *mxlink.DataplaneCtx, tr Transport) {
	var buf [mtu]byte
	stalled := 0
	for {
		work := 0

		// Module-origin frames into the stack.
		n, err := tr.RecvFrame(buf[:])
		if err != nil {
			s.pumperr("pump:recv", err)
		}
		if n > 0 {
			ctx.RxPending.Add(1)
			if err := s.RecvEth(buf[:n]); err != nil {
				s.pumperr("pump:recv-eth", err)
			}
			ctx.RxPending.Add(^uint32(0))
			work++
		}

		// Host-origin frames queued through the connection manager.
		select {
		case pkt := <-ctx.SendQueue:
			if err := tr.SendFrame(pkt.Data[:pkt.DMALen]); err != nil {
				s.pumperr("pump:send-host", err)
			}
			ctx.TxPending.Add(^uint32(0))
			work++
		default:
		}

		// Stack-origin frames.
		n, err = s.HandleEth(buf[:])
		if err != nil {
			s.pumperr("pump:handle-eth", err)
		} else if n > 0 {
			if err := tr.SendFrame(buf[:n]); err != nil {
				s.pumperr("pump:send-stack", err)
			}
			work++
		}

		if work == 0 {
			// Exponential backoff while both directions stall.
			if stalled < 30 {
				stalled++
			}
			sleep := time.Duration(1) << stalled
			if sleep > backoffMax {
				sleep = backoffMax
			}
			time.Sleep(sleep)
		} else {
			stalled = 0
		}
	}
}

func (s *Interface) pumperr(msg string, err error) {
	if s.logger != nil {
		s.logger.LogAttrs(context.Background(), slog.LevelError, msg, slog.String("err", err.Error()))
	}
}

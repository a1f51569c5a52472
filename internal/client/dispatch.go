package client

import (
	"github.com/SoftwareDefinedBuildings/bw2c/internal/observability"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/arena"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/frame"
)

// Start runs the dispatch loop on its own goroutine.
func (c *Client) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go c.run()
	return nil
}

func (c *Client) run() {
	defer close(c.done)
	for {
		f, err := frame.ReadFrame(c.reader, c.alloc)

		c.pendingMu.Lock()
		if err != nil || c.status == StatusConnectionLost {
			if err != nil {
				c.markLostLocked(err)
			}
			c.flushLocked()
			c.pendingMu.Unlock()
			c.logger.Debug().Err(c.Err()).Msg("dispatch loop stopped")
			return
		}
		c.deliverLocked(f)
		c.pendingMu.Unlock()

		c.alloc.Reset()
	}
}

// flushLocked tells every pending context the connection is gone.
func (c *Client) flushLocked() {
	pending := c.pending
	c.pending = nil
	for _, r := range pending {
		r.registered = false
		r.SetResult(ErrConnectionLost)
		if r.onFrame != nil {
			r.onFrame(nil, true, r)
		}
		r.signalLost()
	}
	observability.SetPendingRequests(0)
}

// deliverLocked routes f to every context registered under its sequence
// number. Contexts leave the list when the frame is final or their callback
// asks to stop.
func (c *Client) deliverLocked(f *frame.Frame) {
	observability.RecordFrameRead(f.Cmd)
	c.recordDrops(f)

	final := f.Finished()
	matched := false
	kept := c.pending[:0]
	for _, r := range c.pending {
		if r.seqno.Load() != f.SeqNo {
			kept = append(kept, r)
			continue
		}
		matched = true
		r.SetResult(nil)
		stop := false
		if r.onFrame != nil {
			stop = r.onFrame(f, final, r)
		}
		if final || stop {
			r.registered = false
			continue
		}
		kept = append(kept, r)
	}
	clear(c.pending[len(kept):])
	c.pending = kept
	observability.SetPendingRequests(len(kept))

	if !matched {
		c.logger.Debug().Str("cmd", f.Cmd).Uint32("seqno", f.SeqNo).Msg("frame without waiter")
	}
}

func (c *Client) recordDrops(f *frame.Frame) {
	total := f.Dropped.Total()
	if total == 0 {
		return
	}
	c.dropped.Add(uint64(total))
	observability.RecordDroppedRecords(observability.KindHeader, f.Dropped.Headers)
	observability.RecordDroppedRecords(observability.KindPayloadObject, f.Dropped.PayloadObjects)
	observability.RecordDroppedRecords(observability.KindRoutingObject, f.Dropped.RoutingObjects)
	c.logger.Warn().
		Err(arena.ErrExhausted).
		Str("cmd", f.Cmd).
		Uint32("seqno", f.SeqNo).
		Int("headers", f.Dropped.Headers).
		Int("payload_objects", f.Dropped.PayloadObjects).
		Int("routing_objects", f.Dropped.RoutingObjects).
		Msg("records dropped")
}

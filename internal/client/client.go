package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/SoftwareDefinedBuildings/bw2c/internal/observability"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/arena"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/frame"
)

// SeqNoMask keeps sequence numbers within 31 bits.
const SeqNoMask = 0x7FFFFFFF

// Status is the connection state seen by callers.
type Status int

const (
	StatusAlive Status = iota
	StatusConnectionLost
)

func (s Status) String() string {
	switch s {
	case StatusAlive:
		return "alive"
	case StatusConnectionLost:
		return "connection_lost"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Client multiplexes request contexts over one agent connection.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	alloc  arena.Allocator
	cfg    Config
	logger zerolog.Logger

	outMu  sync.Mutex
	writer *bufio.Writer

	pendingMu sync.Mutex
	pending   []*RequestContext
	status    Status
	lossErr   error

	seqMu sync.Mutex
	seqno uint32

	started      atomic.Bool
	done         chan struct{}
	agentVersion atomic.Value
	dropped      atomic.Uint64
}

// NewClient wraps an established connection. Call Handshake to consume the
// agent greeting, then Start to run the dispatch loop.
func NewClient(conn net.Conn, cfg Config) *Client {
	cfg = cfg.WithDefaults()
	addr := cfg.Address
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	c := &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		alloc:  newAllocator(cfg),
		cfg:    cfg,
		logger: observability.Logger("client").With().Str("agent", addr).Logger(),
		done:   make(chan struct{}),
	}
	c.agentVersion.Store("")
	return c
}

func newAllocator(cfg Config) arena.Allocator {
	switch {
	case cfg.FrameHeap != nil:
		return arena.New(cfg.FrameHeap)
	case cfg.FrameHeapSize > 0:
		return arena.NewSize(cfg.FrameHeapSize)
	default:
		return arena.NewHeapLimit(cfg.MaxRecordSize)
	}
}

// NextSeqNo returns the current sequence number and advances the counter,
// wrapping within 31 bits.
func (c *Client) NextSeqNo() uint32 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	seqno := c.seqno
	c.seqno = (c.seqno + 1) & SeqNoMask
	return seqno
}

// Transact sends f. When rctx is non-nil it is registered under f.SeqNo
// before the first byte is written, so no reply can arrive unrouted.
//
// A write failure that indicates a dead connection marks the client lost and
// returns an error wrapping ErrConnectionLost. A context registered by the
// failing call stays pending until the dispatch loop flushes it.
func (c *Client) Transact(f *frame.Frame, rctx *RequestContext) error {
	if err := frame.Validate(f); err != nil {
		observability.RecordTransactError(observability.ClassInvalidFrame)
		return err
	}

	if rctx != nil {
		if !c.started.Load() {
			return ErrNotStarted
		}
		if err := c.register(f.SeqNo, rctx); err != nil {
			observability.RecordTransactError(observability.ClassConnectionLost)
			return err
		}
	} else if c.Status() == StatusConnectionLost {
		observability.RecordTransactError(observability.ClassConnectionLost)
		return ErrConnectionLost
	}

	c.outMu.Lock()
	err := c.writeFrame(f)
	c.outMu.Unlock()
	if err == nil {
		observability.RecordFrameWritten(f.Cmd)
		c.logger.Debug().Str("cmd", f.Cmd).Uint32("seqno", f.SeqNo).Msg("frame sent")
		return nil
	}

	if isConnectionLoss(err) {
		observability.RecordTransactError(observability.ClassConnectionLost)
		c.markLost(err)
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	observability.RecordTransactError(observability.ClassWrite)
	if rctx != nil {
		c.unregister(rctx)
	}
	return fmt.Errorf("client: write %s frame: %w", f.Cmd, err)
}

func (c *Client) register(seqno uint32, rctx *RequestContext) error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.status == StatusConnectionLost {
		return ErrConnectionLost
	}
	rctx.seqno.Store(seqno)
	rctx.owner.Store(c)
	rctx.registered = true
	c.pending = append(c.pending, rctx)
	observability.SetPendingRequests(len(c.pending))
	return nil
}

func (c *Client) unregister(rctx *RequestContext) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	kept := c.pending[:0]
	for _, r := range c.pending {
		if r != rctx {
			kept = append(kept, r)
		}
	}
	clear(c.pending[len(kept):])
	c.pending = kept
	rctx.registered = false
	observability.SetPendingRequests(len(c.pending))
}

// writeFrame must be called with outMu held. The buffered writer is reset
// after a failure so one bad write does not poison later frames.
func (c *Client) writeFrame(f *frame.Frame) error {
	if c.cfg.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	err := frame.WriteFrame(c.writer, f)
	if err == nil {
		err = c.writer.Flush()
	}
	if err != nil {
		c.writer.Reset(c.conn)
	}
	return err
}

// isConnectionLoss reports whether a write error means the agent is gone.
func isConnectionLoss(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.EBADF),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, os.ErrDeadlineExceeded):
		return true
	}
	return false
}

// markLost records cause and closes the connection. The dispatch loop's
// blocked read then fails and flushes every pending context.
func (c *Client) markLost(cause error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.markLostLocked(cause)
}

func (c *Client) markLostLocked(cause error) {
	if c.status == StatusConnectionLost {
		return
	}
	c.status = StatusConnectionLost
	c.lossErr = cause
	_ = c.conn.Close()
	observability.RecordConnectionLost()
	c.logger.Warn().Err(cause).Int("pending", len(c.pending)).Msg("connection lost")
}

// Close marks the connection lost and waits for the dispatch loop to flush
// pending contexts and exit.
func (c *Client) Close() error {
	c.markLost(net.ErrClosed)
	if c.started.CompareAndSwap(false, true) {
		close(c.done)
		return nil
	}
	<-c.done
	return nil
}

func (c *Client) Status() Status {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.status
}

// Err reports why the connection was lost, or nil while it is alive.
func (c *Client) Err() error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.lossErr
}

// Pending reports how many request contexts are registered.
func (c *Client) Pending() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// AgentVersion is the version announced in the agent greeting.
func (c *Client) AgentVersion() string {
	return c.agentVersion.Load().(string)
}

// Dropped reports how many records were discarded for lack of frame memory.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Done is closed when the dispatch loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Snapshot is the JSON shape served by the status surface.
type Snapshot struct {
	Status         string `json:"status"`
	Pending        int    `json:"pending"`
	AgentVersion   string `json:"agent_version"`
	DroppedRecords uint64 `json:"dropped_records"`
	Error          string `json:"error,omitempty"`
}

func (c *Client) Snapshot() Snapshot {
	c.pendingMu.Lock()
	s := Snapshot{
		Status:  c.status.String(),
		Pending: len(c.pending),
	}
	if c.lossErr != nil {
		s.Error = c.lossErr.Error()
	}
	c.pendingMu.Unlock()
	s.AgentVersion = c.AgentVersion()
	s.DroppedRecords = c.Dropped()
	return s
}

// Do sends f with a fresh context and waits for its first signal. A nil
// onFrame is SignalResponse. A context released by its callback, or by a
// final frame, without being signaled is signaled with its current result.
// The context is destroyed once the dispatch loop has released it; a
// context that keeps streaming stays registered and is returned for later
// use.
func (c *Client) Do(f *frame.Frame, onFrame Callback) (*RequestContext, error) {
	if onFrame == nil {
		onFrame = SignalResponse
	}
	rctx := NewRequestContext(func(fr *frame.Frame, final bool, r *RequestContext) bool {
		release := onFrame(fr, final, r)
		if (release || final) && !r.Signaled() {
			r.Signal(r.Result())
		}
		return release
	})
	if err := c.Transact(f, rctx); err != nil {
		return nil, err
	}
	err := rctx.Wait()
	_ = rctx.Destroy()
	return rctx, err
}

// SignalResponse treats the first frame as the agent's resp and signals
// its interpreted status. A nil frame signals the context's result.
func SignalResponse(f *frame.Frame, _ bool, rctx *RequestContext) bool {
	if f == nil {
		rctx.Signal(rctx.Result())
		return true
	}
	rctx.Signal(frame.InterpretResponse(f))
	return true
}

// Package agentsim is a scriptable fake BOSSWAVE agent for tests.
package agentsim

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/frame"
)

// DefaultVersion is announced by Hello.
const DefaultVersion = "2.7.0 - 'agentsim'"

var ErrTimeout = errors.New("agentsim: timed out waiting for frame")

// Agent drives the agent side of one connection. Frames written by the
// client are decoded on a background goroutine and queued for Next.
type Agent struct {
	conn     net.Conn
	received chan *frame.Frame

	writeMu sync.Mutex

	errMu   sync.Mutex
	readErr error
}

// New starts reading client frames from conn.
func New(conn net.Conn) *Agent {
	a := &Agent{
		conn:     conn,
		received: make(chan *frame.Frame, 64),
	}
	go a.readLoop()
	return a
}

// Pipe returns the client end of an in-memory connection and the agent
// driving the other end.
func Pipe() (net.Conn, *Agent) {
	clientConn, agentConn := net.Pipe()
	return clientConn, New(agentConn)
}

func (a *Agent) readLoop() {
	defer close(a.received)
	br := bufio.NewReader(a.conn)
	for {
		f, err := frame.ReadFrame(br, nil)
		if err != nil {
			a.errMu.Lock()
			a.readErr = err
			a.errMu.Unlock()
			return
		}
		log.Debug().Str("component", "agentsim").Str("cmd", f.Cmd).Uint32("seqno", f.SeqNo).Msg("frame received")
		a.received <- f
	}
}

// Next returns the next frame written by the client.
func (a *Agent) Next(timeout time.Duration) (*frame.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f, ok := <-a.received:
		if !ok {
			return nil, a.Err()
		}
		return f, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Expect is Next that also requires the command.
func (a *Agent) Expect(cmd string, timeout time.Duration) (*frame.Frame, error) {
	f, err := a.Next(timeout)
	if err != nil {
		return nil, err
	}
	if f.Cmd != cmd {
		return f, frame.UnexpectedFrameError{Got: f.Cmd, Want: cmd}
	}
	return f, nil
}

// Err reports why the read loop stopped.
func (a *Agent) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.readErr
}

// Send writes f to the client.
func (a *Agent) Send(f *frame.Frame) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return frame.WriteFrame(a.conn, f)
}

// SendRaw writes b to the client unchanged.
func (a *Agent) SendRaw(b []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, err := a.conn.Write(b)
	return err
}

func (a *Agent) Hello(version string) error {
	return a.Send(Hello(version))
}

// Respond answers req with a resp frame carrying status and reason.
func (a *Agent) Respond(req *frame.Frame, status, reason string) error {
	return a.Send(Response(req.SeqNo, status, reason))
}

func (a *Agent) Close() error {
	return a.conn.Close()
}

// Hello builds an agent greeting.
func Hello(version string) *frame.Frame {
	f := frame.New(frame.CmdHello, 0)
	f.AddHeaderString(frame.HeaderVersion, version)
	return f
}

// Response builds a resp frame. An empty reason is omitted.
func Response(seqno uint32, status, reason string) *frame.Frame {
	f := frame.New(frame.CmdResponse, seqno)
	f.AddHeaderString(frame.HeaderStatus, status)
	if reason != "" {
		f.AddHeaderString(frame.HeaderReason, reason)
	}
	return f
}

// Result builds an rslt frame delivering a message from uri.
func Result(seqno uint32, finished bool, from, uri string, pos ...frame.PayloadObject) *frame.Frame {
	f := frame.New(frame.CmdResult, seqno)
	if from != "" {
		f.AddHeaderString("from", from)
	}
	if uri != "" {
		f.AddHeaderString("uri", uri)
	}
	f.AddHeaderString(frame.HeaderFinished, strconv.FormatBool(finished))
	for _, po := range pos {
		f.AddPayloadObject(po.PONum, po.Content)
	}
	return f
}

// Server accepts client connections on a loopback TCP port and greets each
// with Greeting when it is set.
type Server struct {
	ln       net.Listener
	Greeting *frame.Frame
	agents   chan *Agent
}

func Listen(greeting *frame.Frame) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("agentsim: listen: %w", err)
	}
	s := &Server{ln: ln, Greeting: greeting, agents: make(chan *Agent, 8)}
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	defer close(s.agents)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		a := New(conn)
		if s.Greeting != nil {
			if err := a.Send(s.Greeting); err != nil {
				_ = a.Close()
				continue
			}
		}
		s.agents <- a
	}
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Accept returns the next connected agent.
func (s *Server) Accept(timeout time.Duration) (*Agent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case a, ok := <-s.agents:
		if !ok {
			return nil, net.ErrClosed
		}
		return a, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

func (s *Server) Close() error {
	return s.ln.Close()
}

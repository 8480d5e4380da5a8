package netstream

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/banshee-data/inspec/internal/monitoring"
	"github.com/banshee-data/inspec/internal/timeutil"
)

// State is an endpoint's position in its connection lifecycle.
type State int

const (
	NoServer State = iota
	Listening
	Accepting
	Streaming
)

func (s State) String() string {
	switch s {
	case NoServer:
		return "no-server"
	case Listening:
		return "listening"
	case Accepting:
		return "accepting"
	case Streaming:
		return "streaming"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Socket timing.
const (
	AcceptWait     = time.Millisecond
	RequestWait    = 50 * time.Millisecond
	WriteDeadline  = 5 * time.Second
	maxRequestSize = 1024
)

// Listener is a net.Listener whose Accept can be bounded by a deadline.
// *net.TCPListener satisfies it.
type Listener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// ListenFunc opens a listener on addr.
type ListenFunc func(addr string) (Listener, error)

// ListenTCP is the production ListenFunc.
func ListenTCP(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("listener for %s does not support deadlines", addr)
	}
	return tl, nil
}

// Endpoint is one independently reconnecting server slot. Every socket error
// tears down both the connection and the listener; the next Poll starts over.
type Endpoint struct {
	name      string
	addr      string
	handshake string
	listen    ListenFunc
	clock     timeutil.Clock

	ln      Listener
	conn    net.Conn
	state   State
	lastErr error
	peer    string
	resets  int
}

func newEndpoint(name, addr, handshake string, listen ListenFunc, clock timeutil.Clock) *Endpoint {
	return &Endpoint{
		name:      name,
		addr:      addr,
		handshake: handshake,
		listen:    listen,
		clock:     clock,
	}
}

func (e *Endpoint) Name() string   { return e.name }
func (e *Endpoint) State() State   { return e.state }
func (e *Endpoint) LastErr() error { return e.lastErr }

// Connected reports whether a client has completed the handshake.
func (e *Endpoint) Connected() bool { return e.state == Streaming }

// Poll advances the state machine by at most one accept. It never blocks
// longer than the accept and request waits.
func (e *Endpoint) Poll() {
	switch e.state {
	case NoServer:
		ln, err := e.listen(e.addr)
		if err != nil {
			e.fail(fmt.Errorf("listen %s: %w", e.addr, err))
			return
		}
		e.ln = ln
		e.state = Listening
		monitoring.Logf("netstream: %s listening on %s", e.name, e.addr)
		fallthrough

	case Listening:
		if err := e.ln.SetDeadline(e.clock.Now().Add(AcceptWait)); err != nil {
			e.fail(fmt.Errorf("accept deadline: %w", err))
			return
		}
		conn, err := e.ln.Accept()
		if err != nil {
			if isTimeout(err) {
				return
			}
			e.fail(fmt.Errorf("accept: %w", err))
			return
		}
		e.conn = conn
		e.peer = conn.RemoteAddr().String()
		e.state = Accepting
		if err := e.greet(); err != nil {
			e.fail(fmt.Errorf("handshake with %s: %w", e.peer, err))
			return
		}
		e.state = Streaming
		monitoring.Logf("netstream: %s streaming to %s", e.name, e.peer)
	}
}

// greet drains whatever request line the client sent and answers with the
// fixed handshake.
func (e *Endpoint) greet() error {
	if err := e.conn.SetReadDeadline(e.clock.Now().Add(RequestWait)); err != nil {
		return err
	}
	buf := make([]byte, maxRequestSize)
	if _, err := e.conn.Read(buf); err != nil && !isTimeout(err) {
		return err
	}
	if err := e.conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	return e.write([]byte(e.handshake))
}

// write sends bufs in order under one write deadline.
func (e *Endpoint) write(bufs ...[]byte) error {
	if err := e.conn.SetWriteDeadline(e.clock.Now().Add(WriteDeadline)); err != nil {
		return err
	}
	for _, p := range bufs {
		if _, err := e.conn.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// Send writes to the connected client. A failure resets this endpoint only.
func (e *Endpoint) Send(bufs ...[]byte) bool {
	if e.state != Streaming {
		return false
	}
	if err := e.write(bufs...); err != nil {
		e.fail(fmt.Errorf("send to %s: %w", e.peer, err))
		return false
	}
	return true
}

func (e *Endpoint) fail(err error) {
	e.lastErr = err
	e.resets++
	monitoring.Logf("netstream: %s: %v", e.name, err)
	e.Close()
}

// Close drops the connection and listener and returns to NoServer.
func (e *Endpoint) Close() {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	if e.ln != nil {
		e.ln.Close()
		e.ln = nil
	}
	e.peer = ""
	e.state = NoServer
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

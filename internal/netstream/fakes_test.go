package netstream

import (
	"bytes"
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

type fakeConn struct {
	mu       sync.Mutex
	request  []byte
	written  bytes.Buffer
	writeErr error
	closed   bool
	peer     string

	writeDeadline time.Time
}

func newFakeConn(peer, request string) *fakeConn {
	return &fakeConn{peer: peer, request: []byte(request)}
}

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.request) == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	n := copy(p, c.request)
	c.request = c.request[n:]
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.written.Write(p)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.String()
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) LocalAddr() net.Addr                { return fakeAddr("device:0") }
func (c *fakeConn) RemoteAddr() net.Addr               { return fakeAddr(c.peer) }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { c.writeDeadline = t; return nil }

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type fakeListener struct {
	addr    string
	pending []net.Conn
	closed  bool
	err     error
}

func (l *fakeListener) Accept() (net.Conn, error) {
	if l.closed {
		return nil, net.ErrClosed
	}
	if l.err != nil {
		return nil, l.err
	}
	if len(l.pending) == 0 {
		return nil, &net.OpError{Op: "accept", Net: "tcp", Err: timeoutError{}}
	}
	c := l.pending[0]
	l.pending = l.pending[1:]
	return c, nil
}

func (l *fakeListener) Close() error                  { l.closed = true; return nil }
func (l *fakeListener) Addr() net.Addr                { return fakeAddr(l.addr) }
func (l *fakeListener) SetDeadline(t time.Time) error { return nil }

// network hands out fake listeners per address and lets tests queue
// clients before or after the listener exists.
type network struct {
	listeners map[string]*fakeListener
	queued    map[string][]net.Conn
	listens   map[string]int
	failNext  map[string]error
}

func newNetwork() *network {
	return &network{
		listeners: make(map[string]*fakeListener),
		queued:    make(map[string][]net.Conn),
		listens:   make(map[string]int),
		failNext:  make(map[string]error),
	}
}

func (n *network) listen(addr string) (Listener, error) {
	n.listens[addr]++
	if err := n.failNext[addr]; err != nil {
		delete(n.failNext, addr)
		return nil, err
	}
	l := &fakeListener{addr: addr, pending: n.queued[addr]}
	delete(n.queued, addr)
	n.listeners[addr] = l
	return l, nil
}

func (n *network) dial(addr string, c net.Conn) {
	if l, ok := n.listeners[addr]; ok && !l.closed {
		l.pending = append(l.pending, c)
		return
	}
	n.queued[addr] = append(n.queued[addr], c)
}

var errBrokenPipe = errors.New("broken pipe")

package shortrange

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/inspec/internal/monitoring"
)

// Frame channels on the UART.
const (
	ChannelText       byte = 'T'
	ChannelBulk       byte = 'B'
	ChannelDisconnect byte = 'D'
)

// Status lines emitted by the radio module.
const (
	StatusConnected    = "+CONNECTED"
	StatusDisconnected = "+DISCONNECTED"
)

const (
	maxFrameLen = 0xFFFF
	inboxSize   = 16
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// SerialRadio speaks to a UART-attached radio module. Outbound data is framed
// as [channel][uint16 big-endian length][payload]. Inbound data is
// newline-terminated text: status lines update the connection flag and
// everything else is queued as a command for Receive.
type SerialRadio[T SerialPorter] struct {
	port T

	writeMu   sync.Mutex
	inbox     chan string
	connected atomic.Bool
	closing   atomic.Bool
	dropped   atomic.Int64
}

func NewSerialRadio[T SerialPorter](port T) *SerialRadio[T] {
	return &SerialRadio[T]{
		port:  port,
		inbox: make(chan string, inboxSize),
	}
}

func (r *SerialRadio[T]) Notify(p []byte) error     { return r.writeFrame(ChannelText, p) }
func (r *SerialRadio[T]) NotifyBulk(p []byte) error { return r.writeFrame(ChannelBulk, p) }
func (r *SerialRadio[T]) Connected() bool           { return r.connected.Load() }

// Disconnect asks the module to drop the current peer.
func (r *SerialRadio[T]) Disconnect() error {
	r.connected.Store(false)
	return r.writeFrame(ChannelDisconnect, nil)
}

// Receive returns the next queued command without blocking.
func (r *SerialRadio[T]) Receive() (string, bool) {
	select {
	case msg := <-r.inbox:
		return msg, true
	default:
		return "", false
	}
}

func (r *SerialRadio[T]) writeFrame(channel byte, p []byte) error {
	if len(p) > maxFrameLen {
		return fmt.Errorf("frame of %d bytes exceeds %d", len(p), maxFrameLen)
	}
	frame := make([]byte, 3+len(p))
	frame[0] = channel
	binary.BigEndian.PutUint16(frame[1:3], uint16(len(p)))
	copy(frame[3:], p)

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	n, err := r.port.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines from the UART until ctx is done or the port fails.
func (r *SerialRadio[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(r.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// scan.Scan blocks, so it runs on its own goroutine and hands lines over.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				return scan.Err()
			}
			if r.closing.Load() {
				return nil
			}
			r.handleLine(line)
		}
	}
}

func (r *SerialRadio[T]) handleLine(line string) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return
	case StatusConnected:
		r.connected.Store(true)
		monitoring.Logf("shortrange: peer connected")
		return
	case StatusDisconnected:
		r.connected.Store(false)
		monitoring.Logf("shortrange: peer disconnected")
		return
	}
	r.Inject(line)
}

// Inject queues msg as if it had arrived from the peer. A full inbox drops
// the message.
func (r *SerialRadio[T]) Inject(msg string) {
	select {
	case r.inbox <- msg:
	default:
		r.dropped.Add(1)
		monitoring.Logf("shortrange: inbox full, dropped %q", msg)
	}
}

func (r *SerialRadio[T]) Close() error {
	r.closing.Store(true)
	r.connected.Store(false)
	return r.port.Close()
}

// AttachAdminRoutes adds radio debugging endpoints under /debug/.
func (r *SerialRadio[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("radio", "short-range radio status", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, "<p>connected: %v</p><p>queued: %d</p><p>dropped: %d</p>",
			r.Connected(), len(r.inbox), r.dropped.Load())
		fmt.Fprint(w, `<form method="POST" action="radio-inject"><input name="command"/><button>inject</button></form>`)
	})

	debug.HandleSilentFunc("radio-inject", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(req.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		r.Inject(command)
		fmt.Fprintf(w, "Queued command %q", html.EscapeString(command))
	})
}

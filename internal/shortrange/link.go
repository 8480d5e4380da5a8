// Package shortrange drives the low-bandwidth radio link: fire-and-forget
// text notifications, a single-slot chunked bulk transfer paced across poll
// calls, and a fixed inbound command table.
package shortrange

import (
	"errors"
	"fmt"

	"github.com/banshee-data/inspec/internal/monitoring"
)

// Bulk pacing.
const (
	SegmentSize     = 200
	SegmentsPerPoll = 11
	CooldownPolls   = 5
)

var (
	// ErrTransferBusy is returned when a bulk request arrives while another
	// transfer is in flight. The new request is dropped, never queued.
	ErrTransferBusy = errors.New("bulk transfer already in flight")
	// ErrNotConnected is returned for bulk requests with no peer attached.
	ErrNotConnected = errors.New("short-range link not connected")
)

// Radio is the transport underneath the link. Receive must not block.
type Radio interface {
	Notify(p []byte) error
	NotifyBulk(p []byte) error
	Receive() (string, bool)
	Connected() bool
	Disconnect() error
}

// Stats counts link activity since start.
type Stats struct {
	Notifications      int `json:"notifications"`
	Segments           int `json:"segments"`
	TransfersCompleted int `json:"transfers_completed"`
	TransfersDropped   int `json:"transfers_dropped"`
	Disconnects        int `json:"disconnects"`
}

// Link is driven from the device loop and is not safe for concurrent use.
type Link struct {
	radio    Radio
	handlers map[CommandKind]Handler

	transfer *Transfer
	cooldown int
	stats    Stats
}

func NewLink(radio Radio) *Link {
	l := &Link{
		radio:    radio,
		handlers: make(map[CommandKind]Handler),
	}
	l.handlers[CmdDisconnect] = func(Command) error {
		l.Disconnect()
		return nil
	}
	return l
}

// Handle installs h for kind, replacing any earlier handler.
func (l *Link) Handle(kind CommandKind, h Handler) { l.handlers[kind] = h }

func (l *Link) Connected() bool { return l.radio.Connected() }

// Busy reports whether a bulk transfer is in flight.
func (l *Link) Busy() bool { return l.transfer != nil }

func (l *Link) Stats() Stats { return l.stats }

// Notify sends one text notification. Errors are not returned; a failed send
// marks the link disconnected.
func (l *Link) Notify(msg string) {
	if !l.radio.Connected() {
		return
	}
	if err := l.radio.Notify([]byte(msg)); err != nil {
		monitoring.Logf("shortrange: notify failed: %v", err)
		l.Disconnect()
		return
	}
	l.stats.Notifications++
}

// NotifyTelemetry is Notify for periodic telemetry, which yields airtime to
// an in-flight bulk transfer.
func (l *Link) NotifyTelemetry(msg string) {
	if l.Busy() {
		return
	}
	l.Notify(msg)
}

// Event sends a name:value notification.
func (l *Link) Event(name, value string) {
	l.Notify(name + ":" + value)
}

// SendBulk copies payload and starts streaming it on the following polls.
// A header notification "bulk:<kind>:<size>" precedes the segments.
func (l *Link) SendBulk(kind BulkKind, payload []byte) error {
	if l.transfer != nil {
		l.stats.TransfersDropped++
		return ErrTransferBusy
	}
	if !l.radio.Connected() {
		return ErrNotConnected
	}
	l.Notify(fmt.Sprintf("bulk:%s:%d", kind, len(payload)))
	if !l.radio.Connected() {
		return ErrNotConnected
	}
	if len(payload) == 0 {
		l.stats.TransfersCompleted++
		return nil
	}
	l.transfer = newTransfer(kind, payload)
	l.cooldown = 0
	return nil
}

// Disconnect drops the peer and any in-flight transfer.
func (l *Link) Disconnect() {
	l.transfer = nil
	l.cooldown = 0
	l.stats.Disconnects++
	if err := l.radio.Disconnect(); err != nil {
		monitoring.Logf("shortrange: disconnect: %v", err)
	}
}

// Poll handles at most one inbound message and then advances the bulk
// transfer by up to SegmentsPerPoll segments. Handler errors are returned;
// transport errors are absorbed by disconnecting.
func (l *Link) Poll() error {
	var err error
	if msg, ok := l.radio.Receive(); ok {
		err = l.dispatch(msg)
	}
	l.pump()
	return err
}

func (l *Link) dispatch(msg string) error {
	cmd, err := ParseCommand(msg)
	if err != nil {
		return err
	}
	h, ok := l.handlers[cmd.Kind]
	if !ok {
		return fmt.Errorf("%w: no handler for %s", ErrUnknownCommand, cmd.Kind)
	}
	return h(cmd)
}

func (l *Link) pump() {
	if l.transfer == nil {
		return
	}
	if !l.radio.Connected() {
		l.transfer = nil
		l.cooldown = 0
		return
	}
	if l.cooldown > 0 {
		l.cooldown--
		return
	}

	for i := 0; i < SegmentsPerPoll && !l.transfer.Done(); i++ {
		if err := l.radio.NotifyBulk(l.transfer.next(SegmentSize)); err != nil {
			monitoring.Logf("shortrange: bulk segment failed: %v", err)
			l.Disconnect()
			return
		}
		l.stats.Segments++
	}

	if l.transfer.Done() {
		l.transfer = nil
		l.stats.TransfersCompleted++
		return
	}
	l.cooldown = CooldownPolls
}

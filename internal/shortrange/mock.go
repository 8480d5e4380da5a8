package shortrange

import (
	"bytes"
	"errors"
	"sync"
)

// TestableSerialPort implements SerialPorter with scripted reads and captured
// writes.
type TestableSerialPort struct {
	mu sync.Mutex

	ReadBuffer  *bytes.Buffer
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set.
	ReadError error
	// WriteError is returned by the next Write call if set.
	WriteError error
	// ShortWrite makes the next Write report one byte fewer than given.
	ShortWrite bool
	CloseError error
	Closed     bool

	WriteCalls int

	// BlockReads makes Read wait for data or Close instead of returning EOF.
	BlockReads bool

	readCond *sync.Cond
}

func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.BlockReads {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, errors.New("serial port closed")
		}
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	if t.ShortWrite && len(p) > 0 {
		t.ShortWrite = false
		return t.WriteBuffer.Write(p[:len(p)-1])
	}
	return t.WriteBuffer.Write(p)
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData appends data for subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal()
}

// GetWrittenData returns a copy of everything written so far.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return bytes.Clone(t.WriteBuffer.Bytes())
}

// MemoryRadio is an in-process Radio that records what the link sends.
type MemoryRadio struct {
	mu sync.Mutex

	connected bool
	inbox     []string

	Notes    []string
	Segments [][]byte

	// NotifyErr and BulkErr fail the next matching send when set.
	NotifyErr error
	BulkErr   error

	DisconnectCalls int
}

func NewMemoryRadio(connected bool) *MemoryRadio {
	return &MemoryRadio{connected: connected}
}

func (m *MemoryRadio) Notify(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.NotifyErr != nil {
		err := m.NotifyErr
		m.NotifyErr = nil
		return err
	}
	m.Notes = append(m.Notes, string(p))
	return nil
}

func (m *MemoryRadio) NotifyBulk(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BulkErr != nil {
		err := m.BulkErr
		m.BulkErr = nil
		return err
	}
	m.Segments = append(m.Segments, bytes.Clone(p))
	return nil
}

func (m *MemoryRadio) Receive() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inbox) == 0 {
		return "", false
	}
	msg := m.inbox[0]
	m.inbox = m.inbox[1:]
	return msg, true
}

func (m *MemoryRadio) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MemoryRadio) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.DisconnectCalls++
	return nil
}

// SetConnected simulates a peer attaching or leaving.
func (m *MemoryRadio) SetConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

// Push queues an inbound message.
func (m *MemoryRadio) Push(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox = append(m.inbox, msg)
}

// Reassemble concatenates every bulk segment received so far.
func (m *MemoryRadio) Reassemble() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Join(m.Segments, nil)
}

// Reset clears recorded traffic.
func (m *MemoryRadio) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notes = nil
	m.Segments = nil
}

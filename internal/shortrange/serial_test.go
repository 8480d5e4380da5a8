package shortrange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialRadio_Framing(t *testing.T) {
	port := NewTestableSerialPort()
	r := NewSerialRadio(port)

	require.NoError(t, r.Notify([]byte("rem:3")))
	require.NoError(t, r.NotifyBulk([]byte{0xff, 0x00}))
	require.NoError(t, r.Disconnect())

	want := []byte{'T', 0x00, 0x05, 'r', 'e', 'm', ':', '3', 'B', 0x00, 0x02, 0xff, 0x00, 'D', 0x00, 0x00}
	assert.Equal(t, want, port.GetWrittenData())
}

func TestSerialRadio_LongFrameLength(t *testing.T) {
	port := NewTestableSerialPort()
	r := NewSerialRadio(port)

	require.NoError(t, r.NotifyBulk(make([]byte, 300)))
	got := port.GetWrittenData()
	assert.Equal(t, []byte{'B', 0x01, 0x2c}, got[:3])
	assert.Len(t, got, 303)

	assert.Error(t, r.Notify(make([]byte, maxFrameLen+1)))
}

func TestSerialRadio_WriteErrors(t *testing.T) {
	port := NewTestableSerialPort()
	r := NewSerialRadio(port)

	port.WriteError = errors.New("io")
	assert.EqualError(t, r.Notify([]byte("x")), "io")

	port.ShortWrite = true
	assert.ErrorIs(t, r.Notify([]byte("x")), ErrWriteFailed)
}

func TestSerialRadio_MonitorStatusAndCommands(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("+CONNECTED\r\nrequest.ip\n\nrequest.version\n+DISCONNECTED\n"))
	r := NewSerialRadio(port)

	assert.False(t, r.Connected())
	err := r.Monitor(context.Background())
	require.NoError(t, err, "EOF ends the monitor cleanly")

	msg, ok := r.Receive()
	require.True(t, ok)
	assert.Equal(t, "request.ip", msg)
	msg, ok = r.Receive()
	require.True(t, ok)
	assert.Equal(t, "request.version", msg)
	_, ok = r.Receive()
	assert.False(t, ok)
	assert.False(t, r.Connected())
}

func TestSerialRadio_MonitorConnects(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("+CONNECTED\n"))
	r := NewSerialRadio(port)

	require.NoError(t, r.Monitor(context.Background()))
	assert.True(t, r.Connected())
}

func TestSerialRadio_MonitorCancel(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	r := NewSerialRadio(port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Monitor(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
	require.NoError(t, r.Close())
	assert.True(t, port.Closed)
}

func TestSerialRadio_MonitorReadError(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("unplugged")
	r := NewSerialRadio(port)

	assert.EqualError(t, r.Monitor(context.Background()), "unplugged")
}

func TestSerialRadio_InboxOverflowDrops(t *testing.T) {
	r := NewSerialRadio(NewTestableSerialPort())
	for i := 0; i < inboxSize+3; i++ {
		r.Inject("request.ip")
	}
	assert.EqualValues(t, 3, r.dropped.Load())
}

func TestSerialRadio_WithLink(t *testing.T) {
	port := NewTestableSerialPort()
	r := NewSerialRadio(port)
	r.handleLine(StatusConnected)
	l := NewLink(r)

	require.NoError(t, l.SendBulk(BulkImage, make([]byte, 450)))
	drain(t, l, 10)

	out := port.GetWrittenData()
	header := "bulk:image:450"
	require.Equal(t, byte('T'), out[0])
	assert.Equal(t, header, string(out[3:3+len(header)]))
	// header frame + three bulk frames of 200, 200 and 50 bytes
	assert.Len(t, out, 3+len(header)+3*3+450)
}

func TestSerialRadio_AdminRoutes(t *testing.T) {
	r := NewSerialRadio(NewTestableSerialPort())
	mux := http.NewServeMux()
	r.AttachAdminRoutes(mux)

	form := url.Values{"command": {"request.errors"}}
	req := httptest.NewRequest(http.MethodPost, "/debug/radio-inject", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	msg, ok := r.Receive()
	require.True(t, ok)
	assert.Equal(t, "request.errors", msg)

	req = httptest.NewRequest(http.MethodGet, "/debug/radio-inject", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDisabledRadio(t *testing.T) {
	l := NewLink(DisabledRadio{})
	assert.False(t, l.Connected())
	assert.ErrorIs(t, l.SendBulk(BulkImage, []byte("x")), ErrNotConnected)
	require.NoError(t, l.Poll())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, DisabledRadio{}.Monitor(ctx), context.Canceled)
}

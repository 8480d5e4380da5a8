package netstream

import (
	"bufio"
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/inspec/internal/monitoring"
	"github.com/banshee-data/inspec/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

const (
	primaryAddr   = ":8080"
	secondaryAddr = ":8081"
	apiAddr       = ":5000"
)

func testFrame() image.Image {
	img := image.NewGray(image.Rect(0, 0, 32, 24))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	return img
}

func newTestServer(t *testing.T, apiEnabled bool) (*Server, *network, *timeutil.MockClock) {
	t.Helper()
	n := newNetwork()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC))
	s := NewServer(Config{Quality: 35, APIEnabled: apiEnabled, Listen: n.listen, Clock: clock})
	return s, n, clock
}

func TestServer_IdlePollListensWithoutError(t *testing.T) {
	s, n, _ := newTestServer(t, false)

	s.Poll()
	s.Poll()
	assert.Equal(t, Listening, s.Endpoint(MediaPrimary).State())
	assert.Equal(t, Listening, s.Endpoint(MediaSecondary).State())
	assert.Equal(t, NoServer, s.Endpoint(API).State(), "api endpoint is gated")
	assert.Equal(t, 1, n.listens[primaryAddr], "accept timeouts keep the listener")
	assert.Zero(t, n.listens[apiAddr])
	assert.NoError(t, s.Endpoint(MediaPrimary).LastErr())
	assert.False(t, s.MediaViewerConnected())
}

func TestServer_MediaHandshakeAndFrame(t *testing.T) {
	s, n, clock := newTestServer(t, false)
	conn := newFakeConn("10.0.0.5:50000", "GET / HTTP/1.1\r\nHost: inspec\r\n\r\n")
	n.dial(primaryAddr, conn)

	s.Poll()
	require.Equal(t, Streaming, s.Endpoint(MediaPrimary).State())
	require.True(t, s.MediaViewerConnected())
	assert.Equal(t, mediaHandshake, conn.Written())

	require.NoError(t, s.SendFrame(testFrame()))
	assert.Equal(t, clock.Now().Add(WriteDeadline), conn.writeDeadline)

	body := strings.TrimPrefix(conn.Written(), mediaHandshake)
	require.True(t, strings.HasPrefix(body, "\r\n--inspec\r\n"), "part starts with boundary: %q", body[:20])

	r := bufio.NewReader(strings.NewReader(strings.TrimPrefix(body, "\r\n--inspec\r\n")))
	hdr, err := textproto.NewReader(r).ReadMIMEHeader()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", hdr.Get("Content-Type"))
	size, err := strconv.Atoi(hdr.Get("Content-Length"))
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Len(t, data, size)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())
}

func TestServer_SendFrameWithoutViewerIsNoop(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	s.Poll()
	assert.NoError(t, s.SendFrame(testFrame()))
}

func TestServer_EndpointsReconnectIndependently(t *testing.T) {
	s, n, _ := newTestServer(t, false)
	a := newFakeConn("10.0.0.5:1", "GET /")
	b := newFakeConn("10.0.0.6:1", "GET /")
	n.dial(primaryAddr, a)
	n.dial(secondaryAddr, b)
	s.Poll()
	require.True(t, s.Endpoint(MediaPrimary).Connected())
	require.True(t, s.Endpoint(MediaSecondary).Connected())

	a.writeErr = errBrokenPipe
	require.NoError(t, s.SendFrame(testFrame()))

	assert.Equal(t, NoServer, s.Endpoint(MediaPrimary).State())
	assert.ErrorIs(t, s.Endpoint(MediaPrimary).LastErr(), errBrokenPipe)
	assert.True(t, a.IsClosed())
	assert.True(t, n.listeners[primaryAddr].closed, "listener is torn down with the connection")

	assert.Equal(t, Streaming, s.Endpoint(MediaSecondary).State())
	assert.Contains(t, b.Written(), "--inspec")
	assert.False(t, b.IsClosed())

	// Next poll re-listens on the failed slot only, without backoff.
	s.Poll()
	assert.Equal(t, 2, n.listens[primaryAddr])
	assert.Equal(t, 1, n.listens[secondaryAddr])
	assert.Equal(t, Listening, s.Endpoint(MediaPrimary).State())

	c := newFakeConn("10.0.0.5:2", "GET /")
	n.dial(primaryAddr, c)
	s.Poll()
	assert.True(t, s.Endpoint(MediaPrimary).Connected())
	assert.Equal(t, mediaHandshake, c.Written())
}

func TestServer_ListenFailureRetries(t *testing.T) {
	s, n, _ := newTestServer(t, false)
	n.failNext[primaryAddr] = errors.New("address in use")

	s.Poll()
	assert.Equal(t, NoServer, s.Endpoint(MediaPrimary).State())
	assert.Error(t, s.Endpoint(MediaPrimary).LastErr())
	assert.Equal(t, Listening, s.Endpoint(MediaSecondary).State())

	s.Poll()
	assert.Equal(t, Listening, s.Endpoint(MediaPrimary).State())
}

func TestServer_AcceptErrorResets(t *testing.T) {
	s, n, _ := newTestServer(t, false)
	s.Poll()
	n.listeners[primaryAddr].err = errors.New("too many open files")

	s.Poll()
	assert.Equal(t, NoServer, s.Endpoint(MediaPrimary).State())
	st := s.Status()
	require.Len(t, st, 3)
	assert.Equal(t, MediaPrimary, st[0].Name)
	assert.Equal(t, "no-server", st[0].State)
	assert.Equal(t, 1, st[0].Resets)
	assert.Contains(t, st[0].LastErr, "too many open files")
}

func TestServer_APIEndpoint(t *testing.T) {
	s, n, _ := newTestServer(t, true)
	conn := newFakeConn("10.0.0.9:4000", "GET / HTTP/1.1\r\n\r\n")
	n.dial(apiAddr, conn)
	s.Poll()
	require.True(t, s.Endpoint(API).Connected())
	assert.False(t, s.MediaViewerConnected(), "api clients are not media viewers")

	s.SendEvent("trigger", "motion")
	s.SendEvent("rem", "4")
	s.SendVariance(12.5)
	assert.Equal(t, apiHandshake+"trigger:motion\r\nrem:4\r\n12.50\r\n", conn.Written())

	s.SetAPIEnabled(false)
	assert.True(t, conn.IsClosed())
	assert.Equal(t, NoServer, s.Endpoint(API).State())
	s.Poll()
	assert.Equal(t, NoServer, s.Endpoint(API).State())
	s.SendEvent("rem", "5")
}

func TestServer_SetQuality(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	s.SetQuality(90)
	assert.Equal(t, 90, s.cfg.Quality)
	s.SetQuality(0)
	assert.Equal(t, 90, s.cfg.Quality)
	s.SetQuality(101)
	assert.Equal(t, 90, s.cfg.Quality)
}

func TestServer_RealTCP(t *testing.T) {
	var addr net.Addr
	listen := func(string) (Listener, error) {
		ln, err := ListenTCP("127.0.0.1:0")
		if err == nil {
			addr = ln.Addr()
		}
		return ln, err
	}
	s := NewServer(Config{Listen: listen, Clock: timeutil.RealClock{}})
	defer s.Close()
	s.primary.Poll()
	require.NotNil(t, addr)

	client, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for !s.primary.Connected() && time.Now().Before(deadline) {
		s.primary.Poll()
	}
	require.True(t, s.primary.Connected())

	require.NoError(t, s.SendFrame(testFrame()))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	r := bufio.NewReader(client)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", status)
	hdr, err := textproto.NewReader(r).ReadMIMEHeader()
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace;boundary=inspec", hdr.Get("Content-Type"))

	_, err = r.ReadString('\n') // blank line before the boundary
	require.NoError(t, err)
	boundary, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--inspec\r\n", boundary)
}

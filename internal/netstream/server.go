// Package netstream serves the local-network side of the device: two
// multipart JPEG media endpoints and one line-oriented telemetry endpoint,
// each an independent, self-healing TCP server slot polled from the device
// loop.
package netstream

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net"
	"strconv"

	"github.com/banshee-data/inspec/internal/timeutil"
)

// Endpoint names.
const (
	MediaPrimary   = "media-primary"
	MediaSecondary = "media-secondary"
	API            = "api"
)

// Default ports.
const (
	DefaultMediaPort          = 8080
	DefaultSecondaryMediaPort = 8081
	DefaultAPIPort            = 5000
)

// Boundary separates JPEG parts on the media endpoints.
const Boundary = "inspec"

const mediaHandshake = "HTTP/1.1 200 OK\r\n" +
	"Server: INSPEC\r\n" +
	"Content-Type: multipart/x-mixed-replace;boundary=" + Boundary + "\r\n" +
	"Cache-Control: no-cache\r\n" +
	"Pragma: no-cache\r\n\r\n"

const apiHandshake = "HTTP/1.1 200 OK\r\n" +
	"Server: INSPEC\r\n" +
	"Content-Type: text/plain\r\n" +
	"Cache-Control: no-cache\r\n\r\n"

// Config holds the listen addresses and stream options.
type Config struct {
	Host          string
	MediaPort     int
	SecondaryPort int
	APIPort       int
	// Quality is the JPEG quality used for streamed frames.
	Quality    int
	APIEnabled bool

	Listen ListenFunc
	Clock  timeutil.Clock
}

func (c Config) withDefaults() Config {
	if c.MediaPort == 0 {
		c.MediaPort = DefaultMediaPort
	}
	if c.SecondaryPort == 0 {
		c.SecondaryPort = DefaultSecondaryMediaPort
	}
	if c.APIPort == 0 {
		c.APIPort = DefaultAPIPort
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = jpeg.DefaultQuality
	}
	if c.Listen == nil {
		c.Listen = ListenTCP
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	return c
}

// EndpointStatus is a snapshot of one endpoint.
type EndpointStatus struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Peer    string `json:"peer,omitempty"`
	LastErr string `json:"last_error,omitempty"`
	Resets  int    `json:"resets"`
}

// Server owns the three endpoints. It is driven from the device loop and is
// not safe for concurrent use.
type Server struct {
	cfg       Config
	primary   *Endpoint
	secondary *Endpoint
	api       *Endpoint

	jpegBuf bytes.Buffer
}

func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	addr := func(port int) string { return net.JoinHostPort(cfg.Host, strconv.Itoa(port)) }
	return &Server{
		cfg:       cfg,
		primary:   newEndpoint(MediaPrimary, addr(cfg.MediaPort), mediaHandshake, cfg.Listen, cfg.Clock),
		secondary: newEndpoint(MediaSecondary, addr(cfg.SecondaryPort), mediaHandshake, cfg.Listen, cfg.Clock),
		api:       newEndpoint(API, addr(cfg.APIPort), apiHandshake, cfg.Listen, cfg.Clock),
	}
}

func (s *Server) endpoints() []*Endpoint {
	return []*Endpoint{s.primary, s.secondary, s.api}
}

// Endpoint returns the named endpoint or nil.
func (s *Server) Endpoint(name string) *Endpoint {
	for _, e := range s.endpoints() {
		if e.name == name {
			return e
		}
	}
	return nil
}

// Poll advances every enabled endpoint once.
func (s *Server) Poll() {
	s.primary.Poll()
	s.secondary.Poll()
	if s.cfg.APIEnabled {
		s.api.Poll()
	}
}

// SetQuality changes the JPEG quality of subsequent frames.
func (s *Server) SetQuality(q int) {
	if q > 0 && q <= 100 {
		s.cfg.Quality = q
	}
}

// SetAPIEnabled gates the api endpoint. Disabling it closes any client.
func (s *Server) SetAPIEnabled(enabled bool) {
	s.cfg.APIEnabled = enabled
	if !enabled {
		s.api.Close()
	}
}

// MediaViewerConnected reports whether any media endpoint has a client.
func (s *Server) MediaViewerConnected() bool {
	return s.primary.Connected() || s.secondary.Connected()
}

// SendFrame encodes img once and writes it as a multipart part to every
// connected media endpoint.
func (s *Server) SendFrame(img image.Image) error {
	if !s.MediaViewerConnected() {
		return nil
	}
	s.jpegBuf.Reset()
	if err := jpeg.Encode(&s.jpegBuf, img, &jpeg.Options{Quality: s.cfg.Quality}); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	header := []byte(fmt.Sprintf("\r\n--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, s.jpegBuf.Len()))
	s.primary.Send(header, s.jpegBuf.Bytes())
	s.secondary.Send(header, s.jpegBuf.Bytes())
	return nil
}

// SendEvent writes an event:value line to the api endpoint.
func (s *Server) SendEvent(name, value string) {
	s.api.Send([]byte(name + ":" + value + "\r\n"))
}

// SendVariance writes the bare variance line to the api endpoint.
func (s *Server) SendVariance(v float64) {
	s.api.Send([]byte(strconv.FormatFloat(v, 'f', 2, 64) + "\r\n"))
}

// Status snapshots every endpoint.
func (s *Server) Status() []EndpointStatus {
	var out []EndpointStatus
	for _, e := range s.endpoints() {
		st := EndpointStatus{Name: e.name, State: e.state.String(), Peer: e.peer, Resets: e.resets}
		if e.lastErr != nil {
			st.LastErr = e.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

// Close shuts every endpoint.
func (s *Server) Close() {
	for _, e := range s.endpoints() {
		e.Close()
	}
}

// Package api serves the device's admin HTTP API: live status, settings,
// recorded sessions and their renderings, plus the tsweb debug routes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/inspec/internal/config"
	"github.com/banshee-data/inspec/internal/device"
	"github.com/banshee-data/inspec/internal/httputil"
	"github.com/banshee-data/inspec/internal/monitoring"
	"github.com/banshee-data/inspec/internal/report"
	"github.com/banshee-data/inspec/internal/session"
)

// ANSI escape codes for the access log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Device is the running loop as the API sees it.
type Device interface {
	Status() device.Status
	Settings() config.Settings
	UpdateSetting(name, value string) error
}

// Sessions is the recorded-session store.
type Sessions interface {
	Sessions() ([]session.Session, error)
	Session(id string) (session.Session, error)
	Minutes(id string) ([]session.Minute, error)
	Events(id string) ([]session.Event, error)
	Export(id string) ([]byte, error)
}

type Server struct {
	dev      Device
	sessions Sessions
}

// NewServer builds the API. sessions may be nil when logging is disabled.
func NewServer(dev Device, sessions Sessions) *Server {
	return &Server{dev: dev, sessions: sessions}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/sessions/{id}", s.showSession)
	mux.HandleFunc("/api/sessions/{id}/export", s.exportSession)
	mux.HandleFunc("/api/sessions/{id}/chart", s.chartSession)
	mux.HandleFunc("/api/sessions/{id}/plot.png", s.plotSession)
	return mux
}

// AttachAdminRoutes adds the device summary and a settings page to the
// tsweb debug index.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Device", func() any {
		st := s.dev.Status()
		return fmt.Sprintf("%d cycles, rem %d, nrem1 %d, quality %d", st.Cycles, st.REM, st.NREM, st.Quality)
	})
	debug.HandleFunc("settings", "Current device settings", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.dev.Settings())
	})
}

// Handler wraps the API mux in the access logger.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.ServeMux())
}

// Serve runs an HTTP server for h on addr until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.dev.Status())
}

type settingUpdate struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.dev.Settings())
	case http.MethodPost:
		s.updateSetting(w, r)
	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// updateSetting accepts either a JSON body {"name": ..., "value": ...} or
// form values name and value.
func (s *Server) updateSetting(w http.ResponseWriter, r *http.Request) {
	var req settingUpdate
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "invalid JSON body")
			return
		}
	} else {
		req.Name = r.FormValue("name")
		req.Value = r.FormValue("value")
	}
	if req.Name == "" {
		httputil.BadRequest(w, "missing setting name")
		return
	}

	err := s.dev.UpdateSetting(req.Name, req.Value)
	switch {
	case errors.Is(err, config.ErrUnknownSetting):
		httputil.NotFound(w, err.Error())
		return
	case errors.Is(err, config.ErrInvalidValue):
		httputil.BadRequest(w, err.Error())
		return
	case err != nil:
		// The value was applied but could not be persisted.
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.dev.Settings())
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.sessions == nil {
		httputil.WriteJSONOK(w, []session.Session{})
		return
	}
	list, err := s.sessions.Sessions()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if list == nil {
		list = []session.Session{}
	}
	httputil.WriteJSONOK(w, list)
}

type sessionDetail struct {
	Session session.Session  `json:"session"`
	Minutes []session.Minute `json:"minutes"`
	Events  []session.Event  `json:"events"`
}

// loadSession resolves the {id} path value, writing the error response
// itself when it fails.
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return session.Session{}, false
	}
	if s.sessions == nil {
		httputil.NotFound(w, "session logging disabled")
		return session.Session{}, false
	}
	sess, err := s.sessions.Session(r.PathValue("id"))
	if errors.Is(err, session.ErrSessionNotFound) {
		httputil.NotFound(w, err.Error())
		return session.Session{}, false
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return session.Session{}, false
	}
	return sess, true
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	minutes, err := s.sessions.Minutes(sess.ID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	events, err := s.sessions.Events(sess.ID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if minutes == nil {
		minutes = []session.Minute{}
	}
	if events == nil {
		events = []session.Event{}
	}
	httputil.WriteJSONOK(w, sessionDetail{Session: sess, Minutes: minutes, Events: events})
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	data, err := s.sessions.Export(sess.ID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteAttachment(w, "text/plain; charset=utf-8", exportFilename(sess), data)
}

// exportFilename names an export after its start time.
func exportFilename(sess session.Session) string {
	return "inspec-" + sess.StartedAt.UTC().Format("20060102-150405") + ".txt"
}

func (s *Server) chartSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	minutes, err := s.sessions.Minutes(sess.ID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	events, err := s.sessions.Events(sess.ID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := report.RenderHTML(&buf, sess, minutes, events); err != nil {
		s.renderError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		monitoring.Logf("api: write chart: %v", err)
	}
}

func (s *Server) plotSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	minutes, err := s.sessions.Minutes(sess.ID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := report.RenderPNG(&buf, sess, minutes); err != nil {
		s.renderError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := buf.WriteTo(w); err != nil {
		monitoring.Logf("api: write plot: %v", err)
	}
}

func (s *Server) renderError(w http.ResponseWriter, err error) {
	if errors.Is(err, report.ErrNoData) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

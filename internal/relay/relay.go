// Package relay bridges the device's api stream to an HTTP webhook server.
// It reads event lines from the stream and POSTs each one as a small JSON
// object to <webhook>/<event>. Bare lines carry the variance.
package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/banshee-data/inspec/internal/monitoring"
)

// VarianceEvent names bare lines.
const VarianceEvent = "variance"

// Config describes both ends of the relay.
type Config struct {
	// Source is the device's api endpoint, e.g. http://192.168.4.1:5000.
	Source string
	// Webhook is the base URL events are posted under.
	Webhook string

	PostTimeout time.Duration
	RetryWait   time.Duration
	// Retries is the number of extra attempts per webhook post.
	Retries int
}

func (c Config) withDefaults() Config {
	if c.PostTimeout <= 0 {
		c.PostTimeout = 5 * time.Second
	}
	if c.RetryWait <= 0 {
		c.RetryWait = 2 * time.Second
	}
	c.Webhook = strings.TrimRight(c.Webhook, "/")
	return c
}

// Stats counts relay activity.
type Stats struct {
	Connects  int `json:"connects"`
	Lines     int `json:"lines"`
	Forwarded int `json:"forwarded"`
	Failed    int `json:"failed"`
}

// Relay reconnects to the source whenever the stream ends.
type Relay struct {
	cfg    Config
	source *resty.Client
	hook   *resty.Client

	mu    sync.Mutex
	stats Stats
}

func New(cfg Config) *Relay {
	cfg = cfg.withDefaults()

	// The source stream is open-ended, so it gets no overall timeout.
	source := resty.New().
		SetBaseURL(cfg.Source).
		SetHeader("Accept", "text/plain")

	hook := resty.New().
		SetBaseURL(cfg.Webhook).
		SetTimeout(cfg.PostTimeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json")

	return &Relay{cfg: cfg, source: source, hook: hook}
}

// ParseLine splits an api line into event and value. Lines without a colon
// are variance readings. Blank lines are skipped.
func ParseLine(line string) (event, value string, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return "", "", false
	}
	if name, v, found := strings.Cut(line, ":"); found && name != "" {
		return name, v, true
	}
	return VarianceEvent, line, true
}

// Forward posts one event.
func (r *Relay) Forward(ctx context.Context, event, value string) error {
	resp, err := r.hook.R().
		SetContext(ctx).
		SetBody(map[string]string{event: value}).
		Post("/" + event)
	if err != nil {
		return fmt.Errorf("post %s: %w", event, err)
	}
	if resp.IsError() {
		return fmt.Errorf("post %s: webhook returned %s", event, resp.Status())
	}
	return nil
}

// Stream forwards every line of rd until it ends. Failed posts are logged
// and counted; they do not end the stream.
func (r *Relay) Stream(ctx context.Context, rd io.Reader) error {
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		event, value, ok := ParseLine(sc.Text())
		if !ok {
			continue
		}
		r.count(func(s *Stats) { s.Lines++ })

		if err := r.Forward(ctx, event, value); err != nil {
			r.count(func(s *Stats) { s.Failed++ })
			monitoring.Logf("relay: %v", err)
			continue
		}
		r.count(func(s *Stats) { s.Forwarded++ })
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

// Once opens the source stream and relays it until it ends.
func (r *Relay) Once(ctx context.Context) error {
	resp, err := r.source.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get("/")
	if err != nil {
		return fmt.Errorf("connect %s: %w", r.cfg.Source, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return fmt.Errorf("connect %s: %s", r.cfg.Source, resp.Status())
	}

	r.count(func(s *Stats) { s.Connects++ })
	monitoring.Logf("relay: connected to %s", r.cfg.Source)
	return r.Stream(ctx, body)
}

// Run relays until ctx is done, reconnecting after RetryWait whenever the
// source is unreachable or the stream ends.
func (r *Relay) Run(ctx context.Context) error {
	for {
		err := r.Once(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			monitoring.Logf("relay: stream from %s ended", r.cfg.Source)
		} else {
			monitoring.Logf("relay: waiting for %s: %v", r.cfg.Source, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.RetryWait):
		}
	}
}

func (r *Relay) count(f func(*Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(&r.stats)
}

// Stats returns a copy of the counters.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

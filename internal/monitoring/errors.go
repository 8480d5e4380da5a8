package monitoring

import "sync"

// maxReportedErrors bounds the history replayed by request.errors.
const maxReportedErrors = 8

// ErrorReporter records cycle errors. Each distinct message is surfaced once:
// Report returns true only the first time a message is seen, so the caller can
// emit a single error telemetry line instead of one per cycle.
type ErrorReporter struct {
	mu     sync.Mutex
	seen   map[string]bool
	recent []string
}

func NewErrorReporter() *ErrorReporter {
	return &ErrorReporter{seen: make(map[string]bool)}
}

// Report logs err and reports whether it is new.
func (r *ErrorReporter) Report(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen[msg] {
		return false
	}
	Logf("cycle error: %v", err)

	r.seen[msg] = true
	r.recent = append(r.recent, msg)
	if len(r.recent) > maxReportedErrors {
		delete(r.seen, r.recent[0])
		r.recent = r.recent[1:]
	}
	return true
}

// Recent returns the retained messages, oldest first.
func (r *ErrorReporter) Recent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.recent))
	copy(out, r.recent)
	return out
}

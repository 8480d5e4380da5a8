package session

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Export renders a session in the minute-line text format:
//
//	INSPEC
//	Researcher:<name>
//	0:00 - 12,0,3
//	0:01 - 4,4
//
// Each line is stamped with the elapsed hour and minute of the session and
// lists that minute's variance samples rounded to integers. Minutes with no
// samples are omitted.
func (s *Store) Export(id string) ([]byte, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	minutes, err := s.Minutes(id)
	if err != nil {
		return nil, err
	}
	return FormatExport(sess, minutes), nil
}

// FormatExport renders the export text from already loaded rows.
func FormatExport(sess Session, minutes []Minute) []byte {
	var b bytes.Buffer
	b.WriteString("INSPEC")
	b.WriteString("\r\nResearcher:" + sess.Researcher)
	for _, m := range minutes {
		if len(m.Samples) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\r\n%s - ", MinuteStamp(m.Minute))
		for i, v := range m.Samples {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatInt(int64(math.Round(v)), 10))
		}
	}
	return b.Bytes()
}

// MinuteStamp formats an elapsed minute index as H:MM.
func MinuteStamp(minute int) string {
	return fmt.Sprintf("%d:%02d", minute/60, minute%60)
}

func joinSamples(samples []float64) string {
	parts := make([]string, len(samples))
	for i, v := range samples {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func splitSamples(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

package vpn

import (
	"bytes"
	"strings"
)

// lineSplitter turns arbitrary output chunks into trimmed, non-empty lines.
// A partial line at the end of a chunk is carried over to the next one.
type lineSplitter struct {
	carry []byte
}

// Feed consumes a chunk and returns the complete lines it finished.
func (s *lineSplitter) Feed(chunk []byte) []string {
	s.carry = append(s.carry, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(s.carry, '\n')
		if i < 0 {
			break
		}
		if line := cleanLine(s.carry[:i]); line != "" {
			lines = append(lines, line)
		}
		s.carry = s.carry[i+1:]
	}
	// Drop the consumed prefix so the buffer does not grow without bound.
	if len(s.carry) == 0 {
		s.carry = nil
	} else {
		s.carry = append([]byte(nil), s.carry...)
	}
	return lines
}

// Flush returns whatever partial line remains at end of stream.
func (s *lineSplitter) Flush() []string {
	line := cleanLine(s.carry)
	s.carry = nil
	if line == "" {
		return nil
	}
	return []string{line}
}

func cleanLine(b []byte) string {
	return strings.TrimSpace(strings.ReplaceAll(string(b), "\r", ""))
}

// logRing keeps the most recent lines of output, evicting the oldest first.
// It is not safe for concurrent use; Manager guards it with its mutex.
type logRing struct {
	lines []string
	start int
	size  int
}

func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &logRing{lines: make([]string, capacity)}
}

// Add appends a line, overwriting the oldest one when full.
func (r *logRing) Add(line string) {
	capacity := len(r.lines)
	if r.size < capacity {
		r.lines[(r.start+r.size)%capacity] = line
		r.size++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % capacity
}

// Snapshot returns the buffered lines in arrival order.
func (r *logRing) Snapshot() []string {
	out := make([]string, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.lines[(r.start+i)%len(r.lines)]
	}
	return out
}

// Reset empties the ring.
func (r *logRing) Reset() {
	for i := range r.lines {
		r.lines[i] = ""
	}
	r.start = 0
	r.size = 0
}

// Len returns the number of buffered lines.
func (r *logRing) Len() int {
	return r.size
}

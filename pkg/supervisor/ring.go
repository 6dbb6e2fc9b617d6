package supervisor

import (
	"bytes"
	"sync"
)

// ring is a fixed-capacity line buffer for child process output. It
// implements io.Writer so it can sit directly behind the child's stdout or
// stderr pipe; writes are split on newlines and only the most recent
// capacity lines are retained.
type ring struct {
	mu      sync.Mutex
	cap     int
	lines   []string
	start   int
	count   int
	pending []byte
}

func newRing(capacity int) *ring {
	return &ring{
		cap:   capacity,
		lines: make([]string, capacity),
	}
}

// Write consumes raw child output. Partial lines are held until their
// newline arrives.
func (r *ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, p...)
	for {
		i := bytes.IndexByte(r.pending, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(r.pending[:i], "\r"))
		r.pending = r.pending[i+1:]
		r.push(line)
	}
	return len(p), nil
}

func (r *ring) push(line string) {
	if r.count < r.cap {
		r.lines[(r.start+r.count)%r.cap] = line
		r.count++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % r.cap
}

// Lines returns the retained lines, oldest first
func (r *ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.lines[(r.start+i)%r.cap]
	}
	return out
}

// Tail returns up to the last n lines, oldest first
func (r *ring) Tail(n int) []string {
	lines := r.Lines()
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

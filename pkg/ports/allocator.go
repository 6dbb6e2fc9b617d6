package ports

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mcpden/mcpden/pkg/errdefs"
)

const (
	// DefaultLow and DefaultHigh bound the range instances are assigned from
	DefaultLow  = 40000
	DefaultHigh = 49999

	// releaseGrace keeps a released port quarantined so a fresh reservation
	// cannot collide with a socket still in TIME_WAIT.
	releaseGrace = 500 * time.Millisecond
)

// Allocator hands out free loopback TCP ports and tracks reservations.
// Reserve probes a real bind before recording the reservation, and the whole
// choose-probe-record sequence runs under one lock so two concurrent callers
// can never be handed the same port.
type Allocator struct {
	mu         sync.Mutex
	low, high  int
	reserved   map[int]struct{}
	quarantine map[int]time.Time

	// probe is swappable for tests
	probe func(port int) bool
}

// New creates an allocator over the inclusive range [low, high]
func New(low, high int) *Allocator {
	return &Allocator{
		low:        low,
		high:       high,
		reserved:   make(map[int]struct{}),
		quarantine: make(map[int]time.Time),
		probe:      probeBind,
	}
}

// NewDefault creates an allocator over the default range
func NewDefault() *Allocator {
	return New(DefaultLow, DefaultHigh)
}

// Reserve returns the smallest free port in range whose loopback bind
// succeeds. Fails with PortExhausted once the scan crosses the range.
func (a *Allocator) Reserve() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	for port := a.low; port <= a.high; port++ {
		if _, taken := a.reserved[port]; taken {
			continue
		}
		if until, held := a.quarantine[port]; held {
			if now.Before(until) {
				continue
			}
			delete(a.quarantine, port)
		}
		if !a.probe(port) {
			continue
		}
		a.reserved[port] = struct{}{}
		return port, nil
	}

	return 0, errdefs.New(errdefs.CodePortExhausted,
		"no free port in range %d-%d", a.low, a.high)
}

// Release returns a port to the pool. Idempotent; releasing a port that was
// never reserved is a no-op. The port stays quarantined for a grace interval
// before Reserve will hand it out again.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.reserved[port]; !ok {
		return
	}
	delete(a.reserved, port)
	a.quarantine[port] = time.Now().Add(releaseGrace)
}

// Reserved returns a snapshot of all currently reserved ports
func (a *Allocator) Reserved() []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	ports := make([]int, 0, len(a.reserved))
	for port := range a.reserved {
		ports = append(ports, port)
	}
	return ports
}

// probeBind confirms the port is actually bindable on loopback right now
func probeBind(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

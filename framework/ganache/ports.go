package ganache

import (
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
)

const (
	ephemeralPortMin = 49152
	ephemeralPortMax = 60999
	maxPortDraws     = 25
)

// PortProbe reports whether a port is free to bind on the loopback interface.
type PortProbe func(port int) bool

// PortRegistry remembers every port handed out for a node process during the life of the
// host process, so that restarted or additional sessions never reuse one.
//
// Picking is not atomic with binding: sessions sharing a registry must be connected one
// at a time.
type PortRegistry struct {
	mu        sync.Mutex
	attempted map[int]struct{}
	probe     PortProbe
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *PortRegistry
)

// DefaultPortRegistry returns the registry shared by sessions that were not given one.
func DefaultPortRegistry() *PortRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewPortRegistry()
	})
	return defaultRegistry
}

// NewPortRegistry returns an empty registry that probes ports by listening on 127.0.0.1.
func NewPortRegistry() *PortRegistry {
	return &PortRegistry{
		attempted: make(map[int]struct{}),
		probe:     listenProbe,
	}
}

// WithProbe replaces the function used to test whether a port is free.
func (r *PortRegistry) WithProbe(probe PortProbe) *PortRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probe = probe
	return r
}

// Record marks port as attempted.
func (r *PortRegistry) Record(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempted[port] = struct{}{}
}

// Attempted reports whether port was handed out or drawn before.
func (r *PortRegistry) Attempted(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.attempted[port]
	return ok
}

// Pick returns a free port that was never attempted. DefaultPort is preferred; after that
// ports are drawn at random from the ephemeral range. Every drawn port is recorded.
func (r *PortRegistry) Pick() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.attempted[DefaultPort]; !seen && r.probe(DefaultPort) {
		r.attempted[DefaultPort] = struct{}{}
		return DefaultPort, nil
	}

	tried := make([]int, 0, maxPortDraws)
	for range maxPortDraws {
		port := ephemeralPortMin + rand.IntN(ephemeralPortMax-ephemeralPortMin+1)
		tried = append(tried, port)

		_, seen := r.attempted[port]
		r.attempted[port] = struct{}{}
		if seen || !r.probe(port) {
			continue
		}
		return port, nil
	}
	return 0, &NoFreePortError{Tried: tried}
}

func listenProbe(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

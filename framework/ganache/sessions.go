package ganache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Sessions is a named set of providers, usually a local node plus fork nodes, that share a
// PortRegistry.
type Sessions struct {
	mu        sync.Mutex
	providers map[string]*Provider
	order     []string
}

// NewSessions returns an empty set.
func NewSessions() *Sessions {
	return &Sessions{providers: make(map[string]*Provider)}
}

// Add adds p under name. Names must be unique.
func (s *Sessions) Add(name string, p *Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[name]; ok {
		return fmt.Errorf("session %q already exists", name)
	}
	s.providers[name] = p
	s.order = append(s.order, name)
	return nil
}

// Get returns the provider added under name.
func (s *Sessions) Get(name string) (*Provider, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[name]
	return p, ok
}

// Providers returns the providers in the order they were added.
func (s *Sessions) Providers() []*Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Provider, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.providers[name])
	}
	return out
}

// ConnectAll connects every provider one after another, since sessions sharing a port
// registry cannot pick ports concurrently. It stops at the first failure.
func (s *Sessions) ConnectAll(ctx context.Context) error {
	s.mu.Lock()
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	for _, name := range names {
		p, _ := s.Get(name)
		if err := p.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect session %q: %w", name, err)
		}
	}
	return nil
}

// DisconnectAll disconnects every provider in parallel.
func (s *Sessions) DisconnectAll(ctx context.Context) error {
	var eg errgroup.Group
	for _, p := range s.Providers() {
		p := p
		eg.Go(func() error {
			return p.Disconnect(ctx)
		})
	}
	return eg.Wait()
}

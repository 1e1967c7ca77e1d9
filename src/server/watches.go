package server

import (
	"context"
	"errors"
)

// sharedWatch is one balance watch held on behalf of several owners
// (websocket clients, the configured address list)
type sharedWatch struct {
	stop   func()
	owners map[string]struct{}
}

// -----------------------------------------------------------------------------

// Watch makes sure address is watched and records owner as a holder. The
// balance service keeps a single watch per address, so every owner shares it.
func (s *Server) Watch(ctx context.Context, owner, address string) error {
	if s.deps.Balances == nil {
		return errors.New("balance service not configured")
	}

	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if w, ok := s.watches[address]; ok {
		w.owners[owner] = struct{}{}
		return nil
	}
	stop, err := s.deps.Balances.Subscribe(ctx, address, nil)
	if err != nil {
		return err
	}
	s.watches[address] = &sharedWatch{stop: stop, owners: map[string]struct{}{owner: {}}}
	return nil
}

// Unwatch releases owner's hold; the watch stops with its last owner
func (s *Server) Unwatch(owner, address string) {
	s.watchMu.Lock()
	w, ok := s.watches[address]
	if !ok {
		s.watchMu.Unlock()
		return
	}
	delete(w.owners, owner)
	var stop func()
	if len(w.owners) == 0 {
		delete(s.watches, address)
		stop = w.stop
	}
	s.watchMu.Unlock()

	if stop != nil {
		stop()
	}
}

// releaseOwner drops every hold of owner
func (s *Server) releaseOwner(owner string) {
	s.watchMu.Lock()
	var addresses []string
	for addr, w := range s.watches {
		if _, ok := w.owners[owner]; ok {
			addresses = append(addresses, addr)
		}
	}
	s.watchMu.Unlock()

	for _, addr := range addresses {
		s.Unwatch(owner, addr)
	}
}

// forgetWatch removes a watch the balance service has already closed
func (s *Server) forgetWatch(address string) {
	s.watchMu.Lock()
	delete(s.watches, address)
	s.watchMu.Unlock()
}

func (s *Server) dropAllWatches() {
	s.watchMu.Lock()
	stops := make([]func(), 0, len(s.watches))
	for addr, w := range s.watches {
		stops = append(stops, w.stop)
		delete(s.watches, addr)
	}
	s.watchMu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

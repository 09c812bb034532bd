package mqtt

import "sync"

// laneSet runs submitted work one at a time per key, in submission order.
// Different keys proceed concurrently and submit never blocks, so the
// reader loop keeps draining the socket while a handler is busy.
type laneSet struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	pending []func()
}

func (s *laneSet) submit(key string, fn func()) {
	s.mu.Lock()
	if l, ok := s.lanes[key]; ok {
		l.pending = append(l.pending, fn)
		s.mu.Unlock()
		return
	}
	if s.lanes == nil {
		s.lanes = make(map[string]*lane)
	}
	l := &lane{}
	s.lanes[key] = l
	s.mu.Unlock()

	go s.drain(key, l, fn)
}

// drain owns the lane until it is empty, then retires it.
func (s *laneSet) drain(key string, l *lane, fn func()) {
	for {
		fn()

		s.mu.Lock()
		if len(l.pending) == 0 {
			delete(s.lanes, key)
			s.mu.Unlock()
			return
		}
		fn = l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		s.mu.Unlock()
	}
}

// active reports the number of lanes with work in flight.
func (s *laneSet) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

package local

import (
	"sync"

	auth "github.com/resmoai/resmo-auth"
)

// subscriber delivers queued notifications on its own goroutine so the
// provider never calls listeners while holding its lock.
type subscriber struct {
	listener auth.IdentityListener

	mu      sync.Mutex
	queue   []auth.Identity
	stopped bool
	signal  chan struct{}
	done    chan struct{}
}

func newSubscriber(listener auth.IdentityListener) *subscriber {
	return &subscriber{
		listener: listener,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (s *subscriber) enqueue(identity auth.Identity) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, identity)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.queue = nil
	close(s.done)
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			if s.stopped || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.listener(next)
		}
	}
}

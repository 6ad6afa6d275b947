// Package history keeps the most recent echoed requests for inspection.
package history

import (
	"sync"
	"time"

	"github.com/tommy351/reqecho/pkg/echo"
)

type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Response  *echo.Response `json:"response"`
}

const subscriberBuffer = 64

// Store is a fixed-size ring of entries, safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	buf  []Entry
	subs map[chan Entry]struct{}
	head int
	full bool
}

func NewStore(size int) *Store {
	if size < 1 {
		size = 1
	}

	return &Store{
		buf:  make([]Entry, size),
		subs: map[chan Entry]struct{}{},
	}
}

func (s *Store) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf[s.head] = e
	s.head = (s.head + 1) % len(s.buf)

	if s.head == 0 {
		s.full = true
	}

	// Slow subscribers miss entries rather than block writers.
	for ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// All returns the stored entries, oldest first.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry

	if s.full {
		out = append(out, s.buf[s.head:]...)
	}

	return append(out, s.buf[:s.head]...)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.full {
		return len(s.buf)
	}

	return s.head
}

func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.buf {
		if e.ID != "" && e.ID == id {
			return e, true
		}
	}

	return Entry{}, false
}

// Subscribe returns a channel receiving every entry added from now on. The
// cancel function closes the channel.
func (s *Store) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, subscriberBuffer)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			delete(s.subs, ch)
			close(ch)
		})
	}

	return ch, cancel
}

func (s *Store) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.subs)
}

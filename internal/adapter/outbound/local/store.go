package local

import (
	"fmt"
	"sync"

	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
)

// DefaultMaxPending is the default maximum number of pending challenges.
const DefaultMaxPending = 100

type pendingChallenge struct {
	challenge challenge.Challenge
	result    chan challenge.Status
}

// ChallengeStore holds pending challenges with bounded capacity.
// It is thread-safe and evicts the oldest challenge when full.
type ChallengeStore struct {
	mu      sync.RWMutex
	pending map[string]*pendingChallenge
	order   []string
	maxSize int
}

// NewChallengeStore creates a store holding at most maxSize pending challenges.
func NewChallengeStore(maxSize int) *ChallengeStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxPending
	}
	return &ChallengeStore{
		pending: make(map[string]*pendingChallenge),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add registers c as pending and returns the channel its terminal status is
// delivered on. When full, the oldest challenge is resolved as evicted.
func (s *ChallengeStore) Add(c challenge.Challenge) <-chan challenge.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) >= s.maxSize {
		s.resolveLocked(s.order[0], challenge.StatusEvicted)
	}

	c.Status = challenge.StatusPending
	p := &pendingChallenge{challenge: c, result: make(chan challenge.Status, 1)}
	s.pending[c.ID] = p
	s.order = append(s.order, c.ID)
	return p.result
}

// List returns all pending challenges, oldest first.
func (s *ChallengeStore) List() []challenge.Challenge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]challenge.Challenge, 0, len(s.order))
	for _, id := range s.order {
		if p, ok := s.pending[id]; ok {
			result = append(result, p.challenge)
		}
	}
	return result
}

// Get returns a pending challenge by ID.
func (s *ChallengeStore) Get(id string) (challenge.Challenge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pending[id]
	if !ok {
		return challenge.Challenge{}, false
	}
	return p.challenge, true
}

// Len returns the number of pending challenges.
func (s *ChallengeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Solve resolves a pending challenge as solved.
func (s *ChallengeStore) Solve(id string) error {
	return s.Resolve(id, challenge.StatusSolved)
}

// Cancel resolves a pending challenge as cancelled.
func (s *ChallengeStore) Cancel(id string) error {
	return s.Resolve(id, challenge.StatusCancelled)
}

// Resolve delivers status to the challenge's waiter and removes it.
func (s *ChallengeStore) Resolve(id string, status challenge.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resolveLocked(id, status) {
		return fmt.Errorf("%w: %s", challenge.ErrChallengeNotFound, id)
	}
	return nil
}

func (s *ChallengeStore) resolveLocked(id string, status challenge.Status) bool {
	p, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	// Buffered with capacity 1 and written once, so this never blocks.
	p.result <- status
	return true
}

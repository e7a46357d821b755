package local

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
)

func TestChallengeStore_SolveDeliversStatus(t *testing.T) {
	t.Parallel()

	s := NewChallengeStore(10)
	result := s.Add(challenge.Challenge{ID: "c1"})

	got, ok := s.Get("c1")
	if !ok || got.Status != challenge.StatusPending {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
	if err := s.Solve("c1"); err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if status := <-result; status != challenge.StatusSolved {
		t.Errorf("status = %s", status)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after resolve", s.Len())
	}
}

func TestChallengeStore_ResolveTwiceFails(t *testing.T) {
	t.Parallel()

	s := NewChallengeStore(10)
	s.Add(challenge.Challenge{ID: "c1"})
	if err := s.Cancel("c1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := s.Solve("c1"); !errors.Is(err, challenge.ErrChallengeNotFound) {
		t.Errorf("second resolve err = %v", err)
	}
	if err := s.Solve("missing"); !errors.Is(err, challenge.ErrChallengeNotFound) {
		t.Errorf("unknown id err = %v", err)
	}
}

func TestChallengeStore_EvictsOldest(t *testing.T) {
	t.Parallel()

	s := NewChallengeStore(2)
	first := s.Add(challenge.Challenge{ID: "c1"})
	s.Add(challenge.Challenge{ID: "c2"})
	s.Add(challenge.Challenge{ID: "c3"})

	if status := <-first; status != challenge.StatusEvicted {
		t.Errorf("evicted status = %s", status)
	}
	list := s.List()
	if len(list) != 2 || list[0].ID != "c2" || list[1].ID != "c3" {
		t.Errorf("List = %+v", list)
	}
}

func TestChallengeStore_DefaultCapacity(t *testing.T) {
	t.Parallel()

	if s := NewChallengeStore(0); s.maxSize != DefaultMaxPending {
		t.Errorf("maxSize = %d", s.maxSize)
	}
}

func TestChallengeStore_ConcurrentResolve(t *testing.T) {
	t.Parallel()

	s := NewChallengeStore(100)
	results := make([]<-chan challenge.Status, 50)
	for i := range results {
		results[i] = s.Add(challenge.Challenge{ID: fmt.Sprintf("c%d", i)})
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := range results {
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if s.Solve(id) == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(fmt.Sprintf("c%d", i))
		}
	}
	wg.Wait()

	if wins != 50 {
		t.Errorf("successful resolves = %d, want 50", wins)
	}
	for _, r := range results {
		if status := <-r; status != challenge.StatusSolved {
			t.Errorf("status = %s", status)
		}
	}
}

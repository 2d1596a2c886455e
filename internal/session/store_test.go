package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(ttl time.Duration) (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewStore(ttl, nil)
	s.now = clock.Now
	return s, clock
}

func TestCreateGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(0)
	body := json.RawMessage(`{"customer":"rajesh","lang":"hi"}`)

	id, err := s.Create(body)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("expected 36-char id, got %q", id)
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("expected %s, got %s", body, got)
	}

	if _, err := s.Get("00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateCopiesBody(t *testing.T) {
	s, _ := newTestStore(0)
	body := []byte(`{"a":1}`)
	id, _ := s.Create(body)
	body[2] = 'b'

	got, _ := s.Get(id)
	if string(got) != `{"a":1}` {
		t.Errorf("stored body aliased caller slice: %s", got)
	}
}

func TestCreateEmptyBodyStoresObject(t *testing.T) {
	s, _ := newTestStore(0)
	for _, body := range []json.RawMessage{nil, json.RawMessage("null")} {
		id, err := s.Create(body)
		if err != nil {
			t.Fatal(err)
		}
		got, _ := s.Get(id)
		if string(got) != "{}" {
			t.Errorf("expected {}, got %s", got)
		}
	}
}

func TestIDsAreUnique(t *testing.T) {
	s, _ := newTestStore(0)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := s.Create(nil)
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if s.Len() != 1000 {
		t.Errorf("expected 1000 sessions, got %d", s.Len())
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	s, clock := newTestStore(time.Minute)

	idle, _ := s.Create(nil)
	active, _ := s.Create(nil)

	clock.Advance(40 * time.Second)
	if _, err := s.Get(active); err != nil {
		t.Fatalf("get active: %v", err)
	}
	clock.Advance(40 * time.Second)

	if removed := s.Sweep(); removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if _, err := s.Get(idle); !errors.Is(err, ErrNotFound) {
		t.Errorf("idle session should be gone, got %v", err)
	}
	if _, err := s.Get(active); err != nil {
		t.Errorf("active session should survive, got %v", err)
	}
}

func TestGetTreatsExpiredAsMissingBeforeSweep(t *testing.T) {
	s, clock := newTestStore(time.Minute)
	id, _ := s.Create(nil)
	clock.Advance(2 * time.Minute)
	if _, err := s.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestZeroTTLNeverEvicts(t *testing.T) {
	s, clock := newTestStore(0)
	id, _ := s.Create(nil)
	clock.Advance(24 * time.Hour)
	if removed := s.Sweep(); removed != 0 {
		t.Errorf("expected no eviction, got %d", removed)
	}
	if _, err := s.Get(id); err != nil {
		t.Errorf("expected session, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewStore(time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentCreateAndGet(t *testing.T) {
	s, _ := newTestStore(time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				body := json.RawMessage(fmt.Sprintf(`{"worker":%d,"n":%d}`, i, j))
				id, err := s.Create(body)
				if err != nil {
					t.Error(err)
					return
				}
				got, err := s.Get(id)
				if err != nil || string(got) != string(body) {
					t.Errorf("get %s: %v %s", id, err, got)
					return
				}
				s.Sweep()
			}
		}(i)
	}
	wg.Wait()
	if s.Len() != 16*50 {
		t.Errorf("expected %d sessions, got %d", 16*50, s.Len())
	}
}

package store

import (
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_UpdateReplacesByName(t *testing.T) {
	s := NewMemoryStore()

	s.Update(Result{Name: "api", Status: "up", StatusCode: 200, ResponseTimeMs: 100})
	s.Update(Result{Name: "api", Status: "degraded", StatusCode: 429, ResponseTimeMs: 200})
	s.Update(Result{Name: "api", Status: "down", ResponseTimeMs: 300})

	all := s.GetAll()
	if len(all) != 1 {
		t.Fatalf("GetAll() = %d items, want 1", len(all))
	}
	if all[0].Status != "down" || all[0].ResponseTimeMs != 300 {
		t.Errorf("GetAll()[0] = %+v, want the latest result", all[0])
	}
	if s.Total() != 3 {
		t.Errorf("Total() = %d, want 3", s.Total())
	}
}

func TestMemoryStore_GetAllSortedByName(t *testing.T) {
	s := NewMemoryStore()
	if len(s.GetAll()) != 0 {
		t.Fatal("new store should be empty")
	}

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if err := s.Record(Result{Name: name, Status: "up"}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	all := s.GetAll()
	if len(all) != 3 {
		t.Fatalf("GetAll() = %d items, want 3", len(all))
	}
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		if all[i].Name != want {
			t.Errorf("GetAll()[%d].Name = %q, want %q", i, all[i].Name, want)
		}
	}
}

func TestMemoryStore_MultipleSubscribers(t *testing.T) {
	s := NewMemoryStore()

	ch1 := s.Subscribe()
	ch2 := s.Subscribe()
	ch3 := s.Subscribe()

	go s.Update(Result{Name: "api", Status: "up"})

	received := 0
	timeout := time.After(time.Second)
	for received < 3 {
		select {
		case r := <-ch1:
			received++
			if r.Name != "api" {
				t.Errorf("received Name = %q, want api", r.Name)
			}
		case <-ch2:
			received++
		case <-ch3:
			received++
		case <-timeout:
			t.Fatalf("only received %d/3 updates", received)
		}
	}
}

func TestMemoryStore_Unsubscribe(t *testing.T) {
	s := NewMemoryStore()

	ch1 := s.Subscribe()
	ch2 := s.Subscribe()
	s.Unsubscribe(ch1)
	s.Unsubscribe(ch1)

	if _, ok := <-ch1; ok {
		t.Error("unsubscribed channel should be closed")
	}

	go s.Update(Result{Name: "api", Status: "up"})

	select {
	case <-ch2:
	case <-time.After(time.Second):
		t.Error("remaining subscriber should still receive updates")
	}
}

func TestMemoryStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	s := NewMemoryStore()

	// never read
	_ = s.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2*subscriberBuffer; i++ {
			s.Update(Result{Name: "api", Status: "up"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Update() blocked on a slow subscriber")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Update(Result{Name: "api", Status: "up"})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.GetAll()
			}
		}()
		go func() {
			defer wg.Done()
			ch := s.Subscribe()
			time.Sleep(10 * time.Millisecond)
			s.Unsubscribe(ch)
		}()
	}
	wg.Wait()

	if s.Total() != 1000 {
		t.Errorf("Total() = %d, want 1000", s.Total())
	}
}

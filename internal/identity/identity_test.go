package identity_test

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/leonletto/webdemos/internal/identity"
)

func TestNewRequestID_Format(t *testing.T) {
	id := identity.NewRequestID()
	if len(id) != 26 {
		t.Fatalf("len(%q) = %d, want 26", id, len(id))
	}
}

func TestNewRequestID_Monotonic(t *testing.T) {
	ids := make([]string, 1000)
	for i := range ids {
		ids[i] = identity.NewRequestID()
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("IDs from one process should sort in generation order")
	}
}

func TestNewRequestID_Concurrent(t *testing.T) {
	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := identity.NewRequestID()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("got %d unique IDs, want %d", len(seen), n)
	}
}

func TestRequestTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := identity.NewRequestID()

	ts, err := identity.RequestTime(id)
	if err != nil {
		t.Fatalf("RequestTime: %v", err)
	}
	if ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Errorf("timestamp %v out of range", ts)
	}

	if _, err := identity.RequestTime("not-a-ulid"); err == nil {
		t.Error("expected error for invalid ULID")
	}
}

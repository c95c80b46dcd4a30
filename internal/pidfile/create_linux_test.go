//go:build linux

package pidfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// OFD locks make contention visible inside a single process, so racing
// goroutines behave like racing processes.
func TestCreateExclusiveAmongGoroutines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "race.pid")

	const racers = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		won   []*File
		lost  int
		other []error
		start = make(chan struct{})
	)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			f, err := Create("racer", path, 0)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won = append(won, f)
			case errors.Is(err, ErrAlreadyRunning):
				lost++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	t.Cleanup(func() {
		for _, f := range won {
			_ = f.Close()
		}
	})

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if len(won) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(won))
	}
	if lost != racers-1 {
		t.Fatalf("expected %d losers, got %d", racers-1, lost)
	}
}

func TestLockRegion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	if err := os.WriteFile(path, make([]byte, 64), 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	open := func() *os.File {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { _ = f.Close() })
		return f
	}
	a, b := open(), open()

	if err := LockRegion(a.Fd(), Exclusive, io.SeekStart, 0, 16); err != nil {
		t.Fatalf("lock [0,16): %v", err)
	}

	// Overlapping exclusive request from another description
	if err := LockRegion(b.Fd(), Exclusive, io.SeekStart, 8, 16); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected contention on overlapping region, got %v", err)
	}

	// Shared request overlapping an exclusive lock also conflicts
	if err := LockRegion(b.Fd(), Shared, io.SeekStart, 0, 1); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected contention for shared lock, got %v", err)
	}

	// Disjoint region is free
	if err := LockRegion(b.Fd(), Exclusive, io.SeekStart, 32, 16); err != nil {
		t.Fatalf("lock [32,48): %v", err)
	}

	// Unlock and retry
	if err := LockRegion(a.Fd(), Unlock, io.SeekStart, 0, 16); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := LockRegion(b.Fd(), Exclusive, io.SeekStart, 8, 16); err != nil {
		t.Fatalf("lock after unlock: %v", err)
	}
}

func TestIsLockedSameProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.pid")

	if IsLocked(path) {
		t.Fatal("expected missing file to be unlocked")
	}

	f, err := Create("test", path, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer func() { _ = f.Close() }()

	if !IsLocked(path) {
		t.Fatal("expected file to be locked")
	}

	running, pid, err := Check(path)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !running || pid != os.Getpid() {
		t.Fatalf("expected (true, %d), got (%v, %d)", os.Getpid(), running, pid)
	}

	// Probing must not have stolen or dropped the lock
	if _, err := Create("test", path, 0); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected lock to still be held, got %v", err)
	}
}

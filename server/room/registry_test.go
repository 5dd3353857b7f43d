package room

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"supportchat/server/model"
)

type fakeHandle struct {
	mu       sync.Mutex
	name     string
	frames   []model.Outbound
	pingErr  error
	lastSeen time.Time
	closes   atomic.Int32
}

func newFakeHandle(name string) *fakeHandle {
	return &fakeHandle{name: name}
}

func (f *fakeHandle) Send(frame model.Outbound) error {
	if f.closes.Load() > 0 {
		return ErrHandleClosed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeHandle) Ping() error {
	if f.closes.Load() > 0 {
		return ErrHandleClosed
	}
	return f.pingErr
}

func (f *fakeHandle) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeHandle) LastSeen() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSeen
}

func TestRegisterKeepsOneEntryPerIdentity(t *testing.T) {
	reg := NewRegistry(nil)
	first := newFakeHandle("first")
	second := newFakeHandle("second")

	reg.Register("u1", model.RoleUser, first)
	reg.Register("u1", model.RoleUser, second)

	got, ok := reg.Lookup("u1")
	if !ok || got != second {
		t.Fatalf("expected most recent handle, got %v (ok=%v)", got, ok)
	}
	if conns, _ := reg.Counts(); conns != 1 {
		t.Fatalf("expected 1 connection, got %d", conns)
	}
	if first.closes.Load() != 1 {
		t.Fatalf("expected replaced handle to be closed once, got %d", first.closes.Load())
	}
	if second.closes.Load() != 0 {
		t.Fatal("new handle must stay open")
	}
}

func TestRegisterSameHandleTwiceDoesNotClose(t *testing.T) {
	reg := NewRegistry(nil)
	h := newFakeHandle("h")
	reg.Register("u1", model.RoleUser, h)
	reg.Register("u1", model.RoleUser, h)
	if h.closes.Load() != 0 {
		t.Fatal("re-registering the same handle must not close it")
	}
}

func TestAdminIndexFollowsEntries(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("a2", model.RoleAdmin, newFakeHandle("a2"))
	reg.Register("a1", model.RoleAdmin, newFakeHandle("a1"))
	reg.Register("u1", model.RoleUser, newFakeHandle("u1"))

	admins := reg.ListAdmins()
	if fmt.Sprint(admins) != "[a1 a2]" {
		t.Fatalf("unexpected admins %v", admins)
	}
	if len(reg.AdminEntries()) != 2 {
		t.Fatalf("expected 2 admin entries")
	}

	reg.Unregister("a1")
	if fmt.Sprint(reg.ListAdmins()) != "[a2]" {
		t.Fatalf("unexpected admins after unregister %v", reg.ListAdmins())
	}
	if _, ok := reg.Lookup("a1"); ok {
		t.Fatal("a1 should be gone")
	}

	reg.Register("a2", model.RoleUser, newFakeHandle("a2-user"))
	if len(reg.ListAdmins()) != 0 {
		t.Fatalf("role change should drop admin membership, got %v", reg.ListAdmins())
	}
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Unregister("ghost")
	if conns, admins := reg.Counts(); conns != 0 || admins != 0 {
		t.Fatalf("expected empty registry, got %d/%d", conns, admins)
	}
}

func TestReleaseIgnoresReplacedHandle(t *testing.T) {
	reg := NewRegistry(nil)
	old := newFakeHandle("old")
	current := newFakeHandle("current")
	reg.Register("u1", model.RoleUser, old)
	reg.Register("u1", model.RoleUser, current)

	if reg.Release("u1", old) {
		t.Fatal("stale handle must not release the newer entry")
	}
	if got, ok := reg.Lookup("u1"); !ok || got != current {
		t.Fatal("current handle should remain registered")
	}
	if !reg.Release("u1", current) {
		t.Fatal("expected current handle to be released")
	}
	if reg.Release("u1", current) {
		t.Fatal("second release must report false")
	}
}

func TestRegistryConcurrentConsistency(t *testing.T) {
	reg := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("a%d", i%4)
			for j := 0; j < 200; j++ {
				h := newFakeHandle(id)
				reg.Register(id, model.RoleAdmin, h)
				reg.Release(id, h)
			}
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				for _, entry := range reg.AdminEntries() {
					if entry.Handle == nil || entry.Role != model.RoleAdmin {
						t.Errorf("torn admin entry %#v", entry)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	conns, admins := reg.Counts()
	if conns != admins {
		t.Fatalf("admin index diverged from entries: %d vs %d", conns, admins)
	}
}

func TestCloseAllClosesHandles(t *testing.T) {
	reg := NewRegistry(nil)
	a := newFakeHandle("a")
	u := newFakeHandle("u")
	reg.Register("a", model.RoleAdmin, a)
	reg.Register("u", model.RoleUser, u)

	reg.CloseAll()
	if a.closes.Load() != 1 || u.closes.Load() != 1 {
		t.Fatal("expected every handle closed")
	}
	if conns, admins := reg.Counts(); conns != 0 || admins != 0 {
		t.Fatalf("expected empty registry, got %d/%d", conns, admins)
	}
}

package room

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"supportchat/server/model"
)

// ErrHandleClosed is returned by a Handle that can no longer deliver frames.
// The relay treats it as the recipient being offline.
var ErrHandleClosed = errors.New("connection closed")

// Handle is a send-capable reference to a live connection. Implementations
// serialize Send and Ping, and Close is safe to call more than once.
type Handle interface {
	Send(frame model.Outbound) error
	Ping() error
	Close() error
}

// Entry is one registered connection.
type Entry struct {
	Identity string
	Role     model.Role
	Handle   Handle
}

// Registry maps conversation identities to their single live connection.
// The entry map and the admin index share one lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	admins  map[string]struct{}
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]Entry),
		admins:  make(map[string]struct{}),
		logger:  logger,
	}
}

// Register installs h for identity. A previous handle for the same identity
// is removed and closed.
func (r *Registry) Register(identity string, role model.Role, h Handle) {
	r.mu.Lock()
	previous, replaced := r.entries[identity]
	r.entries[identity] = Entry{Identity: identity, Role: role, Handle: h}
	if role.IsAdmin() {
		r.admins[identity] = struct{}{}
	} else {
		delete(r.admins, identity)
	}
	r.mu.Unlock()

	if replaced && previous.Handle != h {
		r.logger.Info("replacing connection", "identity", identity, "role", string(role))
		if err := previous.Handle.Close(); err != nil {
			r.logger.Debug("close replaced connection", "identity", identity, "error", err)
		}
	}
}

// Unregister removes whatever entry identity has. It is a no-op when absent.
func (r *Registry) Unregister(identity string) {
	r.mu.Lock()
	delete(r.entries, identity)
	delete(r.admins, identity)
	r.mu.Unlock()
}

// Release removes identity only while h is still its registered handle and
// reports whether it did. Connection teardown uses it so that a replaced
// connection never evicts its successor.
func (r *Registry) Release(identity string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[identity]
	if !ok || entry.Handle != h {
		return false
	}
	delete(r.entries, identity)
	delete(r.admins, identity)
	return true
}

// Lookup returns the live handle for identity.
func (r *Registry) Lookup(identity string) (Handle, bool) {
	r.mu.RLock()
	entry, ok := r.entries[identity]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return entry.Handle, true
}

// ListAdmins returns a sorted snapshot of connected admin identities.
func (r *Registry) ListAdmins() []string {
	r.mu.RLock()
	admins := make([]string, 0, len(r.admins))
	for id := range r.admins {
		admins = append(admins, id)
	}
	r.mu.RUnlock()
	sort.Strings(admins)
	return admins
}

// AdminEntries returns the connected admins together with their handles,
// taken under one lock.
func (r *Registry) AdminEntries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]Entry, 0, len(r.admins))
	for id := range r.admins {
		entries = append(entries, r.entries[id])
	}
	return entries
}

// Snapshot returns every registered entry.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	return entries
}

// Counts returns the number of connections and how many of them are admins.
func (r *Registry) Counts() (connections, admins int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries), len(r.admins)
}

// CloseAll empties the registry and closes every handle it held.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]Entry)
	r.admins = make(map[string]struct{})
	r.mu.Unlock()

	for _, entry := range entries {
		_ = entry.Handle.Close()
	}
}

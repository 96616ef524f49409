// Package registry holds the live session records of one relay process.
package registry

import (
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/drblury/devicerelay/internal/runtime/jsoncodec"
)

// ConnectInfo holds the facts captured when a connection is accepted.
type ConnectInfo struct {
	RemoteAddress string
	UserAgent     string
	ConnectedAt   time.Time
}

// Session is one registered connection. DeviceInfo holds whatever the client
// declared at registration and must be treated as read-only.
type Session struct {
	ID            string
	RemoteAddress string
	UserAgent     string
	ConnectedAt   time.Time
	DeviceInfo    map[string]any
}

// DeviceName returns the declared deviceName, or nil when none was declared.
func (s Session) DeviceName() any {
	return s.DeviceInfo["deviceName"]
}

// MarshalJSON flattens the declared fields and then writes the connect-time
// facts, which win over declared keys of the same name.
func (s Session) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.DeviceInfo)+4)
	for k, v := range s.DeviceInfo {
		out[k] = v
	}
	out["id"] = s.ID
	out["ip"] = s.RemoteAddress
	out["userAgent"] = s.UserAgent
	out["connectedAt"] = s.ConnectedAt.UTC().Format(time.RFC3339Nano)
	return jsoncodec.Marshal(out)
}

// Registry maps session ids to Session records. The dispatch path is the only
// writer; the lock lets HTTP handlers read concurrently.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Register stores the merged record for id, replacing any previous one.
func (r *Registry) Register(id string, base ConnectInfo, declared map[string]any) Session {
	info := make(map[string]any, len(declared))
	for k, v := range declared {
		info[k] = v
	}
	s := Session{
		ID:            id,
		RemoteAddress: base.RemoteAddress,
		UserAgent:     base.UserAgent,
		ConnectedAt:   base.ConnectedAt,
		DeviceInfo:    info,
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return s
}

// Remove deletes the record for id and reports whether one existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Lookup returns the record for id. A miss means the sender never registered.
func (r *Registry) Lookup(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns every record ordered by connect time, then id. The result
// is never nil.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// All yields the records of a fresh Snapshot. Each call restarts the sequence.
func (r *Registry) All() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		for _, s := range r.Snapshot() {
			if !yield(s) {
				return
			}
		}
	}
}

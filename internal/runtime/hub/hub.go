// Package hub tracks the connection handles owned by this process. Routing
// code iterates these handles instead of relying on a transport's fan-out.
package hub

import (
	"sort"
	"sync"
)

// Peer is an open connection that frames can be queued on. Send must never
// block; it reports false when the frame was not queued.
type Peer interface {
	ID() string
	Send(frame []byte) bool
}

// Hub is a concurrency-safe set of peers keyed by session id.
type Hub struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{peers: make(map[string]Peer)}
}

// Add inserts p, replacing any peer registered under the same id.
func (h *Hub) Add(p Peer) {
	h.mu.Lock()
	h.peers[p.ID()] = p
	h.mu.Unlock()
}

// Remove deletes the peer with id and returns it.
func (h *Hub) Remove(id string) (Peer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.peers[id]
	if ok {
		delete(h.peers, id)
	}
	return p, ok
}

// Get returns the peer with id.
func (h *Hub) Get(id string) (Peer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[id]
	return p, ok
}

// Len returns the number of open peers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Peers returns the current peers sorted by id. Sends happen outside the lock.
func (h *Hub) Peers() []Peer {
	h.mu.RLock()
	out := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Each calls fn for every peer until fn returns false.
func (h *Hub) Each(fn func(Peer) bool) {
	for _, p := range h.Peers() {
		if !fn(p) {
			return
		}
	}
}

package hub

import (
	"sync"
	"sync/atomic"
)

// BufferedPeer queues frames on a bounded channel drained by the connection's
// writer goroutine. A full queue drops the frame for this peer only.
type BufferedPeer struct {
	id   string
	send chan []byte

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
}

// NewBufferedPeer creates a peer with room for size frames.
func NewBufferedPeer(id string, size int) *BufferedPeer {
	if size < 1 {
		size = 1
	}
	return &BufferedPeer{id: id, send: make(chan []byte, size)}
}

func (p *BufferedPeer) ID() string { return p.id }

// Send queues frame without blocking.
func (p *BufferedPeer) Send(frame []byte) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.send <- frame:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Outbound is the queue the writer drains. It is closed by Close.
func (p *BufferedPeer) Outbound() <-chan []byte {
	return p.send
}

// Close stops accepting frames and closes the outbound queue. Safe to call twice.
func (p *BufferedPeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.send)
}

// Dropped returns the number of frames rejected because the queue was full.
func (p *BufferedPeer) Dropped() uint64 {
	return p.dropped.Load()
}

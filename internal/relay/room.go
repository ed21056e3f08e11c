package relay

import (
	"sort"
	"sync"
)

// Room is a live set of connections keyed by user id.
type Room struct {
	ID      string
	mu      sync.RWMutex
	clients map[string]*Client
}

func newRoom(id string) *Room {
	return &Room{ID: id, clients: make(map[string]*Client)}
}

// broadcast hands data to every member except exclude. A full send buffer
// drops that member rather than stalling the room.
func (r *Room) broadcast(data []byte, exclude *Client) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

func (r *Room) sendTo(userID string, data []byte) bool {
	r.mu.RLock()
	c, ok := r.clients[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	c.enqueue(data)
	return true
}

func (r *Room) members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for uid := range r.clients {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

// drain empties the room and returns who was in it.
func (r *Room) drain() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	r.clients = make(map[string]*Client)
	return out
}

package rooms

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mossy-p/call-signaling/internal/models"
)

type memoryEntry struct {
	room    models.RoomMetadata
	expires time.Time
}

// MemoryDirectory is the single-instance Directory used when redis is disabled.
type MemoryDirectory struct {
	mu       sync.Mutex
	rooms    map[string]memoryEntry
	codes    map[string]string
	presence map[string]map[string]struct{}
	now      func() time.Time
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		rooms:    make(map[string]memoryEntry),
		codes:    make(map[string]string),
		presence: make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

func (d *MemoryDirectory) Put(_ context.Context, room models.RoomMetadata, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms[room.ID] = memoryEntry{room: room, expires: d.now().Add(ttl)}
	d.codes[room.Code] = room.ID
	return nil
}

func (d *MemoryDirectory) Get(_ context.Context, roomID string) (*models.RoomMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	if d.now().After(e.expires) {
		delete(d.rooms, roomID)
		delete(d.codes, e.room.Code)
		return nil, ErrNotFound
	}
	room := e.room
	return &room, nil
}

func (d *MemoryDirectory) LookupCode(ctx context.Context, code string) (string, error) {
	d.mu.Lock()
	id, ok := d.codes[code]
	d.mu.Unlock()
	if !ok {
		return "", ErrNotFound
	}
	if _, err := d.Get(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

func (d *MemoryDirectory) Delete(_ context.Context, room models.RoomMetadata) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rooms, room.ID)
	delete(d.codes, room.Code)
	delete(d.presence, room.ID)
	return nil
}

func (d *MemoryDirectory) AddPresence(_ context.Context, roomID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.presence[roomID]
	if !ok {
		set = make(map[string]struct{})
		d.presence[roomID] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (d *MemoryDirectory) RemovePresence(_ context.Context, roomID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.presence[roomID]
	delete(set, userID)
	if len(set) == 0 {
		delete(d.presence, roomID)
	}
	return nil
}

func (d *MemoryDirectory) Presence(_ context.Context, roomID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.presence[roomID]))
	for id := range d.presence[roomID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

var _ Directory = (*MemoryDirectory)(nil)

// Package player keeps the server-side player records bound to logged-in
// connections.
package player

import (
	"errors"
	"sync"
	"time"
)

// ErrFull is returned when every player id is taken.
var ErrFull = errors.New("player: no free player id")

// Player is one logged-in participant. The id is issued by the Registry.
type Player struct {
	ID     uint16
	Name   string
	Joined time.Time
}

// Registry maintains the id → Player table. Ids run from 1 to capacity;
// 0 means "no player" on the wire and is never issued.
type Registry struct {
	mu       sync.Mutex
	capacity int
	players  map[uint16]*Player
}

// NewRegistry creates an empty registry that holds at most capacity players.
func NewRegistry(capacity int) *Registry {
	if capacity < 1 || capacity > 65535 {
		capacity = 65535
	}
	return &Registry{
		capacity: capacity,
		players:  make(map[uint16]*Player),
	}
}

// Add assigns the lowest free id to p and stores it. On failure p is not
// stored and its id is left untouched.
func (r *Registry) Add(p *Player) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := 1; id <= r.capacity; id++ {
		if _, taken := r.players[uint16(id)]; taken {
			continue
		}
		p.ID = uint16(id)
		if p.Joined.IsZero() {
			p.Joined = time.Now()
		}
		r.players[p.ID] = p
		return p.ID, nil
	}
	return 0, ErrFull
}

// Remove deletes the record; unknown ids are ignored.
func (r *Registry) Remove(id uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, id)
}

// Get looks up a record.
func (r *Registry) Get(id uint16) (*Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	return p, ok
}

// Len returns the number of stored records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

package room

import (
	"sync"

	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/pubsub"
)

// Manager starts room actors on demand (first message) and stops them
// after the configured inactivity window, per spec §4.6 "On demand
// start... hibernates after inactivity".
type Manager struct {
	mu     sync.Mutex
	actors map[string]*Actor
	hub    *pubsub.Hub
	opts   Options
}

// NewManager builds a Manager backed by hub.
func NewManager(hub *pubsub.Hub, opts Options) *Manager {
	return &Manager{actors: make(map[string]*Actor), hub: hub, opts: opts}
}

// GetOrStart returns the live actor for r.ID, starting one if it isn't
// already running.
func (m *Manager) GetOrStart(r model.Room) *Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.actors[r.ID]; ok {
		return a
	}
	a := NewActor(r, m.hub, m.opts, m.hibernate)
	m.actors[r.ID] = a
	return a
}

// Get returns the live actor for roomID without starting one.
func (m *Manager) Get(roomID string) (*Actor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[roomID]
	return a, ok
}

// Running reports how many room actors are currently live.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

func (m *Manager) hibernate(roomID string) {
	m.mu.Lock()
	a, ok := m.actors[roomID]
	if ok {
		delete(m.actors, roomID)
	}
	m.mu.Unlock()
	if ok {
		a.Stop()
	}
}

// Shutdown stops every live room actor, used on instance teardown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	actors := make([]*Actor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.actors = make(map[string]*Actor)
	m.mu.Unlock()
	for _, a := range actors {
		a.Stop()
	}
}

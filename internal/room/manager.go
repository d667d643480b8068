package room

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Czou/kmf-tutorial/internal/core"
)

// Info is a read-only room summary for APIs.
type Info struct {
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
}

// Manager owns room lifecycle: it creates rooms with a fresh pipeline on
// first join and destroys them once empty.
type Manager struct {
	factory core.PipelineFactory

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewManager(factory core.PipelineFactory) *Manager {
	return &Manager{
		factory: factory,
		rooms:   make(map[string]*Room),
	}
}

// GetOrCreateRoom returns the room named name, creating it with a fresh
// pipeline if needed. Concurrent first joins still end up with exactly one
// room per name.
func (m *Manager) GetOrCreateRoom(ctx context.Context, name string) (*Room, error) {
	m.mu.RLock()
	r, ok := m.rooms[name]
	m.mu.RUnlock()
	if ok {
		return r, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok = m.rooms[name]; ok {
		return r, nil
	}
	pipeline, err := m.factory.Create(ctx)
	if err != nil {
		return nil, err
	}
	r = NewRoom(name, pipeline)
	m.rooms[name] = r
	return r, nil
}

// Get looks a room up without creating it.
func (m *Manager) Get(name string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[name]
	return r, ok
}

// RemoveRoomIfEmpty destroys the named room when its member set is empty,
// releasing the pipeline. Safe to call redundantly; a later join under the
// same name gets a brand new pipeline.
func (m *Manager) RemoveRoomIfEmpty(name string) {
	m.mu.Lock()
	r, ok := m.rooms[name]
	if !ok || !r.IsEmpty() {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, name)
	m.mu.Unlock()

	log.Info().Str("module", "room.manager").Str("room", name).Msg("removing empty room")
	r.releasePipeline()
}

func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.rooms))
	for name, r := range m.rooms {
		out = append(out, Info{Name: name, MemberCount: r.MemberCount()})
	}
	return out
}

// Shutdown closes every participant and releases every pipeline. Used on
// process teardown only.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	for _, r := range rooms {
		for _, p := range r.Participants() {
			p.Close()
		}
		r.releasePipeline()
	}
	log.Info().Str("module", "room.manager").Int("rooms", len(rooms)).Msg("manager shut down")
}

package room

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Czou/kmf-tutorial/internal/core"
)

// Registry indexes all connected participants by display name and by
// transport session. Both indices always describe the same set of
// participants; every mutation updates both under one lock.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]*Participant
	bySession map[core.SessionID]*Participant
}

func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]*Participant),
		bySession: make(map[core.SessionID]*Participant),
	}
}

// Register inserts p into both indices. A participant already registered
// under the same name is silently overwritten; the previous participant is
// not closed here, that is the caller's call.
func (r *Registry) Register(p *Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byName[p.Name()]; ok && old.SessionID() != p.SessionID() {
		delete(r.bySession, old.SessionID())
		log.Warn().Str("module", "room.registry").
			Str("name", p.Name()).Str("old_sid", string(old.SessionID())).
			Msg("overwriting registration")
	}
	r.byName[p.Name()] = p
	r.bySession[p.SessionID()] = p
	log.Info().Str("module", "room.registry").
		Str("name", p.Name()).Str("sid", string(p.SessionID())).
		Msg("registered participant")
}

func (r *Registry) GetByName(name string) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

func (r *Registry) GetBySession(sid core.SessionID) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.bySession[sid]
	return p, ok
}

func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// RemoveBySession drops the participant bound to sid from both indices and
// returns it. The by-name entry is removed only if it still points at the
// same participant, so a newer registration under the same name survives.
func (r *Registry) RemoveBySession(sid core.SessionID) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.bySession[sid]
	if !ok {
		return nil, ErrNoSuchSession
	}
	if cur, ok := r.byName[p.Name()]; ok && cur == p {
		delete(r.byName, p.Name())
	}
	delete(r.bySession, sid)
	log.Info().Str("module", "room.registry").
		Str("name", p.Name()).Str("sid", string(sid)).
		Msg("removed participant")
	return p, nil
}

package room

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Czou/kmf-tutorial/internal/core"
)

// Room is a named set of participants sharing one media pipeline. The
// pipeline is created with the room and released when the manager destroys
// the room; it is never reused across rooms.
type Room struct {
	name     string
	pipeline core.Pipeline

	mu           sync.RWMutex
	participants map[string]*Participant
}

func NewRoom(name string, pipeline core.Pipeline) *Room {
	log.Info().Str("module", "room").Str("room", name).Msg("room created")
	return &Room{
		name:         name,
		pipeline:     pipeline,
		participants: make(map[string]*Participant),
	}
}

func (r *Room) Name() string { return r.name }

// Join creates a participant against the room pipeline and adds it to the
// member set. Endpoint allocation failure leaves the room untouched. The
// joiner gets the current member list, everyone else a newParticipant notice;
// both are best-effort.
func (r *Room) Join(ctx context.Context, name string, sid core.SessionID, signal core.SignalConnection) (*Participant, error) {
	log.Info().Str("module", "room").Str("room", r.name).Str("name", name).Msg("joining room")

	p, err := NewParticipant(ctx, name, r.name, sid, signal, r.pipeline)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	others := make([]*Participant, 0, len(r.participants))
	for _, m := range r.participants {
		others = append(others, m)
	}
	r.participants[name] = p
	r.mu.Unlock()

	notice := struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}{ID: "newParticipant", Name: name}
	names := make([]string, 0, len(others))
	for _, m := range others {
		names = append(names, m.Name())
		if err := m.SendMessage(notice); err != nil {
			log.Warn().Err(err).Str("module", "room").
				Str("room", r.name).Str("name", m.Name()).
				Msg("could not announce new participant")
		}
	}

	err = p.SendMessage(struct {
		ID   string   `json:"id"`
		Data []string `json:"data"`
	}{ID: "existingParticipants", Data: names})
	if err != nil {
		log.Warn().Err(err).Str("module", "room").
			Str("room", r.name).Str("name", name).
			Msg("could not send existing participants")
	}
	return p, nil
}

// Leave removes p from the member set, makes every remaining member release
// its inbound endpoint sourced from p, announces the departure and finally
// closes p. Teardown is best-effort throughout.
func (r *Room) Leave(p *Participant) {
	log.Info().Str("module", "room").Str("room", r.name).Str("name", p.Name()).Msg("leaving room")

	r.mu.Lock()
	delete(r.participants, p.Name())
	remaining := make([]*Participant, 0, len(r.participants))
	for _, m := range r.participants {
		remaining = append(remaining, m)
	}
	r.mu.Unlock()

	notice := struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}{ID: "participantLeft", Name: p.Name()}
	for _, m := range remaining {
		m.CancelVideoFrom(p.Name())
		if err := m.SendMessage(notice); err != nil {
			log.Warn().Err(err).Str("module", "room").
				Str("room", r.name).Str("name", m.Name()).
				Msg("could not announce departure")
		}
	}
	p.Close()
}

// Participants returns a point-in-time snapshot of the member set.
func (r *Room) Participants() []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

func (r *Room) Participant(name string) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[name]
	return p, ok
}

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *Room) IsEmpty() bool { return r.MemberCount() == 0 }

// releasePipeline frees the shared pipeline. Only the manager calls this,
// after the room left its index.
func (r *Room) releasePipeline() {
	name := r.name
	r.pipeline.Release(func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "room").Str("room", name).Msg("could not release pipeline")
			return
		}
		log.Info().Str("module", "room").Str("room", name).Msg("pipeline released")
	})
}

package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Czou/kmf-tutorial/internal/core"
)

// Key identifies a participant by logical identity rather than by transport
// session: two sessions presenting the same (name, room) pair are the same
// participant for membership purposes.
type Key struct {
	Name string
	Room string
}

// Participant is one connected user in a room. It exclusively owns a single
// outbound endpoint (the user's published stream, allocated at construction)
// and one inbound endpoint per remote sender it receives video from, created
// lazily on first request.
type Participant struct {
	name     string
	roomName string
	sid      core.SessionID

	signal   core.SignalConnection
	pipeline core.Pipeline
	outbound core.Endpoint

	mu      sync.RWMutex
	inbound map[string]core.Endpoint
}

// NewParticipant allocates the participant's outbound endpoint against the
// room pipeline. On endpoint failure no participant is returned, so callers
// can keep join atomic.
func NewParticipant(
	ctx context.Context,
	name, roomName string,
	sid core.SessionID,
	signal core.SignalConnection,
	pipeline core.Pipeline,
) (*Participant, error) {
	out, err := pipeline.CreateOutboundEndpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("create outbound endpoint for %q: %w", name, err)
	}
	p := &Participant{
		name:     name,
		roomName: roomName,
		sid:      sid,
		signal:   signal,
		pipeline: pipeline,
		outbound: out,
		inbound:  make(map[string]core.Endpoint),
	}
	out.OnICECandidate(func(c core.ICECandidate) {
		p.sendCandidate(name, c)
	})
	log.Info().Str("module", "room.participant").Str("name", name).Str("room", roomName).Msg("participant created")
	return p, nil
}

func (p *Participant) Name() string              { return p.name }
func (p *Participant) RoomName() string          { return p.roomName }
func (p *Participant) SessionID() core.SessionID { return p.sid }
func (p *Participant) Key() Key                  { return Key{Name: p.name, Room: p.roomName} }

// OutboundEndpoint exposes the published-stream endpoint so other
// participants can connect their inbound endpoints to it.
func (p *Participant) OutboundEndpoint() core.Endpoint { return p.outbound }

// ReceiveVideoFrom negotiates reception of sender's stream: it resolves the
// endpoint dedicated to sender (creating and connecting it on first use),
// negotiates the supplied offer and sends the answer back over signaling.
// On negotiation failure the created endpoint stays in place for retry.
func (p *Participant) ReceiveVideoFrom(ctx context.Context, sender *Participant, sdpOffer string) error {
	log.Info().Str("module", "room.participant").
		Str("name", p.name).Str("sender", sender.name).Str("room", p.roomName).
		Msg("connecting to sender")

	ep, err := p.endpointFor(ctx, sender)
	if err != nil {
		return err
	}
	answer, err := ep.ProcessOffer(ctx, sdpOffer)
	if err != nil {
		return errors.Join(ErrNegotiation, err)
	}
	return p.SendMessage(struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		SDPAnswer string `json:"sdpAnswer"`
	}{
		ID:        "receiveVideoAnswer",
		Name:      sender.name,
		SDPAnswer: answer,
	})
}

// endpointFor returns the endpoint receiving media from sender. For self it
// is always the outbound endpoint (loopback). Otherwise the inbound endpoint
// is created at most once per sender name: lookup and creation happen under
// the participant lock, negotiation never does.
func (p *Participant) endpointFor(ctx context.Context, sender *Participant) (core.Endpoint, error) {
	if sender.name == p.name {
		log.Debug().Str("module", "room.participant").Str("name", p.name).Msg("configuring loopback")
		return p.outbound, nil
	}

	p.mu.RLock()
	ep, ok := p.inbound[sender.name]
	p.mu.RUnlock()
	if ok {
		return ep, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ep, ok = p.inbound[sender.name]; ok {
		return ep, nil
	}

	log.Debug().Str("module", "room.participant").
		Str("name", p.name).Str("sender", sender.name).
		Msg("creating inbound endpoint")
	ep, err := p.pipeline.CreateInboundEndpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("create inbound endpoint %s<-%s: %w", p.name, sender.name, err)
	}
	if err = sender.outbound.Connect(ep); err != nil {
		p.release("inbound", sender.name, ep)
		return nil, fmt.Errorf("connect %s->%s: %w", sender.name, p.name, err)
	}
	senderName := sender.name
	ep.OnICECandidate(func(c core.ICECandidate) {
		p.sendCandidate(senderName, c)
	})
	p.inbound[sender.name] = ep
	return ep, nil
}

// AddCandidate applies a remote ICE candidate to the endpoint associated
// with senderName (the outbound endpoint when senderName is the participant
// itself). Candidates racing ahead of endpoint creation are dropped.
func (p *Participant) AddCandidate(senderName string, c core.ICECandidate) error {
	if senderName == p.name {
		return p.outbound.AddICECandidate(c)
	}
	p.mu.RLock()
	ep, ok := p.inbound[senderName]
	p.mu.RUnlock()
	if !ok {
		log.Debug().Str("module", "room.participant").
			Str("name", p.name).Str("sender", senderName).
			Msg("dropping candidate for unknown endpoint")
		return nil
	}
	return ep.AddICECandidate(c)
}

// CancelVideoFrom removes and releases the inbound endpoint keyed by
// senderName. The entry is removed immediately; the release is asynchronous
// and best-effort. Canceling an unknown sender is a no-op.
func (p *Participant) CancelVideoFrom(senderName string) {
	p.mu.Lock()
	ep, ok := p.inbound[senderName]
	if ok {
		delete(p.inbound, senderName)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	log.Debug().Str("module", "room.participant").
		Str("name", p.name).Str("sender", senderName).
		Msg("canceling video reception")
	p.release("inbound", senderName, ep)
}

// Close releases every inbound endpoint and finally the outbound one. All
// releases are independent and fire-and-forget; Close never fails.
func (p *Participant) Close() {
	log.Debug().Str("module", "room.participant").Str("name", p.name).Msg("releasing resources")

	p.mu.Lock()
	snapshot := p.inbound
	p.inbound = make(map[string]core.Endpoint)
	p.mu.Unlock()

	for senderName, ep := range snapshot {
		p.release("inbound", senderName, ep)
	}
	p.release("outbound", p.name, p.outbound)
}

func (p *Participant) release(kind, peer string, ep core.Endpoint) {
	name := p.name
	ep.Release(func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "room.participant").
				Str("name", name).Str("kind", kind).Str("peer", peer).
				Msg("could not release endpoint")
			return
		}
		log.Debug().Str("module", "room.participant").
			Str("name", name).Str("kind", kind).Str("peer", peer).
			Msg("released endpoint")
	})
}

// SendMessage serializes v and writes it to the signaling channel.
func (p *Participant) SendMessage(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %q: %w", p.name, err)
	}
	log.Debug().Str("module", "room.participant").Str("name", p.name).RawJSON("msg", b).Msg("sending message")
	if err = p.signal.TrySend(b); err != nil {
		return errors.Join(ErrTransport, err)
	}
	return nil
}

func (p *Participant) sendCandidate(senderName string, c core.ICECandidate) {
	err := p.SendMessage(struct {
		ID        string            `json:"id"`
		Name      string            `json:"name"`
		Candidate core.ICECandidate `json:"candidate"`
	}{
		ID:        "iceCandidate",
		Name:      senderName,
		Candidate: c,
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "room.participant").
			Str("name", p.name).Str("sender", senderName).
			Msg("could not deliver candidate")
	}
}

package pion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Czou/kmf-tutorial/internal/core"
)

var errForeignEndpoint = errors.New("sink endpoint was created by a different media implementation")

// endpoint wraps one PeerConnection. Outbound endpoints receive the browser's
// published tracks and own one relay per track; inbound endpoints carry local
// tracks subscribed to some other endpoint's relays.
type endpoint struct {
	id     string
	pc     *webrtc.PeerConnection
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu     sync.Mutex
	relays []*relay
	sinks  []*endpoint
	subs   []*relay // relays this endpoint receives from
	onICE  func(core.ICECandidate)
	closed bool
}

func newEndpoint(parent context.Context, pc *webrtc.PeerConnection, kind string) *endpoint {
	ctx, cancel := context.WithCancel(parent)
	ep := &endpoint{
		id:     uuid.NewString(),
		pc:     pc,
		ctx:    ctx,
		cancel: cancel,
	}
	ep.logger = log.With().Str("module", "media.pion").Str("kind", kind).Str("ep", ep.id).Logger()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		ep.mu.Lock()
		fn := ep.onICE
		ep.mu.Unlock()
		if fn != nil {
			init := c.ToJSON()
			fn(core.ICECandidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			})
		}
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		ep.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		ep.logger.Info().
			Str("track_kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track received")
		ep.onTrack(track)
	})

	return ep
}

// onTrack starts a relay for the new remote track and subscribes every sink
// that connected before the track showed up.
func (ep *endpoint) onTrack(track *webrtc.TrackRemote) {
	r := newRelay(track)

	ep.mu.Lock()
	ep.relays = append(ep.relays, r)
	sinks := make([]*endpoint, len(ep.sinks))
	copy(sinks, ep.sinks)
	ep.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.subscribe(r); err != nil {
			ep.logger.Warn().Err(err).Str("sink", sink.id).Msg("could not subscribe sink to new track")
		}
	}

	go r.loop(ep.ctx, &ep.logger)
}

// subscribe adds a local forwarding track for r's source to this endpoint.
func (ep *endpoint) subscribe(r *relay) error {
	src := r.src
	local, err := webrtc.NewTrackLocalStaticRTP(src.Codec().RTPCodecCapability, src.ID(), src.StreamID())
	if err != nil {
		return fmt.Errorf("new local track: %w", err)
	}
	if _, err = ep.pc.AddTrack(local); err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	r.addOut(ep.id, &outTrack{track: local})
	ep.mu.Lock()
	ep.subs = append(ep.subs, r)
	ep.mu.Unlock()
	return nil
}

// ProcessOffer applies the remote offer, creates the answer and waits for
// candidate gathering so the answer SDP is self-contained. Candidates
// trickled later still reach the peer through OnICECandidate.
func (ep *endpoint) ProcessOffer(ctx context.Context, offer string) (string, error) {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}
	if err := ep.pc.SetRemoteDescription(desc); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := ep.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(ep.pc)
	if err = ep.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return ep.pc.LocalDescription().SDP, nil
}

// Connect registers sink as a receiver of this endpoint's media: all current
// relays get a forwarding track on sink, and tracks arriving later follow.
func (ep *endpoint) Connect(sink core.Endpoint) error {
	dst, ok := sink.(*endpoint)
	if !ok {
		return errForeignEndpoint
	}

	ep.mu.Lock()
	ep.sinks = append(ep.sinks, dst)
	relays := make([]*relay, len(ep.relays))
	copy(relays, ep.relays)
	ep.mu.Unlock()

	for _, r := range relays {
		if err := dst.subscribe(r); err != nil {
			return err
		}
	}
	return nil
}

func (ep *endpoint) AddICECandidate(c core.ICECandidate) error {
	return ep.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (ep *endpoint) OnICECandidate(fn func(core.ICECandidate)) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.onICE = fn
}

// Release stops relays, detaches from source relays and closes the peer
// connection off the caller's goroutine.
func (ep *endpoint) Release(onResult func(error)) {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		if onResult != nil {
			onResult(nil)
		}
		return
	}
	ep.closed = true
	subs := ep.subs
	ep.subs = nil
	ep.mu.Unlock()

	for _, r := range subs {
		r.markOutDelete(ep.id)
	}
	ep.cancel()
	go func() {
		err := ep.pc.Close()
		if onResult != nil {
			onResult(err)
		}
	}()
}

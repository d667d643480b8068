package pion

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type trackState int32

const (
	trackStateOk trackState = iota
	trackStateDelete
)

// outTrack is a single forwarding target of a relay.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32 // zero value is trackStateOk
}

func (ot *outTrack) getState() trackState { return trackState(ot.state.Load()) }
func (ot *outTrack) markDelete()          { ot.state.Store(int32(trackStateDelete)) }

// relay fans RTP packets from one remote track out to subscriber tracks.
type relay struct {
	src *webrtc.TrackRemote

	mu   sync.RWMutex
	outs map[string]*outTrack
}

func newRelay(src *webrtc.TrackRemote) *relay {
	return &relay{
		src:  src,
		outs: make(map[string]*outTrack),
	}
}

func (r *relay) addOut(id string, ot *outTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outs[id] = ot
}

func (r *relay) markOutDelete(id string) {
	r.mu.RLock()
	ot, ok := r.outs[id]
	r.mu.RUnlock()
	if ok {
		ot.markDelete()
	}
}

// loop reads RTP packets from the source track and forwards them until the
// context is canceled or the source errors out.
func (r *relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("relay ctx done")
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("relay source ended")
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	snapshot := make(map[string]*outTrack, len(r.outs))
	r.mu.RLock()
	maps.Copy(snapshot, r.outs)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for id, ot := range snapshot {
		switch ot.getState() {
		case trackStateDelete:
			dirty = append(dirty, id)
		case trackStateOk:
			if err := ot.track.WriteRTP(pkt); err != nil {
				logger.Debug().Err(err).Str("out", id).Msg("relay write error, dropping out track")
				ot.markDelete()
				dirty = append(dirty, id)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.mu.Lock()
		for _, id := range dirty {
			delete(r.outs, id)
		}
		r.mu.Unlock()
	}
}

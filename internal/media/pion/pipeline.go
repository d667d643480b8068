package pion

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Czou/kmf-tutorial/internal/core"
)

var errPipelineReleased = errors.New("pipeline already released")

// pipeline scopes a set of endpoints: all endpoints of one room live here and
// are closed, at the latest, when the pipeline is released.
type pipeline struct {
	cfg    webrtc.Configuration
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	endpoints []*endpoint
	released  bool
}

func (pl *pipeline) CreateOutboundEndpoint(ctx context.Context) (core.Endpoint, error) {
	return pl.create(ctx, "outbound", func(pc *webrtc.PeerConnection) error {
		// The browser publishes; we only receive here.
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			_, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (pl *pipeline) CreateInboundEndpoint(ctx context.Context) (core.Endpoint, error) {
	// Send-side tracks are attached when the endpoint is connected to a
	// source, before the offer is processed.
	return pl.create(ctx, "inbound", func(*webrtc.PeerConnection) error { return nil })
}

func (pl *pipeline) create(_ context.Context, kind string, setup func(*webrtc.PeerConnection) error) (core.Endpoint, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.released {
		return nil, errPipelineReleased
	}

	pc, err := webrtc.NewPeerConnection(pl.cfg)
	if err != nil {
		return nil, err
	}
	if err = setup(pc); err != nil {
		_ = pc.Close()
		return nil, err
	}
	ep := newEndpoint(pl.ctx, pc, kind)
	pl.endpoints = append(pl.endpoints, ep)
	return ep, nil
}

// Release closes every endpoint still alive and reports the joined outcome.
func (pl *pipeline) Release(onResult func(error)) {
	pl.mu.Lock()
	if pl.released {
		pl.mu.Unlock()
		if onResult != nil {
			onResult(nil)
		}
		return
	}
	pl.released = true
	endpoints := pl.endpoints
	pl.endpoints = nil
	pl.mu.Unlock()

	pl.cancel()
	go func() {
		var errs []error
		for _, ep := range endpoints {
			ep.mu.Lock()
			closed := ep.closed
			ep.closed = true
			ep.mu.Unlock()
			if closed {
				continue
			}
			ep.cancel()
			if err := ep.pc.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		log.Debug().Str("module", "media.pion").Int("endpoints", len(endpoints)).Msg("pipeline released")
		if onResult != nil {
			onResult(errors.Join(errs...))
		}
	}()
}

// Package pion implements the media capability on top of pion/webrtc: one
// PeerConnection per endpoint, RTP forwarded between endpoints in-process.
package pion

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/Czou/kmf-tutorial/internal/core"
)

type Factory struct {
	cfg webrtc.Configuration
}

// NewFactory builds a pipeline factory using the given STUN/TURN URLs.
// With no URLs it falls back to a public STUN server.
func NewFactory(iceURLs []string) *Factory {
	if len(iceURLs) == 0 {
		iceURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return &Factory{
		cfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: iceURLs}},
		},
	}
}

func (f *Factory) Create(ctx context.Context) (core.Pipeline, error) {
	// Rooms outlive the request that created them, so the pipeline must not
	// inherit the caller's cancellation.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &pipeline{cfg: f.cfg, ctx: ctx, cancel: cancel}, nil
}

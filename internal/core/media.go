package core

import "context"

// ICECandidate mirrors the browser's RTCIceCandidateInit.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Endpoint is one media termination point inside a pipeline.
// Outbound endpoints receive a participant's published stream; inbound
// endpoints deliver another participant's stream back to the browser.
type Endpoint interface {
	// ProcessOffer negotiates a remote SDP offer and returns the SDP answer.
	ProcessOffer(ctx context.Context, offer string) (string, error)
	// Connect wires this endpoint as the media source of sink.
	Connect(sink Endpoint) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(ICECandidate) error
	// OnICECandidate sets a callback for locally gathered candidates.
	OnICECandidate(func(ICECandidate))
	// Release frees the endpoint asynchronously. The caller does not wait;
	// onResult reports the outcome and may be nil.
	Release(onResult func(error))
}

// Pipeline is the media capability's unit of resource scoping. All endpoints
// of one room are created against the same pipeline and must not outlive it.
type Pipeline interface {
	CreateOutboundEndpoint(ctx context.Context) (Endpoint, error)
	CreateInboundEndpoint(ctx context.Context) (Endpoint, error)
	// Release frees the pipeline and everything created against it,
	// asynchronously. onResult may be nil.
	Release(onResult func(error))
}

// PipelineFactory creates pipelines, one per room.
type PipelineFactory interface {
	Create(ctx context.Context) (Pipeline, error)
}

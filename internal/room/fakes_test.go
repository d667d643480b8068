package room_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Czou/kmf-tutorial/internal/core"
)

// fakeEndpoint implements core.Endpoint with synchronous release callbacks so
// tests can count outcomes deterministically.
type fakeEndpoint struct {
	pip  *fakePipeline
	kind string

	mu         sync.Mutex
	offers     int
	releases   int
	connectErr error
	releaseErr error
	sinks      []core.Endpoint
	candidates []core.ICECandidate
	onICE      func(core.ICECandidate)
}

func (e *fakeEndpoint) ProcessOffer(_ context.Context, offer string) (string, error) {
	e.mu.Lock()
	e.offers++
	n := e.offers
	e.mu.Unlock()
	if err := e.pip.offerError(); err != nil {
		return "", err
	}
	return fmt.Sprintf("answer-%s-%d-%s", e.kind, n, offer), nil
}

func (e *fakeEndpoint) Connect(sink core.Endpoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connectErr != nil {
		return e.connectErr
	}
	e.sinks = append(e.sinks, sink)
	return nil
}

func (e *fakeEndpoint) AddICECandidate(c core.ICECandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *fakeEndpoint) OnICECandidate(fn func(core.ICECandidate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onICE = fn
}

func (e *fakeEndpoint) Release(onResult func(error)) {
	e.mu.Lock()
	e.releases++
	err := e.releaseErr
	e.mu.Unlock()
	if onResult != nil {
		onResult(err)
	}
}

func (e *fakeEndpoint) releaseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.releases
}

func (e *fakeEndpoint) offerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offers
}

func (e *fakeEndpoint) sinkCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sinks)
}

type fakePipeline struct {
	mu        sync.Mutex
	outbound  []*fakeEndpoint
	inbound   []*fakeEndpoint
	createErr error
	offerErr  error
	releases  int
}

func newFakePipeline() *fakePipeline { return &fakePipeline{} }

func (p *fakePipeline) CreateOutboundEndpoint(context.Context) (core.Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	ep := &fakeEndpoint{pip: p, kind: "out"}
	p.outbound = append(p.outbound, ep)
	return ep, nil
}

func (p *fakePipeline) CreateInboundEndpoint(context.Context) (core.Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	ep := &fakeEndpoint{pip: p, kind: "in"}
	p.inbound = append(p.inbound, ep)
	return ep, nil
}

func (p *fakePipeline) Release(onResult func(error)) {
	p.mu.Lock()
	p.releases++
	p.mu.Unlock()
	if onResult != nil {
		onResult(nil)
	}
}

func (p *fakePipeline) setOfferErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offerErr = err
}

func (p *fakePipeline) offerError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offerErr
}

func (p *fakePipeline) inboundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inbound)
}

func (p *fakePipeline) inboundAt(i int) *fakeEndpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inbound[i]
}

func (p *fakePipeline) releaseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases
}

type fakeFactory struct {
	mu        sync.Mutex
	pipelines []*fakePipeline
	createErr error
}

func (f *fakeFactory) Create(context.Context) (core.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	p := newFakePipeline()
	f.pipelines = append(f.pipelines, p)
	return p, nil
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pipelines)
}

var errSendFailed = errors.New("send failed")

// fakeSignal records decoded outbound messages.
type fakeSignal struct {
	mu     sync.Mutex
	frames []map[string]any
	fail   bool
	closed bool
}

func (s *fakeSignal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail || s.closed {
		return errSendFailed
	}
	var m map[string]any
	if err := json.Unmarshal(f, &m); err != nil {
		return err
	}
	s.frames = append(s.frames, m)
	return nil
}

func (s *fakeSignal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSignal) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// messages returns all recorded frames with the given id.
func (s *fakeSignal) messages(id string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, m := range s.frames {
		if m["id"] == id {
			out = append(out, m)
		}
	}
	return out
}

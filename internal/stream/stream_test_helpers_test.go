// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"context"
	"sync"

	"github.com/nishisan-dev/rsocket-core/internal/frame"
	"github.com/nishisan-dev/rsocket-core/internal/reactive"
)

// fakeSender registra todo frame entregue a Send, em ordem, protegido por
// mutex já que handlers podem chamá-lo de uma goroutine própria
// concorrentemente com a inspeção do teste.
type fakeSender struct {
	mu     sync.Mutex
	frames []frame.Frame
}

func (s *fakeSender) Send(f frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSender) all() []frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]frame.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *fakeSender) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// fakeSingleSubscriber registra o único callback OnValue/OnError que um
// consumer de request/response recebe.
type fakeSingleSubscriber struct {
	mu    sync.Mutex
	value any
	err   error
	got   bool
}

func (f *fakeSingleSubscriber) OnValue(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value, f.got = v, true
}

func (f *fakeSingleSubscriber) OnError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err, f.got = err, true
}

func (f *fakeSingleSubscriber) result() (any, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.got
}

// fakeSubscription registra as chamadas de Request/Cancel feitas contra ela.
type fakeSubscription struct {
	mu        sync.Mutex
	requested []int64
	cancelled bool
}

func (s *fakeSubscription) Request(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = append(s.requested, n)
}

func (s *fakeSubscription) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

func (s *fakeSubscription) totalRequested() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, n := range s.requested {
		total += n
	}
	return total
}

func (s *fakeSubscription) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// fakeSubscriber registra a sequência completa de callbacks de Subscriber
// para um consumer de request/stream ou request/channel.
type fakeSubscriber struct {
	mu         sync.Mutex
	sub        reactive.Subscription
	values     []any
	completed  bool
	err        error
}

func (f *fakeSubscriber) OnSubscribe(sub reactive.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sub = sub
}

func (f *fakeSubscriber) OnNext(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = append(f.values, v)
}

func (f *fakeSubscriber) OnComplete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
}

func (f *fakeSubscriber) OnError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSubscriber) snapshot() (values []any, completed bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.values))
	copy(out, f.values)
	return out, f.completed, f.err
}

// slicePublisher é um reactive.Publisher que emite uma slice fixa de
// valores e completa, honrando backpressure via Request antes de emitir
// mais.
type slicePublisher struct {
	values []any
}

func (p *slicePublisher) Subscribe(ctx context.Context, s reactive.Subscriber) {
	sub := &sliceSubscription{values: p.values, subscriber: s}
	s.OnSubscribe(sub)
}

type sliceSubscription struct {
	mu         sync.Mutex
	values     []any
	next       int
	subscriber reactive.Subscriber
	cancelled  bool
}

func (s *sliceSubscription) Request(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ; n > 0 && s.next < len(s.values) && !s.cancelled; n-- {
		v := s.values[s.next]
		s.next++
		s.subscriber.OnNext(v)
	}
	if s.next >= len(s.values) && !s.cancelled {
		s.subscriber.OnComplete()
	}
}

func (s *sliceSubscription) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// fakeHandler implementa reactive.Handler para testes que precisam de um responder.
type fakeHandler struct {
	requestResponse func(ctx context.Context, v any, out reactive.SingleSubscriber)
	requestStream   func(ctx context.Context, v any) reactive.Publisher
	requestChannel  func(ctx context.Context, v any, inbound reactive.Publisher) reactive.Publisher
	fireAndForget   func(ctx context.Context, v any)
	metadataPush    func(ctx context.Context, metadata []byte)
}

func (h *fakeHandler) RequestResponse(ctx context.Context, v any, out reactive.SingleSubscriber) {
	if h.requestResponse != nil {
		h.requestResponse(ctx, v, out)
	}
}

func (h *fakeHandler) FireAndForget(ctx context.Context, v any) {
	if h.fireAndForget != nil {
		h.fireAndForget(ctx, v)
	}
}

func (h *fakeHandler) RequestStream(ctx context.Context, v any) reactive.Publisher {
	if h.requestStream != nil {
		return h.requestStream(ctx, v)
	}
	return &slicePublisher{}
}

func (h *fakeHandler) RequestChannel(ctx context.Context, v any, inbound reactive.Publisher) reactive.Publisher {
	if h.requestChannel != nil {
		return h.requestChannel(ctx, v, inbound)
	}
	return &slicePublisher{}
}

func (h *fakeHandler) MetadataPush(ctx context.Context, metadata []byte) {
	if h.metadataPush != nil {
		h.metadataPush(ctx, metadata)
	}
}

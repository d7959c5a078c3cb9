// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"context"
	"sync"

	"github.com/nishisan-dev/rsocket-core/internal/flowcontrol"
	"github.com/nishisan-dev/rsocket-core/internal/frame"
	"github.com/nishisan-dev/rsocket-core/internal/reactive"
)

// streamRequestSubscription é a Subscription entregue ao consumer de um
// requester de request/stream; Request emite frames REQUEST_N, Cancel emite
// CANCEL.
type streamRequestSubscription struct {
	id     frame.StreamID
	sender Sender
	owner  *StreamRequester
}

func (s *streamRequestSubscription) Request(n int64) {
	if n <= 0 {
		return
	}
	s.sender.Send(&frame.RequestNFrame{Hdr: frame.Header{StreamID: s.id, Type: frame.TypeRequestN}, RequestN: uint32(n)})
}

func (s *streamRequestSubscription) Cancel() { s.owner.Cancel() }

// StreamRequester dirige o lado requester de um request/stream: envia
// REQUEST_STREAM com um crédito inicial, entrega frames PAYLOAD(NEXT) ao
// consumer até COMPLETE ou ERROR.
type StreamRequester struct {
	mu         sync.Mutex
	id         frame.StreamID
	sender     Sender
	subscriber reactive.Subscriber
	state      State
	finish     func()
}

// NewStreamRequester envia REQUEST_STREAM e entrega ao consumer uma
// Subscription para repor crédito.
func NewStreamRequester(id frame.StreamID, sender Sender, p frame.Payload, initialN uint32, subscriber reactive.Subscriber, finish func()) (*StreamRequester, error) {
	r := &StreamRequester{id: id, sender: sender, subscriber: subscriber, state: StateRequested, finish: finish}
	subscriber.OnSubscribe(&streamRequestSubscription{id: id, sender: sender, owner: r})

	f := &frame.RequestStreamFrame{
		Hdr:      frame.Header{StreamID: id, Type: frame.TypeRequestStream, Flags: metadataFlag(p)},
		InitialN: initialN,
		Payload:  p,
	}
	if err := sender.Send(f); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *StreamRequester) HandleFrame(f frame.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateClosed {
		return nil
	}

	switch fr := f.(type) {
	case *frame.PayloadFrame:
		if fr.Hdr.Flags.Has(frame.FlagNext) {
			r.subscriber.OnNext(fr.Payload)
		}
		if fr.Hdr.Flags.Has(frame.FlagComplete) {
			r.state = StateClosed
			r.subscriber.OnComplete()
		}
	case *frame.ErrorFrame:
		r.state = StateClosed
		r.subscriber.OnError(&ApplicationError{Code: fr.ErrorCode, Data: fr.Data})
	}
	return nil
}

func (r *StreamRequester) Cancel() {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	r.state = StateClosed
	r.sender.Send(&frame.CancelFrame{Hdr: frame.Header{StreamID: r.id, Type: frame.TypeCancel}})
	r.subscriber.OnError(ErrStreamCanceled)
	r.mu.Unlock()
	callFinish(r.finish)
}

func (r *StreamRequester) Terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateClosed
}

// streamResponseSubscriber adapta os callbacks do Publisher da aplicação em
// frames PAYLOAD/ERROR outbound, impondo a contabilidade de crédito: nenhum
// PAYLOAD(NEXT) sai sem uma unidade de crédito REQUEST_N acumulada.
type streamResponseSubscriber struct {
	mu       sync.Mutex
	id       frame.StreamID
	sender   Sender
	sub      reactive.Subscription
	initialN uint32
	credit   flowcontrol.Credit
	done     bool
	finish   func()
}

func (s *streamResponseSubscriber) subscription() reactive.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

func (s *streamResponseSubscriber) isDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// addCredit acumula n unidades e repassa a demanda ao Publisher.
func (s *streamResponseSubscriber) addCredit(n int64) error {
	if err := s.credit.Add(n); err != nil {
		return err
	}
	if sub := s.subscription(); sub != nil {
		sub.Request(n)
	}
	return nil
}

func (s *streamResponseSubscriber) OnSubscribe(sub reactive.Subscription) {
	s.mu.Lock()
	s.sub = sub
	n := int64(s.initialN)
	s.mu.Unlock()
	if n > 0 {
		s.credit.Add(n)
		sub.Request(n)
	}
}

func (s *streamResponseSubscriber) OnNext(v any) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	// Um Publisher bem comportado nunca emite além do que pediu via Request;
	// um que emita é uma violação de contrato e encerra o stream.
	if !s.credit.TryTake() {
		s.done = true
		s.sender.Send(&frame.ErrorFrame{
			Hdr:       frame.Header{StreamID: s.id, Type: frame.TypeError},
			ErrorCode: frame.ErrorCodeInvalid,
			Data:      []byte("payload emitted without credit"),
		})
		sub := s.sub
		s.mu.Unlock()
		if sub != nil {
			sub.Cancel()
		}
		callFinish(s.finish)
		return
	}
	p, _ := v.(frame.Payload)
	s.sender.Send(&frame.PayloadFrame{
		Hdr:     frame.Header{StreamID: s.id, Type: frame.TypePayload, Flags: frame.FlagNext | metadataFlag(p)},
		Payload: p,
	})
	s.mu.Unlock()
}

func (s *streamResponseSubscriber) OnComplete() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.sender.Send(&frame.PayloadFrame{Hdr: frame.Header{StreamID: s.id, Type: frame.TypePayload, Flags: frame.FlagComplete}})
	s.mu.Unlock()
	callFinish(s.finish)
}

func (s *streamResponseSubscriber) OnError(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	code, data := errorToFrameFields(err)
	s.sender.Send(&frame.ErrorFrame{Hdr: frame.Header{StreamID: s.id, Type: frame.TypeError}, ErrorCode: code, Data: data})
	s.mu.Unlock()
	callFinish(s.finish)
}

// StreamResponder dirige o lado responder: subscreve ao Publisher do handler
// e faz gate dos seus requests pelos frames REQUEST_N recebidos.
type StreamResponder struct {
	mu         sync.Mutex
	subscriber *streamResponseSubscriber
	terminal   bool
}

// NewStreamResponder invoca handler.RequestStream, subscreve ao Publisher
// resultante e pede initialN imediatamente (o crédito carregado pelo próprio
// frame REQUEST_STREAM).
func NewStreamResponder(ctx context.Context, id frame.StreamID, sender Sender, p frame.Payload, initialN uint32, handler reactive.Handler, finish func()) *StreamResponder {
	sub := &streamResponseSubscriber{id: id, sender: sender, initialN: initialN, finish: finish}
	r := &StreamResponder{subscriber: sub}
	pub := handler.RequestStream(ctx, p)
	go pub.Subscribe(ctx, sub)
	return r
}

func (r *StreamResponder) HandleFrame(f frame.Frame) error {
	switch fr := f.(type) {
	case *frame.RequestNFrame:
		if fr.RequestN == 0 {
			return flowcontrol.ErrInvalidRequestN
		}
		return r.subscriber.addCredit(int64(fr.RequestN))
	case *frame.CancelFrame:
		r.Cancel()
	}
	return nil
}

func (r *StreamResponder) Cancel() {
	r.mu.Lock()
	if r.terminal {
		r.mu.Unlock()
		return
	}
	r.terminal = true
	r.mu.Unlock()

	r.subscriber.mu.Lock()
	r.subscriber.done = true
	sub := r.subscriber.sub
	r.subscriber.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
	callFinish(r.subscriber.finish)
}

func (r *StreamResponder) Terminal() bool {
	r.mu.Lock()
	terminal := r.terminal
	r.mu.Unlock()
	return terminal || r.subscriber.isDone()
}

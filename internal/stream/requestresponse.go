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

// ResponseRequester dirige o lado requester de um request/response: envia
// REQUEST_RESPONSE, espera exatamente um PAYLOAD(COMPLETE) ou ERROR, e o
// entrega a out.
type ResponseRequester struct {
	mu     sync.Mutex
	id     frame.StreamID
	sender Sender
	out    reactive.SingleSubscriber
	state  State
	finish func()
}

// NewResponseRequester envia o frame REQUEST_RESPONSE inicial e retorna um
// handler aguardando a resposta. finish, se não-nil, é chamado quando o
// stream termina por uma transição local (cancelamento), liberando o id no
// registry.
func NewResponseRequester(id frame.StreamID, sender Sender, p frame.Payload, out reactive.SingleSubscriber, finish func()) (*ResponseRequester, error) {
	r := &ResponseRequester{id: id, sender: sender, out: out, state: StateRequested, finish: finish}
	f := &frame.RequestResponseFrame{
		Hdr:     frame.Header{StreamID: id, Type: frame.TypeRequestResponse, Flags: metadataFlag(p)},
		Payload: p,
	}
	if err := sender.Send(f); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ResponseRequester) HandleFrame(f frame.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateClosed {
		return nil
	}

	switch fr := f.(type) {
	case *frame.PayloadFrame:
		r.state = StateClosed
		r.out.OnValue(fr.Payload)
	case *frame.ErrorFrame:
		r.state = StateClosed
		r.out.OnError(&ApplicationError{Code: fr.ErrorCode, Data: fr.Data})
	}
	return nil
}

func (r *ResponseRequester) Cancel() {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	r.state = StateClosed
	r.sender.Send(&frame.CancelFrame{Hdr: frame.Header{StreamID: r.id, Type: frame.TypeCancel}})
	r.out.OnError(ErrStreamCanceled)
	r.mu.Unlock()
	callFinish(r.finish)
}

func (r *ResponseRequester) Terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateClosed
}

// ResponseResponder dirige o lado responder: na construção invoca o handler
// da aplicação, que chama de volta OnValue/OnError exatamente uma vez.
type ResponseResponder struct {
	mu        sync.Mutex
	id        frame.StreamID
	sender    Sender
	cancelled bool
	responded bool
	cancel    context.CancelFunc
	finish    func()
}

// NewResponseResponder invoca handler.RequestResponse em uma nova goroutine
// e retorna um Handler que observa um CANCEL vindo do peer.
func NewResponseResponder(ctx context.Context, id frame.StreamID, sender Sender, p frame.Payload, handler reactive.Handler, finish func()) *ResponseResponder {
	ctx, cancel := context.WithCancel(ctx)
	r := &ResponseResponder{id: id, sender: sender, cancel: cancel, finish: finish}
	go handler.RequestResponse(ctx, p, r)
	return r
}

func (r *ResponseResponder) OnValue(v any) {
	r.mu.Lock()
	if r.cancelled || r.responded {
		r.mu.Unlock()
		return
	}
	r.responded = true
	p, _ := v.(frame.Payload)
	r.sender.Send(&frame.PayloadFrame{
		Hdr:     frame.Header{StreamID: r.id, Type: frame.TypePayload, Flags: frame.FlagNext | frame.FlagComplete | metadataFlag(p)},
		Payload: p,
	})
	r.mu.Unlock()
	callFinish(r.finish)
}

func (r *ResponseResponder) OnError(err error) {
	r.mu.Lock()
	if r.cancelled || r.responded {
		r.mu.Unlock()
		return
	}
	r.responded = true
	code, data := errorToFrameFields(err)
	r.sender.Send(&frame.ErrorFrame{Hdr: frame.Header{StreamID: r.id, Type: frame.TypeError}, ErrorCode: code, Data: data})
	r.mu.Unlock()
	callFinish(r.finish)
}

func (r *ResponseResponder) HandleFrame(f frame.Frame) error {
	if _, ok := f.(*frame.CancelFrame); ok {
		r.Cancel()
	}
	return nil
}

// Cancel suprime a resposta ainda não enviada e cancela, best-effort, a task
// do handler via contexto.
func (r *ResponseResponder) Cancel() {
	r.mu.Lock()
	if r.cancelled || r.responded {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	r.cancel()
	r.mu.Unlock()
	callFinish(r.finish)
}

func (r *ResponseResponder) Terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled || r.responded
}

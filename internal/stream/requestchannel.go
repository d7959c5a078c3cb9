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

// Channel dirige request/channel: as duas direções são rastreadas de forma
// independente (sentComplete, receivedComplete) e o stream só se torna
// terminal quando ambas completaram, ou quando um dos lados cancela ou erra.
type Channel struct {
	mu               sync.Mutex
	id               frame.StreamID
	sender           Sender
	inbound          reactive.Subscriber
	outboundSub      reactive.Subscription
	sentComplete     bool
	receivedComplete bool
	terminal         bool
	finish           func()
	forwarder        *channelOutboundForwarder
}

func (c *Channel) HandleFrame(f frame.Frame) error {
	c.mu.Lock()
	if c.terminal {
		c.mu.Unlock()
		return nil
	}

	switch fr := f.(type) {
	case *frame.RequestNFrame:
		sub := c.outboundSub
		fwd := c.forwarder
		c.mu.Unlock()
		if fr.RequestN == 0 {
			return flowcontrol.ErrInvalidRequestN
		}
		if fwd != nil {
			fwd.addOutboundCredit(int64(fr.RequestN))
		}
		if sub != nil {
			sub.Request(int64(fr.RequestN))
		}
		return nil
	case *frame.PayloadFrame:
		if fr.Hdr.Flags.Has(frame.FlagNext) {
			c.inbound.OnNext(fr.Payload)
		}
		if fr.Hdr.Flags.Has(frame.FlagComplete) {
			c.receivedComplete = true
			c.inbound.OnComplete()
			if c.sentComplete {
				c.terminal = true
				c.mu.Unlock()
				callFinish(c.finish)
				return nil
			}
		}
	case *frame.ErrorFrame:
		c.terminal = true
		c.inbound.OnError(&ApplicationError{Code: fr.ErrorCode, Data: fr.Data})
		sub := c.outboundSub
		c.mu.Unlock()
		if sub != nil {
			sub.Cancel()
		}
		callFinish(c.finish)
		return nil
	case *frame.CancelFrame:
		// O peer cancelou: encerra as duas metades localmente sem ecoar um
		// CANCEL de volta.
		c.terminateLocked(false)
		return nil
	}
	c.mu.Unlock()
	return nil
}

func (c *Channel) onLocalComplete() {
	c.mu.Lock()
	if c.terminal || c.sentComplete {
		c.mu.Unlock()
		return
	}
	c.sentComplete = true
	c.sender.Send(&frame.PayloadFrame{Hdr: frame.Header{StreamID: c.id, Type: frame.TypePayload, Flags: frame.FlagComplete}})
	if c.receivedComplete {
		c.terminal = true
		c.mu.Unlock()
		callFinish(c.finish)
		return
	}
	c.mu.Unlock()
}

func (c *Channel) onLocalError(err error) {
	c.mu.Lock()
	if c.terminal {
		c.mu.Unlock()
		return
	}
	c.terminal = true
	code, data := errorToFrameFields(err)
	c.sender.Send(&frame.ErrorFrame{Hdr: frame.Header{StreamID: c.id, Type: frame.TypeError}, ErrorCode: code, Data: data})
	if !c.receivedComplete {
		c.inbound.OnError(err)
	}
	c.mu.Unlock()
	callFinish(c.finish)
}

// Cancel encerra o stream localmente, enviando CANCEL ao peer.
func (c *Channel) Cancel() {
	c.mu.Lock()
	if c.terminal {
		c.mu.Unlock()
		return
	}
	c.terminateLocked(true)
}

// terminateLocked fecha as duas metades. sendCancel distingue um cancel
// originado localmente (que avisa o peer) de um CANCEL recebido dele.
// Chamado com c.mu held; libera o lock antes de retornar.
func (c *Channel) terminateLocked(sendCancel bool) {
	c.terminal = true
	sub := c.outboundSub
	deliverCancel := !c.receivedComplete
	if sendCancel {
		c.sender.Send(&frame.CancelFrame{Hdr: frame.Header{StreamID: c.id, Type: frame.TypeCancel}})
	}
	if deliverCancel {
		c.inbound.OnError(ErrStreamCanceled)
	}
	c.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
	callFinish(c.finish)
}

func (c *Channel) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

func (c *Channel) setOutboundSubscription(sub reactive.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outboundSub = sub
}

// channelOutboundForwarder subscreve ao Publisher outbound local deste lado
// e transforma seus valores em frames de wire, impondo crédito na saída. O
// primeiríssimo valor do lado requester é dobrado no próprio frame
// REQUEST_CHANNEL em vez de ir como PAYLOAD separado.
type channelOutboundForwarder struct {
	ch              *Channel
	initialN        uint32
	credit          flowcontrol.Credit
	sendFirstAsInit bool
	firstSent       bool
}

func (f *channelOutboundForwarder) OnSubscribe(sub reactive.Subscription) {
	f.ch.setOutboundSubscription(sub)
	if f.sendFirstAsInit {
		// Puxa exatamente o primeiro valor agora para dobrá-lo no frame
		// REQUEST_CHANNEL; o resto da nossa metade outbound é então paceado
		// inteiramente pelos frames REQUEST_N do peer.
		sub.Request(1)
		return
	}
	if f.initialN > 0 {
		f.credit.Add(int64(f.initialN))
		sub.Request(int64(f.initialN))
	}
}

func (f *channelOutboundForwarder) OnNext(v any) {
	if f.sendFirstAsInit && !f.firstSent {
		f.firstSent = true
		p, _ := v.(frame.Payload)
		f.ch.mu.Lock()
		id, sender := f.ch.id, f.ch.sender
		f.ch.mu.Unlock()
		sender.Send(&frame.RequestChannelFrame{
			Hdr:      frame.Header{StreamID: id, Type: frame.TypeRequestChannel, Flags: metadataFlag(p)},
			InitialN: f.initialN,
			Payload:  p,
		})
		return
	}

	p, _ := v.(frame.Payload)
	f.ch.mu.Lock()
	id, sender, terminal := f.ch.id, f.ch.sender, f.ch.terminal
	f.ch.mu.Unlock()
	if terminal {
		return
	}
	if !f.credit.TryTake() {
		f.ch.onLocalError(&ApplicationError{Code: frame.ErrorCodeInvalid, Data: []byte("payload emitted without credit")})
		return
	}
	sender.Send(&frame.PayloadFrame{
		Hdr:     frame.Header{StreamID: id, Type: frame.TypePayload, Flags: frame.FlagNext | metadataFlag(p)},
		Payload: p,
	})
}

func (f *channelOutboundForwarder) OnComplete() { f.ch.onLocalComplete() }

func (f *channelOutboundForwarder) OnError(err error) { f.ch.onLocalError(err) }

// addOutboundCredit acumula crédito vindo de REQUEST_N do peer; o repasse
// da demanda ao Publisher local é feito pelo caller (Channel.HandleFrame).
func (f *channelOutboundForwarder) addOutboundCredit(n int64) {
	f.credit.Add(n)
}

// NewChannelRequester envia o REQUEST_CHANNEL iniciador (carregando o
// primeiro valor do Publisher outbound local e seu crédito inicial) e liga
// frames PAYLOAD inbound a inboundSubscriber.
func NewChannelRequester(id frame.StreamID, sender Sender, outbound reactive.Publisher, initialN uint32, inboundSubscriber reactive.Subscriber, finish func()) *Channel {
	c := &Channel{id: id, sender: sender, inbound: inboundSubscriber, finish: finish}
	inboundSubscriber.OnSubscribe(&channelInboundSubscription{ch: c})

	fwd := &channelOutboundForwarder{ch: c, initialN: initialN, sendFirstAsInit: true}
	c.forwarder = fwd
	go outbound.Subscribe(context.Background(), fwd)
	return c
}

// NewChannelResponder invoca handler.RequestChannel com o primeiro payload
// inbound e o Publisher representando o resto da metade outbound do peer,
// depois encaminha o Publisher outbound retornado pelo handler de volta pelo
// wire como frames PAYLOAD comuns.
func NewChannelResponder(ctx context.Context, id frame.StreamID, sender Sender, firstPayload frame.Payload, initialCreditToUs uint32, handler reactive.Handler, finish func()) *Channel {
	inboundPub := &channelInboundPublisher{}
	c := &Channel{id: id, sender: sender, inbound: inboundPub, finish: finish}
	inboundPub.ch = c

	outbound := handler.RequestChannel(ctx, firstPayload, inboundPub)
	fwd := &channelOutboundForwarder{ch: c, initialN: initialCreditToUs}
	c.forwarder = fwd
	go outbound.Subscribe(ctx, fwd)
	return c
}

// channelInboundSubscription permite ao consumer de um requester de channel
// pacear a metade outbound do peer emitindo frames REQUEST_N.
type channelInboundSubscription struct{ ch *Channel }

func (s *channelInboundSubscription) Request(n int64) {
	if n <= 0 {
		return
	}
	s.ch.mu.Lock()
	id, sender := s.ch.id, s.ch.sender
	s.ch.mu.Unlock()
	sender.Send(&frame.RequestNFrame{Hdr: frame.Header{StreamID: id, Type: frame.TypeRequestN}, RequestN: uint32(n)})
}

func (s *channelInboundSubscription) Cancel() { s.ch.Cancel() }

// channelInboundPublisher é a visão de Publisher da metade outbound do peer
// entregue a handler.RequestChannel do responder; HandleFrame a alimenta
// diretamente já que existe exatamente um subscriber (o handler) por channel.
type channelInboundPublisher struct {
	mu         sync.Mutex
	ch         *Channel
	subscriber reactive.Subscriber
}

// Subscribe instala o subscriber do handler e já lhe entrega a Subscription
// que emite REQUEST_N, para que o responder também possa pacear a metade
// outbound do peer.
func (p *channelInboundPublisher) Subscribe(ctx context.Context, s reactive.Subscriber) {
	p.mu.Lock()
	p.subscriber = s
	ch := p.ch
	p.mu.Unlock()
	if ch != nil {
		s.OnSubscribe(&channelInboundSubscription{ch: ch})
	}
}

func (p *channelInboundPublisher) OnSubscribe(sub reactive.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscriber != nil {
		p.subscriber.OnSubscribe(sub)
	}
}

func (p *channelInboundPublisher) OnNext(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscriber != nil {
		p.subscriber.OnNext(v)
	}
}

func (p *channelInboundPublisher) OnComplete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscriber != nil {
		p.subscriber.OnComplete()
	}
}

func (p *channelInboundPublisher) OnError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscriber != nil {
		p.subscriber.OnError(err)
	}
}

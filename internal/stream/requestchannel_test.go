// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"context"
	"testing"
	"time"

	"github.com/nishisan-dev/rsocket-core/internal/frame"
	"github.com/nishisan-dev/rsocket-core/internal/reactive"
)

func TestChannelRequester_FirstValueSentAsRequestChannelFrame(t *testing.T) {
	sender := &fakeSender{}
	sub := &fakeSubscriber{}
	outbound := &slicePublisher{values: []any{frame.Payload{Data: []byte("first")}, frame.Payload{Data: []byte("second")}}}

	NewChannelRequester(11, sender, outbound, 5, sub, nil)

	deadline := time.Now().Add(time.Second)
	for sender.len() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	frames := sender.all()
	if len(frames) == 0 {
		t.Fatal("expected at least one frame sent")
	}
	rc, ok := frames[0].(*frame.RequestChannelFrame)
	if !ok {
		t.Fatalf("expected first frame to be *frame.RequestChannelFrame, got %T", frames[0])
	}
	if rc.InitialN != 5 || !rc.Payload.Equal(frame.Payload{Data: []byte("first")}) {
		t.Fatalf("unexpected REQUEST_CHANNEL frame: %+v", rc)
	}
	if sub.sub == nil {
		t.Fatal("expected consumer to receive a Subscription")
	}
}

func TestChannelRequester_InboundPayloadsDeliveredToConsumer(t *testing.T) {
	sender := &fakeSender{}
	sub := &fakeSubscriber{}
	outbound := &slicePublisher{values: []any{frame.Payload{Data: []byte("first")}}}

	ch := NewChannelRequester(11, sender, outbound, 5, sub, nil)

	ch.HandleFrame(&frame.PayloadFrame{
		Hdr:     frame.Header{StreamID: 11, Type: frame.TypePayload, Flags: frame.FlagNext},
		Payload: frame.Payload{Data: []byte("reply")},
	})

	values, _, _ := sub.snapshot()
	if len(values) != 1 {
		t.Fatalf("expected 1 inbound value, got %d", len(values))
	}
}

func TestChannelRequester_TerminatesOnlyWhenBothSidesComplete(t *testing.T) {
	sender := &fakeSender{}
	sub := &fakeSubscriber{}
	outbound := &slicePublisher{values: []any{frame.Payload{Data: []byte("first")}}}

	ch := NewChannelRequester(11, sender, outbound, 1, sub, nil)

	deadline := time.Now().Add(time.Second)
	for sender.len() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// A metade outbound local é um valor só, então OnComplete dispara logo.
	if ch.Terminal() {
		t.Fatal("should not be terminal until the remote half also completes")
	}

	ch.HandleFrame(&frame.PayloadFrame{
		Hdr: frame.Header{StreamID: 11, Type: frame.TypePayload, Flags: frame.FlagComplete},
	})

	if !ch.Terminal() {
		t.Fatal("expected terminal once both halves have completed")
	}

	_, completed, _ := sub.snapshot()
	if !completed {
		t.Fatal("expected consumer to observe OnComplete")
	}
}

func TestChannelRequester_ConsumerRequestEmitsRequestN(t *testing.T) {
	sender := &fakeSender{}
	sub := &fakeSubscriber{}
	outbound := &slicePublisher{values: []any{frame.Payload{Data: []byte("first")}}}

	NewChannelRequester(11, sender, outbound, 1, sub, nil)
	sub.sub.Request(3)

	var found bool
	for _, f := range sender.all() {
		if rn, ok := f.(*frame.RequestNFrame); ok && rn.RequestN == 3 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a REQUEST_N(3) frame from the consumer's own subscription")
	}
}

func TestChannelResponder_InvokesHandlerAndForwardsOutbound(t *testing.T) {
	sender := &fakeSender{}
	reply := frame.Payload{Data: []byte("responder value")}
	handler := &fakeHandler{
		requestChannel: func(ctx context.Context, v any, inbound reactive.Publisher) reactive.Publisher {
			return &slicePublisher{values: []any{reply}}
		},
	}

	ch := NewChannelResponder(context.Background(), 12, sender, frame.Payload{Data: []byte("first")}, 1, handler, nil)

	deadline := time.Now().Add(time.Second)
	for sender.len() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	frames := sender.all()
	if len(frames) != 2 {
		t.Fatalf("expected PAYLOAD(NEXT) + PAYLOAD(COMPLETE), got %d frames", len(frames))
	}
	first, ok := frames[0].(*frame.PayloadFrame)
	if !ok || !first.Hdr.Flags.Has(frame.FlagNext) || !first.Payload.Equal(reply) {
		t.Fatalf("unexpected first outbound frame: %+v", frames[0])
	}
	last, ok := frames[1].(*frame.PayloadFrame)
	if !ok || !last.Hdr.Flags.Has(frame.FlagComplete) {
		t.Fatalf("expected a trailing COMPLETE frame, got %+v", frames[1])
	}
	if ch.Terminal() {
		t.Fatal("should not be terminal until the peer's half also completes")
	}
}

func TestChannelResponder_CancelTerminates(t *testing.T) {
	sender := &fakeSender{}
	handler := &fakeHandler{
		requestChannel: func(ctx context.Context, v any, inbound reactive.Publisher) reactive.Publisher {
			return &slicePublisher{}
		},
	}
	ch := NewChannelResponder(context.Background(), 12, sender, frame.Payload{}, 0, handler, nil)

	ch.HandleFrame(&frame.CancelFrame{Hdr: frame.Header{StreamID: 12, Type: frame.TypeCancel}})

	if !ch.Terminal() {
		t.Fatal("expected terminal after CANCEL")
	}
}

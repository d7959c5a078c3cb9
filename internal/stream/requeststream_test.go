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

func TestStreamRequester_SendsRequestStreamFrame(t *testing.T) {
	sender := &fakeSender{}
	sub := &fakeSubscriber{}
	p := frame.Payload{Data: []byte("start")}

	r, err := NewStreamRequester(5, sender, p, 10, sub, nil)
	if err != nil {
		t.Fatalf("NewStreamRequester: %v", err)
	}
	frames := sender.all()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	req, ok := frames[0].(*frame.RequestStreamFrame)
	if !ok {
		t.Fatalf("expected *frame.RequestStreamFrame, got %T", frames[0])
	}
	if req.InitialN != 10 || !req.Payload.Equal(p) {
		t.Fatalf("unexpected frame: %+v", req)
	}
	if r.Terminal() {
		t.Fatal("should not be terminal yet")
	}
}

func TestStreamRequester_DeliversNextValuesThenComplete(t *testing.T) {
	sender := &fakeSender{}
	sub := &fakeSubscriber{}
	r, _ := NewStreamRequester(5, sender, frame.Payload{}, 10, sub, nil)

	r.HandleFrame(&frame.PayloadFrame{
		Hdr:     frame.Header{StreamID: 5, Type: frame.TypePayload, Flags: frame.FlagNext},
		Payload: frame.Payload{Data: []byte("one")},
	})
	r.HandleFrame(&frame.PayloadFrame{
		Hdr:     frame.Header{StreamID: 5, Type: frame.TypePayload, Flags: frame.FlagNext},
		Payload: frame.Payload{Data: []byte("two")},
	})
	r.HandleFrame(&frame.PayloadFrame{
		Hdr: frame.Header{StreamID: 5, Type: frame.TypePayload, Flags: frame.FlagComplete},
	})

	values, completed, err := sub.snapshot()
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(values))
	}
	if !completed || err != nil {
		t.Fatalf("expected completion with no error, got completed=%v err=%v", completed, err)
	}
	if !r.Terminal() {
		t.Fatal("expected terminal after COMPLETE")
	}
}

func TestStreamRequester_ConsumerSubscriptionEmitsRequestN(t *testing.T) {
	sender := &fakeSender{}
	sub := &fakeSubscriber{}
	NewStreamRequester(5, sender, frame.Payload{}, 1, sub, nil)

	sub.sub.Request(4)

	frames := sender.all()
	if len(frames) != 2 {
		t.Fatalf("expected REQUEST_STREAM + REQUEST_N, got %d frames", len(frames))
	}
	rn, ok := frames[1].(*frame.RequestNFrame)
	if !ok || rn.RequestN != 4 {
		t.Fatalf("expected REQUEST_N(4), got %+v", frames[1])
	}
}

func TestStreamRequester_ErrorFrameTerminates(t *testing.T) {
	sender := &fakeSender{}
	sub := &fakeSubscriber{}
	r, _ := NewStreamRequester(5, sender, frame.Payload{}, 1, sub, nil)

	r.HandleFrame(&frame.ErrorFrame{Hdr: frame.Header{StreamID: 5, Type: frame.TypeError}, ErrorCode: frame.ErrorCodeCanceled})

	_, _, err := sub.snapshot()
	if err == nil {
		t.Fatal("expected an error delivered to the consumer")
	}
	if !r.Terminal() {
		t.Fatal("expected terminal after ERROR")
	}
}

func TestStreamResponder_EmitsInitialCreditAndForwardsValues(t *testing.T) {
	sender := &fakeSender{}
	values := []any{frame.Payload{Data: []byte("a")}, frame.Payload{Data: []byte("b")}, frame.Payload{Data: []byte("c")}}
	handler := &fakeHandler{
		requestStream: func(ctx context.Context, v any) reactive.Publisher {
			return &slicePublisher{values: values}
		},
	}

	r := NewStreamResponder(context.Background(), 5, sender, frame.Payload{}, 2, handler, nil)

	deadline := time.Now().Add(time.Second)
	for sender.len() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	frames := sender.all()
	if len(frames) != 2 {
		t.Fatalf("expected 2 PAYLOAD(NEXT) frames for an initial credit of 2, got %d", len(frames))
	}
	for _, f := range frames {
		pf, ok := f.(*frame.PayloadFrame)
		if !ok || !pf.Hdr.Flags.Has(frame.FlagNext) || pf.Hdr.Flags.Has(frame.FlagComplete) {
			t.Fatalf("expected PAYLOAD(NEXT) only, got %+v", f)
		}
	}
	if r.Terminal() {
		t.Fatal("should not be terminal until the remaining value is requested")
	}

	r.HandleFrame(&frame.RequestNFrame{Hdr: frame.Header{StreamID: 5, Type: frame.TypeRequestN}, RequestN: 1})

	deadline = time.Now().Add(time.Second)
	for sender.len() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	frames = sender.all()
	if len(frames) != 4 {
		t.Fatalf("expected 3 NEXT + 1 COMPLETE frame, got %d", len(frames))
	}
	last, ok := frames[3].(*frame.PayloadFrame)
	if !ok || !last.Hdr.Flags.Has(frame.FlagComplete) {
		t.Fatalf("expected final frame to carry COMPLETE, got %+v", frames[3])
	}
	if !r.Terminal() {
		t.Fatal("expected terminal after COMPLETE")
	}
}

func TestStreamResponder_CancelStopsForwarding(t *testing.T) {
	sender := &fakeSender{}
	handler := &fakeHandler{
		requestStream: func(ctx context.Context, v any) reactive.Publisher {
			return &slicePublisher{values: []any{frame.Payload{Data: []byte("a")}}}
		},
	}

	r := NewStreamResponder(context.Background(), 5, sender, frame.Payload{}, 0, handler, nil)
	r.HandleFrame(&frame.CancelFrame{Hdr: frame.Header{StreamID: 5, Type: frame.TypeCancel}})

	if !r.Terminal() {
		t.Fatal("expected terminal after CANCEL")
	}
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fragment

import (
	"bytes"
	"testing"

	"github.com/nishisan-dev/rsocket-core/internal/frame"
)

func TestSplit_FitsInSingleChunk(t *testing.T) {
	p := frame.Payload{Data: []byte("small")}
	chunks := Split(p, 1024)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Follows {
		t.Fatal("single chunk must not set Follows")
	}
	if !bytes.Equal(chunks[0].Payload.Data, p.Data) {
		t.Fatalf("data mismatch: %q", chunks[0].Payload.Data)
	}
}

func TestSplit_LargePayloadProducesManyChunks(t *testing.T) {
	data := make([]byte, 64*1024)
	for i := range data {
		data[i] = byte(i % 251)
	}
	p := frame.Payload{Data: data}

	const mtu = 1024
	chunks := Split(p, mtu)
	if len(chunks) < 65 {
		t.Fatalf("expected at least 65 chunks for 64KiB/1024 MTU, got %d", len(chunks))
	}
	for i, c := range chunks {
		isLast := i == len(chunks)-1
		if c.Follows == isLast {
			t.Fatalf("chunk %d: Follows=%v, isLast=%v", i, c.Follows, isLast)
		}
	}
}

func TestSplitReassemble_RoundTrip(t *testing.T) {
	data := make([]byte, 64*1024)
	for i := range data {
		data[i] = byte(i % 199)
	}
	metadata := []byte("composite-metadata-goes-here-and-is-somewhat-long-too")
	p := frame.Payload{Data: data, Metadata: metadata}

	chunks := Split(p, 1024)
	if len(chunks) < 2 {
		t.Fatalf("expected fragmentation, got %d chunk(s)", len(chunks))
	}

	r := NewReassembler()
	const sid = frame.StreamID(7)

	first := chunks[0]
	r.Begin(sid, frame.TypeRequestStream, p.HasMetadata(), first.Payload)
	if !first.Follows {
		t.Fatal("expected the first of many chunks to set Follows")
	}

	var gotType frame.Type
	var gotPayload frame.Payload
	var done bool
	var err error
	for _, c := range chunks[1:] {
		gotType, gotPayload, done, err = r.Continue(sid, frame.TypePayload, c.Follows, c.Payload)
		if err != nil {
			t.Fatalf("Continue: %v", err)
		}
	}
	if !done {
		t.Fatal("expected reassembly to complete on the last chunk")
	}
	if gotType != frame.TypeRequestStream {
		t.Fatalf("expected reassembled type TypeRequestStream, got %v", gotType)
	}
	if !bytes.Equal(gotPayload.Data, data) {
		t.Fatalf("data mismatch after reassembly: got %d bytes, want %d", len(gotPayload.Data), len(data))
	}
	if !bytes.Equal(gotPayload.Metadata, metadata) {
		t.Fatalf("metadata mismatch after reassembly: got %q, want %q", gotPayload.Metadata, metadata)
	}
	if r.InProgress(sid) {
		t.Fatal("expected reassembly state to be cleared after completion")
	}
}

func TestReassembler_MissingFirstFragment(t *testing.T) {
	r := NewReassembler()
	_, _, _, err := r.Continue(frame.StreamID(1), frame.TypePayload, false, frame.Payload{Data: []byte("x")})
	if err != ErrMissingFirstFragment {
		t.Fatalf("expected ErrMissingFirstFragment, got %v", err)
	}
}

func TestReassembler_FragmentTypeMismatch(t *testing.T) {
	r := NewReassembler()
	sid := frame.StreamID(3)
	r.Begin(sid, frame.TypeRequestChannel, false, frame.Payload{Data: []byte("first")})

	_, _, _, err := r.Continue(sid, frame.TypeRequestChannel, true, frame.Payload{Data: []byte("oops")})
	if err != ErrFragmentTypeMismatch {
		t.Fatalf("expected ErrFragmentTypeMismatch, got %v", err)
	}
}

func TestReassembler_Abandon(t *testing.T) {
	r := NewReassembler()
	sid := frame.StreamID(9)
	r.Begin(sid, frame.TypeRequestResponse, false, frame.Payload{Data: []byte("a")})
	if !r.InProgress(sid) {
		t.Fatal("expected in-progress chain")
	}
	r.Abandon(sid)
	if r.InProgress(sid) {
		t.Fatal("expected Abandon to clear the chain")
	}
}

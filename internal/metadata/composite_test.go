// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package metadata

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
	}{
		{
			name: "single inline entry",
			entries: []Entry{
				NewInlineEntry("application/json", []byte(`{"a":1}`)),
			},
		},
		{
			name: "single well-known entry",
			entries: []Entry{
				NewWellKnownEntry(MimeApplicationOctetStream, []byte{0x01, 0x02, 0x03}),
			},
		},
		{
			name: "mixed sequence",
			entries: []Entry{
				NewWellKnownEntry(MimeMessageXRSocketRoutingV0, []byte("my.service")),
				NewInlineEntry("x-custom/trace", []byte("trace-id")),
				NewWellKnownEntry(MimeApplicationCBOR, nil),
			},
		},
		{
			name:    "empty sequence",
			entries: nil,
		},
		{
			name: "zero-length entry body",
			entries: []Entry{
				NewInlineEntry("text/plain", []byte{}),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.entries)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := pretty.Compare(tt.entries, decoded); diff != "" {
				t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncode_MimeTooLong(t *testing.T) {
	long := make([]byte, 128)
	for i := range long {
		long[i] = 'a'
	}
	_, err := Encode([]Entry{NewInlineEntry(string(long), nil)})
	if err == nil {
		t.Fatal("expected error for 128-byte mime type")
	}
}

func TestDecode_TruncatedBuffer(t *testing.T) {
	good, err := Encode([]Entry{NewInlineEntry("text/plain", []byte("hello"))})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for cut := 1; cut < len(good); cut++ {
		if _, err := Decode(good[:cut]); err == nil {
			t.Fatalf("expected error decoding truncated buffer at %d/%d bytes", cut, len(good))
		}
	}
}

func TestWellKnownString(t *testing.T) {
	if got := MimeApplicationJSON.String(); got != "application/json" {
		t.Fatalf("expected application/json, got %q", got)
	}
	if got := MimeID(0x7F).String(); got != "" {
		t.Fatalf("expected empty string for unregistered id, got %q", got)
	}
}

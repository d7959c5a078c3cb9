// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package connection

import (
	"github.com/nishisan-dev/rsocket-core/internal/fragment"
	"github.com/nishisan-dev/rsocket-core/internal/frame"
)

// fragmentOutbound divide f em uma cadeia FOLLOWS quando o frame re-encodado
// excederia mtu: o primeiro frame mantém o tipo original de f, todo frame seguinte é
// um PAYLOAD carregando NEXT (e, no final, o COMPLETE original de f se
// havia um). Frames cujo payload já cabe são retornados inalterados, como
// slice de um elemento.
func fragmentOutbound(f frame.Frame, mtu int) []frame.Frame {
	switch fr := f.(type) {
	case *frame.RequestResponseFrame:
		return fragmentRequestLike(fr.Hdr, fr.Payload, mtu, func(h frame.Header, p frame.Payload) frame.Frame {
			return &frame.RequestResponseFrame{Hdr: h, Payload: p}
		})
	case *frame.RequestFNFFrame:
		return fragmentRequestLike(fr.Hdr, fr.Payload, mtu, func(h frame.Header, p frame.Payload) frame.Frame {
			return &frame.RequestFNFFrame{Hdr: h, Payload: p}
		})
	case *frame.RequestStreamFrame:
		return fragmentRequestLike(fr.Hdr, fr.Payload, mtu, func(h frame.Header, p frame.Payload) frame.Frame {
			return &frame.RequestStreamFrame{Hdr: h, InitialN: fr.InitialN, Payload: p}
		})
	case *frame.RequestChannelFrame:
		return fragmentRequestLike(fr.Hdr, fr.Payload, mtu, func(h frame.Header, p frame.Payload) frame.Frame {
			return &frame.RequestChannelFrame{Hdr: h, InitialN: fr.InitialN, Payload: p}
		})
	case *frame.PayloadFrame:
		return fragmentPayload(fr.Hdr, fr.Payload, mtu)
	default:
		return []frame.Frame{f}
	}
}

func fragmentRequestLike(hdr frame.Header, p frame.Payload, mtu int, head func(frame.Header, frame.Payload) frame.Frame) []frame.Frame {
	chunks := fragment.Split(p, mtu)
	if len(chunks) <= 1 {
		return []frame.Frame{head(hdr, p)}
	}

	out := make([]frame.Frame, 0, len(chunks))
	for i, ch := range chunks {
		flags := chunkMetadataFlag(ch.Payload)
		if ch.Follows {
			flags |= frame.FlagFollows
		}
		if i == len(chunks)-1 && hdr.Flags.Has(frame.FlagComplete) {
			flags |= frame.FlagComplete
		}
		if i == 0 {
			h := hdr
			h.Flags = flags
			out = append(out, head(h, ch.Payload))
			continue
		}
		out = append(out, &frame.PayloadFrame{
			Hdr:     frame.Header{StreamID: hdr.StreamID, Type: frame.TypePayload, Flags: flags | frame.FlagNext},
			Payload: ch.Payload,
		})
	}
	return out
}

func fragmentPayload(hdr frame.Header, p frame.Payload, mtu int) []frame.Frame {
	chunks := fragment.Split(p, mtu)
	if len(chunks) <= 1 {
		return []frame.Frame{&frame.PayloadFrame{Hdr: hdr, Payload: p}}
	}

	out := make([]frame.Frame, 0, len(chunks))
	last := len(chunks) - 1
	for i, ch := range chunks {
		flags := chunkMetadataFlag(ch.Payload)
		if ch.Follows {
			flags |= frame.FlagFollows
		}
		if hdr.Flags.Has(frame.FlagNext) {
			flags |= frame.FlagNext
		}
		if i == last && hdr.Flags.Has(frame.FlagComplete) {
			flags |= frame.FlagComplete
		}
		out = append(out, &frame.PayloadFrame{
			Hdr:     frame.Header{StreamID: hdr.StreamID, Type: frame.TypePayload, Flags: flags},
			Payload: ch.Payload,
		})
	}
	return out
}

func chunkMetadataFlag(p frame.Payload) frame.Flags {
	if p.HasMetadata() {
		return frame.FlagMetadata
	}
	return 0
}

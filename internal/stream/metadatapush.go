// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"context"

	"github.com/nishisan-dev/rsocket-core/internal/frame"
	"github.com/nishisan-dev/rsocket-core/internal/reactive"
)

// SendMetadataPush emite um METADATA_PUSH no stream 0. Não há resposta nem
// nada a rastrear depois.
func SendMetadataPush(sender Sender, metadata []byte) error {
	return sender.Send(&frame.MetadataPushFrame{
		Hdr:      frame.Header{StreamID: 0, Type: frame.TypeMetadataPush, Flags: frame.FlagMetadata},
		Metadata: metadata,
	})
}

// HandleMetadataPush despacha um METADATA_PUSH inbound para o handler da
// aplicação. Pelo protocolo não existe resposta, então o handler é invocado
// de forma síncrona, sem mais bookkeeping.
func HandleMetadataPush(ctx context.Context, handler reactive.Handler, metadata []byte) {
	handler.MetadataPush(ctx, metadata)
}

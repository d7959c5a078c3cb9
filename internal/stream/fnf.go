// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"context"

	"github.com/nishisan-dev/rsocket-core/internal/frame"
	"github.com/nishisan-dev/rsocket-core/internal/reactive"
)

// SendFireAndForget emite um único frame REQUEST_FNF e retorna imediatamente;
// o lado emissor do stream termina localmente sem mais estado a rastrear.
func SendFireAndForget(id frame.StreamID, sender Sender, p frame.Payload) error {
	return sender.Send(&frame.RequestFNFFrame{
		Hdr:     frame.Header{StreamID: id, Type: frame.TypeRequestFNF, Flags: metadataFlag(p)},
		Payload: p,
	})
}

// HandleFireAndForget roda handler.FireAndForget(ctx, p) em uma nova
// goroutine, passando qualquer erro a onError em vez de responder
// (fire-and-forget não tem canal de resposta pelo protocolo).
func HandleFireAndForget(ctx context.Context, handler reactive.Handler, p frame.Payload, onError func(error)) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil && onError != nil {
				onError(panicToError(rec))
			}
		}()
		handler.FireAndForget(ctx, p)
	}()
}

func panicToError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return &ApplicationError{Code: frame.ErrorCodeApplicationError, Data: []byte("fire-and-forget handler panicked")}
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package connection

import (
	"context"

	"github.com/nishisan-dev/rsocket-core/internal/frame"
	"github.com/nishisan-dev/rsocket-core/internal/reactive"
)

// SetupInfo carrega os campos negociados de um SETUP aceito, entregues a
// Handler.OnSetup antes de a conexão começar a despachar requests.
type SetupInfo struct {
	MajorVersion, MinorVersion uint16
	DataMimeType               string
	MetadataMimeType           string
	HonorLease                 bool
	ResumeToken                []byte
	Payload                    frame.Payload
}

// Handler é o contrato completo de request handler que um usuário da
// connection engine implementa: os métodos por interação de
// reactive.Handler, mais dois hooks de ciclo de vida da conexão (OnSetup,
// OnError). Dividir assim mantém reactive.Handler — o contrato de que os
// stream handlers individuais dependem — independente de preocupações do
// nível da conexão.
type Handler interface {
	reactive.Handler

	// OnSetup é invocado uma vez, só no lado responder, depois que o SETUP
	// passou na validação de versão/MIME e antes de qualquer frame de
	// request ser despachado. Retornar erro rejeita a conexão com
	// REJECTED_SETUP.
	OnSetup(ctx context.Context, info SetupInfo) error

	// OnError é invocado uma vez para qualquer condição fatal no nível da
	// conexão (violação de protocolo, falha de transporte, ERROR do peer no
	// stream 0, timeout de keepalive), antes de os streams vivos serem
	// encerrados: a engine o chama e em seguida dispara Close, que os cancela.
	OnError(ctx context.Context, err error)
}

// NopHandler é embutível por callers que só se importam com um subconjunto
// do contrato: RequestResponse responde com errUnimplemented, RequestStream e
// RequestChannel completam sem emitir valores, e os demais métodos não fazem
// nada.
type NopHandler struct{}

func (NopHandler) OnSetup(ctx context.Context, info SetupInfo) error { return nil }
func (NopHandler) OnError(ctx context.Context, err error)            {}

func (NopHandler) RequestResponse(ctx context.Context, v any, out reactive.SingleSubscriber) {
	out.OnError(errUnimplemented)
}
func (NopHandler) FireAndForget(ctx context.Context, v any) {}
func (NopHandler) RequestStream(ctx context.Context, v any) reactive.Publisher {
	return emptyPublisher{}
}
func (NopHandler) RequestChannel(ctx context.Context, v any, inbound reactive.Publisher) reactive.Publisher {
	return emptyPublisher{}
}
func (NopHandler) MetadataPush(ctx context.Context, metadata []byte) {}

type emptyPublisher struct{}

func (emptyPublisher) Subscribe(ctx context.Context, s reactive.Subscriber) {
	s.OnSubscribe(noopSubscription{})
	s.OnComplete()
}

type noopSubscription struct{}

func (noopSubscription) Request(n int64) {}
func (noopSubscription) Cancel()         {}

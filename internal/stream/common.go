// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"errors"

	"github.com/nishisan-dev/rsocket-core/internal/frame"
)

// ErrStreamCanceled é o sinal terminal entregue ao consumer local quando um
// stream é cancelado. Cancelamento não é uma falha do peer, mas ainda assim
// conta como o único sinal terminal do stream; consumers distinguem com
// errors.Is.
var ErrStreamCanceled = errors.New("stream: canceled")

// metadataFlag retorna FlagMetadata se p carrega metadata (possivelmente
// vazio mas presente), respeitando a distinção vazio-vs-ausente do wire.
func metadataFlag(p frame.Payload) frame.Flags {
	if p.HasMetadata() {
		return frame.FlagMetadata
	}
	return 0
}

// ApplicationError embrulha um frame ERROR fornecido pelo peer, entregue ao
// consumer de um requester como erro terminal.
type ApplicationError struct {
	Code frame.ErrorCode
	Data []byte
}

func (e *ApplicationError) Error() string {
	return e.Code.String() + ": " + string(e.Data)
}

// errorToFrameFields mapeia um erro local de aplicação no par code/data que
// um frame ERROR carrega. Um erro comum vira APPLICATION_ERROR com sua
// mensagem como payload; um *ApplicationError faz round-trip do código
// original.
func errorToFrameFields(err error) (frame.ErrorCode, []byte) {
	if ae, ok := err.(*ApplicationError); ok {
		return ae.Code, ae.Data
	}
	return frame.ErrorCodeApplicationError, []byte(err.Error())
}

// callFinish invoca o callback de liberação do registry, se houver. Handlers
// o chamam em toda transição terminal originada localmente, já que nesses
// casos nenhum frame inbound vai disparar a limpeza pela engine.
func callFinish(finish func()) {
	if finish != nil {
		finish()
	}
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package connection

import (
	"errors"
	"fmt"

	"github.com/nishisan-dev/rsocket-core/internal/frame"
)

// ErrRSocketRejected é retornado a um caller local cujo request não pôde ser
// admitido: nenhum lease válido e a janela limitada de admissão esgotou, ou
// a própria espera foi cancelada.
var ErrRSocketRejected = errors.New("connection: rejected, no admission")

// ErrClosed é retornado por qualquer operação tentada depois que a engine
// desligou.
var ErrClosed = errors.New("connection: closed")

// errUnimplemented é a resposta pronta que NopHandler.RequestResponse dá
// quando o caller não o sobrescreveu.
var errUnimplemented = errors.New("connection: handler method not implemented")

// ErrPositionWentBackwards é retornado quando a posição last-received de um
// RESUME está atrás do que o frame cache já descartou: rejeitado em vez de
// adivinhado.
var ErrPositionWentBackwards = errors.New("connection: resume position went backwards")

// ConnectionError modela um frame ERROR no stream 0: fatal para a conexão
// inteira, em oposição a um ApplicationError escopado a um stream.
type ConnectionError struct {
	Code ErrorCode
	Msg  string
}

// ErrorCode re-exporta o tipo de código de erro do wire para que callers
// fora do pacote frame não precisem importá-lo só para inspecionar um
// ConnectionError.
type ErrorCode = frame.ErrorCode

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection: %s: %s", e.Code, e.Msg)
}

// keepaliveTimeoutError é a variante de ConnectionError reportada quando
// nenhum KEEPALIVE chega dentro de MaxLifetime.
func keepaliveTimeoutError() *ConnectionError {
	return &ConnectionError{Code: frame.ErrorCodeConnectionError, Msg: "KEEPALIVE_TIMEOUT"}
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import "github.com/nishisan-dev/rsocket-core/internal/frame"

// State modela a máquina de estados genérica do lado que emite o request,
// compartilhada por todos os modelos de interação: IDLE -> REQUESTED ->
// (RECEIVING|SENDING|BOTH) -> HALF_CLOSED{send|recv} -> CLOSED. ERROR e
// CANCEL transicionam direto para CLOSED de qualquer estado.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateReceiving
	StateSending
	StateBoth
	StateHalfClosedSend
	StateHalfClosedRecv
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRequested:
		return "REQUESTED"
	case StateReceiving:
		return "RECEIVING"
	case StateSending:
		return "SENDING"
	case StateBoth:
		return "BOTH"
	case StateHalfClosedSend:
		return "HALF_CLOSED_SEND"
	case StateHalfClosedRecv:
		return "HALF_CLOSED_RECV"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Sender é a face outbound estreita pela qual todo stream handler escreve
// frames; a connection engine a implementa sobre seu único canal FIFO de
// escrita, de modo que frames de todos os streams intercalam corretamente
// no wire.
type Sender interface {
	Send(f frame.Frame) error
}

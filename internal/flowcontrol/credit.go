// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package flowcontrol implementa os dois mecanismos de admissão do RSocket:
// contabilidade de crédito REQUEST_N por stream, e admissão gated por lease
// no nível da conexão.
package flowcontrol

import (
	"errors"
	"sync"
)

// MaxCredit é o ponto de saturação do crédito acumulado (2^31-1, o maior
// valor que um frame REQUEST_N pode carregar).
const MaxCredit = int64(1<<31 - 1)

// ErrInvalidRequestN é retornado quando um frame REQUEST_N (ou um request
// local) carrega um valor não positivo.
var ErrInvalidRequestN = errors.New("flowcontrol: request n must be positive")

// Credit rastreia a franquia de envio pendente de uma direção em um stream.
// É seguro para uso concorrente.
type Credit struct {
	mu    sync.Mutex
	value int64
}

// Add acumula n unidades de crédito, saturando em MaxCredit. n deve ser
// positivo.
func (c *Credit) Add(n int64) error {
	if n <= 0 {
		return ErrInvalidRequestN
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += n
	if c.value > MaxCredit || c.value < 0 { // guarda de overflow
		c.value = MaxCredit
	}
	return nil
}

// TryTake consome uma unidade de crédito se disponível, reportando se
// conseguiu. Um emissor deve chamar TryTake antes de emitir cada frame
// PAYLOAD(NEXT) e não deve emitir se falhar.
func (c *Credit) TryTake() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value <= 0 {
		return false
	}
	c.value--
	return true
}

// Value reporta o crédito disponível no momento.
func (c *Credit) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

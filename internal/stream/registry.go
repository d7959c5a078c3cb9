// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package stream implementa o alocador de stream ids e as máquinas de estado
// dos quatro modelos de interação (request/response, fire-and-forget,
// request/stream, request/channel) mais metadata push, cada uma dirigida por
// frames inbound de um lado e pelas primitivas reativas do outro.
package stream

import (
	"errors"
	"sync"

	"github.com/nishisan-dev/rsocket-core/internal/frame"
)

// ErrStreamAllocationFailure é retornado quando o espaço de 2^31 ids da
// paridade deste endpoint se esgota.
var ErrStreamAllocationFailure = errors.New("stream: id space exhausted")

// Handler é implementado por todo stream handler concreto (um por modelo de
// interação) e dirigido pela connection engine conforme frames do seu stream
// id chegam.
type Handler interface {
	// HandleFrame processa um frame inbound já endereçado a este stream (o
	// registry já demultiplexou por id).
	HandleFrame(f frame.Frame) error
	// Cancel pede cancelamento local best-effort, ex: no shutdown da
	// conexão; deve ser idempotente.
	Cancel()
	// Terminal reporta se ambas as direções alcançaram estado terminal e o
	// handler pode ser removido do registry.
	Terminal() bool
}

// Registry mapeia stream ids vivos para seus Handlers e aloca ids novos da
// paridade deste endpoint (client: ímpar começando em 1; server: par
// começando em 2).
type Registry struct {
	mu       sync.Mutex
	handlers map[frame.StreamID]Handler
	next     frame.StreamID
}

// NewRegistry retorna um registry vazio para um endpoint de conexão.
func NewRegistry(isClient bool) *Registry {
	start := frame.StreamID(2)
	if isClient {
		start = frame.StreamID(1)
	}
	return &Registry{handlers: make(map[frame.StreamID]Handler), next: start}
}

// Allocate reserva o próximo id livre da paridade deste endpoint e registra
// h sob ele.
func (r *Registry) Allocate(h Handler) (frame.StreamID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.next
	for {
		id := r.next
		if r.next > frame.MaxStreamID-2 {
			r.next = 2 - (r.next % 2) // volta ao primeiro id desta paridade
		} else {
			r.next += 2
		}
		if _, taken := r.handlers[id]; !taken {
			r.handlers[id] = h
			return id, nil
		}
		if r.next == start {
			return 0, ErrStreamAllocationFailure
		}
	}
}

// Register instala h sob um id explícito, usado para handlers criados em
// resposta a um request originado pelo peer (o id chega pelo wire em vez de
// ser alocado localmente).
func (r *Registry) Register(id frame.StreamID, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = h
}

// Get retorna o handler de id, se houver.
func (r *Registry) Get(id frame.StreamID) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[id]
	return h, ok
}

// Finish remove o handler de id, liberando o id para realocação.
func (r *Registry) Finish(id frame.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
}

// CancelAll chama Cancel em todo handler vivo, usado no shutdown da conexão.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	handlers := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h.Cancel()
	}
}

// Len reporta o número de streams vivos, principalmente para testes e
// diagnóstico.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

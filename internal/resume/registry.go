// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package resume

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionTTL limita por quanto tempo o estado de uma sessão desconectada é
// retido antes que ela e seus frames cacheados sejam descartados.
const sessionTTL = 1 * time.Hour

// sessionCleanupInterval é a frequência com que o registry varre sessões
// expiradas.
const sessionCleanupInterval = 5 * time.Minute

// Session é o estado resumível que o responder retém para um client através
// de reconexões de transporte.
type Session struct {
	Token        []byte
	Cache        *FrameCache
	LastActivity time.Time
}

// Registry mapeia resume tokens para suas Sessions, expirando entries cuja
// LastActivity excede o TTL configurado.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewRegistry retorna um registry vazio usando o TTL de sessão default.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session), ttl: sessionTTL}
}

// NewRegistryWithTTL retorna um registry vazio com TTL customizado,
// principalmente para testes que não podem esperar a hora default.
func NewRegistryWithTTL(ttl time.Duration) *Registry {
	return &Registry{sessions: make(map[string]*Session), ttl: ttl}
}

// NewToken gera um resume token novo, adequado para um SETUP anunciando
// suporte a resume.
func NewToken() []byte {
	id := uuid.New()
	return id[:]
}

// Register cria e armazena uma nova Session para token, apoiada por um frame
// cache da capacidade dada.
func (r *Registry) Register(token []byte, cacheCapacity int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &Session{
		Token:        token,
		Cache:        NewFrameCache(cacheCapacity),
		LastActivity: time.Now(),
	}
	r.sessions[string(token)] = s
	return s
}

// Lookup retorna a sessão de token, tocando sua LastActivity, ou false se
// nenhuma sessão viva corresponde.
func (r *Registry) Lookup(token []byte) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[string(token)]
	if !ok {
		return nil, false
	}
	s.LastActivity = time.Now()
	return s, true
}

// Drop remove uma sessão imediatamente, ex: depois que um RESUME bem
// sucedido a devolve a uma conexão ativa ou após REJECTED_RESUME.
func (r *Registry) Drop(token []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[string(token)]; ok {
		s.Cache.Close()
		delete(r.sessions, string(token))
	}
}

// CleanupExpired remove sessões cuja LastActivity é mais antiga que o TTL do
// registry, fechando seus frame caches.
func (r *Registry) CleanupExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for token, s := range r.sessions {
		if now.Sub(s.LastActivity) > r.ttl {
			s.Cache.Close()
			delete(r.sessions, token)
		}
	}
}

// RunCleanup inicia uma goroutine que chama CleanupExpired a cada
// sessionCleanupInterval até stop ser fechado.
func (r *Registry) RunCleanup(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(sessionCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.CleanupExpired()
			}
		}
	}()
}

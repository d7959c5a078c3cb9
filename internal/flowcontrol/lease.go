// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package flowcontrol

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRejectedNoLease é retornado quando um request é originado sem um lease
// válido do peer (e HONOR_LEASE foi negociado).
var ErrRejectedNoLease = errors.New("flowcontrol: rejected, no valid lease")

// Lease descreve uma janela de admissão concedida por um peer: até
// PermittedRequests podem ser originados antes de TimeToLive decorrer desde
// IssuedAt, o que vier primeiro.
type Lease struct {
	TimeToLive        time.Duration
	PermittedRequests uint32
	IssuedAt          time.Time
}

func (l Lease) expired(now time.Time) bool {
	return l.PermittedRequests == 0 || now.After(l.IssuedAt.Add(l.TimeToLive))
}

// LeaseWindow rastreia o lease atualmente válido de uma direção e faz gate
// da admissão de requests por um limiter token-bucket dimensionado pela
// contagem de permits do lease sobre seu TTL. Um novo frame LEASE substitui
// (nunca acumula com) a janela anterior.
type LeaseWindow struct {
	mu      sync.Mutex
	current Lease
	have    bool
	limiter *rate.Limiter
	now     func() time.Time
}

// NewLeaseWindow retorna uma janela sem lease em vigor; toda chamada de
// Admit falha com ErrRejectedNoLease até o primeiro Update.
func NewLeaseWindow() *LeaseWindow {
	return &LeaseWindow{now: time.Now}
}

// Update instala um LEASE recém-recebido, substituindo qualquer janela
// anterior. O limiter é dimensionado para que PermittedRequests tokens
// estejam disponíveis imediatamente e se recarreguem uniformemente ao longo
// de TimeToLive — o mesmo formato de admissão que o lease do wire descreve.
func (w *LeaseWindow) Update(l Lease) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = l
	w.have = true

	burst := int(l.PermittedRequests)
	if burst <= 0 {
		w.limiter = rate.NewLimiter(0, 0)
		return
	}
	var perSecond rate.Limit
	if l.TimeToLive > 0 {
		perSecond = rate.Limit(float64(l.PermittedRequests) / l.TimeToLive.Seconds())
	}
	w.limiter = rate.NewLimiter(perSecond, burst)
}

// Admit reporta se um novo request pode ser originado agora sob o lease
// atual, consumindo um permit se sim.
func (w *LeaseWindow) Admit() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.have || w.current.expired(w.now()) {
		return ErrRejectedNoLease
	}
	if w.limiter == nil || !w.limiter.Allow() {
		return ErrRejectedNoLease
	}
	return nil
}

// Valid reporta se um lease não expirado está em vigor, sem consumir permit.
func (w *LeaseWindow) Valid() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.have && !w.current.expired(w.now())
}

// Wait bloqueia até um permit ficar disponível ou ctx encerrar: um request
// originado localmente enfileira aqui em vez de falhar de imediato com um
// lease momentaneamente esgotado (mas não ausente). Callers tipicamente
// derivam ctx com timeout e tratam ctx.Err() como rejeição.
func (w *LeaseWindow) Wait(ctx context.Context) error {
	w.mu.Lock()
	if !w.have || w.current.expired(w.now()) {
		w.mu.Unlock()
		return ErrRejectedNoLease
	}
	limiter := w.limiter
	w.mu.Unlock()

	if limiter == nil {
		return ErrRejectedNoLease
	}
	return limiter.Wait(ctx)
}

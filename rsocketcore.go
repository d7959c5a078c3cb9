// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package rsocketcore é a superfície pública do core RSocket: re-exporta as
// seams que um caller precisa — a connection engine, o contrato de
// transporte, o contrato de request handler e as primitivas reativas — sem
// expor os internals de framing e de máquina de estados, que ficam em
// internal/. Transportes concretos (TCP, WebSocket, QUIC) e handlers de
// aplicação são colaboradores externos plugados por estas interfaces.
package rsocketcore

import (
	"io"
	"log/slog"

	"github.com/nishisan-dev/rsocket-core/internal/connection"
	"github.com/nishisan-dev/rsocket-core/internal/frame"
	"github.com/nishisan-dev/rsocket-core/internal/reactive"
	"github.com/nishisan-dev/rsocket-core/internal/resume"
	"github.com/nishisan-dev/rsocket-core/internal/rlog"
)

// Payload é o par de sequências de bytes opacas (data, metadata) que todo
// modelo de interação transporta.
type Payload = frame.Payload

// ErrorCode é o código de erro u32 do wire RSocket.
type ErrorCode = frame.ErrorCode

// Códigos de erro do protocolo, re-exportados para inspeção de
// ConnectionError e ApplicationError por callers.
const (
	ErrorCodeInvalidSetup     = frame.ErrorCodeInvalidSetup
	ErrorCodeUnsupportedSetup = frame.ErrorCodeUnsupportedSetup
	ErrorCodeRejectedSetup    = frame.ErrorCodeRejectedSetup
	ErrorCodeRejectedResume   = frame.ErrorCodeRejectedResume
	ErrorCodeConnectionError  = frame.ErrorCodeConnectionError
	ErrorCodeConnectionClose  = frame.ErrorCodeConnectionClose
	ErrorCodeApplicationError = frame.ErrorCodeApplicationError
	ErrorCodeRejected         = frame.ErrorCodeRejected
	ErrorCodeCanceled         = frame.ErrorCodeCanceled
	ErrorCodeInvalid          = frame.ErrorCodeInvalid
)

// Contratos reativos dirigidos pelos stream handlers no lado da aplicação.
type (
	Publisher        = reactive.Publisher
	Subscriber       = reactive.Subscriber
	Subscription     = reactive.Subscription
	SingleSubscriber = reactive.SingleSubscriber
)

// Seams da conexão.
type (
	// Engine dirige uma conexão RSocket de ponta a ponta.
	Engine = connection.Engine
	// Config carrega os parâmetros negociados e operacionais da conexão.
	Config = connection.Config
	// Transport é o pipe de bytes que um adaptador concreto implementa.
	Transport = connection.Transport
	// Handler é o contrato de request handler exposto ao usuário.
	Handler = connection.Handler
	// SetupInfo carrega os campos de um SETUP aceito.
	SetupInfo = connection.SetupInfo
	// NopHandler é embutível por handlers parciais.
	NopHandler = connection.NopHandler
	// ConnectionError modela um ERROR fatal no stream 0.
	ConnectionError = connection.ConnectionError
	// ResumeRegistry retém sessões resumíveis no lado responder.
	ResumeRegistry = resume.Registry
)

// Erros sentinela da engine.
var (
	// ErrRejected indica um request local não admitido pela janela de lease.
	ErrRejected = connection.ErrRSocketRejected
	// ErrClosed indica uma operação tentada após o shutdown da engine.
	ErrClosed = connection.ErrClosed
)

// DefaultConfig retorna uma Config com defaults razoáveis.
func DefaultConfig() Config { return connection.DefaultConfig() }

// LoadConfig lê e valida uma Config de um arquivo YAML.
func LoadConfig(path string) (*Config, error) { return connection.LoadConfig(path) }

// NewEngine constrói uma Engine sobre transport. resumeReg pode ser nil em
// conexões que nunca aceitam RESUME; logger nil usa slog.Default().
func NewEngine(cfg Config, transport Transport, handler Handler, logger *slog.Logger, resumeReg *ResumeRegistry) *Engine {
	return connection.NewEngine(cfg, transport, handler, logger, resumeReg)
}

// NewResumeRegistry retorna um registry de sessões resumíveis com o TTL
// default de uma hora.
func NewResumeRegistry() *ResumeRegistry { return resume.NewRegistry() }

// NewThrottledTransport embrulha t com um limite de bytes/segundo no caminho
// de envio.
func NewThrottledTransport(t Transport, bytesPerSec int64) Transport {
	return connection.NewThrottledTransport(t, bytesPerSec)
}

// NewLogger constrói um *slog.Logger pronto ("json" ou "text") para callers
// que não querem montar handlers na mão.
func NewLogger(level, format string) *slog.Logger { return rlog.New(level, format) }

// NewLoggerWithWriter é NewLogger com destino explícito.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	return rlog.NewWithWriter(level, format, w)
}

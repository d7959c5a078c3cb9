// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/rsocket-core/internal/flowcontrol"
	"github.com/nishisan-dev/rsocket-core/internal/fragment"
	"github.com/nishisan-dev/rsocket-core/internal/frame"
	"github.com/nishisan-dev/rsocket-core/internal/reactive"
	"github.com/nishisan-dev/rsocket-core/internal/resume"
	"github.com/nishisan-dev/rsocket-core/internal/stream"
)

// ewmaAlpha é o fator de suavização do EWMA de round-trip do KEEPALIVE.
const ewmaAlpha = 0.25

// Estados da conexão: connecting -> active, com degraded sobreposto a
// active quando respostas de KEEPALIVE começam a faltar, e closed após o
// teardown.
const (
	stateConnecting = "connecting"
	stateActive     = "active"
	stateDegraded   = "degraded"
	stateClosed     = "closed"
)

const protocolMajorVersion = 1
const protocolMinorVersion = 0

// Engine dirige uma conexão RSocket de ponta a ponta: negociação
// SETUP/RESUME, os loops full-duplex de leitura/escrita, timing de KEEPALIVE
// com rastreio de RTT, dispatch de streams, fragmentação, e admissão de
// requests locais gated por lease. Implementa stream.Sender, então todo
// stream handler de internal/stream escreve pelo mesmo caminho FIFO de
// saída.
type Engine struct {
	cfg       Config
	transport Transport
	handler   Handler
	logger    *slog.Logger

	registry    *stream.Registry
	reassembler *fragment.Reassembler

	leaseWindow *flowcontrol.LeaseWindow
	honorLease  bool

	resumeRegistry *resume.Registry
	session        *resume.Session

	writeCh chan frame.Frame

	// RTT EWMA em nanoseconds (atômico)
	rttNanos            atomic.Int64
	missedKeepalives    atomic.Int32
	lastKeepaliveSentAt atomic.Int64
	lastAckAt           atomic.Int64
	lastReceivedPos     atomic.Int64

	// State machine (atômico para reads lock-free)
	state atomic.Value // string

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// carry guarda o Decoder usado pelo readOneFrame do handshake para que
	// bytes que ele tenha buffered além do frame do handshake não se percam
	// quando o read loop assumir com um Decoder próprio.
	carry *frame.Decoder

	pendingMu    sync.Mutex
	pendingInitN map[frame.StreamID]uint32
}

// NewEngine constrói uma Engine pronta para Start sobre transport. resumeReg
// pode ser nil para uma conexão que nunca aceita RESUME (uso típico do lado
// client); é obrigatório no lado responder para honrar FlagResumeEnable.
func NewEngine(cfg Config, transport Transport, handler Handler, logger *slog.Logger, resumeReg *resume.Registry) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:            cfg,
		transport:      transport,
		handler:        handler,
		logger:         logger.With("component", "connection_engine"),
		registry:       stream.NewRegistry(cfg.IsClient),
		reassembler:    fragment.NewReassembler(),
		leaseWindow:    flowcontrol.NewLeaseWindow(),
		honorLease:     cfg.HonorLease,
		resumeRegistry: resumeReg,
		writeCh:        make(chan frame.Frame, cfg.OutboundQueueDepth),
		stopCh:         make(chan struct{}),
		pendingInitN:   make(map[frame.StreamID]uint32),
	}
	e.state.Store(stateConnecting)
	e.lastAckAt.Store(time.Now().UnixNano())
	return e
}

// State reporta o estado atual do ciclo de vida da engine ("connecting",
// "active", "degraded" ou "closed").
func (e *Engine) State() string { return e.state.Load().(string) }

// RTT reporta o round-trip de KEEPALIVE suavizado por EWMA, zero se nenhuma
// amostra foi colhida ainda.
func (e *Engine) RTT() time.Duration { return time.Duration(e.rttNanos.Load()) }

// Start executa o handshake da conexão (SETUP no lado client, aceite de
// SETUP ou RESUME no lado server) e então roda os loops de leitura, escrita
// e keepalive até ctx encerrar ou Close ser chamado.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	var err error
	if e.cfg.IsClient {
		err = e.startClient(e.ctx)
	} else {
		err = e.startServer(e.ctx)
	}
	if err != nil {
		e.state.Store(stateClosed)
		return err
	}

	e.state.Store(stateActive)
	e.wg.Add(3)
	go e.readLoop()
	go e.writeLoop()
	go e.keepaliveLoop()
	return nil
}

// Close derruba a engine: todo stream vivo é cancelado, o transporte é
// fechado, e as goroutines de fundo terminam.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		if e.cancel != nil {
			e.cancel()
		}
		e.registry.CancelAll()
	})
	err := e.transport.Close()
	e.wg.Wait()
	e.state.Store(stateClosed)
	return err
}

// --- handshake ---

func (e *Engine) startClient(ctx context.Context) error {
	if e.cfg.ResumeEnabled && len(e.cfg.ResumeToken) > 0 {
		return e.resumeClient(ctx)
	}

	token := e.cfg.ResumeToken
	if e.cfg.ResumeEnabled && len(token) == 0 {
		token = resume.NewToken()
		e.cfg.ResumeToken = token
	}
	if e.cfg.ResumeEnabled {
		e.session = &resume.Session{Token: token, Cache: resume.NewFrameCache(e.cfg.ResumeCacheCapacity), LastActivity: time.Now()}
	}

	flags := frame.Flags(0)
	if e.cfg.HonorLease {
		flags |= frame.FlagHonorLease
	}
	if e.cfg.ResumeEnabled {
		flags |= frame.FlagResumeEnable
	}

	setup := &frame.SetupFrame{
		Hdr:               frame.Header{StreamID: 0, Type: frame.TypeSetup, Flags: flags},
		MajorVersion:      protocolMajorVersion,
		MinorVersion:      protocolMinorVersion,
		KeepaliveInterval: uint32(e.cfg.KeepaliveInterval.Milliseconds()),
		MaxLifetime:       uint32(e.cfg.MaxLifetime.Milliseconds()),
		ResumeToken:       token,
		MetadataMimeType:  e.cfg.MetadataMimeType,
		DataMimeType:      e.cfg.DataMimeType,
	}
	return e.sendRaw(ctx, setup)
}

// resumeClient envia RESUME em vez de SETUP, reanexando uma sessão de uma
// conexão de transporte anterior, e espera RESUME_OK ou um ERROR de
// rejeição.
func (e *Engine) resumeClient(ctx context.Context) error {
	var lastServerPos, firstClientPos int64
	if e.session != nil {
		firstClientPos = e.session.Cache.Position()
		lastServerPos = e.lastReceivedPos.Load()
	}
	resumeFrame := &frame.ResumeFrame{
		Hdr:                     frame.Header{StreamID: 0, Type: frame.TypeResume},
		MajorVersion:            protocolMajorVersion,
		MinorVersion:            protocolMinorVersion,
		ResumeToken:             e.cfg.ResumeToken,
		LastReceivedServerPos:   uint64(lastServerPos),
		FirstAvailableClientPos: uint64(firstClientPos),
	}
	if err := e.sendRaw(ctx, resumeFrame); err != nil {
		return err
	}

	reply, err := e.readOneFrame(ctx)
	if err != nil {
		return err
	}
	switch fr := reply.(type) {
	case *frame.ResumeOKFrame:
		e.logger.Info("resume accepted", "last_received_client_pos", fr.LastReceivedClientPos)
		return nil
	case *frame.ErrorFrame:
		return &ConnectionError{Code: fr.ErrorCode, Msg: string(fr.Data)}
	default:
		return fmt.Errorf("connection: unexpected frame %T during resume handshake", reply)
	}
}

func (e *Engine) startServer(ctx context.Context) error {
	first, err := e.readOneFrame(ctx)
	if err != nil {
		return err
	}

	switch fr := first.(type) {
	case *frame.SetupFrame:
		return e.acceptSetup(ctx, fr)
	case *frame.ResumeFrame:
		return e.acceptResume(ctx, fr)
	default:
		return fmt.Errorf("connection: expected SETUP or RESUME, got %T", first)
	}
}

func (e *Engine) acceptSetup(ctx context.Context, fr *frame.SetupFrame) error {
	if fr.MajorVersion != protocolMajorVersion {
		errf := &frame.ErrorFrame{Hdr: frame.Header{StreamID: 0, Type: frame.TypeError}, ErrorCode: frame.ErrorCodeInvalidSetup, Data: []byte("unsupported major version")}
		e.sendRaw(ctx, errf)
		return fmt.Errorf("connection: unsupported SETUP major version %d", fr.MajorVersion)
	}
	if fr.DataMimeType == "" || fr.MetadataMimeType == "" {
		errf := &frame.ErrorFrame{Hdr: frame.Header{StreamID: 0, Type: frame.TypeError}, ErrorCode: frame.ErrorCodeInvalidSetup, Data: []byte("missing mime type")}
		e.sendRaw(ctx, errf)
		return fmt.Errorf("connection: SETUP missing data/metadata mime type")
	}

	info := SetupInfo{
		MajorVersion:     fr.MajorVersion,
		MinorVersion:     fr.MinorVersion,
		DataMimeType:     fr.DataMimeType,
		MetadataMimeType: fr.MetadataMimeType,
		HonorLease:       fr.Hdr.Flags.Has(frame.FlagHonorLease),
		ResumeToken:      fr.ResumeToken,
		Payload:          fr.Payload,
	}
	if err := e.handler.OnSetup(ctx, info); err != nil {
		errf := &frame.ErrorFrame{Hdr: frame.Header{StreamID: 0, Type: frame.TypeError}, ErrorCode: frame.ErrorCodeRejectedSetup, Data: []byte(err.Error())}
		e.sendRaw(ctx, errf)
		return fmt.Errorf("connection: SETUP rejected by handler: %w", err)
	}

	if fr.Hdr.Flags.Has(frame.FlagResumeEnable) && e.resumeRegistry != nil {
		token := fr.ResumeToken
		if len(token) == 0 {
			token = resume.NewToken()
		}
		e.session = e.resumeRegistry.Register(token, e.cfg.ResumeCacheCapacity)
		e.cfg.ResumeToken = token
	}
	return nil
}

func (e *Engine) acceptResume(ctx context.Context, fr *frame.ResumeFrame) error {
	if e.resumeRegistry == nil {
		errf := &frame.ErrorFrame{Hdr: frame.Header{StreamID: 0, Type: frame.TypeError}, ErrorCode: frame.ErrorCodeRejectedResume, Data: []byte("resume not supported")}
		e.sendRaw(ctx, errf)
		return errors.New("connection: resume not supported by this responder")
	}
	session, ok := e.resumeRegistry.Lookup(fr.ResumeToken)
	if !ok {
		errf := &frame.ErrorFrame{Hdr: frame.Header{StreamID: 0, Type: frame.TypeError}, ErrorCode: frame.ErrorCodeRejectedResume, Data: []byte("unknown resume token")}
		e.sendRaw(ctx, errf)
		return ErrRSocketRejected
	}

	replay, err := session.Cache.Replay(int64(fr.LastReceivedServerPos))
	if err != nil {
		errf := &frame.ErrorFrame{Hdr: frame.Header{StreamID: 0, Type: frame.TypeError}, ErrorCode: frame.ErrorCodeRejectedResume, Data: []byte(err.Error())}
		e.sendRaw(ctx, errf)
		e.resumeRegistry.Drop(fr.ResumeToken)
		return ErrPositionWentBackwards
	}

	e.session = session
	e.cfg.ResumeToken = fr.ResumeToken
	ok2 := &frame.ResumeOKFrame{Hdr: frame.Header{StreamID: 0, Type: frame.TypeResumeOK}, LastReceivedClientPos: uint64(e.lastReceivedPos.Load())}
	if err := e.sendRaw(ctx, ok2); err != nil {
		return err
	}
	if len(replay) > 0 {
		return e.transport.Send(ctx, replay)
	}
	return nil
}

// sendRaw serializa e escreve f direto, sem passar pela fila de saída; usado
// apenas para os frames de handshake que precisam preceder o write loop.
func (e *Engine) sendRaw(ctx context.Context, f frame.Frame) error {
	b, err := frame.Marshal(f)
	if err != nil {
		return err
	}
	if e.session != nil {
		e.session.Cache.Append(b)
	}
	return e.transport.Send(ctx, b)
}

// readOneFrame bloqueia por exatamente um frame decodificado, usado antes de
// o decode loop (e seu buffering interno) estar em jogo.
func (e *Engine) readOneFrame(ctx context.Context) (frame.Frame, error) {
	var dec frame.Decoder
	for {
		if f, err := dec.Next(); err == nil {
			e.handoffDecoderState(&dec)
			return f, nil
		} else if !errors.Is(err, frame.ErrNeedMore) {
			return nil, err
		}
		chunk, err := e.transport.Receive(ctx)
		if err != nil {
			return nil, err
		}
		e.lastReceivedPos.Add(int64(len(chunk)))
		dec.Feed(chunk)
	}
}

func (e *Engine) handoffDecoderState(dec *frame.Decoder) {
	e.carry = dec
}

// --- loops principais ---

func (e *Engine) readLoop() {
	defer e.wg.Done()
	dec := e.carry
	if dec == nil {
		dec = &frame.Decoder{}
	}

	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		for {
			f, err := dec.Next()
			if errors.Is(err, frame.ErrNeedMore) {
				break
			}
			if err != nil {
				e.fail(fmt.Errorf("connection: decode: %w", err))
				return
			}
			e.dispatch(f)
		}

		chunk, err := e.transport.Receive(e.ctx)
		if err != nil {
			if !e.isStopping() {
				e.fail(fmt.Errorf("connection: transport receive: %w", err))
			}
			return
		}
		e.lastReceivedPos.Add(int64(len(chunk)))
		dec.Feed(chunk)
	}
}

func (e *Engine) writeLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case f := <-e.writeCh:
			b, err := frame.Marshal(f)
			if err != nil {
				e.logger.Error("failed to marshal outbound frame", "error", err, "type", f.Header().Type)
				continue
			}
			if e.session != nil {
				e.session.Cache.Append(b)
			}
			if err := e.transport.Send(e.ctx, b); err != nil {
				if !e.isStopping() {
					e.fail(fmt.Errorf("connection: transport send: %w", err))
				}
				return
			}
		}
	}
}

func (e *Engine) keepaliveLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, e.lastAckAt.Load())) > e.cfg.MaxLifetime {
				e.handler.OnError(e.ctx, keepaliveTimeoutError())
				go e.Close()
				return
			}

			missed := e.missedKeepalives.Add(1)
			if missed >= int32(e.cfg.MaxMissedKeepalives) {
				e.state.Store(stateDegraded)
				e.logger.Warn("connection degraded: missed keepalive replies", "missed", missed)
			}

			e.lastKeepaliveSentAt.Store(time.Now().UnixNano())
			ka := &frame.KeepaliveFrame{
				Hdr:          frame.Header{StreamID: 0, Type: frame.TypeKeepalive, Flags: frame.FlagRespond},
				LastPosition: uint64(e.lastReceivedPos.Load()),
			}
			if err := e.Send(ka); err != nil && !e.isStopping() {
				e.logger.Warn("failed to send keepalive", "error", err)
			}
		}
	}
}

func (e *Engine) isStopping() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

func (e *Engine) fail(err error) {
	e.logger.Error("connection failed", "error", err)
	e.handler.OnError(e.ctx, err)
	go e.Close()
}

func (e *Engine) updateRTT(sample time.Duration) {
	if sample < 0 {
		sample = 0
	}
	current := e.rttNanos.Load()
	if current == 0 {
		e.rttNanos.Store(int64(sample))
		return
	}
	next := ewmaAlpha*float64(sample) + (1-ewmaAlpha)*float64(current)
	e.rttNanos.Store(int64(math.Round(next)))
}

// --- dispatch inbound ---

func (e *Engine) dispatch(f frame.Frame) {
	hdr := f.Header()
	if hdr.StreamID == 0 {
		e.dispatchConnectionFrame(f)
		return
	}

	reassembled, err := e.reassemble(f)
	if err != nil {
		e.fail(fmt.Errorf("connection: reassembly: %w", err))
		return
	}
	if reassembled == nil {
		return // fragmento buffered, cadeia ainda incompleta
	}

	id := reassembled.Header().StreamID
	if h, ok := e.registry.Get(id); ok {
		if err := h.HandleFrame(reassembled); err != nil {
			e.logger.Warn("stream handler error", "stream", id, "error", err)
		}
		if h.Terminal() {
			e.finishStream(id)
		}
		return
	}

	e.dispatchNewStream(id, reassembled)
}

// finishStream libera o id no registry e descarta qualquer cadeia de
// fragmentos pendente do stream.
func (e *Engine) finishStream(id frame.StreamID) {
	e.registry.Finish(id)
	e.reassembler.Abandon(id)
}

func (e *Engine) dispatchConnectionFrame(f frame.Frame) {
	switch fr := f.(type) {
	case *frame.LeaseFrame:
		e.leaseWindow.Update(flowcontrol.Lease{
			TimeToLive:        time.Duration(fr.TimeToLiveMillis) * time.Millisecond,
			PermittedRequests: fr.NumberOfRequests,
			IssuedAt:          time.Now(),
		})

	case *frame.KeepaliveFrame:
		e.lastAckAt.Store(time.Now().UnixNano())
		if e.session != nil {
			e.session.Cache.Advance(int64(fr.LastPosition))
		}
		if fr.Hdr.Flags.Has(frame.FlagRespond) {
			reply := &frame.KeepaliveFrame{Hdr: frame.Header{StreamID: 0, Type: frame.TypeKeepalive}, LastPosition: uint64(e.lastReceivedPos.Load())}
			if err := e.Send(reply); err != nil {
				e.logger.Warn("failed to echo keepalive", "error", err)
			}
			return
		}
		e.missedKeepalives.Store(0)
		if e.State() == stateDegraded {
			e.state.Store(stateActive)
		}
		sentAt := e.lastKeepaliveSentAt.Load()
		if sentAt != 0 {
			e.updateRTT(time.Duration(time.Now().UnixNano() - sentAt))
		}

	case *frame.ErrorFrame:
		e.fail(&ConnectionError{Code: fr.ErrorCode, Msg: string(fr.Data)})

	case *frame.MetadataPushFrame:
		stream.HandleMetadataPush(e.ctx, e.handler, fr.Metadata)

	default:
		e.logger.Warn("unexpected stream-0 frame", "type", fr.Header().Type)
	}
}

func (e *Engine) dispatchNewStream(id frame.StreamID, f frame.Frame) {
	finish := func() { e.finishStream(id) }

	switch fr := f.(type) {
	case *frame.RequestResponseFrame:
		h := stream.NewResponseResponder(e.ctx, id, e, fr.Payload, e.handler, finish)
		e.registerStream(id, h)

	case *frame.RequestFNFFrame:
		stream.HandleFireAndForget(e.ctx, e.handler, fr.Payload, func(err error) {
			e.logger.Warn("fire-and-forget handler failed", "stream", id, "error", err)
		})

	case *frame.RequestStreamFrame:
		h := stream.NewStreamResponder(e.ctx, id, e, fr.Payload, fr.InitialN, e.handler, finish)
		e.registerStream(id, h)

	case *frame.RequestChannelFrame:
		h := stream.NewChannelResponder(e.ctx, id, e, fr.Payload, fr.InitialN, e.handler, finish)
		e.registerStream(id, h)

	default:
		if f.Header().Flags.Has(frame.FlagIgnore) {
			return
		}
		switch f.(type) {
		case *frame.ErrorFrame, *frame.CancelFrame, *frame.RequestNFrame:
			// Controle tardio de um stream já liberado (CANCEL cruzando com
			// frames em trânsito); descartado sem resposta para não gerar
			// ping-pong de erros.
		default:
			e.Send(&frame.ErrorFrame{
				Hdr:       frame.Header{StreamID: id, Type: frame.TypeError},
				ErrorCode: frame.ErrorCodeCanceled,
				Data:      []byte("unknown stream"),
			})
		}
	}
}

// registerStream instala h e cobre a janela em que um handler completa
// antes mesmo de ser registrado (o finish disparado nesse intervalo não
// encontra nada para remover).
func (e *Engine) registerStream(id frame.StreamID, h stream.Handler) {
	e.registry.Register(id, h)
	if h.Terminal() {
		e.finishStream(id)
	}
}

// --- fragmentação (inbound) ---

// reassemble alimenta f no estado de fragmentação inbound, retornando o
// frame lógico completo quando uma cadeia fecha, ou nil enquanto a cadeia
// ainda está em andamento. Frames nunca fragmentados passam intactos.
func (e *Engine) reassemble(f frame.Frame) (frame.Frame, error) {
	hdr := f.Header()
	sid := hdr.StreamID

	switch fr := f.(type) {
	case *frame.RequestResponseFrame:
		if hdr.Flags.Has(frame.FlagFollows) {
			e.reassembler.Begin(sid, frame.TypeRequestResponse, hdr.Flags.Has(frame.FlagMetadata), fr.Payload)
			return nil, nil
		}
		return f, nil
	case *frame.RequestFNFFrame:
		if hdr.Flags.Has(frame.FlagFollows) {
			e.reassembler.Begin(sid, frame.TypeRequestFNF, hdr.Flags.Has(frame.FlagMetadata), fr.Payload)
			return nil, nil
		}
		return f, nil
	case *frame.RequestStreamFrame:
		if hdr.Flags.Has(frame.FlagFollows) {
			e.setPendingInitialN(sid, fr.InitialN)
			e.reassembler.Begin(sid, frame.TypeRequestStream, hdr.Flags.Has(frame.FlagMetadata), fr.Payload)
			return nil, nil
		}
		return f, nil
	case *frame.RequestChannelFrame:
		if hdr.Flags.Has(frame.FlagFollows) {
			e.setPendingInitialN(sid, fr.InitialN)
			e.reassembler.Begin(sid, frame.TypeRequestChannel, hdr.Flags.Has(frame.FlagMetadata), fr.Payload)
			return nil, nil
		}
		return f, nil
	case *frame.PayloadFrame:
		if e.reassembler.InProgress(sid) {
			kind, payload, done, err := e.reassembler.Continue(sid, frame.TypePayload, hdr.Flags.Has(frame.FlagFollows), fr.Payload)
			if err != nil {
				return nil, err
			}
			if !done {
				return nil, nil
			}
			return e.rehydrate(kind, hdr, payload), nil
		}
		if hdr.Flags.Has(frame.FlagFollows) {
			e.reassembler.Begin(sid, frame.TypePayload, hdr.Flags.Has(frame.FlagMetadata), fr.Payload)
			return nil, nil
		}
		return f, nil
	default:
		return f, nil
	}
}

func (e *Engine) rehydrate(kind frame.Type, lastHdr frame.Header, payload frame.Payload) frame.Frame {
	sid := lastHdr.StreamID
	flags := lastHdr.Flags

	switch kind {
	case frame.TypeRequestResponse:
		return &frame.RequestResponseFrame{Hdr: frame.Header{StreamID: sid, Type: frame.TypeRequestResponse, Flags: flags}, Payload: payload}
	case frame.TypeRequestFNF:
		return &frame.RequestFNFFrame{Hdr: frame.Header{StreamID: sid, Type: frame.TypeRequestFNF, Flags: flags}, Payload: payload}
	case frame.TypeRequestStream:
		return &frame.RequestStreamFrame{Hdr: frame.Header{StreamID: sid, Type: frame.TypeRequestStream, Flags: flags}, InitialN: e.takePendingInitialN(sid), Payload: payload}
	case frame.TypeRequestChannel:
		return &frame.RequestChannelFrame{Hdr: frame.Header{StreamID: sid, Type: frame.TypeRequestChannel, Flags: flags}, InitialN: e.takePendingInitialN(sid), Payload: payload}
	default:
		return &frame.PayloadFrame{Hdr: frame.Header{StreamID: sid, Type: frame.TypePayload, Flags: flags}, Payload: payload}
	}
}

func (e *Engine) setPendingInitialN(sid frame.StreamID, n uint32) {
	e.pendingMu.Lock()
	e.pendingInitN[sid] = n
	e.pendingMu.Unlock()
}

func (e *Engine) takePendingInitialN(sid frame.StreamID) uint32 {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	n := e.pendingInitN[sid]
	delete(e.pendingInitN, sid)
	return n
}

// --- outbound: implementação de Sender ---

// Send implementa stream.Sender: fragmenta f se preciso e enfileira o(s)
// frame(s) resultante(s) no único canal FIFO de saída que o write loop
// drena, de modo que frames de todos os streams intercalam em ordem de
// envio.
func (e *Engine) Send(f frame.Frame) error {
	for _, fr := range fragmentOutbound(f, e.cfg.FragmentMTU) {
		select {
		case e.writeCh <- fr:
		case <-e.stopCh:
			return ErrClosed
		}
	}
	return nil
}

// --- outbound: originação local de requests ---

func (e *Engine) admit(ctx context.Context) error {
	if !e.honorLease {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.LeaseAdmissionTimeout)
	defer cancel()
	if err := e.leaseWindow.Wait(waitCtx); err != nil {
		return ErrRSocketRejected
	}
	return nil
}

// RequestResponse origina um stream request/response para p, entregando
// exatamente um valor ou erro a out.
func (e *Engine) RequestResponse(ctx context.Context, p frame.Payload, out reactive.SingleSubscriber) error {
	if err := e.admit(ctx); err != nil {
		return err
	}
	id, err := e.registry.Allocate(&pendingStreamPlaceholder{})
	if err != nil {
		return err
	}
	h, err := stream.NewResponseRequester(id, e, p, out, func() { e.finishStream(id) })
	if err != nil {
		e.finishStream(id)
		return err
	}
	e.registerStream(id, h)
	return nil
}

// FireAndForget origina um request fire-and-forget para p.
func (e *Engine) FireAndForget(p frame.Payload) error {
	if err := e.admit(e.ctx); err != nil {
		return err
	}
	id, err := e.registry.Allocate(&pendingStreamPlaceholder{})
	if err != nil {
		return err
	}
	defer e.finishStream(id)
	return stream.SendFireAndForget(id, e, p)
}

// RequestStream origina um request/stream para p, entregando valores a
// subscriber até conclusão, erro ou cancelamento.
func (e *Engine) RequestStream(ctx context.Context, p frame.Payload, initialN uint32, subscriber reactive.Subscriber) error {
	if err := e.admit(ctx); err != nil {
		return err
	}
	id, err := e.registry.Allocate(&pendingStreamPlaceholder{})
	if err != nil {
		return err
	}
	h, err := stream.NewStreamRequester(id, e, p, initialN, subscriber, func() { e.finishStream(id) })
	if err != nil {
		e.finishStream(id)
		return err
	}
	e.registerStream(id, h)
	return nil
}

// RequestChannel origina um request/channel, enviando os valores de outbound
// ao peer e entregando as respostas dele a inboundSubscriber.
func (e *Engine) RequestChannel(ctx context.Context, outbound reactive.Publisher, initialN uint32, inboundSubscriber reactive.Subscriber) error {
	if err := e.admit(ctx); err != nil {
		return err
	}
	id, err := e.registry.Allocate(&pendingStreamPlaceholder{})
	if err != nil {
		return err
	}
	h := stream.NewChannelRequester(id, e, outbound, initialN, inboundSubscriber, func() { e.finishStream(id) })
	e.registerStream(id, h)
	return nil
}

// MetadataPush envia um METADATA_PUSH no nível da conexão; não há resposta.
func (e *Engine) MetadataPush(metadata []byte) error {
	return stream.SendMetadataPush(e, metadata)
}

// IssueLease envia um frame LEASE concedendo ao peer uma janela de admissão.
// Só faz sentido no lado que escolhe limitar os requests do seu peer
// (tipicamente o responder).
func (e *Engine) IssueLease(ttl time.Duration, numRequests uint32, metadata []byte) error {
	flags := frame.Flags(0)
	if metadata != nil {
		flags |= frame.FlagMetadata
	}
	return e.Send(&frame.LeaseFrame{
		Hdr:              frame.Header{StreamID: 0, Type: frame.TypeLease, Flags: flags},
		TimeToLiveMillis: uint32(ttl.Milliseconds()),
		NumberOfRequests: numRequests,
		Metadata:         metadata,
	})
}

// pendingStreamPlaceholder reserva um stream id no registry na janela breve
// entre alocá-lo e construir o handler requester real que o substitui;
// descarta qualquer coisa que pudesse chegar nesse intervalo, o que não
// acontece antes de o frame inicial sequer estar no wire.
type pendingStreamPlaceholder struct{}

func (pendingStreamPlaceholder) HandleFrame(frame.Frame) error { return nil }
func (pendingStreamPlaceholder) Cancel()                       {}
func (pendingStreamPlaceholder) Terminal() bool                { return false }

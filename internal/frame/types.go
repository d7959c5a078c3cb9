// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package frame implementa a camada de framing binário do RSocket: os 14
// tipos de frame, seus flag bits e o encoding de wire com prefixo de
// comprimento.
package frame

import "fmt"

// Type identifica um dos 14 tipos de frame RSocket. Apenas os 6 bits baixos
// são significativos no wire.
type Type byte

// Tipos de frame, com os mesmos ids numéricos do protocolo RSocket 1.0.
const (
	TypeReserved        Type = 0x00
	TypeSetup           Type = 0x01
	TypeLease           Type = 0x02
	TypeKeepalive       Type = 0x03
	TypeRequestResponse Type = 0x04
	TypeRequestFNF      Type = 0x05
	TypeRequestStream   Type = 0x06
	TypeRequestChannel  Type = 0x07
	TypeRequestN        Type = 0x08
	TypeCancel          Type = 0x09
	TypePayload         Type = 0x0A
	TypeError           Type = 0x0B
	TypeMetadataPush    Type = 0x0C
	TypeResume          Type = 0x0D
	TypeResumeOK        Type = 0x0E
	TypeExt             Type = 0x3F
)

func (t Type) String() string {
	switch t {
	case TypeSetup:
		return "SETUP"
	case TypeLease:
		return "LEASE"
	case TypeKeepalive:
		return "KEEPALIVE"
	case TypeRequestResponse:
		return "REQUEST_RESPONSE"
	case TypeRequestFNF:
		return "REQUEST_FNF"
	case TypeRequestStream:
		return "REQUEST_STREAM"
	case TypeRequestChannel:
		return "REQUEST_CHANNEL"
	case TypeRequestN:
		return "REQUEST_N"
	case TypeCancel:
		return "CANCEL"
	case TypePayload:
		return "PAYLOAD"
	case TypeError:
		return "ERROR"
	case TypeMetadataPush:
		return "METADATA_PUSH"
	case TypeResume:
		return "RESUME"
	case TypeResumeOK:
		return "RESUME_OK"
	case TypeExt:
		return "EXT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// Flags é o campo de flags de 10 bits. A maioria dos bits é reutilizada
// entre tipos de frame, com significado dependente do Type (documentado por
// constante abaixo).
type Flags uint16

const (
	// FlagIgnore ("I"): se setado e o tipo do frame for desconhecido, o
	// receptor descarta o frame silenciosamente em vez de falhar a conexão.
	FlagIgnore Flags = 0x200
	// FlagMetadata ("M"): o corpo do frame carrega um prefixo de comprimento
	// de metadata e os bytes de metadata antes dos bytes de data.
	FlagMetadata Flags = 0x100

	// FlagResumeEnable é válido apenas em SETUP: o client está oferecendo resume.
	FlagResumeEnable Flags = 0x080
	// FlagHonorLease é válido apenas em SETUP: requests devem ser gated por lease.
	FlagHonorLease Flags = 0x040

	// FlagRespond é válido apenas em KEEPALIVE: o emissor espera uma resposta
	// KEEPALIVE ecoando a última posição observada.
	FlagRespond Flags = 0x080

	// FlagFollows é válido em REQUEST_RESPONSE, REQUEST_FNF, REQUEST_STREAM,
	// REQUEST_CHANNEL e PAYLOAD:
	// mais fragmentos seguem nesta cadeia de fragmentação.
	FlagFollows Flags = 0x080
	// FlagComplete é válido em REQUEST_CHANNEL e PAYLOAD: este é (ou encerra)
	// o frame terminal desta direção do stream.
	FlagComplete Flags = 0x040
	// FlagNext é válido em PAYLOAD: o frame carrega um valor on_next
	// (distingue um COMPLETE puro de um COMPLETE carregando dados).
	FlagNext Flags = 0x020
)

// Has reporta se todos os bits de mask estão setados.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// StreamID é um identificador de stream positivo de 31 bits; 0 denota o
// canal da conexão (stream zero).
type StreamID uint32

// MaxStreamID é o maior stream id representável (31 bits).
const MaxStreamID StreamID = (1 << 31) - 1

// Header é o header comum de 6 bytes compartilhado por todo tipo de frame.
type Header struct {
	StreamID StreamID
	Type     Type
	Flags    Flags
}

// Frame é implementado por todo tipo de frame concreto.
type Frame interface {
	Header() Header
}

// Payload é um par de sequências de bytes opacas e opcionais. Metadata nil é
// distinto no wire de Metadata presente porém vazio.
type Payload struct {
	Data     []byte
	Metadata []byte
}

// HasMetadata reporta se Metadata está presente (possivelmente vazio), em
// oposição a totalmente ausente.
func (p Payload) HasMetadata() bool { return p.Metadata != nil }

// Equal compara dois payloads byte a byte, respeitando a distinção
// presente/ausente de Metadata.
func (p Payload) Equal(o Payload) bool {
	if p.HasMetadata() != o.HasMetadata() {
		return false
	}
	return bytesEqual(p.Data, o.Data) && bytesEqual(p.Metadata, o.Metadata)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SetupFrame é enviado no stream 0 pelo client para abrir uma conexão.
type SetupFrame struct {
	Hdr               Header
	MajorVersion      uint16
	MinorVersion      uint16
	KeepaliveInterval uint32 // milliseconds
	MaxLifetime       uint32 // milliseconds
	ResumeToken       []byte // nil exceto com FlagResumeEnable
	MetadataMimeType  string
	DataMimeType      string
	Payload           Payload
}

func (f *SetupFrame) Header() Header { return f.Hdr }

// LeaseFrame concede ao peer uma janela de admissão limitada por tempo e
// contagem.
type LeaseFrame struct {
	Hdr              Header
	TimeToLiveMillis uint32
	NumberOfRequests uint32
	Metadata         []byte
}

func (f *LeaseFrame) Header() Header { return f.Hdr }

// KeepaliveFrame carrega a última posição observada pelo emissor e, quando
// FlagRespond está setado, pede que o peer ecoe uma de volta.
type KeepaliveFrame struct {
	Hdr          Header
	LastPosition uint64
	Data         []byte
}

func (f *KeepaliveFrame) Header() Header { return f.Hdr }

// RequestResponseFrame abre um stream request/response.
type RequestResponseFrame struct {
	Hdr     Header
	Payload Payload
}

func (f *RequestResponseFrame) Header() Header { return f.Hdr }

// RequestFNFFrame abre um stream fire-and-forget (nenhuma resposta esperada).
type RequestFNFFrame struct {
	Hdr     Header
	Payload Payload
}

func (f *RequestFNFFrame) Header() Header { return f.Hdr }

// RequestStreamFrame abre um request/stream com um crédito REQUEST_N inicial.
type RequestStreamFrame struct {
	Hdr      Header
	InitialN uint32
	Payload  Payload
}

func (f *RequestStreamFrame) Header() Header { return f.Hdr }

// RequestChannelFrame abre um request/channel, carregando o primeiro payload
// outbound e um crédito REQUEST_N inicial para a metade inbound.
type RequestChannelFrame struct {
	Hdr      Header
	InitialN uint32
	Payload  Payload
}

func (f *RequestChannelFrame) Header() Header { return f.Hdr }

// RequestNFrame repõe o crédito pendente do peer em um stream.
type RequestNFrame struct {
	Hdr      Header
	RequestN uint32
}

func (f *RequestNFrame) Header() Header { return f.Hdr }

// CancelFrame encerra um stream a partir do lado requester.
type CancelFrame struct {
	Hdr Header
}

func (f *CancelFrame) Header() Header { return f.Hdr }

// PayloadFrame carrega um valor (FlagNext), uma conclusão terminal
// (FlagComplete), ou ambos, opcionalmente como um elo de uma cadeia FOLLOWS.
type PayloadFrame struct {
	Hdr     Header
	Payload Payload
}

func (f *PayloadFrame) Header() Header { return f.Hdr }

// ErrorFrame encerra um stream (ou, no stream 0, a conexão) com um código de
// erro e um payload de dados UTF-8 opaco.
type ErrorFrame struct {
	Hdr       Header
	ErrorCode ErrorCode
	Data      []byte
}

func (f *ErrorFrame) Header() Header { return f.Hdr }

// MetadataPushFrame é uma mensagem de metadata no nível da conexão, sem
// resposta.
type MetadataPushFrame struct {
	Hdr      Header
	Metadata []byte
}

func (f *MetadataPushFrame) Header() Header { return f.Hdr }

// ResumeFrame é enviado pelo client para reanexar uma sessão lógica após uma
// reconexão de transporte.
type ResumeFrame struct {
	Hdr                     Header
	MajorVersion            uint16
	MinorVersion            uint16
	ResumeToken             []byte
	LastReceivedServerPos   uint64
	FirstAvailableClientPos uint64
}

func (f *ResumeFrame) Header() Header { return f.Hdr }

// ResumeOKFrame aceita um RESUME e informa ao client a partir de qual posição
// retransmitir.
type ResumeOKFrame struct {
	Hdr                   Header
	LastReceivedClientPos uint64
}

func (f *ResumeOKFrame) Header() Header { return f.Hdr }

// ExtFrame é um frame de extensão experimental/vendor, identificado por um
// código de tipo estendido fora dos 14 tipos padrão.
type ExtFrame struct {
	Hdr          Header
	ExtendedType uint32
	Payload      Payload
}

func (f *ExtFrame) Header() Header { return f.Hdr }

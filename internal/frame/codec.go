// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// lengthPrefixSize é a largura, em bytes, do prefixo u24 de comprimento de
// frame usado por transportes orientados a stream (TCP).
const lengthPrefixSize = 3

// maxFrameLength é o maior valor representável no prefixo u24.
const maxFrameLength = 1<<24 - 1

// headerSize é a largura, em bytes, do header comum (stream id +
// type/flags), excluindo o prefixo de comprimento externo.
const headerSize = 6

// ErrNeedMore é retornado por Decoder.Next quando os bytes buffered ainda não
// contêm um frame completo; o caller deve chamar Feed com mais dados e tentar
// de novo.
var ErrNeedMore = errors.New("frame: need more data")

// cursor é um reader com bounds-check sobre um corpo em memória.
type cursor struct {
	b   []byte
	off int
}

func (c *cursor) remaining() int { return len(c.b) - c.off }

func (c *cursor) u8() (byte, error) {
	if c.remaining() < 1 {
		return 0, ErrBufferTooShort
	}
	v := c.b[c.off]
	c.off++
	return v, nil
}

func (c *cursor) u16() (uint16, error) {
	if c.remaining() < 2 {
		return 0, ErrBufferTooShort
	}
	v := binary.BigEndian.Uint16(c.b[c.off:])
	c.off += 2
	return v, nil
}

func (c *cursor) u24() (uint32, error) {
	if c.remaining() < 3 {
		return 0, ErrBufferTooShort
	}
	v := uint32(c.b[c.off])<<16 | uint32(c.b[c.off+1])<<8 | uint32(c.b[c.off+2])
	c.off += 3
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if c.remaining() < 4 {
		return 0, ErrBufferTooShort
	}
	v := binary.BigEndian.Uint32(c.b[c.off:])
	c.off += 4
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if c.remaining() < 8 {
		return 0, ErrBufferTooShort
	}
	v := binary.BigEndian.Uint64(c.b[c.off:])
	c.off += 8
	return v, nil
}

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, ErrBufferTooShort
	}
	v := c.b[c.off : c.off+n]
	c.off += n
	return v, nil
}

func (c *cursor) rest() []byte {
	v := c.b[c.off:]
	c.off = len(c.b)
	return v
}

func put24(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

// encodeHeader escreve o header comum de 6 bytes: 4 bytes de stream id (bit
// alto reservado, sempre 0), depois o campo empacotado de type (6 bits) /
// flags (10 bits).
func encodeHeader(buf *bytes.Buffer, h Header) {
	var sidBuf [4]byte
	binary.BigEndian.PutUint32(sidBuf[:], uint32(h.StreamID)&0x7FFFFFFF)
	buf.Write(sidBuf[:])

	packed := uint16(h.Type&0x3F)<<10 | uint16(h.Flags&0x3FF)
	var tfBuf [2]byte
	binary.BigEndian.PutUint16(tfBuf[:], packed)
	buf.Write(tfBuf[:])
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, fmt.Errorf("%w: short header", ErrMalformedFrame)
	}
	sid := binary.BigEndian.Uint32(b[0:4]) & 0x7FFFFFFF
	packed := binary.BigEndian.Uint16(b[4:6])
	return Header{
		StreamID: StreamID(sid),
		Type:     Type(packed >> 10),
		Flags:    Flags(packed & 0x3FF),
	}, nil
}

func encodeMetadataAndData(buf *bytes.Buffer, flags Flags, metadata, data []byte) {
	if flags.Has(FlagMetadata) {
		put24(buf, uint32(len(metadata)))
		buf.Write(metadata)
	}
	buf.Write(data)
}

func decodeMetadataAndData(c *cursor, flags Flags) (metadata, data []byte, err error) {
	if flags.Has(FlagMetadata) {
		mlen, err := c.u24()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: metadata length: %v", ErrMalformedFrame, err)
		}
		metadata, err = c.take(int(mlen))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: metadata body: %v", ErrMalformedFrame, err)
		}
	}
	data = c.rest()
	return metadata, data, nil
}

// Marshal serializa f no encoding de wire com prefixo de comprimento:
// [u24 length][header 6 bytes][corpo]. length conta header e corpo, não a si
// mesmo.
func Marshal(f Frame) ([]byte, error) {
	var body bytes.Buffer
	h := f.Header()

	switch fr := f.(type) {
	case *SetupFrame:
		if err := validateStreamZero(h); err != nil {
			return nil, err
		}
		var verBuf [8]byte
		binary.BigEndian.PutUint16(verBuf[0:2], fr.MajorVersion)
		binary.BigEndian.PutUint16(verBuf[2:4], fr.MinorVersion)
		binary.BigEndian.PutUint32(verBuf[4:8], fr.KeepaliveInterval)
		body.Write(verBuf[:])
		var lifeBuf [4]byte
		binary.BigEndian.PutUint32(lifeBuf[:], fr.MaxLifetime)
		body.Write(lifeBuf[:])
		if h.Flags.Has(FlagResumeEnable) {
			var tlen [2]byte
			binary.BigEndian.PutUint16(tlen[:], uint16(len(fr.ResumeToken)))
			body.Write(tlen[:])
			body.Write(fr.ResumeToken)
		}
		body.WriteByte(byte(len(fr.MetadataMimeType)))
		body.WriteString(fr.MetadataMimeType)
		body.WriteByte(byte(len(fr.DataMimeType)))
		body.WriteString(fr.DataMimeType)
		encodeMetadataAndData(&body, h.Flags, fr.Payload.Metadata, fr.Payload.Data)

	case *LeaseFrame:
		if err := validateStreamZero(h); err != nil {
			return nil, err
		}
		var fixed [8]byte
		binary.BigEndian.PutUint32(fixed[0:4], fr.TimeToLiveMillis)
		binary.BigEndian.PutUint32(fixed[4:8], fr.NumberOfRequests)
		body.Write(fixed[:])
		if h.Flags.Has(FlagMetadata) {
			body.Write(fr.Metadata)
		}

	case *KeepaliveFrame:
		if err := validateStreamZero(h); err != nil {
			return nil, err
		}
		var posBuf [8]byte
		binary.BigEndian.PutUint64(posBuf[:], fr.LastPosition)
		body.Write(posBuf[:])
		body.Write(fr.Data)

	case *RequestResponseFrame:
		encodeMetadataAndData(&body, h.Flags, fr.Payload.Metadata, fr.Payload.Data)

	case *RequestFNFFrame:
		encodeMetadataAndData(&body, h.Flags, fr.Payload.Metadata, fr.Payload.Data)

	case *RequestStreamFrame:
		var nBuf [4]byte
		binary.BigEndian.PutUint32(nBuf[:], fr.InitialN)
		body.Write(nBuf[:])
		encodeMetadataAndData(&body, h.Flags, fr.Payload.Metadata, fr.Payload.Data)

	case *RequestChannelFrame:
		var nBuf [4]byte
		binary.BigEndian.PutUint32(nBuf[:], fr.InitialN)
		body.Write(nBuf[:])
		encodeMetadataAndData(&body, h.Flags, fr.Payload.Metadata, fr.Payload.Data)

	case *RequestNFrame:
		var nBuf [4]byte
		binary.BigEndian.PutUint32(nBuf[:], fr.RequestN)
		body.Write(nBuf[:])

	case *CancelFrame:
		// sem corpo

	case *PayloadFrame:
		encodeMetadataAndData(&body, h.Flags, fr.Payload.Metadata, fr.Payload.Data)

	case *ErrorFrame:
		var codeBuf [4]byte
		binary.BigEndian.PutUint32(codeBuf[:], uint32(fr.ErrorCode))
		body.Write(codeBuf[:])
		body.Write(fr.Data)

	case *MetadataPushFrame:
		if h.StreamID != 0 {
			return nil, fmt.Errorf("%w: METADATA_PUSH must use stream 0", ErrInvalidStreamID)
		}
		body.Write(fr.Metadata)

	case *ResumeFrame:
		if err := validateStreamZero(h); err != nil {
			return nil, err
		}
		var verBuf [4]byte
		binary.BigEndian.PutUint16(verBuf[0:2], fr.MajorVersion)
		binary.BigEndian.PutUint16(verBuf[2:4], fr.MinorVersion)
		body.Write(verBuf[:])
		var tlen [2]byte
		binary.BigEndian.PutUint16(tlen[:], uint16(len(fr.ResumeToken)))
		body.Write(tlen[:])
		body.Write(fr.ResumeToken)
		var posBuf [16]byte
		binary.BigEndian.PutUint64(posBuf[0:8], fr.LastReceivedServerPos)
		binary.BigEndian.PutUint64(posBuf[8:16], fr.FirstAvailableClientPos)
		body.Write(posBuf[:])

	case *ResumeOKFrame:
		if err := validateStreamZero(h); err != nil {
			return nil, err
		}
		var posBuf [8]byte
		binary.BigEndian.PutUint64(posBuf[:], fr.LastReceivedClientPos)
		body.Write(posBuf[:])

	case *ExtFrame:
		var extBuf [4]byte
		binary.BigEndian.PutUint32(extBuf[:], fr.ExtendedType)
		body.Write(extBuf[:])
		encodeMetadataAndData(&body, h.Flags, fr.Payload.Metadata, fr.Payload.Data)

	default:
		return nil, fmt.Errorf("frame: unsupported frame implementation %T", f)
	}

	total := headerSize + body.Len()
	if total > maxFrameLength {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds u24 length prefix", ErrMalformedFrame, total)
	}

	out := bytes.NewBuffer(make([]byte, 0, lengthPrefixSize+total))
	put24(out, uint32(total))
	encodeHeader(out, h)
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func validateStreamZero(h Header) error {
	if h.StreamID != 0 {
		return fmt.Errorf("%w: %s must use stream 0", ErrInvalidStreamID, h.Type)
	}
	return nil
}

// unmarshalBody decodifica body (os bytes após o header de 6 bytes) em um
// Frame concreto para o header dado. Retorna *UnknownTypeError para um tipo
// desconhecido sem FlagIgnore setado.
func unmarshalBody(h Header, body []byte) (Frame, error) {
	c := &cursor{b: body}

	switch h.Type {
	case TypeSetup:
		major, err := c.u16()
		if err != nil {
			return nil, fmt.Errorf("%w: setup major version: %v", ErrMalformedFrame, err)
		}
		minor, err := c.u16()
		if err != nil {
			return nil, fmt.Errorf("%w: setup minor version: %v", ErrMalformedFrame, err)
		}
		keepalive, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("%w: setup keepalive interval: %v", ErrMalformedFrame, err)
		}
		maxLifetime, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("%w: setup max lifetime: %v", ErrMalformedFrame, err)
		}
		var token []byte
		if h.Flags.Has(FlagResumeEnable) {
			tlen, err := c.u16()
			if err != nil {
				return nil, fmt.Errorf("%w: setup resume token length: %v", ErrMalformedFrame, err)
			}
			token, err = c.take(int(tlen))
			if err != nil {
				return nil, fmt.Errorf("%w: setup resume token: %v", ErrMalformedFrame, err)
			}
		}
		mmLen, err := c.u8()
		if err != nil {
			return nil, fmt.Errorf("%w: setup metadata mime length: %v", ErrMalformedFrame, err)
		}
		mmBytes, err := c.take(int(mmLen))
		if err != nil {
			return nil, fmt.Errorf("%w: setup metadata mime: %v", ErrMalformedFrame, err)
		}
		dmLen, err := c.u8()
		if err != nil {
			return nil, fmt.Errorf("%w: setup data mime length: %v", ErrMalformedFrame, err)
		}
		dmBytes, err := c.take(int(dmLen))
		if err != nil {
			return nil, fmt.Errorf("%w: setup data mime: %v", ErrMalformedFrame, err)
		}
		metadata, data, err := decodeMetadataAndData(c, h.Flags)
		if err != nil {
			return nil, err
		}
		return &SetupFrame{
			Hdr:               h,
			MajorVersion:      major,
			MinorVersion:      minor,
			KeepaliveInterval: keepalive,
			MaxLifetime:       maxLifetime,
			ResumeToken:       token,
			MetadataMimeType:  string(mmBytes),
			DataMimeType:      string(dmBytes),
			Payload:           Payload{Data: data, Metadata: metadata},
		}, nil

	case TypeLease:
		ttl, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("%w: lease ttl: %v", ErrMalformedFrame, err)
		}
		n, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("%w: lease n: %v", ErrMalformedFrame, err)
		}
		var metadata []byte
		if h.Flags.Has(FlagMetadata) {
			metadata = c.rest()
		}
		return &LeaseFrame{Hdr: h, TimeToLiveMillis: ttl, NumberOfRequests: n, Metadata: metadata}, nil

	case TypeKeepalive:
		pos, err := c.u64()
		if err != nil {
			return nil, fmt.Errorf("%w: keepalive position: %v", ErrMalformedFrame, err)
		}
		return &KeepaliveFrame{Hdr: h, LastPosition: pos, Data: c.rest()}, nil

	case TypeRequestResponse:
		metadata, data, err := decodeMetadataAndData(c, h.Flags)
		if err != nil {
			return nil, err
		}
		return &RequestResponseFrame{Hdr: h, Payload: Payload{Data: data, Metadata: metadata}}, nil

	case TypeRequestFNF:
		metadata, data, err := decodeMetadataAndData(c, h.Flags)
		if err != nil {
			return nil, err
		}
		return &RequestFNFFrame{Hdr: h, Payload: Payload{Data: data, Metadata: metadata}}, nil

	case TypeRequestStream:
		n, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("%w: request_stream initial n: %v", ErrMalformedFrame, err)
		}
		metadata, data, err := decodeMetadataAndData(c, h.Flags)
		if err != nil {
			return nil, err
		}
		return &RequestStreamFrame{Hdr: h, InitialN: n, Payload: Payload{Data: data, Metadata: metadata}}, nil

	case TypeRequestChannel:
		n, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("%w: request_channel initial n: %v", ErrMalformedFrame, err)
		}
		metadata, data, err := decodeMetadataAndData(c, h.Flags)
		if err != nil {
			return nil, err
		}
		return &RequestChannelFrame{Hdr: h, InitialN: n, Payload: Payload{Data: data, Metadata: metadata}}, nil

	case TypeRequestN:
		n, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("%w: request_n value: %v", ErrMalformedFrame, err)
		}
		return &RequestNFrame{Hdr: h, RequestN: n}, nil

	case TypeCancel:
		return &CancelFrame{Hdr: h}, nil

	case TypePayload:
		metadata, data, err := decodeMetadataAndData(c, h.Flags)
		if err != nil {
			return nil, err
		}
		return &PayloadFrame{Hdr: h, Payload: Payload{Data: data, Metadata: metadata}}, nil

	case TypeError:
		code, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("%w: error code: %v", ErrMalformedFrame, err)
		}
		return &ErrorFrame{Hdr: h, ErrorCode: ErrorCode(code), Data: c.rest()}, nil

	case TypeMetadataPush:
		return &MetadataPushFrame{Hdr: h, Metadata: c.rest()}, nil

	case TypeResume:
		major, err := c.u16()
		if err != nil {
			return nil, fmt.Errorf("%w: resume major version: %v", ErrMalformedFrame, err)
		}
		minor, err := c.u16()
		if err != nil {
			return nil, fmt.Errorf("%w: resume minor version: %v", ErrMalformedFrame, err)
		}
		tlen, err := c.u16()
		if err != nil {
			return nil, fmt.Errorf("%w: resume token length: %v", ErrMalformedFrame, err)
		}
		token, err := c.take(int(tlen))
		if err != nil {
			return nil, fmt.Errorf("%w: resume token: %v", ErrMalformedFrame, err)
		}
		lastServer, err := c.u64()
		if err != nil {
			return nil, fmt.Errorf("%w: resume last server position: %v", ErrMalformedFrame, err)
		}
		firstClient, err := c.u64()
		if err != nil {
			return nil, fmt.Errorf("%w: resume first client position: %v", ErrMalformedFrame, err)
		}
		return &ResumeFrame{
			Hdr:                     h,
			MajorVersion:            major,
			MinorVersion:            minor,
			ResumeToken:             token,
			LastReceivedServerPos:   lastServer,
			FirstAvailableClientPos: firstClient,
		}, nil

	case TypeResumeOK:
		pos, err := c.u64()
		if err != nil {
			return nil, fmt.Errorf("%w: resume_ok position: %v", ErrMalformedFrame, err)
		}
		return &ResumeOKFrame{Hdr: h, LastReceivedClientPos: pos}, nil

	case TypeExt:
		ext, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("%w: ext type: %v", ErrMalformedFrame, err)
		}
		metadata, data, err := decodeMetadataAndData(c, h.Flags)
		if err != nil {
			return nil, err
		}
		return &ExtFrame{Hdr: h, ExtendedType: ext, Payload: Payload{Data: data, Metadata: metadata}}, nil

	default:
		if h.Flags.Has(FlagIgnore) {
			return nil, nil // tipo desconhecido + IGNORE: o caller pula
		}
		return nil, &UnknownTypeError{Type: h.Type}
	}
}

// WriteFrame serializa e escreve f em w em uma só chamada.
func WriteFrame(w io.Writer, f Frame) error {
	b, err := Marshal(f)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame bloqueia lendo um único frame com prefixo de comprimento de r. É
// o building block usado sobre um io.Reader confiável como uma net.Conn;
// callers que recebem ranges de bytes arbitrários (transportes de stream
// cujas leituras podem partir um frame) devem usar Decoder.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	total := int(lenBuf[0])<<16 | int(lenBuf[1])<<8 | int(lenBuf[2])
	if total < headerSize {
		return nil, fmt.Errorf("%w: declared length %d shorter than header", ErrMalformedFrame, total)
	}
	buf := make([]byte, total)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: connection closed mid-frame: %v", ErrMalformedFrame, err)
		}
		return nil, err
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	f, err := unmarshalBody(h, buf[headerSize:])
	if err != nil {
		return nil, err
	}
	if f == nil {
		// Tipo desconhecido com IGNORE: o caller vê (nil, nil) e simplesmente
		// continua lendo.
		return nil, nil
	}
	return f, nil
}

// Decoder faz parse incremental de frames a partir de uma sequência
// arbitrária de ranges de bytes, como exigido por transportes de stream (TCP)
// cujas leituras não precisam estar alinhadas com as fronteiras de frame.
// Feed acumula bytes; Next extrai frames completos, retornando ErrNeedMore
// quando a cauda buffered contém menos que um frame inteiro.
type Decoder struct {
	buf []byte
}

// Feed acrescenta chunk ao buffer interno.
func (d *Decoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next retorna o próximo frame totalmente buffered, ou ErrNeedMore se o
// buffer ainda não contém um. Um frame desconhecido com IGNORE é consumido
// internamente e Next segue para o frame seguinte sem retorná-lo.
func (d *Decoder) Next() (Frame, error) {
	for {
		if len(d.buf) < lengthPrefixSize {
			return nil, ErrNeedMore
		}
		total := int(d.buf[0])<<16 | int(d.buf[1])<<8 | int(d.buf[2])
		if total < headerSize {
			return nil, fmt.Errorf("%w: declared length %d shorter than header", ErrMalformedFrame, total)
		}
		if len(d.buf) < lengthPrefixSize+total {
			return nil, ErrNeedMore
		}
		frameBytes := d.buf[lengthPrefixSize : lengthPrefixSize+total]
		d.buf = d.buf[lengthPrefixSize+total:]

		h, err := decodeHeader(frameBytes)
		if err != nil {
			return nil, err
		}
		f, err := unmarshalBody(h, frameBytes[headerSize:])
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue // desconhecido + IGNORE: pulado silenciosamente
		}
		return f, nil
	}
}

// Pending reporta quantos bytes estão buffered mas ainda não consumidos.
func (d *Decoder) Pending() int { return len(d.buf) }
